package handlers

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"flowdeck-backend/application/ports"
)

// OperationHandler serves the archived operation history for audit views
type OperationHandler struct {
	archive ports.OperationArchive
	logger  *zap.Logger
}

func NewOperationHandler(archive ports.OperationArchive, logger *zap.Logger) *OperationHandler {
	return &OperationHandler{archive: archive, logger: logger}
}

type operationView struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	UserID     string    `json:"userId"`
	Timestamp  uint64    `json:"timestamp"`
	IsRemote   bool      `json:"isRemote"`
	AppliedAt  time.Time `json:"appliedAt"`
	WorkflowID string    `json:"workflowId"`
}

// RecentOperations handles GET /workflows/{workflowID}/operations
func (h *OperationHandler) RecentOperations(w http.ResponseWriter, r *http.Request) {
	workflowID, err := workflowIDParam(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	entries, err := h.archive.RecentOperations(r.Context(), workflowID, limit)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	views := make([]operationView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, operationView{
			ID:         entry.Operation.ID.String(),
			Type:       string(entry.Operation.Type),
			UserID:     entry.Operation.UserID.String(),
			Timestamp:  entry.Operation.Timestamp,
			IsRemote:   entry.IsRemote,
			AppliedAt:  entry.AppliedAt,
			WorkflowID: entry.Operation.WorkflowID.String(),
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"operations": views})
}
