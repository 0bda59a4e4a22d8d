package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"flowdeck-backend/application/services"
	"flowdeck-backend/domain/core/aggregates"
	"flowdeck-backend/domain/core/entities"
	"flowdeck-backend/domain/core/valueobjects"
	"flowdeck-backend/domain/undo"
	"flowdeck-backend/pkg/auth"
	apperrors "flowdeck-backend/pkg/errors"
)

// WorkflowHandler serves the editing and undo/redo endpoints. Every
// request resolves the caller's session; edits mutate that session's
// working copy and fan out to collaborators from there.
type WorkflowHandler struct {
	sessions *services.SessionManager
	logger   *zap.Logger
}

func NewWorkflowHandler(sessions *services.SessionManager, logger *zap.Logger) *WorkflowHandler {
	return &WorkflowHandler{sessions: sessions, logger: logger}
}

func (h *WorkflowHandler) session(r *http.Request) (*services.Session, error) {
	userID, err := auth.UserIDFromContext(r.Context())
	if err != nil {
		return nil, err
	}
	return h.sessions.SessionFor(userID), nil
}

func workflowIDParam(r *http.Request) (valueobjects.WorkflowID, error) {
	return valueobjects.ParseWorkflowID(chi.URLParam(r, "workflowID"))
}

// OpenWorkflow handles POST /workflows/{workflowID}/open
func (h *WorkflowHandler) OpenWorkflow(w http.ResponseWriter, r *http.Request) {
	sess, workflowID, err := h.sessionAndWorkflow(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	wf, err := sess.OpenWorkflow(r.Context(), workflowID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, workflowResponse(wf))
}

// CloseWorkflow handles POST /workflows/{workflowID}/close
func (h *WorkflowHandler) CloseWorkflow(w http.ResponseWriter, r *http.Request) {
	sess, workflowID, err := h.sessionAndWorkflow(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	sess.CloseWorkflow(r.Context(), workflowID)
	respondJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// GetWorkflow handles GET /workflows/{workflowID}
func (h *WorkflowHandler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	sess, workflowID, err := h.sessionAndWorkflow(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	wf, err := sess.Workflow(workflowID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, workflowResponse(wf))
}

// AddNodeRequest is the body for POST /workflows/{workflowID}/nodes
type AddNodeRequest struct {
	Type     string          `json:"type" validate:"required,max=100"`
	Position PositionRequest `json:"position" validate:"required"`
	Config   map[string]any  `json:"config,omitempty"`
}

// PositionRequest is a canvas coordinate in a request body
type PositionRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// AddNode handles POST /workflows/{workflowID}/nodes
func (h *WorkflowHandler) AddNode(w http.ResponseWriter, r *http.Request) {
	sess, workflowID, err := h.sessionAndWorkflow(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	var req AddNodeRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}

	pos, err := valueobjects.NewPosition(req.Position.X, req.Position.Y)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	node, err := entities.NewNode(req.Type, pos, req.Config)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	wf, err := sess.AddNode(r.Context(), workflowID, node)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"nodeId":   node.ID,
		"workflow": workflowResponse(wf),
	})
}

// DeleteNode handles DELETE /workflows/{workflowID}/nodes/{nodeID}
func (h *WorkflowHandler) DeleteNode(w http.ResponseWriter, r *http.Request) {
	sess, workflowID, err := h.sessionAndWorkflow(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	nodeID, err := valueobjects.ParseNodeID(chi.URLParam(r, "nodeID"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	wf, err := sess.DeleteNode(r.Context(), workflowID, nodeID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, workflowResponse(wf))
}

// MoveNodeRequest is the body for PATCH .../nodes/{nodeID}/position
type MoveNodeRequest struct {
	Position PositionRequest `json:"position" validate:"required"`
}

// MoveNode handles PATCH /workflows/{workflowID}/nodes/{nodeID}/position
func (h *WorkflowHandler) MoveNode(w http.ResponseWriter, r *http.Request) {
	sess, workflowID, err := h.sessionAndWorkflow(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	nodeID, err := valueobjects.ParseNodeID(chi.URLParam(r, "nodeID"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	var req MoveNodeRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	pos, err := valueobjects.NewPosition(req.Position.X, req.Position.Y)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	wf, err := sess.MoveNode(r.Context(), workflowID, nodeID, pos)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, workflowResponse(wf))
}

// UpdateNodeConfigRequest is the body for PUT .../nodes/{nodeID}/config
type UpdateNodeConfigRequest struct {
	Config map[string]any `json:"config" validate:"required"`
}

// UpdateNodeConfig handles PUT /workflows/{workflowID}/nodes/{nodeID}/config
func (h *WorkflowHandler) UpdateNodeConfig(w http.ResponseWriter, r *http.Request) {
	sess, workflowID, err := h.sessionAndWorkflow(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	nodeID, err := valueobjects.ParseNodeID(chi.URLParam(r, "nodeID"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	var req UpdateNodeConfigRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}

	wf, err := sess.UpdateNodeConfig(r.Context(), workflowID, nodeID, req.Config)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, workflowResponse(wf))
}

// AddEdgeRequest is the body for POST /workflows/{workflowID}/edges
type AddEdgeRequest struct {
	SourceNodeID string `json:"sourceNodeId" validate:"required"`
	TargetNodeID string `json:"targetNodeId" validate:"required"`
	SourcePort   string `json:"sourcePort,omitempty"`
	TargetPort   string `json:"targetPort,omitempty"`
}

// AddEdge handles POST /workflows/{workflowID}/edges
func (h *WorkflowHandler) AddEdge(w http.ResponseWriter, r *http.Request) {
	sess, workflowID, err := h.sessionAndWorkflow(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	var req AddEdgeRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	source, err := valueobjects.ParseNodeID(req.SourceNodeID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	target, err := valueobjects.ParseNodeID(req.TargetNodeID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	edge, err := entities.NewEdge(source, target)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	edge.SourcePort = req.SourcePort
	edge.TargetPort = req.TargetPort

	wf, err := sess.AddEdge(r.Context(), workflowID, edge)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"edgeId":   edge.ID,
		"workflow": workflowResponse(wf),
	})
}

// DeleteEdge handles DELETE /workflows/{workflowID}/edges/{edgeID}
func (h *WorkflowHandler) DeleteEdge(w http.ResponseWriter, r *http.Request) {
	sess, workflowID, err := h.sessionAndWorkflow(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	edgeID, err := valueobjects.ParseEdgeID(chi.URLParam(r, "edgeID"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	wf, err := sess.DeleteEdge(r.Context(), workflowID, edgeID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, workflowResponse(wf))
}

// BulkDeleteRequest is the body for POST /workflows/{workflowID}/bulk-delete
type BulkDeleteRequest struct {
	NodeIDs []string `json:"nodeIds" validate:"omitempty,dive,required"`
	EdgeIDs []string `json:"edgeIds" validate:"omitempty,dive,required"`
}

// BulkDelete handles POST /workflows/{workflowID}/bulk-delete
func (h *WorkflowHandler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	sess, workflowID, err := h.sessionAndWorkflow(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	var req BulkDeleteRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	if len(req.NodeIDs) == 0 && len(req.EdgeIDs) == 0 {
		respondError(w, h.logger, apperrors.NewValidation("nothing selected"))
		return
	}

	nodeIDs := make([]valueobjects.NodeID, 0, len(req.NodeIDs))
	for _, id := range req.NodeIDs {
		nodeIDs = append(nodeIDs, valueobjects.NodeID(id))
	}
	edgeIDs := make([]valueobjects.EdgeID, 0, len(req.EdgeIDs))
	for _, id := range req.EdgeIDs {
		edgeIDs = append(edgeIDs, valueobjects.EdgeID(id))
	}

	wf, err := sess.BulkDelete(r.Context(), workflowID, nodeIDs, edgeIDs)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, workflowResponse(wf))
}

// InsertSetRequest is the body for paste and duplicate: a prepared set of
// nodes (with fresh ids assigned by the client) and the edges between them
type InsertSetRequest struct {
	Nodes []entities.Node `json:"nodes" validate:"required,min=1"`
	Edges []entities.Edge `json:"edges,omitempty"`
}

// PasteNodes handles POST /workflows/{workflowID}/paste
func (h *WorkflowHandler) PasteNodes(w http.ResponseWriter, r *http.Request) {
	h.insertSet(w, r, func(sess *services.Session, workflowID valueobjects.WorkflowID, req InsertSetRequest) (aggregates.Workflow, error) {
		return sess.PasteNodes(r.Context(), workflowID, req.Nodes, req.Edges)
	})
}

// DuplicateNodes handles POST /workflows/{workflowID}/duplicate
func (h *WorkflowHandler) DuplicateNodes(w http.ResponseWriter, r *http.Request) {
	h.insertSet(w, r, func(sess *services.Session, workflowID valueobjects.WorkflowID, req InsertSetRequest) (aggregates.Workflow, error) {
		return sess.DuplicateNodes(r.Context(), workflowID, req.Nodes, req.Edges)
	})
}

func (h *WorkflowHandler) insertSet(w http.ResponseWriter, r *http.Request, run func(*services.Session, valueobjects.WorkflowID, InsertSetRequest) (aggregates.Workflow, error)) {
	sess, workflowID, err := h.sessionAndWorkflow(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	var req InsertSetRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}

	wf, err := run(sess, workflowID, req)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, workflowResponse(wf))
}

// Undo handles POST /workflows/{workflowID}/undo
func (h *WorkflowHandler) Undo(w http.ResponseWriter, r *http.Request) {
	h.undoRedo(w, r, (*services.Session).Undo)
}

// Redo handles POST /workflows/{workflowID}/redo
func (h *WorkflowHandler) Redo(w http.ResponseWriter, r *http.Request) {
	h.undoRedo(w, r, (*services.Session).Redo)
}

func (h *WorkflowHandler) undoRedo(w http.ResponseWriter, r *http.Request, run func(*services.Session, context.Context, valueobjects.WorkflowID) (services.UndoResult, error)) {
	sess, workflowID, err := h.sessionAndWorkflow(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	result, err := run(sess, r.Context(), workflowID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	if !result.Success {
		respondJSON(w, http.StatusConflict, map[string]any{
			"success": false,
			"error":   result.Error,
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"description": result.Description,
		"workflow":    workflowResponse(result.Workflow),
	})
}

// History handles GET /workflows/{workflowID}/history
func (h *WorkflowHandler) History(w http.ResponseWriter, r *http.Request) {
	sess, workflowID, err := h.sessionAndWorkflow(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"undo": entriesResponse(sess.UndoEntries(workflowID)),
		"redo": entriesResponse(sess.RedoEntries(workflowID)),
	})
}

func (h *WorkflowHandler) sessionAndWorkflow(r *http.Request) (*services.Session, valueobjects.WorkflowID, error) {
	sess, err := h.session(r)
	if err != nil {
		return nil, "", err
	}
	workflowID, err := workflowIDParam(r)
	if err != nil {
		return nil, "", err
	}
	return sess, workflowID, nil
}

func decodeAndValidate(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.NewValidation("invalid request body: " + err.Error())
	}
	if err := validate.Struct(dst); err != nil {
		return apperrors.NewValidation("validation error: " + err.Error())
	}
	return nil
}

func workflowResponse(wf aggregates.Workflow) map[string]any {
	return map[string]any{
		"id":    wf.ID,
		"name":  wf.Name,
		"nodes": wf.Nodes,
		"edges": wf.Edges,
	}
}

type entryView struct {
	ID             string `json:"id"`
	Description    string `json:"description"`
	Timestamp      uint64 `json:"timestamp"`
	CanUndo        bool   `json:"canUndo"`
	ConflictReason string `json:"conflictReason,omitempty"`
}

func entriesResponse(entries []*undo.Entry) []entryView {
	out := make([]entryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryView{
			ID:             e.ID,
			Description:    e.Description,
			Timestamp:      e.Timestamp,
			CanUndo:        e.CanUndo,
			ConflictReason: e.ConflictReason,
		})
	}
	return out
}
