package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"flowdeck-backend/application/ports"
	"flowdeck-backend/domain/core/aggregates"
	"flowdeck-backend/domain/operation"
	"flowdeck-backend/domain/undo"
	"flowdeck-backend/pkg/observability"
)

// RemoteHandler integrates collaborators' operations into the local
// session: it advances the Lamport clock past the remote timestamp,
// appends the operation to the log, marks any local undo entries touching
// the same elements as conflicted, and applies the operation to the
// working graph. Remote undo/redo messages carry the sender's resulting
// graph and are installed directly.
type RemoteHandler struct {
	log      ports.OperationLog
	stacks   *undo.Stacks
	identity ports.IdentityProvider
	sink     ports.NotificationSink
	metrics  *observability.Collector
	logger   *zap.Logger
}

func NewRemoteHandler(
	log ports.OperationLog,
	stacks *undo.Stacks,
	identity ports.IdentityProvider,
	sink ports.NotificationSink,
	metrics *observability.Collector,
	logger *zap.Logger,
) *RemoteHandler {
	return &RemoteHandler{
		log:      log,
		stacks:   stacks,
		identity: identity,
		sink:     sink,
		metrics:  metrics,
		logger:   logger,
	}
}

// HandleRemoteOperation applies a collaborator's operation to the local
// working graph and returns the result. Echoes of the session's own
// operations are ignored. When the operation cannot be applied the graph
// is returned unchanged; the log entry is still recorded so conflict
// checks see the full history.
func (h *RemoteHandler) HandleRemoteOperation(ctx context.Context, workflow aggregates.Workflow, msg ports.OperationMessage) (aggregates.Workflow, error) {
	localUser, err := h.identity.CurrentUserID(ctx)
	if err != nil {
		return workflow, err
	}
	if msg.SenderID == localUser {
		// Echo of our own broadcast; already applied locally.
		return workflow, nil
	}

	op := msg.Operation
	h.log.ObserveTimestamp(ctx, op.WorkflowID, op.Timestamp)
	if err := h.log.Append(ctx, op, true); err != nil {
		return workflow, err
	}
	if h.metrics != nil {
		h.metrics.RemoteOperations.Inc()
	}

	h.markConflicted(ctx, op)

	result, err := operation.ApplyForward(workflow, op)
	if err != nil {
		// Tolerated: the element may already be in the remote state
		// (e.g. both sides deleted the same node). History stays
		// recorded; the graph is left as it was.
		h.logger.Warn("Remote operation could not be applied",
			zap.String("workflowId", op.WorkflowID.String()),
			zap.String("operationId", op.ID.String()),
			zap.String("type", string(op.Type)),
			zap.Error(err),
		)
		return workflow, nil
	}

	h.logger.Debug("Remote operation applied",
		zap.String("workflowId", op.WorkflowID.String()),
		zap.String("operationId", op.ID.String()),
		zap.String("type", string(op.Type)),
		zap.String("sender", msg.SenderID.String()),
	)
	return result, nil
}

// HandleRemoteUndo installs the resulting graph from a collaborator's undo
func (h *RemoteHandler) HandleRemoteUndo(ctx context.Context, workflow aggregates.Workflow, msg ports.UndoRedoMessage) (aggregates.Workflow, error) {
	return h.installRemoteResult(ctx, workflow, msg)
}

// HandleRemoteRedo installs the resulting graph from a collaborator's redo
func (h *RemoteHandler) HandleRemoteRedo(ctx context.Context, workflow aggregates.Workflow, msg ports.UndoRedoMessage) (aggregates.Workflow, error) {
	return h.installRemoteResult(ctx, workflow, msg)
}

func (h *RemoteHandler) installRemoteResult(ctx context.Context, workflow aggregates.Workflow, msg ports.UndoRedoMessage) (aggregates.Workflow, error) {
	localUser, err := h.identity.CurrentUserID(ctx)
	if err != nil {
		return workflow, err
	}
	if msg.SenderID == localUser {
		return workflow, nil
	}
	if msg.ResultingWorkflow == nil {
		h.logger.Warn("Remote undo/redo message without resulting workflow",
			zap.String("entryId", msg.EntryID),
			zap.String("kind", string(msg.Kind)),
		)
		return workflow, nil
	}

	// The sender already computed and validated the result; install it
	// rather than replaying their stack transition.
	result := msg.ResultingWorkflow.Clone()

	h.logger.Info("Remote undo/redo installed",
		zap.String("workflowId", msg.WorkflowID.String()),
		zap.String("entryId", msg.EntryID),
		zap.String("kind", string(msg.Kind)),
		zap.String("sender", msg.SenderID.String()),
	)
	return result, nil
}

// markConflicted invalidates local undo entries touching the elements the
// remote operation changed and notifies the user for each one.
func (h *RemoteHandler) markConflicted(ctx context.Context, op operation.Operation) {
	nodeIDs := op.AffectedNodeIDs()
	edgeIDs := op.AffectedEdgeIDs()
	if len(nodeIDs) == 0 && len(edgeIDs) == 0 {
		return
	}

	reason := remoteConflictReason(op)
	marked := h.stacks.ForWorkflow(op.WorkflowID).MarkConflicted(nodeIDs, edgeIDs, reason)
	if len(marked) == 0 {
		return
	}

	if h.metrics != nil {
		h.metrics.ConflictsDetected.WithLabelValues("remote").Add(float64(len(marked)))
	}
	for _, entry := range marked {
		h.logger.Info("Undo entry conflicted by remote operation",
			zap.String("workflowId", op.WorkflowID.String()),
			zap.String("entryId", entry.ID),
			zap.String("reason", reason),
		)
		h.notify(ctx, op, entry, reason)
	}
}

func (h *RemoteHandler) notify(ctx context.Context, op operation.Operation, entry *undo.Entry, reason string) {
	if h.sink == nil {
		return
	}
	userID, _ := h.identity.CurrentUserID(ctx)
	err := h.sink.NotifyConflict(ctx, ports.ConflictNotification{
		WorkflowID: op.WorkflowID,
		UserID:     userID,
		EntryID:    entry.ID,
		Message:    fmt.Sprintf("Cannot undo %q: %s", entry.Description, reason),
	})
	if err != nil {
		h.logger.Warn("Failed to deliver conflict notification",
			zap.String("entryId", entry.ID),
			zap.Error(err),
		)
	}
}

// remoteConflictReason phrases the conflict from the local user's point of
// view, naming the collaborator who made the change.
func remoteConflictReason(op operation.Operation) string {
	by := op.UserID.String()
	switch op.Type {
	case operation.TypeMoveNode:
		return fmt.Sprintf("Node was moved by another user (by %s)", by)
	case operation.TypeUpdateNodeConfig:
		return fmt.Sprintf("Node settings were changed by another user (by %s)", by)
	case operation.TypeDeleteNode, operation.TypeBulkDelete:
		return fmt.Sprintf("Element was deleted by another user (by %s)", by)
	case operation.TypeDeleteEdge:
		return fmt.Sprintf("Connection was deleted by another user (by %s)", by)
	default:
		return fmt.Sprintf("Element was modified by another user (by %s)", by)
	}
}
