package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"flowdeck-backend/application/ports"
	"flowdeck-backend/domain/core/aggregates"
	"flowdeck-backend/domain/core/valueobjects"
	"flowdeck-backend/domain/operation"
	"flowdeck-backend/domain/undo"
	"flowdeck-backend/pkg/observability"
)

// UndoResult reports the outcome of an undo or redo attempt. On success
// Workflow holds the resulting graph; on failure Error carries a
// user-facing message and the graph is unchanged.
type UndoResult struct {
	Success     bool
	Workflow    aggregates.Workflow
	Description string
	Error       string
}

// UndoService executes undo and redo against a user's stacks. An undo
// pops the newest entry, re-checks it for conflicts against the operation
// log, applies every inverse payload, and moves the entry to the redo
// stack. Failures restore the entry where it was and leave the graph
// untouched. Undo and redo never append to the operation log.
type UndoService struct {
	recorder *Recorder
	conflict *ConflictResolver
	stacks   *undo.Stacks
	identity ports.IdentityProvider
	channel  ports.MessageChannel
	sink     ports.NotificationSink
	metrics  *observability.Collector
	logger   *zap.Logger
}

func NewUndoService(
	recorder *Recorder,
	conflict *ConflictResolver,
	stacks *undo.Stacks,
	identity ports.IdentityProvider,
	channel ports.MessageChannel,
	sink ports.NotificationSink,
	metrics *observability.Collector,
	logger *zap.Logger,
) *UndoService {
	return &UndoService{
		recorder: recorder,
		conflict: conflict,
		stacks:   stacks,
		identity: identity,
		channel:  channel,
		sink:     sink,
		metrics:  metrics,
		logger:   logger,
	}
}

// Undo reverts the user's most recent undoable entry.
func (s *UndoService) Undo(ctx context.Context, workflow aggregates.Workflow) UndoResult {
	if err := s.recorder.FlushPendingOperations(ctx, workflow.ID); err != nil {
		return s.undoFailure(workflow, fmt.Sprintf("Failed to flush pending changes: %v", err))
	}

	stack := s.stacks.ForWorkflow(workflow.ID)
	entry := stack.PopUndo()
	if entry == nil {
		s.countUndo(observability.OutcomeEmpty)
		return s.undoFailure(workflow, "Nothing to undo")
	}

	if !entry.CanUndo {
		// Marked conflicted by a remote operation before this attempt
		stack.RestoreUndo(entry)
		s.countUndo(observability.OutcomeConflict)
		return s.undoFailure(workflow, conflictMessage(entry, entry.ConflictReason))
	}

	check, err := s.conflict.CheckUndo(ctx, entry, workflow)
	if err != nil {
		stack.RestoreUndo(entry)
		return s.undoFailure(workflow, fmt.Sprintf("Failed to check for conflicts: %v", err))
	}
	if check.HasConflict {
		stack.RestoreUndo(entry)
		entry.MarkConflicted(check.Reason)
		s.notify(ctx, workflow.ID, entry, check.Reason)
		s.countUndo(observability.OutcomeConflict)
		return s.undoFailure(workflow, conflictMessage(entry, check.Reason))
	}

	result := workflow
	for _, op := range entry.Operations {
		result, err = operation.ApplyInverse(result, op)
		if err != nil {
			stack.RestoreUndo(entry)
			s.logger.Error("Undo apply failed",
				zap.String("workflowId", workflow.ID.String()),
				zap.String("operationId", op.ID.String()),
				zap.Error(err),
			)
			return s.undoFailure(workflow, fmt.Sprintf("Failed to undo %q: %v", entry.Description, err))
		}
	}

	s.countUndo(observability.OutcomeSuccess)
	s.broadcast(ctx, ports.KindUndo, workflow.ID, entry, result)
	s.logger.Info("Undo applied",
		zap.String("workflowId", workflow.ID.String()),
		zap.String("entryId", entry.ID),
		zap.String("description", entry.Description),
	)
	return UndoResult{
		Success:     true,
		Workflow:    result,
		Description: "Undo: " + entry.Description,
	}
}

// Redo re-applies the entry most recently moved to the redo stack. The
// conflict check is structural only: an entry that was blocked from undo
// may still redo if the graph can accept its forward payloads.
func (s *UndoService) Redo(ctx context.Context, workflow aggregates.Workflow) UndoResult {
	if err := s.recorder.FlushPendingOperations(ctx, workflow.ID); err != nil {
		return s.undoFailure(workflow, fmt.Sprintf("Failed to flush pending changes: %v", err))
	}

	stack := s.stacks.ForWorkflow(workflow.ID)
	entry := stack.PopRedo()
	if entry == nil {
		s.countRedo(observability.OutcomeEmpty)
		return s.undoFailure(workflow, "Nothing to redo")
	}

	check, err := s.conflict.CheckRedo(ctx, entry, workflow)
	if err != nil {
		stack.RestoreRedo(entry)
		return s.undoFailure(workflow, fmt.Sprintf("Failed to check for conflicts: %v", err))
	}
	if check.HasConflict {
		stack.RestoreRedo(entry)
		s.notify(ctx, workflow.ID, entry, check.Reason)
		s.countRedo(observability.OutcomeConflict)
		return s.undoFailure(workflow, fmt.Sprintf("Cannot redo %q: %s", entry.Description, check.Reason))
	}

	result := workflow
	for _, op := range entry.Operations {
		result, err = operation.ApplyForward(result, op)
		if err != nil {
			stack.RestoreRedo(entry)
			s.logger.Error("Redo apply failed",
				zap.String("workflowId", workflow.ID.String()),
				zap.String("operationId", op.ID.String()),
				zap.Error(err),
			)
			return s.undoFailure(workflow, fmt.Sprintf("Failed to redo %q: %v", entry.Description, err))
		}
	}

	s.countRedo(observability.OutcomeSuccess)
	s.broadcast(ctx, ports.KindRedo, workflow.ID, entry, result)
	s.logger.Info("Redo applied",
		zap.String("workflowId", workflow.ID.String()),
		zap.String("entryId", entry.ID),
		zap.String("description", entry.Description),
	)
	return UndoResult{
		Success:     true,
		Workflow:    result,
		Description: "Redo: " + entry.Description,
	}
}

func (s *UndoService) broadcast(ctx context.Context, kind ports.UndoRedoKind, workflowID valueobjects.WorkflowID, entry *undo.Entry, result aggregates.Workflow) {
	if s.channel == nil {
		return
	}
	userID, err := s.identity.CurrentUserID(ctx)
	if err != nil {
		s.logger.Warn("Skipping undo/redo broadcast, no identity", zap.Error(err))
		return
	}
	clone := result.Clone()
	msg := ports.UndoRedoMessage{
		Kind:              kind,
		WorkflowID:        workflowID,
		EntryID:           entry.ID,
		SenderID:          userID,
		ResultingWorkflow: &clone,
	}
	if err := s.channel.BroadcastUndoRedo(ctx, msg); err != nil {
		s.logger.Warn("Failed to broadcast undo/redo",
			zap.String("entryId", entry.ID),
			zap.Error(err),
		)
	}
}

func (s *UndoService) notify(ctx context.Context, workflowID valueobjects.WorkflowID, entry *undo.Entry, reason string) {
	if s.sink == nil {
		return
	}
	userID, _ := s.identity.CurrentUserID(ctx)
	err := s.sink.NotifyConflict(ctx, ports.ConflictNotification{
		WorkflowID: workflowID,
		UserID:     userID,
		EntryID:    entry.ID,
		Message:    conflictMessage(entry, reason),
	})
	if err != nil {
		s.logger.Warn("Failed to deliver conflict notification",
			zap.String("entryId", entry.ID),
			zap.Error(err),
		)
	}
}

func (s *UndoService) countUndo(outcome string) {
	if s.metrics != nil {
		s.metrics.UndoAttempts.WithLabelValues(outcome).Inc()
	}
}

func (s *UndoService) countRedo(outcome string) {
	if s.metrics != nil {
		s.metrics.RedoAttempts.WithLabelValues(outcome).Inc()
	}
}

func (s *UndoService) undoFailure(workflow aggregates.Workflow, message string) UndoResult {
	return UndoResult{Success: false, Workflow: workflow, Error: message}
}

func conflictMessage(entry *undo.Entry, reason string) string {
	return fmt.Sprintf("Cannot undo %q: %s", entry.Description, reason)
}
