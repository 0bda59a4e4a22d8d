// Package memory provides the session-scoped stores: the operation log
// with its Lamport clock, and a graph store for tests and single-process
// deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"flowdeck-backend/application/ports"
	"flowdeck-backend/domain/core/valueobjects"
	"flowdeck-backend/domain/operation"
)

// OperationLog is the in-memory, per-workflow operation history. History
// lives for the editing session only; an optional archive receives each
// entry write-behind for durability across sessions.
type OperationLog struct {
	archive ports.OperationArchive
	logger  *zap.Logger

	mu        sync.RWMutex
	workflows map[valueobjects.WorkflowID]*workflowLog
}

type workflowLog struct {
	clock   *valueobjects.LamportClock
	entries []ports.LogEntry
}

// NewOperationLog creates an empty log. archive may be nil.
func NewOperationLog(archive ports.OperationArchive, logger *zap.Logger) *OperationLog {
	return &OperationLog{
		archive:   archive,
		logger:    logger,
		workflows: make(map[valueobjects.WorkflowID]*workflowLog),
	}
}

func (l *OperationLog) forWorkflow(id valueobjects.WorkflowID) *workflowLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	wl, ok := l.workflows[id]
	if !ok {
		wl = &workflowLog{clock: valueobjects.NewLamportClock()}
		l.workflows[id] = wl
	}
	return wl
}

// Append records an applied operation. When an archive is configured the
// entry is shipped asynchronously; archive failures are logged, never
// surfaced, so a slow or unavailable archive cannot stall editing.
func (l *OperationLog) Append(ctx context.Context, op operation.Operation, isRemote bool) error {
	entry := ports.LogEntry{
		Operation: op,
		AppliedAt: time.Now(),
		IsRemote:  isRemote,
	}

	wl := l.forWorkflow(op.WorkflowID)
	l.mu.Lock()
	wl.entries = append(wl.entries, entry)
	l.mu.Unlock()

	if l.archive != nil {
		go func() {
			actx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := l.archive.Archive(actx, op.WorkflowID, []ports.LogEntry{entry}); err != nil {
				l.logger.Warn("Failed to archive operation",
					zap.String("workflowId", op.WorkflowID.String()),
					zap.String("operationId", op.ID.String()),
					zap.Error(err),
				)
			}
		}()
	}
	return nil
}

// NextTimestamp advances the workflow's Lamport clock for a local operation
func (l *OperationLog) NextTimestamp(ctx context.Context, workflowID valueobjects.WorkflowID) uint64 {
	return l.forWorkflow(workflowID).clock.Next()
}

// ObserveTimestamp merges a remote timestamp into the workflow's clock
func (l *OperationLog) ObserveTimestamp(ctx context.Context, workflowID valueobjects.WorkflowID, remote uint64) uint64 {
	return l.forWorkflow(workflowID).clock.Observe(remote)
}

// ClockValue returns the workflow's current Lamport clock value
func (l *OperationLog) ClockValue(ctx context.Context, workflowID valueobjects.WorkflowID) uint64 {
	return l.forWorkflow(workflowID).clock.Value()
}

// OperationsSince returns entries with timestamp >= minTimestamp, oldest first
func (l *OperationLog) OperationsSince(ctx context.Context, workflowID valueobjects.WorkflowID, minTimestamp uint64) ([]ports.LogEntry, error) {
	return l.filter(workflowID, func(e ports.LogEntry) bool {
		return e.Operation.Timestamp >= minTimestamp
	})
}

// OperationsForNode returns entries touching the node with
// timestamp >= minTimestamp, oldest first
func (l *OperationLog) OperationsForNode(ctx context.Context, workflowID valueobjects.WorkflowID, nodeID valueobjects.NodeID, minTimestamp uint64) ([]ports.LogEntry, error) {
	return l.filter(workflowID, func(e ports.LogEntry) bool {
		return e.Operation.Timestamp >= minTimestamp && e.Operation.TouchesNode(nodeID)
	})
}

// OperationsForEdge returns entries touching the edge with
// timestamp >= minTimestamp, oldest first
func (l *OperationLog) OperationsForEdge(ctx context.Context, workflowID valueobjects.WorkflowID, edgeID valueobjects.EdgeID, minTimestamp uint64) ([]ports.LogEntry, error) {
	return l.filter(workflowID, func(e ports.LogEntry) bool {
		return e.Operation.Timestamp >= minTimestamp && e.Operation.TouchesEdge(edgeID)
	})
}

func (l *OperationLog) filter(workflowID valueobjects.WorkflowID, keep func(ports.LogEntry) bool) ([]ports.LogEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	wl, ok := l.workflows[workflowID]
	if !ok {
		return nil, nil
	}
	var out []ports.LogEntry
	for _, e := range wl.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Discard drops the log and clock for a closed workflow
func (l *OperationLog) Discard(ctx context.Context, workflowID valueobjects.WorkflowID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.workflows, workflowID)
}
