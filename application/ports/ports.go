// Package ports declares the boundaries between the undo engine and its
// collaborators: the operation log, the graph store, identity, the
// collaboration message channel, the notification sink and the outbound
// event bus. The engine depends only on these interfaces; infrastructure
// provides the implementations.
package ports

import (
	"context"
	"time"

	"flowdeck-backend/domain/core/aggregates"
	"flowdeck-backend/domain/core/valueobjects"
	"flowdeck-backend/domain/operation"
)

// LogEntry is one slot of the append-only operation log. Entries are
// created once and never mutated; they are the evidence the conflict
// resolver consults.
type LogEntry struct {
	Operation operation.Operation `json:"operation"`
	AppliedAt time.Time           `json:"appliedAt"`
	IsRemote  bool                `json:"isRemote"`
}

// OperationLog is the per-workflow history of applied operations, local and
// remote, and the owner of each workflow's Lamport clock. The log is never
// truncated while any entry referencing its operations is still undoable.
type OperationLog interface {
	// Append records an applied operation
	Append(ctx context.Context, op operation.Operation, isRemote bool) error

	// NextTimestamp advances the workflow's Lamport clock for a local operation
	NextTimestamp(ctx context.Context, workflowID valueobjects.WorkflowID) uint64

	// ObserveTimestamp merges a remote operation's timestamp into the clock
	// (max(local, remote) + 1) and returns the new clock value
	ObserveTimestamp(ctx context.Context, workflowID valueobjects.WorkflowID, remote uint64) uint64

	// ClockValue returns the workflow's current Lamport clock value
	ClockValue(ctx context.Context, workflowID valueobjects.WorkflowID) uint64

	// OperationsSince returns all entries with timestamp >= minTimestamp,
	// oldest first
	OperationsSince(ctx context.Context, workflowID valueobjects.WorkflowID, minTimestamp uint64) ([]LogEntry, error)

	// OperationsForNode returns entries touching the node with
	// timestamp >= minTimestamp, oldest first
	OperationsForNode(ctx context.Context, workflowID valueobjects.WorkflowID, nodeID valueobjects.NodeID, minTimestamp uint64) ([]LogEntry, error)

	// OperationsForEdge returns entries touching the edge with
	// timestamp >= minTimestamp, oldest first
	OperationsForEdge(ctx context.Context, workflowID valueobjects.WorkflowID, edgeID valueobjects.EdgeID, minTimestamp uint64) ([]LogEntry, error)

	// Discard drops the log and clock for a closed workflow
	Discard(ctx context.Context, workflowID valueobjects.WorkflowID)
}

// OperationArchive persists operations beyond the editing session for
// audit and cross-session history. Archiving is write-behind: failures must
// not block the session log.
type OperationArchive interface {
	Archive(ctx context.Context, workflowID valueobjects.WorkflowID, entries []LogEntry) error
	RecentOperations(ctx context.Context, workflowID valueobjects.WorkflowID, limit int) ([]LogEntry, error)
}

// GraphStore reads and writes the current workflow state. Persistence
// details (tables, snapshots, caching) are the store's concern.
type GraphStore interface {
	GetWorkflow(ctx context.Context, id valueobjects.WorkflowID) (*aggregates.Workflow, error)
	SaveWorkflow(ctx context.Context, workflow *aggregates.Workflow) error
	DeleteWorkflow(ctx context.Context, id valueobjects.WorkflowID) error
}

// IdentityProvider resolves the user on whose behalf the engine is acting
type IdentityProvider interface {
	CurrentUserID(ctx context.Context) (valueobjects.UserID, error)
}

// OperationMessage is broadcast to collaborators after every locally
// recorded operation
type OperationMessage struct {
	Operation operation.Operation `json:"operation"`
	SenderID  valueobjects.UserID `json:"senderId"`
}

// UndoRedoKind distinguishes the two stack transitions on the wire
type UndoRedoKind string

const (
	KindUndo UndoRedoKind = "undo"
	KindRedo UndoRedoKind = "redo"
)

// UndoRedoMessage is broadcast after a local undo or redo. It carries the
// already-computed resulting workflow; receivers install it directly
// instead of replaying the sender's undo logic.
type UndoRedoMessage struct {
	Kind              UndoRedoKind            `json:"kind"`
	WorkflowID        valueobjects.WorkflowID `json:"workflowId"`
	EntryID           string                  `json:"entryId"`
	SenderID          valueobjects.UserID     `json:"senderId"`
	ResultingWorkflow *aggregates.Workflow    `json:"resultingWorkflow"`
}

// MessageChannel ships operations and undo/redo results between
// collaborators. Delivery to each peer is at-most-once per broadcast; the
// engine tolerates a lossy channel because conflicts are detected from the
// log, not from delivery guarantees.
type MessageChannel interface {
	BroadcastOperation(ctx context.Context, msg OperationMessage) error
	BroadcastUndoRedo(ctx context.Context, msg UndoRedoMessage) error
}

// ConflictNotification is a human-readable conflict report for display
type ConflictNotification struct {
	WorkflowID valueobjects.WorkflowID `json:"workflowId"`
	UserID     valueobjects.UserID     `json:"userId"`
	EntryID    string                  `json:"entryId"`
	Message    string                  `json:"message"`
}

// NotificationSink receives conflict messages for display. Failure to
// deliver is non-fatal; callers log and move on.
type NotificationSink interface {
	NotifyConflict(ctx context.Context, n ConflictNotification) error
}

// EventBus publishes recorded operations to external integrations
type EventBus interface {
	PublishOperation(ctx context.Context, op operation.Operation) error
}
