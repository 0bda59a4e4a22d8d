// Package undo holds the per-workflow undo/redo history: entries of one or
// more operations recorded together, and the stack pair they move between.
package undo

import (
	"time"

	"github.com/google/uuid"

	"flowdeck-backend/domain/core/valueobjects"
	"flowdeck-backend/domain/operation"
)

// Entry is one undo-stack slot. It wraps more than one operation only when
// rapid edits were merged into a single step (a multi-node drag, for
// example). CanUndo and ConflictReason are the entry's only mutable fields:
// once a conflicting edit by another collaborator is detected the entry is
// marked and never becomes undoable again.
type Entry struct {
	ID             string
	Operations     []operation.Operation
	Description    string
	Timestamp      uint64
	CreatedAt      time.Time
	CanUndo        bool
	ConflictReason string
}

// NewEntry creates an undoable entry wrapping the given operations.
// Timestamp is taken from the first operation, which carries the lowest
// Lamport value of the group.
func NewEntry(description string, ops ...operation.Operation) *Entry {
	var ts uint64
	if len(ops) > 0 {
		ts = ops[0].Timestamp
	}
	return &Entry{
		ID:          uuid.New().String(),
		Operations:  ops,
		Description: description,
		Timestamp:   ts,
		CreatedAt:   time.Now(),
		CanUndo:     true,
	}
}

// MarkConflicted flips the entry into its terminal conflicted state
func (e *Entry) MarkConflicted(reason string) {
	e.CanUndo = false
	e.ConflictReason = reason
}

// Touches reports whether any of the entry's operations affect the given
// node or edge ids
func (e *Entry) Touches(nodeIDs []valueobjects.NodeID, edgeIDs []valueobjects.EdgeID) bool {
	for _, op := range e.Operations {
		for _, id := range nodeIDs {
			if op.TouchesNode(id) {
				return true
			}
		}
		for _, id := range edgeIDs {
			if op.TouchesEdge(id) {
				return true
			}
		}
	}
	return false
}
