package undo

import (
	"sync"

	"flowdeck-backend/domain/core/valueobjects"
)

// Stack is the undo/redo stack pair for one workflow. The tail of each
// slice is the most recent entry. Popping an entry moves it to the opposite
// stack inside the same critical section, so no reader ever observes an
// entry belonging to neither stack.
type Stack struct {
	mu        sync.Mutex
	undoStack []*Entry
	redoStack []*Entry
}

// NewStack creates an empty stack pair
func NewStack() *Stack {
	return &Stack{}
}

// Push records a new entry on the undo stack. Any new edit invalidates the
// redo history for the workflow, so the redo stack is cleared.
func (s *Stack) Push(entry *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.undoStack = append(s.undoStack, entry)
	s.redoStack = s.redoStack[:0]
}

// PopUndo removes the top undo entry and places it on the redo stack as a
// single step. Returns nil when the undo stack is empty.
func (s *Stack) PopUndo() *Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.undoStack)
	if n == 0 {
		return nil
	}
	entry := s.undoStack[n-1]
	s.undoStack = s.undoStack[:n-1]
	s.redoStack = append(s.redoStack, entry)
	return entry
}

// RestoreUndo reverses a PopUndo after a rejected undo: the entry moves
// from the redo stack back to the top of the undo stack, leaving both
// stacks exactly as they were before the attempt.
func (s *Stack) RestoreUndo(entry *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.redoStack); n > 0 && s.redoStack[n-1] == entry {
		s.redoStack = s.redoStack[:n-1]
	}
	s.undoStack = append(s.undoStack, entry)
}

// PopRedo removes the top redo entry and places it on the undo stack.
// Returns nil when the redo stack is empty.
func (s *Stack) PopRedo() *Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.redoStack)
	if n == 0 {
		return nil
	}
	entry := s.redoStack[n-1]
	s.redoStack = s.redoStack[:n-1]
	s.undoStack = append(s.undoStack, entry)
	return entry
}

// RestoreRedo reverses a PopRedo after a rejected redo
func (s *Stack) RestoreRedo(entry *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.undoStack); n > 0 && s.undoStack[n-1] == entry {
		s.undoStack = s.undoStack[:n-1]
	}
	s.redoStack = append(s.redoStack, entry)
}

// PeekUndo returns the top undo entry without removing it
func (s *Stack) PeekUndo() *Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.undoStack); n > 0 {
		return s.undoStack[n-1]
	}
	return nil
}

// PeekRedo returns the top redo entry without removing it
func (s *Stack) PeekRedo() *Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.redoStack); n > 0 {
		return s.redoStack[n-1]
	}
	return nil
}

// UndoLen returns the number of undoable entries
func (s *Stack) UndoLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.undoStack)
}

// RedoLen returns the number of redoable entries
func (s *Stack) RedoLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.redoStack)
}

// UndoEntries returns a snapshot of the undo stack, oldest first
func (s *Stack) UndoEntries() []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Entry, len(s.undoStack))
	copy(out, s.undoStack)
	return out
}

// RedoEntries returns a snapshot of the redo stack, oldest first
func (s *Stack) RedoEntries() []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Entry, len(s.redoStack))
	copy(out, s.redoStack)
	return out
}

// MarkConflicted marks every undo entry touching the given ids as no longer
// undoable and returns the entries that were newly marked.
func (s *Stack) MarkConflicted(nodeIDs []valueobjects.NodeID, edgeIDs []valueobjects.EdgeID, reason string) []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var marked []*Entry
	for _, entry := range s.undoStack {
		if entry.CanUndo && entry.Touches(nodeIDs, edgeIDs) {
			entry.MarkConflicted(reason)
			marked = append(marked, entry)
		}
	}
	return marked
}

// Stacks holds one Stack per open workflow
type Stacks struct {
	mu         sync.Mutex
	byWorkflow map[valueobjects.WorkflowID]*Stack
}

// NewStacks creates an empty registry
func NewStacks() *Stacks {
	return &Stacks{byWorkflow: make(map[valueobjects.WorkflowID]*Stack)}
}

// ForWorkflow returns the stack pair for a workflow, creating it on first use
func (s *Stacks) ForWorkflow(id valueobjects.WorkflowID) *Stack {
	s.mu.Lock()
	defer s.mu.Unlock()
	stack, ok := s.byWorkflow[id]
	if !ok {
		stack = NewStack()
		s.byWorkflow[id] = stack
	}
	return stack
}

// Discard drops the history for a closed workflow
func (s *Stacks) Discard(id valueobjects.WorkflowID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byWorkflow, id)
}
