package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowdeck-backend/application/ports"
	"flowdeck-backend/domain/core/entities"
	"flowdeck-backend/domain/core/valueobjects"
	"flowdeck-backend/domain/operation"
	"flowdeck-backend/domain/undo"
)

func TestUndo_NothingToUndo(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, "alice", time.Hour)
	wf := fixtureWorkflow(t, nil, nil)

	result := eng.undoSvc.Undo(ctx, wf)

	assert.False(t, result.Success)
	assert.Equal(t, "Nothing to undo", result.Error)
	assert.True(t, result.Workflow.Equals(wf))
}

func TestUndoRedo_RoundTrip(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, "alice", time.Hour)
	node := fixtureNode(t, "webhook")
	wf := fixtureWorkflow(t, []entities.Node{node}, nil)

	_, err := eng.recorder.RecordAddNode(ctx, wf.ID, node)
	require.NoError(t, err)

	undone := eng.undoSvc.Undo(ctx, wf)
	require.True(t, undone.Success, "undo failed: %s", undone.Error)
	assert.Equal(t, "Undo: Add node", undone.Description)
	assert.False(t, undone.Workflow.HasNode(node.ID))
	assert.Equal(t, 0, eng.stacks.ForWorkflow(wf.ID).UndoLen())
	assert.Equal(t, 1, eng.stacks.ForWorkflow(wf.ID).RedoLen())

	redone := eng.undoSvc.Redo(ctx, undone.Workflow)
	require.True(t, redone.Success, "redo failed: %s", redone.Error)
	assert.Equal(t, "Redo: Add node", redone.Description)
	assert.True(t, redone.Workflow.HasNode(node.ID))
	assert.Equal(t, 1, eng.stacks.ForWorkflow(wf.ID).UndoLen())
	assert.Equal(t, 0, eng.stacks.ForWorkflow(wf.ID).RedoLen())
}

func TestUndoRedo_NeverAppendToLog(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, "alice", time.Hour)
	node := fixtureNode(t, "a")
	wf := fixtureWorkflow(t, []entities.Node{node}, nil)

	_, err := eng.recorder.RecordAddNode(ctx, wf.ID, node)
	require.NoError(t, err)

	undone := eng.undoSvc.Undo(ctx, wf)
	require.True(t, undone.Success)
	_ = eng.undoSvc.Redo(ctx, undone.Workflow)

	entries, err := eng.log.OperationsSince(ctx, wf.ID, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "undo and redo replay history, they do not extend it")
}

func TestUndo_ConflictRestoresEntryAndGraph(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, "alice", time.Hour)
	node := fixtureNode(t, "a")
	wf := fixtureWorkflow(t, []entities.Node{node}, nil)

	entry, err := eng.recorder.RecordAddNode(ctx, wf.ID, node)
	require.NoError(t, err)

	// Bob edits the same node before alice tries to undo.
	remote := operation.Operation{
		ID:         valueobjects.NewOperationID(),
		Type:       operation.TypeUpdateNodeConfig,
		WorkflowID: wf.ID,
		UserID:     "bob",
		Timestamp:  entry.Timestamp + 1,
		CreatedAt:  time.Now(),
		Data:       operation.Payload{NodeID: node.ID, Config: map[string]any{"label": "bobs"}},
		Inverse:    operation.Payload{NodeID: node.ID, Config: map[string]any{"label": "a"}},
	}
	require.NoError(t, eng.log.Append(ctx, remote, true))

	result := eng.undoSvc.Undo(ctx, wf)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "Cannot undo")
	assert.True(t, result.Workflow.Equals(wf), "a rejected undo leaves the graph untouched")

	// The entry is back on the undo stack, permanently conflicted.
	stack := eng.stacks.ForWorkflow(wf.ID)
	assert.Equal(t, 1, stack.UndoLen())
	assert.Equal(t, 0, stack.RedoLen())
	restored := stack.PeekUndo()
	assert.False(t, restored.CanUndo)
	assert.NotEmpty(t, restored.ConflictReason)

	// The user was told why.
	notices := eng.sink.Notices()
	require.Len(t, notices, 1)
	assert.Equal(t, eng.userID, notices[0].UserID)
	assert.Contains(t, notices[0].Message, "Cannot undo")

	// A second attempt fails fast on the mark without re-checking the log.
	again := eng.undoSvc.Undo(ctx, wf)
	assert.False(t, again.Success)
	assert.Equal(t, 1, stack.UndoLen())
}

func TestUndo_FlushesPendingMovesFirst(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, "alice", time.Hour)
	node := fixtureNode(t, "a")
	wf := fixtureWorkflow(t, []entities.Node{node}, nil)

	moved := valueobjects.Position{X: 500, Y: 500}
	eng.recorder.RecordNodeMove(ctx, wf.ID, node.ID, node.Position, moved)
	current := wf.WithNodePosition(node.ID, moved)

	// The drag is still inside the merge window; undo must finalize it and
	// then revert it.
	result := eng.undoSvc.Undo(ctx, current)
	require.True(t, result.Success, "undo failed: %s", result.Error)
	assert.Equal(t, "Undo: Move node", result.Description)

	got := result.Workflow.FindNode(node.ID)
	require.NotNil(t, got)
	assert.True(t, got.Position.Equals(node.Position))
}

func TestRedo_StructuralConflictRestoresEntry(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, "alice", time.Hour)
	node := fixtureNode(t, "a")
	wf := fixtureWorkflow(t, []entities.Node{node}, nil)

	_, err := eng.recorder.RecordAddNode(ctx, wf.ID, node)
	require.NoError(t, err)
	undone := eng.undoSvc.Undo(ctx, wf)
	require.True(t, undone.Success)

	// Someone re-created the same node id before the redo.
	conflicting := fixtureWorkflow(t, []entities.Node{node}, nil)
	conflicting.ID = wf.ID
	result := eng.undoSvc.Redo(ctx, conflicting)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "Cannot redo")
	assert.Equal(t, 1, eng.stacks.ForWorkflow(wf.ID).RedoLen(), "entry stays redoable")
}

func TestRedo_AllowedAfterBlockedUndo(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, "alice", time.Hour)
	node := fixtureNode(t, "a")
	wf := fixtureWorkflow(t, nil, nil)

	// An entry that can never be undone again can still be redone: redo
	// reasserts the user's intent and only structure matters.
	entry := undo.NewEntry("Add node", operation.Operation{
		ID:         valueobjects.NewOperationID(),
		Type:       operation.TypeAddNode,
		WorkflowID: wf.ID,
		UserID:     "alice",
		Timestamp:  1,
		CreatedAt:  time.Now(),
		Data:       operation.Payload{Node: &node},
		Inverse:    operation.Payload{NodeID: node.ID},
	})
	entry.MarkConflicted("Node was moved by another user (by bob)")
	stack := eng.stacks.ForWorkflow(wf.ID)
	stack.Push(entry)
	require.NotNil(t, stack.PopUndo()) // entry now sits on the redo stack

	result := eng.undoSvc.Redo(ctx, wf)

	require.True(t, result.Success, "redo failed: %s", result.Error)
	assert.True(t, result.Workflow.HasNode(node.ID))
}

func TestUndo_BroadcastsResult(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, "alice", time.Hour)
	node := fixtureNode(t, "a")
	wf := fixtureWorkflow(t, []entities.Node{node}, nil)

	_, err := eng.recorder.RecordAddNode(ctx, wf.ID, node)
	require.NoError(t, err)

	result := eng.undoSvc.Undo(ctx, wf)
	require.True(t, result.Success)

	msgs := eng.channel.UndoRedos()
	require.Len(t, msgs, 1)
	assert.Equal(t, ports.KindUndo, msgs[0].Kind)
	assert.Equal(t, wf.ID, msgs[0].WorkflowID)
	assert.Equal(t, eng.userID, msgs[0].SenderID)
	require.NotNil(t, msgs[0].ResultingWorkflow)
	assert.False(t, msgs[0].ResultingWorkflow.HasNode(node.ID))
}

func TestUndo_MultipleEntriesLIFO(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, "alice", time.Hour)
	a := fixtureNode(t, "a")
	b := fixtureNode(t, "b")
	wf := fixtureWorkflow(t, []entities.Node{a, b}, nil)

	_, err := eng.recorder.RecordAddNode(ctx, wf.ID, a)
	require.NoError(t, err)
	_, err = eng.recorder.RecordAddNode(ctx, wf.ID, b)
	require.NoError(t, err)

	first := eng.undoSvc.Undo(ctx, wf)
	require.True(t, first.Success)
	assert.False(t, first.Workflow.HasNode(b.ID), "most recent entry reverts first")
	assert.True(t, first.Workflow.HasNode(a.ID))

	second := eng.undoSvc.Undo(ctx, first.Workflow)
	require.True(t, second.Success)
	assert.False(t, second.Workflow.HasNode(a.ID))
}
