package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowdeck-backend/domain/core/entities"
	"flowdeck-backend/domain/core/valueobjects"
	"flowdeck-backend/domain/operation"
)

func TestRecorder_RecordAddNode(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, "alice", time.Hour)
	workflowID := valueobjects.NewWorkflowID()
	node := fixtureNode(t, "webhook")

	entry, err := eng.recorder.RecordAddNode(ctx, workflowID, node)
	require.NoError(t, err)

	assert.Equal(t, "Add node", entry.Description)
	assert.True(t, entry.CanUndo)
	assert.Equal(t, uint64(1), entry.Timestamp)
	require.Len(t, entry.Operations, 1)
	op := entry.Operations[0]
	assert.Equal(t, operation.TypeAddNode, op.Type)
	assert.Equal(t, valueobjects.UserID("alice"), op.UserID)
	require.NotNil(t, op.Data.Node)
	assert.Equal(t, node.ID, op.Data.Node.ID)
	assert.Equal(t, node.ID, op.Inverse.NodeID)

	// Entry is on the undo stack and the operation is in the log.
	assert.Equal(t, 1, eng.stacks.ForWorkflow(workflowID).UndoLen())
	entries, err := eng.log.OperationsSince(ctx, workflowID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].IsRemote)

	// Broadcast to collaborators carries the sender.
	ops := eng.channel.Operations()
	require.Len(t, ops, 1)
	assert.Equal(t, valueobjects.UserID("alice"), ops[0].SenderID)
	assert.Equal(t, op.ID, ops[0].Operation.ID)
}

func TestRecorder_RecordDeleteNode_CapturesSeveredEdges(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, "alice", time.Hour)
	workflowID := valueobjects.NewWorkflowID()
	a := fixtureNode(t, "a")
	b := fixtureNode(t, "b")
	edge := fixtureEdge(t, a.ID, b.ID)

	entry, err := eng.recorder.RecordDeleteNode(ctx, workflowID, a, []entities.Edge{edge})
	require.NoError(t, err)

	op := entry.Operations[0]
	assert.Equal(t, a.ID, op.Data.NodeID)
	require.NotNil(t, op.Inverse.Node)
	assert.Equal(t, a.ID, op.Inverse.Node.ID)
	require.Len(t, op.Inverse.Edges, 1)
	assert.Equal(t, edge.ID, op.Inverse.Edges[0].ID)
}

func TestRecorder_Timestamps_Increase(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, "alice", time.Hour)
	workflowID := valueobjects.NewWorkflowID()

	first, err := eng.recorder.RecordAddNode(ctx, workflowID, fixtureNode(t, "a"))
	require.NoError(t, err)
	second, err := eng.recorder.RecordAddNode(ctx, workflowID, fixtureNode(t, "b"))
	require.NoError(t, err)

	assert.Greater(t, second.Timestamp, first.Timestamp)
}

func TestRecorder_MoveMerge_FirstOldLastNew(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, "alice", time.Hour)
	workflowID := valueobjects.NewWorkflowID()
	nodeID := valueobjects.NewNodeID()

	p0 := valueobjects.Position{X: 0, Y: 0}
	p1 := valueobjects.Position{X: 50, Y: 0}
	p2 := valueobjects.Position{X: 120, Y: 80}

	eng.recorder.RecordNodeMove(ctx, workflowID, nodeID, p0, p1)
	eng.recorder.RecordNodeMove(ctx, workflowID, nodeID, p1, p2)

	// Nothing recorded until the gesture ends.
	assert.Equal(t, 0, eng.stacks.ForWorkflow(workflowID).UndoLen())

	require.NoError(t, eng.recorder.FlushPendingOperations(ctx, workflowID))

	stack := eng.stacks.ForWorkflow(workflowID)
	require.Equal(t, 1, stack.UndoLen())
	entry := stack.PeekUndo()
	assert.Equal(t, "Move node", entry.Description)
	op := entry.Operations[0]
	require.Len(t, op.Data.Moves, 1)
	assert.True(t, op.Data.Moves[0].Position.Equals(p2), "forward move ends at the last position")
	require.Len(t, op.Inverse.Moves, 1)
	assert.True(t, op.Inverse.Moves[0].Position.Equals(p0), "inverse move restores the first old position")
}

func TestRecorder_MoveMerge_MultipleNodesKeepOrder(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, "alice", time.Hour)
	workflowID := valueobjects.NewWorkflowID()
	a := valueobjects.NewNodeID()
	b := valueobjects.NewNodeID()

	eng.recorder.RecordNodeMove(ctx, workflowID, a, valueobjects.Position{}, valueobjects.Position{X: 10})
	eng.recorder.RecordNodeMove(ctx, workflowID, b, valueobjects.Position{}, valueobjects.Position{X: 20})
	eng.recorder.RecordNodeMove(ctx, workflowID, a, valueobjects.Position{X: 10}, valueobjects.Position{X: 30})

	require.NoError(t, eng.recorder.FlushPendingOperations(ctx, workflowID))

	entry := eng.stacks.ForWorkflow(workflowID).PeekUndo()
	require.NotNil(t, entry)
	assert.Equal(t, "Move 2 nodes", entry.Description)
	op := entry.Operations[0]
	require.Len(t, op.Data.Moves, 2)
	assert.Equal(t, a, op.Data.Moves[0].NodeID, "first-touched node stays first")
	assert.Equal(t, b, op.Data.Moves[1].NodeID)
	assert.True(t, op.Data.Moves[0].Position.Equals(valueobjects.Position{X: 30}))
}

func TestRecorder_MoveMerge_WindowElapses(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, "alice", 20*time.Millisecond)
	workflowID := valueobjects.NewWorkflowID()
	nodeID := valueobjects.NewNodeID()

	eng.recorder.RecordNodeMove(ctx, workflowID, nodeID, valueobjects.Position{}, valueobjects.Position{X: 5})

	require.Eventually(t, func() bool {
		return eng.stacks.ForWorkflow(workflowID).UndoLen() == 1
	}, 2*time.Second, 5*time.Millisecond, "merged move should record after the window elapses")
}

func TestRecorder_SetMergeWindow_AppliesToFollowingMoves(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, "alice", time.Hour)
	workflowID := valueobjects.NewWorkflowID()
	nodeID := valueobjects.NewNodeID()

	eng.recorder.SetMergeWindow(15 * time.Millisecond)
	eng.recorder.RecordNodeMove(ctx, workflowID, nodeID, valueobjects.Position{}, valueobjects.Position{X: 5})

	require.Eventually(t, func() bool {
		return eng.stacks.ForWorkflow(workflowID).UndoLen() == 1
	}, 2*time.Second, 5*time.Millisecond, "reloaded window should govern the next gesture")
}

func TestRecorder_SetMergeWindow_IgnoresNonPositive(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, "alice", time.Hour)
	workflowID := valueobjects.NewWorkflowID()
	nodeID := valueobjects.NewNodeID()

	eng.recorder.SetMergeWindow(0)
	eng.recorder.RecordNodeMove(ctx, workflowID, nodeID, valueobjects.Position{}, valueobjects.Position{X: 5})

	assert.Never(t, func() bool {
		return eng.stacks.ForWorkflow(workflowID).UndoLen() > 0
	}, 150*time.Millisecond, 20*time.Millisecond, "window must stay at its previous value")
}

func TestRecorder_Flush_NothingPending(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, "alice", time.Hour)
	workflowID := valueobjects.NewWorkflowID()

	require.NoError(t, eng.recorder.FlushPendingOperations(ctx, workflowID))
	assert.Equal(t, 0, eng.stacks.ForWorkflow(workflowID).UndoLen())
}

func TestRecorder_NewEditClearsRedo(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, "alice", time.Hour)
	node := fixtureNode(t, "a")
	wf := fixtureWorkflow(t, []entities.Node{node}, nil)

	_, err := eng.recorder.RecordAddNode(ctx, wf.ID, node)
	require.NoError(t, err)

	result := eng.undoSvc.Undo(ctx, wf)
	require.True(t, result.Success)
	assert.Equal(t, 1, eng.stacks.ForWorkflow(wf.ID).RedoLen())

	_, err = eng.recorder.RecordAddNode(ctx, wf.ID, fixtureNode(t, "b"))
	require.NoError(t, err)
	assert.Equal(t, 0, eng.stacks.ForWorkflow(wf.ID).RedoLen())
}

func TestRecorder_RecordBulkDelete(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, "alice", time.Hour)
	workflowID := valueobjects.NewWorkflowID()
	a := fixtureNode(t, "a")
	b := fixtureNode(t, "b")
	edge := fixtureEdge(t, a.ID, b.ID)

	entry, err := eng.recorder.RecordBulkDelete(ctx, workflowID, []entities.Node{a, b}, []entities.Edge{edge})
	require.NoError(t, err)

	assert.Equal(t, "Delete 3 items", entry.Description)
	op := entry.Operations[0]
	assert.ElementsMatch(t, []valueobjects.NodeID{a.ID, b.ID}, op.Data.NodeIDs)
	assert.ElementsMatch(t, []valueobjects.EdgeID{edge.ID}, op.Data.EdgeIDs)
	assert.Len(t, op.Inverse.Nodes, 2)
	assert.Len(t, op.Inverse.Edges, 1)
}

func TestRecorder_RecordPasteNodes(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, "alice", time.Hour)
	workflowID := valueobjects.NewWorkflowID()
	a := fixtureNode(t, "a")
	b := fixtureNode(t, "b")
	edge := fixtureEdge(t, a.ID, b.ID)

	entry, err := eng.recorder.RecordPasteNodes(ctx, workflowID, []entities.Node{a, b}, []entities.Edge{edge})
	require.NoError(t, err)

	assert.Equal(t, "Paste 2 nodes", entry.Description)
	op := entry.Operations[0]
	assert.Equal(t, operation.TypePasteNodes, op.Type)
	assert.Len(t, op.Data.Nodes, 2)
	assert.ElementsMatch(t, []valueobjects.NodeID{a.ID, b.ID}, op.Inverse.NodeIDs)

	single, err := eng.recorder.RecordDuplicateNodes(ctx, workflowID, []entities.Node{fixtureNode(t, "c")}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Duplicate node", single.Description)
}
