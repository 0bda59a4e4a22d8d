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
	"flowdeck-backend/domain/undo"
)

// foreignOp builds a collaborator's operation touching the given node
func foreignOp(workflowID valueobjects.WorkflowID, user string, opType operation.Type, nodeID valueobjects.NodeID, ts uint64) operation.Operation {
	op := operation.Operation{
		ID:         valueobjects.NewOperationID(),
		Type:       opType,
		WorkflowID: workflowID,
		UserID:     valueobjects.UserID(user),
		Timestamp:  ts,
		CreatedAt:  time.Now(),
	}
	switch opType {
	case operation.TypeMoveNode:
		op.Data = operation.Payload{Moves: []operation.NodeMove{{NodeID: nodeID, Position: valueobjects.Position{X: 99, Y: 99}}}}
		op.Inverse = operation.Payload{Moves: []operation.NodeMove{{NodeID: nodeID, Position: valueobjects.Position{}}}}
	case operation.TypeUpdateNodeConfig:
		op.Data = operation.Payload{NodeID: nodeID, Config: map[string]any{"label": "theirs"}}
		op.Inverse = operation.Payload{NodeID: nodeID, Config: map[string]any{"label": "before"}}
	default:
		op.Data = operation.Payload{NodeID: nodeID}
	}
	return op
}

func TestCheckUndo_AddNode_Clean(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, "alice", time.Hour)
	node := fixtureNode(t, "a")
	wf := fixtureWorkflow(t, []entities.Node{node}, nil)

	entry, err := eng.recorder.RecordAddNode(ctx, wf.ID, node)
	require.NoError(t, err)

	check, err := eng.resolver.CheckUndo(ctx, entry, wf)
	require.NoError(t, err)
	assert.False(t, check.HasConflict)
}

func TestCheckUndo_AddNode_NodeGone(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, "alice", time.Hour)
	node := fixtureNode(t, "a")
	wf := fixtureWorkflow(t, nil, nil) // node no longer present

	entry, err := eng.recorder.RecordAddNode(ctx, wf.ID, node)
	require.NoError(t, err)

	check, err := eng.resolver.CheckUndo(ctx, entry, wf)
	require.NoError(t, err)
	assert.True(t, check.HasConflict)
	assert.Contains(t, check.Reason, "no longer exists")
}

func TestCheckUndo_AddNode_ForeignTouchBlocks(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, "alice", time.Hour)
	node := fixtureNode(t, "a")
	wf := fixtureWorkflow(t, []entities.Node{node}, nil)

	entry, err := eng.recorder.RecordAddNode(ctx, wf.ID, node)
	require.NoError(t, err)

	// Bob touches the node after alice's edit.
	remote := foreignOp(wf.ID, "bob", operation.TypeUpdateNodeConfig, node.ID, entry.Timestamp+1)
	require.NoError(t, eng.log.Append(ctx, remote, true))

	check, err := eng.resolver.CheckUndo(ctx, entry, wf)
	require.NoError(t, err)
	assert.True(t, check.HasConflict)
	assert.Contains(t, check.Reason, "modified by another user")
	assert.Contains(t, check.Reason, "bob")
	require.Len(t, check.ConflictingOperations, 1)
	assert.Equal(t, remote.ID, check.ConflictingOperations[0].ID)
}

func TestCheckUndo_OwnLaterOperationsDoNotBlock(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, "alice", time.Hour)
	node := fixtureNode(t, "a")
	wf := fixtureWorkflow(t, []entities.Node{node}, nil)

	entry, err := eng.recorder.RecordAddNode(ctx, wf.ID, node)
	require.NoError(t, err)
	// Alice keeps editing the same node herself.
	_, err = eng.recorder.RecordUpdateNodeConfig(ctx, wf.ID, node.ID, map[string]any{"label": "a"}, map[string]any{"label": "mine"})
	require.NoError(t, err)

	check, err := eng.resolver.CheckUndo(ctx, entry, wf)
	require.NoError(t, err)
	assert.False(t, check.HasConflict, "the user's own later edits never block their undo")
}

func TestCheckUndo_MoveNode(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, "alice", time.Hour)
	node := fixtureNode(t, "a")
	wf := fixtureWorkflow(t, []entities.Node{node}, nil)

	eng.recorder.RecordNodeMove(ctx, wf.ID, node.ID, node.Position, valueobjects.Position{X: 200, Y: 200})
	require.NoError(t, eng.recorder.FlushPendingOperations(ctx, wf.ID))
	entry := eng.stacks.ForWorkflow(wf.ID).PeekUndo()
	require.NotNil(t, entry)

	t.Run("clean", func(t *testing.T) {
		check, err := eng.resolver.CheckUndo(ctx, entry, wf)
		require.NoError(t, err)
		assert.False(t, check.HasConflict)
	})

	t.Run("foreign config change does not block a move undo", func(t *testing.T) {
		remote := foreignOp(wf.ID, "bob", operation.TypeUpdateNodeConfig, node.ID, entry.Timestamp+1)
		require.NoError(t, eng.log.Append(ctx, remote, true))

		check, err := eng.resolver.CheckUndo(ctx, entry, wf)
		require.NoError(t, err)
		assert.False(t, check.HasConflict)
	})

	t.Run("foreign move blocks", func(t *testing.T) {
		remote := foreignOp(wf.ID, "bob", operation.TypeMoveNode, node.ID, entry.Timestamp+2)
		require.NoError(t, eng.log.Append(ctx, remote, true))

		check, err := eng.resolver.CheckUndo(ctx, entry, wf)
		require.NoError(t, err)
		assert.True(t, check.HasConflict)
		assert.Contains(t, check.Reason, "moved by another user")
	})

	t.Run("node deleted", func(t *testing.T) {
		empty := fixtureWorkflow(t, nil, nil)
		check, err := eng.resolver.CheckUndo(ctx, entry, empty)
		require.NoError(t, err)
		assert.True(t, check.HasConflict)
		assert.Contains(t, check.Reason, "no longer exists")
	})
}

func TestCheckUndo_DeleteNode_IDCollision(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, "alice", time.Hour)
	node := fixtureNode(t, "a")

	entry, err := eng.recorder.RecordDeleteNode(ctx, "wf-1", node, nil)
	require.NoError(t, err)

	t.Run("restore is clean when the id is free", func(t *testing.T) {
		wf := fixtureWorkflow(t, nil, nil)
		check, err := eng.resolver.CheckUndo(ctx, entry, wf)
		require.NoError(t, err)
		assert.False(t, check.HasConflict)
	})

	t.Run("blocked when the id is taken", func(t *testing.T) {
		wf := fixtureWorkflow(t, []entities.Node{node}, nil)
		check, err := eng.resolver.CheckUndo(ctx, entry, wf)
		require.NoError(t, err)
		assert.True(t, check.HasConflict)
		assert.Contains(t, check.Reason, "already exists")
	})
}

func TestCheckUndo_BulkDelete_EndpointMustResolve(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, "alice", time.Hour)
	a := fixtureNode(t, "a")
	b := fixtureNode(t, "b")
	edge := fixtureEdge(t, a.ID, b.ID)

	entry, err := eng.recorder.RecordBulkDelete(ctx, "wf-1", []entities.Node{a}, []entities.Edge{edge})
	require.NoError(t, err)

	t.Run("ok when the other endpoint still exists", func(t *testing.T) {
		wf := fixtureWorkflow(t, []entities.Node{b}, nil)
		check, err := eng.resolver.CheckUndo(ctx, entry, wf)
		require.NoError(t, err)
		assert.False(t, check.HasConflict)
	})

	t.Run("blocked when an endpoint is gone", func(t *testing.T) {
		wf := fixtureWorkflow(t, nil, nil) // b was deleted meanwhile
		check, err := eng.resolver.CheckUndo(ctx, entry, wf)
		require.NoError(t, err)
		assert.True(t, check.HasConflict)
	})
}

func TestCheckRedo_IsStructuralOnly(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, "alice", time.Hour)
	node := fixtureNode(t, "a")

	entry, err := eng.recorder.RecordAddNode(ctx, "wf-1", node)
	require.NoError(t, err)

	// Bob touched the node meanwhile; a redo reasserts alice's intent and
	// ignores the log as long as the graph can take the forward payload.
	remote := foreignOp("wf-1", "bob", operation.TypeUpdateNodeConfig, node.ID, entry.Timestamp+1)
	require.NoError(t, eng.log.Append(ctx, remote, true))

	empty := fixtureWorkflow(t, nil, nil)
	check, err := eng.resolver.CheckRedo(ctx, entry, empty)
	require.NoError(t, err)
	assert.False(t, check.HasConflict)
}

func TestCheckRedo_StructuralConflicts(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, "alice", time.Hour)
	node := fixtureNode(t, "a")

	t.Run("re-add blocked by id collision", func(t *testing.T) {
		entry := undo.NewEntry("Add node", operation.Operation{
			ID:        valueobjects.NewOperationID(),
			Type:      operation.TypeAddNode,
			UserID:    "alice",
			Timestamp: 1,
			Data:      operation.Payload{Node: &node},
			Inverse:   operation.Payload{NodeID: node.ID},
		})
		wf := fixtureWorkflow(t, []entities.Node{node}, nil)
		check, err := eng.resolver.CheckRedo(ctx, entry, wf)
		require.NoError(t, err)
		assert.True(t, check.HasConflict)
	})

	t.Run("re-delete blocked when node gone", func(t *testing.T) {
		entry := undo.NewEntry("Delete node", operation.Operation{
			ID:        valueobjects.NewOperationID(),
			Type:      operation.TypeDeleteNode,
			UserID:    "alice",
			Timestamp: 1,
			Data:      operation.Payload{NodeID: node.ID},
			Inverse:   operation.Payload{Node: &node},
		})
		wf := fixtureWorkflow(t, nil, nil)
		check, err := eng.resolver.CheckRedo(ctx, entry, wf)
		require.NoError(t, err)
		assert.True(t, check.HasConflict)
		assert.Contains(t, check.Reason, "no longer exists")
	})
}
