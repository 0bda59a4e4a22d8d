package operation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowdeck-backend/domain/core/aggregates"
	"flowdeck-backend/domain/core/entities"
	"flowdeck-backend/domain/core/valueobjects"
)

func makeNode(t *testing.T, nodeType string) entities.Node {
	t.Helper()
	pos, err := valueobjects.NewPosition(0, 0)
	require.NoError(t, err)
	node, err := entities.NewNode(nodeType, pos, map[string]any{"label": nodeType})
	require.NoError(t, err)
	return node
}

func makeEdge(t *testing.T, source, target valueobjects.NodeID) entities.Edge {
	t.Helper()
	edge, err := entities.NewEdge(source, target)
	require.NoError(t, err)
	return edge
}

func makeWorkflow(t *testing.T, nodes []entities.Node, edges []entities.Edge) aggregates.Workflow {
	t.Helper()
	wf := aggregates.NewWorkflow("test")
	var err error
	for _, n := range nodes {
		wf, err = wf.WithNode(n)
		require.NoError(t, err)
	}
	for _, e := range edges {
		wf, err = wf.WithEdge(e)
		require.NoError(t, err)
	}
	return wf
}

func makeOp(opType Type, data, inverse Payload) Operation {
	return Operation{
		ID:         valueobjects.NewOperationID(),
		Type:       opType,
		WorkflowID: valueobjects.NewWorkflowID(),
		UserID:     "alice",
		Timestamp:  1,
		CreatedAt:  time.Now(),
		Data:       data,
		Inverse:    inverse,
	}
}

// roundTrip applies the operation forward then inverse and asserts the
// graph comes back identical.
func roundTrip(t *testing.T, wf aggregates.Workflow, op Operation) {
	t.Helper()
	after, err := ApplyForward(wf, op)
	require.NoError(t, err)
	back, err := ApplyInverse(after, op)
	require.NoError(t, err)
	assert.True(t, back.Equals(wf), "inverse must restore the original graph")
}

func TestApply_AddNode(t *testing.T) {
	wf := makeWorkflow(t, nil, nil)
	node := makeNode(t, "webhook")
	op := makeOp(TypeAddNode,
		Payload{Node: &node},
		Payload{NodeID: node.ID},
	)

	after, err := ApplyForward(wf, op)
	require.NoError(t, err)
	assert.True(t, after.HasNode(node.ID))

	roundTrip(t, wf, op)
}

func TestApply_AddNode_MissingPayload(t *testing.T) {
	wf := makeWorkflow(t, nil, nil)
	op := makeOp(TypeAddNode, Payload{}, Payload{})

	_, err := ApplyForward(wf, op)
	assert.Error(t, err)
}

func TestApply_DeleteNode_RestoresSeveredEdges(t *testing.T) {
	a := makeNode(t, "a")
	b := makeNode(t, "b")
	edge := makeEdge(t, a.ID, b.ID)
	wf := makeWorkflow(t, []entities.Node{a, b}, []entities.Edge{edge})

	op := makeOp(TypeDeleteNode,
		Payload{NodeID: b.ID},
		Payload{Node: &b, Edges: []entities.Edge{edge}},
	)

	after, err := ApplyForward(wf, op)
	require.NoError(t, err)
	assert.False(t, after.HasNode(b.ID))
	assert.False(t, after.HasEdge(edge.ID))

	restored, err := ApplyInverse(after, op)
	require.NoError(t, err)
	assert.True(t, restored.HasNode(b.ID))
	assert.True(t, restored.HasEdge(edge.ID), "severed edge must come back with the node")
	assert.True(t, restored.Equals(wf))
}

func TestApply_MoveNode(t *testing.T) {
	a := makeNode(t, "a")
	b := makeNode(t, "b")
	wf := makeWorkflow(t, []entities.Node{a, b}, nil)

	newA := valueobjects.Position{X: 100, Y: 100}
	newB := valueobjects.Position{X: 200, Y: 50}
	op := makeOp(TypeMoveNode,
		Payload{Moves: []NodeMove{{NodeID: a.ID, Position: newA}, {NodeID: b.ID, Position: newB}}},
		Payload{Moves: []NodeMove{{NodeID: a.ID, Position: a.Position}, {NodeID: b.ID, Position: b.Position}}},
	)

	after, err := ApplyForward(wf, op)
	require.NoError(t, err)
	movedA := after.FindNode(a.ID)
	require.NotNil(t, movedA)
	assert.True(t, movedA.Position.Equals(newA))
	movedB := after.FindNode(b.ID)
	require.NotNil(t, movedB)
	assert.True(t, movedB.Position.Equals(newB))

	roundTrip(t, wf, op)
}

func TestApply_UpdateNodeConfig(t *testing.T) {
	node := makeNode(t, "a")
	wf := makeWorkflow(t, []entities.Node{node}, nil)

	op := makeOp(TypeUpdateNodeConfig,
		Payload{NodeID: node.ID, Config: map[string]any{"label": "after"}},
		Payload{NodeID: node.ID, Config: map[string]any{"label": "a"}},
	)

	after, err := ApplyForward(wf, op)
	require.NoError(t, err)
	got := after.FindNode(node.ID)
	require.NotNil(t, got)
	assert.Equal(t, "after", got.Config["label"])

	roundTrip(t, wf, op)
}

func TestApply_AddEdgeAndDeleteEdge(t *testing.T) {
	a := makeNode(t, "a")
	b := makeNode(t, "b")
	edge := makeEdge(t, a.ID, b.ID)

	t.Run("add edge", func(t *testing.T) {
		wf := makeWorkflow(t, []entities.Node{a, b}, nil)
		op := makeOp(TypeAddEdge,
			Payload{Edge: &edge},
			Payload{EdgeID: edge.ID},
		)
		after, err := ApplyForward(wf, op)
		require.NoError(t, err)
		assert.True(t, after.HasEdge(edge.ID))
		roundTrip(t, wf, op)
	})

	t.Run("delete edge", func(t *testing.T) {
		wf := makeWorkflow(t, []entities.Node{a, b}, []entities.Edge{edge})
		op := makeOp(TypeDeleteEdge,
			Payload{EdgeID: edge.ID},
			Payload{Edge: &edge},
		)
		after, err := ApplyForward(wf, op)
		require.NoError(t, err)
		assert.False(t, after.HasEdge(edge.ID))
		roundTrip(t, wf, op)
	})
}

func TestApply_BulkDelete(t *testing.T) {
	a := makeNode(t, "a")
	b := makeNode(t, "b")
	c := makeNode(t, "c")
	ab := makeEdge(t, a.ID, b.ID)
	bc := makeEdge(t, b.ID, c.ID)
	wf := makeWorkflow(t, []entities.Node{a, b, c}, []entities.Edge{ab, bc})

	// Delete a and b plus every edge that goes with them; c survives.
	op := makeOp(TypeBulkDelete,
		Payload{NodeIDs: []valueobjects.NodeID{a.ID, b.ID}, EdgeIDs: []valueobjects.EdgeID{ab.ID, bc.ID}},
		Payload{Nodes: []entities.Node{a, b}, Edges: []entities.Edge{ab, bc}},
	)

	after, err := ApplyForward(wf, op)
	require.NoError(t, err)
	assert.False(t, after.HasNode(a.ID))
	assert.False(t, after.HasNode(b.ID))
	assert.True(t, after.HasNode(c.ID))
	assert.Empty(t, after.Edges)

	roundTrip(t, wf, op)
}

func TestApply_PasteNodes(t *testing.T) {
	existing := makeNode(t, "existing")
	wf := makeWorkflow(t, []entities.Node{existing}, nil)

	p1 := makeNode(t, "pasted-1")
	p2 := makeNode(t, "pasted-2")
	pe := makeEdge(t, p1.ID, p2.ID)
	op := makeOp(TypePasteNodes,
		Payload{Nodes: []entities.Node{p1, p2}, Edges: []entities.Edge{pe}},
		Payload{NodeIDs: []valueobjects.NodeID{p1.ID, p2.ID}, EdgeIDs: []valueobjects.EdgeID{pe.ID}},
	)

	after, err := ApplyForward(wf, op)
	require.NoError(t, err)
	assert.True(t, after.HasNode(p1.ID))
	assert.True(t, after.HasNode(p2.ID))
	assert.True(t, after.HasEdge(pe.ID))
	assert.True(t, after.HasNode(existing.ID))

	roundTrip(t, wf, op)
}

func TestApply_UnknownType(t *testing.T) {
	wf := makeWorkflow(t, nil, nil)
	op := makeOp(Type("TELEPORT_NODE"), Payload{}, Payload{})

	_, err := ApplyForward(wf, op)
	assert.Error(t, err)
	_, err = ApplyInverse(wf, op)
	assert.Error(t, err)
}

func TestApply_ErrorLeavesInputUsable(t *testing.T) {
	node := makeNode(t, "a")
	wf := makeWorkflow(t, []entities.Node{node}, nil)

	// Adding a node that already exists fails and returns the input graph.
	op := makeOp(TypeAddNode, Payload{Node: &node}, Payload{NodeID: node.ID})
	got, err := ApplyForward(wf, op)
	require.Error(t, err)
	assert.True(t, got.Equals(wf))
}

func TestOperation_AffectedIDs(t *testing.T) {
	a := makeNode(t, "a")
	b := makeNode(t, "b")
	edge := makeEdge(t, a.ID, b.ID)

	op := makeOp(TypeDeleteNode,
		Payload{NodeID: a.ID},
		Payload{Node: &a, Edges: []entities.Edge{edge}},
	)

	nodeIDs := op.AffectedNodeIDs()
	assert.Contains(t, nodeIDs, a.ID)
	assert.Contains(t, nodeIDs, b.ID, "edge endpoints count as affected")
	assert.Contains(t, op.AffectedEdgeIDs(), edge.ID)

	assert.True(t, op.TouchesNode(a.ID))
	assert.True(t, op.TouchesEdge(edge.ID))
	assert.False(t, op.TouchesNode(valueobjects.NewNodeID()))
}

func TestOperation_Overlaps(t *testing.T) {
	a := makeNode(t, "a")
	b := makeNode(t, "b")

	opA := makeOp(TypeDeleteNode, Payload{NodeID: a.ID}, Payload{Node: &a})
	opA2 := makeOp(TypeMoveNode,
		Payload{Moves: []NodeMove{{NodeID: a.ID, Position: valueobjects.Position{X: 1, Y: 1}}}},
		Payload{Moves: []NodeMove{{NodeID: a.ID, Position: a.Position}}},
	)
	opB := makeOp(TypeDeleteNode, Payload{NodeID: b.ID}, Payload{Node: &b})

	assert.True(t, opA.Overlaps(opA2))
	assert.False(t, opA.Overlaps(opB))
}
