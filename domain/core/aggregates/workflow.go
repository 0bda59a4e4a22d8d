package aggregates

import (
	"flowdeck-backend/domain/core/entities"
	"flowdeck-backend/domain/core/valueobjects"
	pkgerrors "flowdeck-backend/pkg/errors"
)

// Workflow is the shared graph a group of collaborators edits: an ordered
// list of nodes and an ordered list of edges. It is treated as a value:
// every mutation helper returns a new Workflow and leaves the receiver
// untouched, so operation application stays a pure graph -> graph function
// and a rejected undo can leave no partial state behind.
type Workflow struct {
	ID    valueobjects.WorkflowID `json:"id"`
	Name  string                  `json:"name,omitempty"`
	Nodes []entities.Node         `json:"nodes"`
	Edges []entities.Edge         `json:"edges"`
}

// NewWorkflow creates an empty workflow
func NewWorkflow(name string) Workflow {
	return Workflow{
		ID:    valueobjects.NewWorkflowID(),
		Name:  name,
		Nodes: []entities.Node{},
		Edges: []entities.Edge{},
	}
}

// Clone returns a deep copy of the workflow
func (w Workflow) Clone() Workflow {
	clone := Workflow{
		ID:    w.ID,
		Name:  w.Name,
		Nodes: make([]entities.Node, 0, len(w.Nodes)),
		Edges: make([]entities.Edge, len(w.Edges)),
	}
	for _, n := range w.Nodes {
		clone.Nodes = append(clone.Nodes, n.Clone())
	}
	copy(clone.Edges, w.Edges)
	return clone
}

// FindNode returns a copy of the node with the given id, or nil
func (w Workflow) FindNode(id valueobjects.NodeID) *entities.Node {
	for _, n := range w.Nodes {
		if n.ID == id {
			found := n.Clone()
			return &found
		}
	}
	return nil
}

// HasNode reports whether a node with the given id exists
func (w Workflow) HasNode(id valueobjects.NodeID) bool {
	for _, n := range w.Nodes {
		if n.ID == id {
			return true
		}
	}
	return false
}

// FindEdge returns a copy of the edge with the given id, or nil
func (w Workflow) FindEdge(id valueobjects.EdgeID) *entities.Edge {
	for _, e := range w.Edges {
		if e.ID == id {
			found := e
			return &found
		}
	}
	return nil
}

// HasEdge reports whether an edge with the given id exists
func (w Workflow) HasEdge(id valueobjects.EdgeID) bool {
	for _, e := range w.Edges {
		if e.ID == id {
			return true
		}
	}
	return false
}

// EdgesTouching returns all edges attached to the given node, in order
func (w Workflow) EdgesTouching(nodeID valueobjects.NodeID) []entities.Edge {
	var out []entities.Edge
	for _, e := range w.Edges {
		if e.Touches(nodeID) {
			out = append(out, e)
		}
	}
	return out
}

// WithNode returns a copy of the workflow with the node appended.
// Fails if the id is already in use: ids are never reused, so a collision
// means the caller is replaying something already applied.
func (w Workflow) WithNode(node entities.Node) (Workflow, error) {
	if w.HasNode(node.ID) {
		return w, pkgerrors.NewConflict("node already exists: " + node.ID.String())
	}
	clone := w.Clone()
	clone.Nodes = append(clone.Nodes, node.Clone())
	return clone, nil
}

// WithoutNode returns a copy of the workflow with the node and every edge
// attached to it removed. Removing an absent node is a no-op.
func (w Workflow) WithoutNode(id valueobjects.NodeID) Workflow {
	clone := w.Clone()
	nodes := clone.Nodes[:0]
	for _, n := range clone.Nodes {
		if n.ID != id {
			nodes = append(nodes, n)
		}
	}
	clone.Nodes = nodes
	edges := clone.Edges[:0]
	for _, e := range clone.Edges {
		if !e.Touches(id) {
			edges = append(edges, e)
		}
	}
	clone.Edges = edges
	return clone
}

// WithNodePosition returns a copy with the node moved to the given position.
// Moving an absent node is a no-op: the node may have been deleted by a
// concurrent collaborator and conflict checking decides separately whether
// that matters.
func (w Workflow) WithNodePosition(id valueobjects.NodeID, p valueobjects.Position) Workflow {
	clone := w.Clone()
	for i, n := range clone.Nodes {
		if n.ID == id {
			clone.Nodes[i] = n.WithPosition(p)
			break
		}
	}
	return clone
}

// WithNodeConfig returns a copy with the node's config replaced.
// Updating an absent node is a no-op.
func (w Workflow) WithNodeConfig(id valueobjects.NodeID, config map[string]any) Workflow {
	clone := w.Clone()
	for i, n := range clone.Nodes {
		if n.ID == id {
			clone.Nodes[i] = n.WithConfig(config)
			break
		}
	}
	return clone
}

// WithEdge returns a copy of the workflow with the edge appended.
// Both endpoints must exist and the edge id must be unused.
func (w Workflow) WithEdge(edge entities.Edge) (Workflow, error) {
	if w.HasEdge(edge.ID) {
		return w, pkgerrors.NewConflict("edge already exists: " + edge.ID.String())
	}
	if !w.HasNode(edge.SourceNodeID) {
		return w, pkgerrors.NewNotFound("source node for edge " + edge.ID.String())
	}
	if !w.HasNode(edge.TargetNodeID) {
		return w, pkgerrors.NewNotFound("target node for edge " + edge.ID.String())
	}
	clone := w.Clone()
	clone.Edges = append(clone.Edges, edge)
	return clone, nil
}

// WithoutEdge returns a copy with the edge removed. Removing an absent
// edge is a no-op.
func (w Workflow) WithoutEdge(id valueobjects.EdgeID) Workflow {
	clone := w.Clone()
	edges := clone.Edges[:0]
	for _, e := range clone.Edges {
		if e.ID != id {
			edges = append(edges, e)
		}
	}
	clone.Edges = edges
	return clone
}

// Validate ensures graph invariants: no orphaned edges, no duplicate ids
func (w Workflow) Validate() error {
	seenNodes := make(map[valueobjects.NodeID]bool, len(w.Nodes))
	for _, n := range w.Nodes {
		if seenNodes[n.ID] {
			return pkgerrors.NewValidation("duplicate node id: " + n.ID.String())
		}
		seenNodes[n.ID] = true
	}
	seenEdges := make(map[valueobjects.EdgeID]bool, len(w.Edges))
	for _, e := range w.Edges {
		if seenEdges[e.ID] {
			return pkgerrors.NewValidation("duplicate edge id: " + e.ID.String())
		}
		seenEdges[e.ID] = true
		if !seenNodes[e.SourceNodeID] {
			return pkgerrors.NewValidation("edge references non-existent source node")
		}
		if !seenNodes[e.TargetNodeID] {
			return pkgerrors.NewValidation("edge references non-existent target node")
		}
	}
	return nil
}

// Equals reports whether two workflows contain the same nodes and edges in
// the same order. Node configs are compared structurally.
func (w Workflow) Equals(other Workflow) bool {
	if len(w.Nodes) != len(other.Nodes) || len(w.Edges) != len(other.Edges) {
		return false
	}
	for i, n := range w.Nodes {
		o := other.Nodes[i]
		if n.ID != o.ID || n.Type != o.Type || !n.Position.Equals(o.Position) {
			return false
		}
		if !configEquals(n.Config, o.Config) {
			return false
		}
	}
	for i, e := range w.Edges {
		if e != other.Edges[i] {
			return false
		}
	}
	return true
}

func configEquals(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !valueEquals(av, bv) {
			return false
		}
	}
	return true
}

func valueEquals(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		return ok && configEquals(av, bv)
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valueEquals(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
