// Package operation defines the reversible edits collaborators make to a
// workflow graph and the pure functions that apply them. Every operation
// carries both a forward payload (what happened) and an inverse payload
// (how to take it back); the pair is self-sufficient, so reversing an
// operation never needs to consult anything recorded after it.
package operation

import (
	"time"

	"flowdeck-backend/domain/core/entities"
	"flowdeck-backend/domain/core/valueobjects"
)

// Type enumerates the reversible graph edits
type Type string

const (
	TypeAddNode          Type = "ADD_NODE"
	TypeDeleteNode       Type = "DELETE_NODE"
	TypeMoveNode         Type = "MOVE_NODE"
	TypeUpdateNodeConfig Type = "UPDATE_NODE_CONFIG"
	TypeAddEdge          Type = "ADD_EDGE"
	TypeDeleteEdge       Type = "DELETE_EDGE"
	TypeBulkDelete       Type = "BULK_DELETE"
	TypePasteNodes       Type = "PASTE_NODES"
	TypeDuplicateNodes   Type = "DUPLICATE_NODES"
)

// NodeMove pairs a node with a target position inside a MoveNode payload
type NodeMove struct {
	NodeID   valueobjects.NodeID   `json:"nodeId"`
	Position valueobjects.Position `json:"position"`
}

// Payload is the data half of an operation. Which fields are populated
// depends on the operation type and direction:
//
//	AddNode            data: Node            inverse: NodeID
//	DeleteNode         data: NodeID          inverse: Node + Edges (severed alongside)
//	MoveNode           data: Moves (new)     inverse: Moves (old)
//	UpdateNodeConfig   data: NodeID+Config   inverse: NodeID+Config (old)
//	AddEdge            data: Edge            inverse: EdgeID
//	DeleteEdge         data: EdgeID          inverse: Edge
//	BulkDelete         data: NodeIDs+EdgeIDs inverse: Nodes+Edges
//	PasteNodes         data: Nodes+Edges     inverse: NodeIDs+EdgeIDs
//	DuplicateNodes     data: Nodes+Edges     inverse: NodeIDs+EdgeIDs
type Payload struct {
	Node    *entities.Node        `json:"node,omitempty"`
	Nodes   []entities.Node       `json:"nodes,omitempty"`
	NodeID  valueobjects.NodeID   `json:"nodeId,omitempty"`
	NodeIDs []valueobjects.NodeID `json:"nodeIds,omitempty"`
	Edge    *entities.Edge        `json:"edge,omitempty"`
	Edges   []entities.Edge       `json:"edges,omitempty"`
	EdgeID  valueobjects.EdgeID   `json:"edgeId,omitempty"`
	EdgeIDs []valueobjects.EdgeID `json:"edgeIds,omitempty"`
	Moves   []NodeMove            `json:"moves,omitempty"`
	Config  map[string]any        `json:"config,omitempty"`
}

// Operation is an immutable record of one reversible edit. Timestamp is the
// workflow's Lamport clock value at recording time and orders operations
// causally across collaborators; CreatedAt is wall clock and is only used
// for local merge-window decisions.
type Operation struct {
	ID         valueobjects.OperationID `json:"id"`
	Type       Type                     `json:"type"`
	WorkflowID valueobjects.WorkflowID  `json:"workflowId"`
	UserID     valueobjects.UserID      `json:"userId"`
	Timestamp  uint64                   `json:"timestamp"`
	CreatedAt  time.Time                `json:"createdAt"`
	Data       Payload                  `json:"data"`
	Inverse    Payload                  `json:"inverse"`
}

// AffectedNodeIDs returns every node id the operation touches, in either
// direction. Conflict detection keys off this set.
func (op Operation) AffectedNodeIDs() []valueobjects.NodeID {
	seen := make(map[valueobjects.NodeID]bool)
	var out []valueobjects.NodeID
	add := func(id valueobjects.NodeID) {
		if !id.IsEmpty() && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, p := range []Payload{op.Data, op.Inverse} {
		add(p.NodeID)
		if p.Node != nil {
			add(p.Node.ID)
		}
		for _, n := range p.Nodes {
			add(n.ID)
		}
		for _, id := range p.NodeIDs {
			add(id)
		}
		for _, m := range p.Moves {
			add(m.NodeID)
		}
		if p.Edge != nil {
			add(p.Edge.SourceNodeID)
			add(p.Edge.TargetNodeID)
		}
		for _, e := range p.Edges {
			add(e.SourceNodeID)
			add(e.TargetNodeID)
		}
	}
	return out
}

// AffectedEdgeIDs returns every edge id the operation touches, in either direction
func (op Operation) AffectedEdgeIDs() []valueobjects.EdgeID {
	seen := make(map[valueobjects.EdgeID]bool)
	var out []valueobjects.EdgeID
	add := func(id valueobjects.EdgeID) {
		if !id.IsEmpty() && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, p := range []Payload{op.Data, op.Inverse} {
		add(p.EdgeID)
		if p.Edge != nil {
			add(p.Edge.ID)
		}
		for _, e := range p.Edges {
			add(e.ID)
		}
		for _, id := range p.EdgeIDs {
			add(id)
		}
	}
	return out
}

// TouchesNode reports whether the operation affects the given node
func (op Operation) TouchesNode(id valueobjects.NodeID) bool {
	for _, affected := range op.AffectedNodeIDs() {
		if affected == id {
			return true
		}
	}
	return false
}

// TouchesEdge reports whether the operation affects the given edge
func (op Operation) TouchesEdge(id valueobjects.EdgeID) bool {
	for _, affected := range op.AffectedEdgeIDs() {
		if affected == id {
			return true
		}
	}
	return false
}

// Overlaps reports whether two operations touch any common node or edge
func (op Operation) Overlaps(other Operation) bool {
	for _, id := range other.AffectedNodeIDs() {
		if op.TouchesNode(id) {
			return true
		}
	}
	for _, id := range other.AffectedEdgeIDs() {
		if op.TouchesEdge(id) {
			return true
		}
	}
	return false
}
