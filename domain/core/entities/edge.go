package entities

import (
	"flowdeck-backend/domain/core/valueobjects"
	pkgerrors "flowdeck-backend/pkg/errors"
)

// Edge connects two nodes on the workflow canvas. SourcePort and TargetPort
// name the connection points on either node; they are empty for node types
// with a single implicit port.
type Edge struct {
	ID           valueobjects.EdgeID `json:"id"`
	SourceNodeID valueobjects.NodeID `json:"sourceNodeId"`
	TargetNodeID valueobjects.NodeID `json:"targetNodeId"`
	SourcePort   string              `json:"sourcePort,omitempty"`
	TargetPort   string              `json:"targetPort,omitempty"`
}

// NewEdge creates an edge with a fresh id
func NewEdge(source, target valueobjects.NodeID) (Edge, error) {
	if source.IsEmpty() || target.IsEmpty() {
		return Edge{}, pkgerrors.NewValidation("edge requires both source and target nodes")
	}
	if source == target {
		return Edge{}, pkgerrors.NewValidation("cannot connect node to itself")
	}
	return Edge{
		ID:           valueobjects.NewEdgeID(),
		SourceNodeID: source,
		TargetNodeID: target,
	}, nil
}

// Touches reports whether the edge is attached to the given node
func (e Edge) Touches(nodeID valueobjects.NodeID) bool {
	return e.SourceNodeID == nodeID || e.TargetNodeID == nodeID
}
