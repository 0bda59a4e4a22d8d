package operation

import (
	"flowdeck-backend/domain/core/aggregates"
	"flowdeck-backend/domain/core/valueobjects"
	pkgerrors "flowdeck-backend/pkg/errors"
)

// ApplyForward applies the operation's forward payload to the workflow and
// returns the resulting workflow. The input workflow is never mutated; on
// error it is returned unchanged. Local execution, redo and remote
// application all go through this one mapping so they cannot drift apart.
func ApplyForward(w aggregates.Workflow, op Operation) (aggregates.Workflow, error) {
	switch op.Type {
	case TypeAddNode:
		if op.Data.Node == nil {
			return w, pkgerrors.NewValidation("AddNode payload missing node")
		}
		return w.WithNode(*op.Data.Node)

	case TypeDeleteNode:
		return w.WithoutNode(op.Data.NodeID), nil

	case TypeMoveNode:
		return applyMoves(w, op.Data.Moves), nil

	case TypeUpdateNodeConfig:
		return w.WithNodeConfig(op.Data.NodeID, op.Data.Config), nil

	case TypeAddEdge:
		if op.Data.Edge == nil {
			return w, pkgerrors.NewValidation("AddEdge payload missing edge")
		}
		return w.WithEdge(*op.Data.Edge)

	case TypeDeleteEdge:
		return w.WithoutEdge(op.Data.EdgeID), nil

	case TypeBulkDelete:
		return removeMany(w, op.Data.NodeIDs, op.Data.EdgeIDs), nil

	case TypePasteNodes, TypeDuplicateNodes:
		return insertMany(w, op.Data)

	default:
		return w, pkgerrors.NewValidation("unknown operation type: " + string(op.Type))
	}
}

// ApplyInverse applies the operation's inverse payload, restoring the graph
// state the operation replaced.
func ApplyInverse(w aggregates.Workflow, op Operation) (aggregates.Workflow, error) {
	switch op.Type {
	case TypeAddNode:
		return w.WithoutNode(op.Inverse.NodeID), nil

	case TypeDeleteNode:
		// The inverse carries the full deleted node plus every edge severed
		// with it, so restoring is single-step with no recomputation.
		if op.Inverse.Node == nil {
			return w, pkgerrors.NewValidation("DeleteNode inverse missing node")
		}
		restored, err := w.WithNode(*op.Inverse.Node)
		if err != nil {
			return w, err
		}
		for _, edge := range op.Inverse.Edges {
			restored, err = restored.WithEdge(edge)
			if err != nil {
				return w, err
			}
		}
		return restored, nil

	case TypeMoveNode:
		return applyMoves(w, op.Inverse.Moves), nil

	case TypeUpdateNodeConfig:
		return w.WithNodeConfig(op.Inverse.NodeID, op.Inverse.Config), nil

	case TypeAddEdge:
		return w.WithoutEdge(op.Inverse.EdgeID), nil

	case TypeDeleteEdge:
		if op.Inverse.Edge == nil {
			return w, pkgerrors.NewValidation("DeleteEdge inverse missing edge")
		}
		return w.WithEdge(*op.Inverse.Edge)

	case TypeBulkDelete:
		return insertMany(w, op.Inverse)

	case TypePasteNodes, TypeDuplicateNodes:
		return removeMany(w, op.Inverse.NodeIDs, op.Inverse.EdgeIDs), nil

	default:
		return w, pkgerrors.NewValidation("unknown operation type: " + string(op.Type))
	}
}

func applyMoves(w aggregates.Workflow, moves []NodeMove) aggregates.Workflow {
	out := w
	for _, m := range moves {
		out = out.WithNodePosition(m.NodeID, m.Position)
	}
	return out
}

// insertMany restores a set of nodes and edges. Nodes are inserted before
// edges so edge endpoints always resolve.
func insertMany(w aggregates.Workflow, p Payload) (aggregates.Workflow, error) {
	out := w
	var err error
	for _, node := range p.Nodes {
		out, err = out.WithNode(node)
		if err != nil {
			return w, err
		}
	}
	for _, edge := range p.Edges {
		out, err = out.WithEdge(edge)
		if err != nil {
			return w, err
		}
	}
	return out, nil
}

// removeMany deletes a set of edges and nodes. Edges go first so that node
// removal never has to account for edges already listed explicitly; node
// removal then sweeps anything still attached.
func removeMany(w aggregates.Workflow, nodeIDs []valueobjects.NodeID, edgeIDs []valueobjects.EdgeID) aggregates.Workflow {
	out := w
	for _, id := range edgeIDs {
		out = out.WithoutEdge(id)
	}
	for _, id := range nodeIDs {
		out = out.WithoutNode(id)
	}
	return out
}
