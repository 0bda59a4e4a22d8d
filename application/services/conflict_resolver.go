package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"flowdeck-backend/application/ports"
	"flowdeck-backend/domain/core/aggregates"
	"flowdeck-backend/domain/core/valueobjects"
	"flowdeck-backend/domain/operation"
	"flowdeck-backend/domain/undo"
)

// ConflictCheck is the result of asking whether an entry can be undone or
// redone against the current graph and everything recorded since.
type ConflictCheck struct {
	HasConflict           bool
	Reason                string
	ConflictingOperations []operation.Operation
}

// ConflictResolver decides whether undoing or redoing an entry is safe.
// It only reads: the log, the stacks and the graph are never mutated here.
//
// The undo check is strict: besides structural feasibility it rejects any
// entry whose touched entities were modified by a different user (or any
// remote origin) since the entry was recorded. The redo check is looser on
// purpose: redo reasserts the same user's original intent, so only the
// structural feasibility of re-applying the forward payload is verified.
type ConflictResolver struct {
	log    ports.OperationLog
	logger *zap.Logger
}

// NewConflictResolver creates a conflict resolver over the given log
func NewConflictResolver(log ports.OperationLog, logger *zap.Logger) *ConflictResolver {
	return &ConflictResolver{log: log, logger: logger}
}

// CheckUndo reports whether undoing the entry is safe
func (r *ConflictResolver) CheckUndo(ctx context.Context, entry *undo.Entry, current aggregates.Workflow) (ConflictCheck, error) {
	for _, op := range entry.Operations {
		check, err := r.checkUndoOperation(ctx, op, entry.Timestamp, current)
		if err != nil {
			return ConflictCheck{}, err
		}
		if check.HasConflict {
			return check, nil
		}
	}
	return ConflictCheck{}, nil
}

func (r *ConflictResolver) checkUndoOperation(ctx context.Context, op operation.Operation, entryTS uint64, current aggregates.Workflow) (ConflictCheck, error) {
	switch op.Type {
	case operation.TypeAddNode:
		// Undo deletes the added node.
		if op.Data.Node == nil {
			return ConflictCheck{}, nil
		}
		return r.checkUndoOfAddedNode(ctx, op, op.Data.Node.ID, entryTS, current)

	case operation.TypeDeleteNode:
		// Undo restores the node; only an id collision blocks it.
		if op.Inverse.Node != nil && current.HasNode(op.Inverse.Node.ID) {
			return conflict("A node with the same id already exists"), nil
		}
		return ConflictCheck{}, nil

	case operation.TypeMoveNode:
		for _, m := range op.Inverse.Moves {
			if !current.HasNode(m.NodeID) {
				return conflict("Node no longer exists"), nil
			}
			foreign, err := r.foreignOperations(ctx, op, m.NodeID, entryTS)
			if err != nil {
				return ConflictCheck{}, err
			}
			for _, f := range foreign {
				if f.Type == operation.TypeMoveNode {
					return conflictWith(fmt.Sprintf("Node was moved by another user (by %s)", f.UserID), foreign), nil
				}
			}
		}
		return ConflictCheck{}, nil

	case operation.TypeUpdateNodeConfig:
		if !current.HasNode(op.Data.NodeID) {
			return conflict("Node no longer exists"), nil
		}
		foreign, err := r.foreignOperations(ctx, op, op.Data.NodeID, entryTS)
		if err != nil {
			return ConflictCheck{}, err
		}
		for _, f := range foreign {
			if f.Type == operation.TypeUpdateNodeConfig {
				return conflictWith(fmt.Sprintf("Node settings were changed by another user (by %s)", f.UserID), foreign), nil
			}
		}
		return ConflictCheck{}, nil

	case operation.TypeAddEdge:
		if op.Data.Edge != nil && !current.HasEdge(op.Data.Edge.ID) {
			return conflict("Connection no longer exists"), nil
		}
		return ConflictCheck{}, nil

	case operation.TypeDeleteEdge:
		edge := op.Inverse.Edge
		if edge == nil {
			return ConflictCheck{}, nil
		}
		if !current.HasNode(edge.SourceNodeID) || !current.HasNode(edge.TargetNodeID) {
			return conflict("Connection endpoint no longer exists"), nil
		}
		if current.HasEdge(edge.ID) {
			return conflict("A connection with the same id already exists"), nil
		}
		return ConflictCheck{}, nil

	case operation.TypeBulkDelete:
		// Undo restores the full set; every node id must be free and every
		// restored edge must resolve its endpoints after the nodes go back.
		restored := make(map[valueobjects.NodeID]bool, len(op.Inverse.Nodes))
		for _, n := range op.Inverse.Nodes {
			if current.HasNode(n.ID) {
				return conflict("A node with the same id already exists"), nil
			}
			restored[n.ID] = true
		}
		for _, e := range op.Inverse.Edges {
			if !restored[e.SourceNodeID] && !current.HasNode(e.SourceNodeID) {
				return conflict("Connection endpoint will not exist after restore"), nil
			}
			if !restored[e.TargetNodeID] && !current.HasNode(e.TargetNodeID) {
				return conflict("Connection endpoint will not exist after restore"), nil
			}
		}
		return ConflictCheck{}, nil

	case operation.TypePasteNodes, operation.TypeDuplicateNodes:
		// Undo deletes the pasted set; same rule as AddNode per node.
		for _, id := range op.Inverse.NodeIDs {
			check, err := r.checkUndoOfAddedNode(ctx, op, id, entryTS, current)
			if err != nil || check.HasConflict {
				return check, err
			}
		}
		return ConflictCheck{}, nil

	default:
		r.logger.Warn("Conflict check for unknown operation type",
			zap.String("type", string(op.Type)),
			zap.String("operationId", op.ID.String()),
		)
		return conflict("Unknown operation type"), nil
	}
}

// checkUndoOfAddedNode applies the AddNode undo rule: the node must still
// exist, and nobody else may have touched it since the entry was recorded.
func (r *ConflictResolver) checkUndoOfAddedNode(ctx context.Context, op operation.Operation, nodeID valueobjects.NodeID, entryTS uint64, current aggregates.Workflow) (ConflictCheck, error) {
	if !current.HasNode(nodeID) {
		return conflict("Node no longer exists (already deleted)"), nil
	}
	foreign, err := r.foreignOperations(ctx, op, nodeID, entryTS)
	if err != nil {
		return ConflictCheck{}, err
	}
	if len(foreign) > 0 {
		return conflictWith(fmt.Sprintf("Node was modified by another user (by %s)", foreign[0].UserID), foreign), nil
	}
	return ConflictCheck{}, nil
}

// foreignOperations returns logged operations on the node, at or after the
// entry's timestamp, issued by a different user or any remote origin.
func (r *ConflictResolver) foreignOperations(ctx context.Context, op operation.Operation, nodeID valueobjects.NodeID, entryTS uint64) ([]operation.Operation, error) {
	entries, err := r.log.OperationsForNode(ctx, op.WorkflowID, nodeID, entryTS)
	if err != nil {
		return nil, err
	}
	var foreign []operation.Operation
	for _, e := range entries {
		if e.Operation.ID == op.ID {
			continue
		}
		if e.IsRemote || e.Operation.UserID != op.UserID {
			foreign = append(foreign, e.Operation)
		}
	}
	return foreign, nil
}

// CheckRedo reports whether re-applying the entry's forward payloads is
// structurally feasible against the current graph.
func (r *ConflictResolver) CheckRedo(ctx context.Context, entry *undo.Entry, current aggregates.Workflow) (ConflictCheck, error) {
	for _, op := range entry.Operations {
		if check := checkRedoOperation(op, current); check.HasConflict {
			return check, nil
		}
	}
	return ConflictCheck{}, nil
}

func checkRedoOperation(op operation.Operation, current aggregates.Workflow) ConflictCheck {
	switch op.Type {
	case operation.TypeAddNode:
		if op.Data.Node != nil && current.HasNode(op.Data.Node.ID) {
			return conflict("A node with the same id already exists")
		}

	case operation.TypeDeleteNode:
		if !current.HasNode(op.Data.NodeID) {
			return conflict("Node no longer exists")
		}

	case operation.TypeMoveNode:
		for _, m := range op.Data.Moves {
			if !current.HasNode(m.NodeID) {
				return conflict("Node no longer exists")
			}
		}

	case operation.TypeUpdateNodeConfig:
		if !current.HasNode(op.Data.NodeID) {
			return conflict("Node no longer exists")
		}

	case operation.TypeAddEdge:
		edge := op.Data.Edge
		if edge == nil {
			return ConflictCheck{}
		}
		if current.HasEdge(edge.ID) {
			return conflict("A connection with the same id already exists")
		}
		if !current.HasNode(edge.SourceNodeID) || !current.HasNode(edge.TargetNodeID) {
			return conflict("Connection endpoint no longer exists")
		}

	case operation.TypeDeleteEdge:
		if !current.HasEdge(op.Data.EdgeID) {
			return conflict("Connection no longer exists")
		}

	case operation.TypeBulkDelete:
		for _, id := range op.Data.NodeIDs {
			if !current.HasNode(id) {
				return conflict("Node no longer exists")
			}
		}

	case operation.TypePasteNodes, operation.TypeDuplicateNodes:
		inserted := make(map[valueobjects.NodeID]bool, len(op.Data.Nodes))
		for _, n := range op.Data.Nodes {
			if current.HasNode(n.ID) {
				return conflict("A node with the same id already exists")
			}
			inserted[n.ID] = true
		}
		for _, e := range op.Data.Edges {
			if !inserted[e.SourceNodeID] && !current.HasNode(e.SourceNodeID) {
				return conflict("Connection endpoint no longer exists")
			}
			if !inserted[e.TargetNodeID] && !current.HasNode(e.TargetNodeID) {
				return conflict("Connection endpoint no longer exists")
			}
		}

	default:
		return conflict("Unknown operation type")
	}
	return ConflictCheck{}
}

func conflict(reason string) ConflictCheck {
	return ConflictCheck{HasConflict: true, Reason: reason}
}

func conflictWith(reason string, ops []operation.Operation) ConflictCheck {
	return ConflictCheck{HasConflict: true, Reason: reason, ConflictingOperations: ops}
}
