package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"flowdeck-backend/application/ports"
	"flowdeck-backend/domain/core/entities"
	"flowdeck-backend/domain/core/valueobjects"
	"flowdeck-backend/domain/operation"
	"flowdeck-backend/domain/undo"
	"flowdeck-backend/pkg/observability"
)

// DefaultMergeWindow is how long after the last move call a drag gesture is
// considered finished and recorded as one merged operation.
const DefaultMergeWindow = 1000 * time.Millisecond

// Recorder turns user edits into operations: it builds the forward and
// inverse payloads from the caller-supplied before/after state, pushes a
// new undo entry (clearing the redo stack), appends to the operation log
// and broadcasts the operation to collaborators.
//
// Node moves are special-cased: repeated moves inside the merge window are
// buffered and collapsed into a single entry covering the whole drag, using
// the first old position and the last new position per node.
type Recorder struct {
	log      ports.OperationLog
	stacks   *undo.Stacks
	identity ports.IdentityProvider
	channel  ports.MessageChannel
	bus      ports.EventBus
	metrics  *observability.Collector
	logger   *zap.Logger

	mu          sync.Mutex
	mergeWindow time.Duration
	pending     map[valueobjects.WorkflowID]*pendingMoves
}

// pendingMoves buffers an in-flight drag gesture for one workflow
type pendingMoves struct {
	order []valueobjects.NodeID
	moves map[valueobjects.NodeID]*moveRange
	timer *time.Timer
}

// moveRange keeps the first old position and latest new position of a node
// during a drag burst
type moveRange struct {
	oldPosition valueobjects.Position
	newPosition valueobjects.Position
}

// NewRecorder creates a recorder. channel and bus may be nil when the
// engine runs detached from a collaboration session.
func NewRecorder(
	log ports.OperationLog,
	stacks *undo.Stacks,
	identity ports.IdentityProvider,
	channel ports.MessageChannel,
	bus ports.EventBus,
	metrics *observability.Collector,
	logger *zap.Logger,
	mergeWindow time.Duration,
) *Recorder {
	if mergeWindow <= 0 {
		mergeWindow = DefaultMergeWindow
	}
	return &Recorder{
		log:         log,
		stacks:      stacks,
		identity:    identity,
		channel:     channel,
		bus:         bus,
		metrics:     metrics,
		logger:      logger,
		mergeWindow: mergeWindow,
		pending:     make(map[valueobjects.WorkflowID]*pendingMoves),
	}
}

// SetMergeWindow changes the merge window used for subsequently scheduled
// gestures. Called when the dynamic configuration reloads; non-positive
// values are ignored.
func (r *Recorder) SetMergeWindow(window time.Duration) {
	if window <= 0 {
		return
	}
	r.mu.Lock()
	r.mergeWindow = window
	r.mu.Unlock()
}

// RecordAddNode records the creation of a node
func (r *Recorder) RecordAddNode(ctx context.Context, workflowID valueobjects.WorkflowID, node entities.Node) (*undo.Entry, error) {
	n := node.Clone()
	return r.record(ctx, workflowID, operation.TypeAddNode,
		operation.Payload{Node: &n},
		operation.Payload{NodeID: node.ID},
		"Add node",
	)
}

// RecordDeleteNode records the deletion of a node together with the edges
// severed alongside it, so the inverse restores everything in one step.
func (r *Recorder) RecordDeleteNode(ctx context.Context, workflowID valueobjects.WorkflowID, node entities.Node, severedEdges []entities.Edge) (*undo.Entry, error) {
	n := node.Clone()
	edges := make([]entities.Edge, len(severedEdges))
	copy(edges, severedEdges)
	return r.record(ctx, workflowID, operation.TypeDeleteNode,
		operation.Payload{NodeID: node.ID},
		operation.Payload{Node: &n, Edges: edges},
		"Delete node",
	)
}

// RecordNodeMove buffers a node move. Nothing is recorded until the merge
// window elapses without further moves, or FlushPendingOperations is
// called. The buffered range keeps the old position of the first call and
// the new position of the latest call.
func (r *Recorder) RecordNodeMove(ctx context.Context, workflowID valueobjects.WorkflowID, nodeID valueobjects.NodeID, oldPos, newPos valueobjects.Position) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pending[workflowID]
	if !ok {
		p = &pendingMoves{moves: make(map[valueobjects.NodeID]*moveRange)}
		r.pending[workflowID] = p
	}

	if mr, ok := p.moves[nodeID]; ok {
		mr.newPosition = newPos
		if r.metrics != nil {
			r.metrics.MovesMerged.Inc()
		}
	} else {
		p.moves[nodeID] = &moveRange{oldPosition: oldPos, newPosition: newPos}
		p.order = append(p.order, nodeID)
	}

	// Every call restarts the window; the gesture ends one quiet window
	// after the last move.
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(r.mergeWindow, func() {
		if err := r.FlushPendingOperations(context.Background(), workflowID); err != nil {
			r.logger.Error("Failed to flush merged move",
				zap.String("workflowId", workflowID.String()),
				zap.Error(err),
			)
		}
	})
}

// FlushPendingOperations records any buffered moves immediately. The undo
// executor calls this before every undo/redo attempt so a pending drag is
// never invisible to conflict checking.
func (r *Recorder) FlushPendingOperations(ctx context.Context, workflowID valueobjects.WorkflowID) error {
	r.mu.Lock()
	p, ok := r.pending[workflowID]
	if ok {
		if p.timer != nil {
			p.timer.Stop()
		}
		delete(r.pending, workflowID)
	}
	r.mu.Unlock()

	if !ok || len(p.order) == 0 {
		return nil
	}

	forward := make([]operation.NodeMove, 0, len(p.order))
	inverse := make([]operation.NodeMove, 0, len(p.order))
	for _, id := range p.order {
		mr := p.moves[id]
		forward = append(forward, operation.NodeMove{NodeID: id, Position: mr.newPosition})
		inverse = append(inverse, operation.NodeMove{NodeID: id, Position: mr.oldPosition})
	}

	_, err := r.record(ctx, workflowID, operation.TypeMoveNode,
		operation.Payload{Moves: forward},
		operation.Payload{Moves: inverse},
		pluralize("Move node", "Move %d nodes", len(forward)),
	)
	return err
}

// RecordUpdateNodeConfig records a node configuration change
func (r *Recorder) RecordUpdateNodeConfig(ctx context.Context, workflowID valueobjects.WorkflowID, nodeID valueobjects.NodeID, oldConfig, newConfig map[string]any) (*undo.Entry, error) {
	return r.record(ctx, workflowID, operation.TypeUpdateNodeConfig,
		operation.Payload{NodeID: nodeID, Config: entities.CloneConfig(newConfig)},
		operation.Payload{NodeID: nodeID, Config: entities.CloneConfig(oldConfig)},
		"Change node settings",
	)
}

// RecordAddEdge records the creation of a connection
func (r *Recorder) RecordAddEdge(ctx context.Context, workflowID valueobjects.WorkflowID, edge entities.Edge) (*undo.Entry, error) {
	e := edge
	return r.record(ctx, workflowID, operation.TypeAddEdge,
		operation.Payload{Edge: &e},
		operation.Payload{EdgeID: edge.ID},
		"Add connection",
	)
}

// RecordDeleteEdge records the deletion of a connection
func (r *Recorder) RecordDeleteEdge(ctx context.Context, workflowID valueobjects.WorkflowID, edge entities.Edge) (*undo.Entry, error) {
	e := edge
	return r.record(ctx, workflowID, operation.TypeDeleteEdge,
		operation.Payload{EdgeID: edge.ID},
		operation.Payload{Edge: &e},
		"Delete connection",
	)
}

// RecordBulkDelete records the deletion of a set of nodes and edges as one
// undo step. edges must include every edge removed, explicitly selected or
// severed because an endpoint was deleted.
func (r *Recorder) RecordBulkDelete(ctx context.Context, workflowID valueobjects.WorkflowID, nodes []entities.Node, edges []entities.Edge) (*undo.Entry, error) {
	nodeIDs := make([]valueobjects.NodeID, 0, len(nodes))
	cloned := make([]entities.Node, 0, len(nodes))
	for _, n := range nodes {
		nodeIDs = append(nodeIDs, n.ID)
		cloned = append(cloned, n.Clone())
	}
	edgeIDs := make([]valueobjects.EdgeID, 0, len(edges))
	copied := make([]entities.Edge, len(edges))
	copy(copied, edges)
	for _, e := range edges {
		edgeIDs = append(edgeIDs, e.ID)
	}
	return r.record(ctx, workflowID, operation.TypeBulkDelete,
		operation.Payload{NodeIDs: nodeIDs, EdgeIDs: edgeIDs},
		operation.Payload{Nodes: cloned, Edges: copied},
		pluralize("Delete item", "Delete %d items", len(nodes)+len(edges)),
	)
}

// RecordPasteNodes records the insertion of a pasted set of nodes and edges
func (r *Recorder) RecordPasteNodes(ctx context.Context, workflowID valueobjects.WorkflowID, nodes []entities.Node, edges []entities.Edge) (*undo.Entry, error) {
	return r.recordInsertSet(ctx, workflowID, operation.TypePasteNodes, nodes, edges,
		pluralize("Paste node", "Paste %d nodes", len(nodes)))
}

// RecordDuplicateNodes records the insertion of a duplicated set of nodes
// and edges
func (r *Recorder) RecordDuplicateNodes(ctx context.Context, workflowID valueobjects.WorkflowID, nodes []entities.Node, edges []entities.Edge) (*undo.Entry, error) {
	return r.recordInsertSet(ctx, workflowID, operation.TypeDuplicateNodes, nodes, edges,
		pluralize("Duplicate node", "Duplicate %d nodes", len(nodes)))
}

func (r *Recorder) recordInsertSet(ctx context.Context, workflowID valueobjects.WorkflowID, opType operation.Type, nodes []entities.Node, edges []entities.Edge, description string) (*undo.Entry, error) {
	cloned := make([]entities.Node, 0, len(nodes))
	nodeIDs := make([]valueobjects.NodeID, 0, len(nodes))
	for _, n := range nodes {
		cloned = append(cloned, n.Clone())
		nodeIDs = append(nodeIDs, n.ID)
	}
	copied := make([]entities.Edge, len(edges))
	copy(copied, edges)
	edgeIDs := make([]valueobjects.EdgeID, 0, len(edges))
	for _, e := range edges {
		edgeIDs = append(edgeIDs, e.ID)
	}
	return r.record(ctx, workflowID, opType,
		operation.Payload{Nodes: cloned, Edges: copied},
		operation.Payload{NodeIDs: nodeIDs, EdgeIDs: edgeIDs},
		description,
	)
}

// record is the common tail of every Record* call: stamp the operation with
// the user and the workflow's next Lamport value, push the undo entry
// (which clears the redo stack), append to the log and broadcast.
func (r *Recorder) record(ctx context.Context, workflowID valueobjects.WorkflowID, opType operation.Type, data, inverse operation.Payload, description string) (*undo.Entry, error) {
	userID, err := r.identity.CurrentUserID(ctx)
	if err != nil {
		return nil, err
	}

	op := operation.Operation{
		ID:         valueobjects.NewOperationID(),
		Type:       opType,
		WorkflowID: workflowID,
		UserID:     userID,
		Timestamp:  r.log.NextTimestamp(ctx, workflowID),
		CreatedAt:  time.Now(),
		Data:       data,
		Inverse:    inverse,
	}

	entry := undo.NewEntry(description, op)
	r.stacks.ForWorkflow(workflowID).Push(entry)

	if err := r.log.Append(ctx, op, false); err != nil {
		return nil, err
	}

	if r.metrics != nil {
		r.metrics.OperationsRecorded.WithLabelValues(string(opType)).Inc()
	}
	r.logger.Debug("Operation recorded",
		zap.String("workflowId", workflowID.String()),
		zap.String("type", string(opType)),
		zap.Uint64("timestamp", op.Timestamp),
		zap.String("description", description),
	)

	if r.channel != nil {
		msg := ports.OperationMessage{Operation: op, SenderID: userID}
		if err := r.channel.BroadcastOperation(ctx, msg); err != nil {
			r.logger.Warn("Failed to broadcast operation",
				zap.String("operationId", op.ID.String()),
				zap.Error(err),
			)
		}
	}
	if r.bus != nil {
		if err := r.bus.PublishOperation(ctx, op); err != nil {
			r.logger.Warn("Failed to publish operation event",
				zap.String("operationId", op.ID.String()),
				zap.Error(err),
			)
		}
	}

	return entry, nil
}

func pluralize(singular, pluralFormat string, count int) string {
	if count <= 1 {
		return singular
	}
	return fmt.Sprintf(pluralFormat, count)
}
