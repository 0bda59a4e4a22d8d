package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"flowdeck-backend/application/ports"
	"flowdeck-backend/domain/core/aggregates"
	"flowdeck-backend/domain/core/entities"
	"flowdeck-backend/domain/core/valueobjects"
	"flowdeck-backend/domain/undo"
	"flowdeck-backend/infrastructure/persistence/memory"
)

// capturingChannel records every broadcast for assertions
type capturingChannel struct {
	mu         sync.Mutex
	operations []ports.OperationMessage
	undoRedos  []ports.UndoRedoMessage
}

func (c *capturingChannel) BroadcastOperation(ctx context.Context, msg ports.OperationMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.operations = append(c.operations, msg)
	return nil
}

func (c *capturingChannel) BroadcastUndoRedo(ctx context.Context, msg ports.UndoRedoMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.undoRedos = append(c.undoRedos, msg)
	return nil
}

func (c *capturingChannel) Operations() []ports.OperationMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ports.OperationMessage, len(c.operations))
	copy(out, c.operations)
	return out
}

func (c *capturingChannel) UndoRedos() []ports.UndoRedoMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ports.UndoRedoMessage, len(c.undoRedos))
	copy(out, c.undoRedos)
	return out
}

// capturingSink records conflict notifications
type capturingSink struct {
	mu      sync.Mutex
	notices []ports.ConflictNotification
}

func (s *capturingSink) NotifyConflict(ctx context.Context, n ports.ConflictNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, n)
	return nil
}

func (s *capturingSink) Notices() []ports.ConflictNotification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ports.ConflictNotification, len(s.notices))
	copy(out, s.notices)
	return out
}

// engine bundles one user's fully wired undo engine over in-memory stores
type engine struct {
	userID   valueobjects.UserID
	log      *memory.OperationLog
	stacks   *undo.Stacks
	graphs   *memory.GraphStore
	channel  *capturingChannel
	sink     *capturingSink
	recorder *Recorder
	resolver *ConflictResolver
	undoSvc  *UndoService
	remote   *RemoteHandler
}

func newEngine(t *testing.T, user string, mergeWindow time.Duration) *engine {
	t.Helper()
	logger := zap.NewNop()
	userID := valueobjects.UserID(user)
	identity := StaticIdentity{UserID: userID}

	log := memory.NewOperationLog(nil, logger)
	stacks := undo.NewStacks()
	graphs := memory.NewGraphStore()
	channel := &capturingChannel{}
	sink := &capturingSink{}

	recorder := NewRecorder(log, stacks, identity, channel, nil, nil, logger, mergeWindow)
	resolver := NewConflictResolver(log, logger)
	undoSvc := NewUndoService(recorder, resolver, stacks, identity, channel, sink, nil, logger)
	remote := NewRemoteHandler(log, stacks, identity, sink, nil, logger)

	return &engine{
		userID:   userID,
		log:      log,
		stacks:   stacks,
		graphs:   graphs,
		channel:  channel,
		sink:     sink,
		recorder: recorder,
		resolver: resolver,
		undoSvc:  undoSvc,
		remote:   remote,
	}
}

func fixtureNode(t *testing.T, nodeType string) entities.Node {
	t.Helper()
	pos, err := valueobjects.NewPosition(10, 20)
	require.NoError(t, err)
	node, err := entities.NewNode(nodeType, pos, map[string]any{"label": nodeType})
	require.NoError(t, err)
	return node
}

func fixtureEdge(t *testing.T, source, target valueobjects.NodeID) entities.Edge {
	t.Helper()
	edge, err := entities.NewEdge(source, target)
	require.NoError(t, err)
	return edge
}

func fixtureWorkflow(t *testing.T, nodes []entities.Node, edges []entities.Edge) aggregates.Workflow {
	t.Helper()
	wf := aggregates.NewWorkflow("fixture")
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
