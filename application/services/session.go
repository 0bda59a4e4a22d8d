package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"flowdeck-backend/application/ports"
	"flowdeck-backend/domain/core/aggregates"
	"flowdeck-backend/domain/core/entities"
	"flowdeck-backend/domain/core/valueobjects"
	"flowdeck-backend/domain/undo"
	apperrors "flowdeck-backend/pkg/errors"
	"flowdeck-backend/pkg/observability"
)

// Session is one user's editing context. Each session owns its working
// copy of every workflow it has open, its own operation log replica, and
// its own undo/redo stacks; collaborators' changes arrive through the
// ApplyRemote methods, mirroring how a connected editor client behaves.
type Session struct {
	userID   valueobjects.UserID
	log      ports.OperationLog
	stacks   *undo.Stacks
	recorder *Recorder
	undoSvc  *UndoService
	remote   *RemoteHandler
	graphs   ports.GraphStore
	logger   *zap.Logger

	mu      sync.Mutex
	working map[valueobjects.WorkflowID]aggregates.Workflow
}

// SessionConfig bundles the shared collaborators a session is built from
type SessionConfig struct {
	Graphs      ports.GraphStore
	Channel     ports.MessageChannel
	Sink        ports.NotificationSink
	Bus         ports.EventBus
	Metrics     *observability.Collector
	Logger      *zap.Logger
	MergeWindow time.Duration
}

// NewSession wires a session's engine instances around a fresh log replica
func NewSession(userID valueobjects.UserID, log ports.OperationLog, cfg SessionConfig) *Session {
	identity := StaticIdentity{UserID: userID}
	stacks := undo.NewStacks()
	logger := cfg.Logger.With(zap.String("userId", userID.String()))

	recorder := NewRecorder(log, stacks, identity, cfg.Channel, cfg.Bus, cfg.Metrics, logger, cfg.MergeWindow)
	resolver := NewConflictResolver(log, logger)
	undoSvc := NewUndoService(recorder, resolver, stacks, identity, cfg.Channel, cfg.Sink, cfg.Metrics, logger)
	remote := NewRemoteHandler(log, stacks, identity, cfg.Sink, cfg.Metrics, logger)

	return &Session{
		userID:   userID,
		log:      log,
		stacks:   stacks,
		recorder: recorder,
		undoSvc:  undoSvc,
		remote:   remote,
		graphs:   cfg.Graphs,
		logger:   logger,
		working:  make(map[valueobjects.WorkflowID]aggregates.Workflow),
	}
}

// UserID returns the session owner
func (s *Session) UserID() valueobjects.UserID {
	return s.userID
}

// SetMergeWindow updates the recorder's move merge window
func (s *Session) SetMergeWindow(window time.Duration) {
	s.recorder.SetMergeWindow(window)
}

// OpenWorkflow loads the workflow into the session's working set
func (s *Session) OpenWorkflow(ctx context.Context, id valueobjects.WorkflowID) (aggregates.Workflow, error) {
	wf, err := s.graphs.GetWorkflow(ctx, id)
	if err != nil {
		return aggregates.Workflow{}, err
	}
	s.mu.Lock()
	s.working[id] = wf.Clone()
	s.mu.Unlock()
	s.logger.Info("Workflow opened", zap.String("workflowId", id.String()))
	return *wf, nil
}

// CloseWorkflow discards the session's history and working copy for the
// workflow. Undo history does not survive a close.
func (s *Session) CloseWorkflow(ctx context.Context, id valueobjects.WorkflowID) {
	if err := s.recorder.FlushPendingOperations(ctx, id); err != nil {
		s.logger.Warn("Flush on close failed", zap.String("workflowId", id.String()), zap.Error(err))
	}
	s.mu.Lock()
	delete(s.working, id)
	s.mu.Unlock()
	s.stacks.Discard(id)
	s.log.Discard(ctx, id)
	s.logger.Info("Workflow closed", zap.String("workflowId", id.String()))
}

// Workflow returns the session's current working copy
func (s *Session) Workflow(id valueobjects.WorkflowID) (aggregates.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.working[id]
	if !ok {
		return aggregates.Workflow{}, apperrors.NewNotFound(fmt.Sprintf("workflow %s is not open in this session", id))
	}
	return wf, nil
}

// UndoEntries returns the session's undo history for a workflow, oldest first
func (s *Session) UndoEntries(id valueobjects.WorkflowID) []*undo.Entry {
	return s.stacks.ForWorkflow(id).UndoEntries()
}

// RedoEntries returns the session's redo history for a workflow, oldest first
func (s *Session) RedoEntries(id valueobjects.WorkflowID) []*undo.Entry {
	return s.stacks.ForWorkflow(id).RedoEntries()
}

// AddNode adds a node to the workflow and records the operation
func (s *Session) AddNode(ctx context.Context, workflowID valueobjects.WorkflowID, node entities.Node) (aggregates.Workflow, error) {
	return s.edit(ctx, workflowID, func(wf aggregates.Workflow) (aggregates.Workflow, error) {
		updated, err := wf.WithNode(node)
		if err != nil {
			return wf, err
		}
		if _, err := s.recorder.RecordAddNode(ctx, workflowID, node); err != nil {
			return wf, err
		}
		return updated, nil
	})
}

// DeleteNode removes a node and its attached edges, recording them as one
// restorable step
func (s *Session) DeleteNode(ctx context.Context, workflowID valueobjects.WorkflowID, nodeID valueobjects.NodeID) (aggregates.Workflow, error) {
	return s.edit(ctx, workflowID, func(wf aggregates.Workflow) (aggregates.Workflow, error) {
		node := wf.FindNode(nodeID)
		if node == nil {
			return wf, apperrors.NewNotFound(fmt.Sprintf("node %s not found", nodeID))
		}
		severed := wf.EdgesTouching(nodeID)
		updated := wf.WithoutNode(nodeID)
		if _, err := s.recorder.RecordDeleteNode(ctx, workflowID, *node, severed); err != nil {
			return wf, err
		}
		return updated, nil
	})
}

// MoveNode updates a node's position. Moves inside the merge window are
// collapsed into a single undo step.
func (s *Session) MoveNode(ctx context.Context, workflowID valueobjects.WorkflowID, nodeID valueobjects.NodeID, pos valueobjects.Position) (aggregates.Workflow, error) {
	return s.edit(ctx, workflowID, func(wf aggregates.Workflow) (aggregates.Workflow, error) {
		node := wf.FindNode(nodeID)
		if node == nil {
			return wf, apperrors.NewNotFound(fmt.Sprintf("node %s not found", nodeID))
		}
		s.recorder.RecordNodeMove(ctx, workflowID, nodeID, node.Position, pos)
		return wf.WithNodePosition(nodeID, pos), nil
	})
}

// UpdateNodeConfig replaces a node's configuration
func (s *Session) UpdateNodeConfig(ctx context.Context, workflowID valueobjects.WorkflowID, nodeID valueobjects.NodeID, config map[string]any) (aggregates.Workflow, error) {
	return s.edit(ctx, workflowID, func(wf aggregates.Workflow) (aggregates.Workflow, error) {
		node := wf.FindNode(nodeID)
		if node == nil {
			return wf, apperrors.NewNotFound(fmt.Sprintf("node %s not found", nodeID))
		}
		if _, err := s.recorder.RecordUpdateNodeConfig(ctx, workflowID, nodeID, node.Config, config); err != nil {
			return wf, err
		}
		return wf.WithNodeConfig(nodeID, config), nil
	})
}

// AddEdge connects two nodes and records the operation
func (s *Session) AddEdge(ctx context.Context, workflowID valueobjects.WorkflowID, edge entities.Edge) (aggregates.Workflow, error) {
	return s.edit(ctx, workflowID, func(wf aggregates.Workflow) (aggregates.Workflow, error) {
		updated, err := wf.WithEdge(edge)
		if err != nil {
			return wf, err
		}
		if _, err := s.recorder.RecordAddEdge(ctx, workflowID, edge); err != nil {
			return wf, err
		}
		return updated, nil
	})
}

// DeleteEdge removes a connection and records the operation
func (s *Session) DeleteEdge(ctx context.Context, workflowID valueobjects.WorkflowID, edgeID valueobjects.EdgeID) (aggregates.Workflow, error) {
	return s.edit(ctx, workflowID, func(wf aggregates.Workflow) (aggregates.Workflow, error) {
		edge := wf.FindEdge(edgeID)
		if edge == nil {
			return wf, apperrors.NewNotFound(fmt.Sprintf("edge %s not found", edgeID))
		}
		if _, err := s.recorder.RecordDeleteEdge(ctx, workflowID, *edge); err != nil {
			return wf, err
		}
		return wf.WithoutEdge(edgeID), nil
	})
}

// BulkDelete removes a selection of nodes and edges as one undo step.
// Edges attached to deleted nodes are severed and included even when not
// explicitly selected.
func (s *Session) BulkDelete(ctx context.Context, workflowID valueobjects.WorkflowID, nodeIDs []valueobjects.NodeID, edgeIDs []valueobjects.EdgeID) (aggregates.Workflow, error) {
	return s.edit(ctx, workflowID, func(wf aggregates.Workflow) (aggregates.Workflow, error) {
		var nodes []entities.Node
		for _, id := range nodeIDs {
			if node := wf.FindNode(id); node != nil {
				nodes = append(nodes, *node)
			}
		}

		seen := make(map[valueobjects.EdgeID]bool)
		var edges []entities.Edge
		for _, id := range edgeIDs {
			if edge := wf.FindEdge(id); edge != nil && !seen[edge.ID] {
				seen[edge.ID] = true
				edges = append(edges, *edge)
			}
		}
		for _, node := range nodes {
			for _, edge := range wf.EdgesTouching(node.ID) {
				if !seen[edge.ID] {
					seen[edge.ID] = true
					edges = append(edges, edge)
				}
			}
		}
		if len(nodes) == 0 && len(edges) == 0 {
			return wf, apperrors.NewValidation("nothing to delete")
		}

		updated := wf
		for _, edge := range edges {
			updated = updated.WithoutEdge(edge.ID)
		}
		for _, node := range nodes {
			updated = updated.WithoutNode(node.ID)
		}
		if _, err := s.recorder.RecordBulkDelete(ctx, workflowID, nodes, edges); err != nil {
			return wf, err
		}
		return updated, nil
	})
}

// PasteNodes inserts a pasted set of nodes and edges as one undo step
func (s *Session) PasteNodes(ctx context.Context, workflowID valueobjects.WorkflowID, nodes []entities.Node, edges []entities.Edge) (aggregates.Workflow, error) {
	return s.insertSet(ctx, workflowID, nodes, edges, s.recorder.RecordPasteNodes)
}

// DuplicateNodes inserts a duplicated set of nodes and edges as one undo step
func (s *Session) DuplicateNodes(ctx context.Context, workflowID valueobjects.WorkflowID, nodes []entities.Node, edges []entities.Edge) (aggregates.Workflow, error) {
	return s.insertSet(ctx, workflowID, nodes, edges, s.recorder.RecordDuplicateNodes)
}

func (s *Session) insertSet(
	ctx context.Context,
	workflowID valueobjects.WorkflowID,
	nodes []entities.Node,
	edges []entities.Edge,
	record func(context.Context, valueobjects.WorkflowID, []entities.Node, []entities.Edge) (*undo.Entry, error),
) (aggregates.Workflow, error) {
	return s.edit(ctx, workflowID, func(wf aggregates.Workflow) (aggregates.Workflow, error) {
		if len(nodes) == 0 {
			return wf, apperrors.NewValidation("nothing to insert")
		}
		updated := wf
		var err error
		for _, node := range nodes {
			if updated, err = updated.WithNode(node); err != nil {
				return wf, err
			}
		}
		for _, edge := range edges {
			if updated, err = updated.WithEdge(edge); err != nil {
				return wf, err
			}
		}
		if _, err := record(ctx, workflowID, nodes, edges); err != nil {
			return wf, err
		}
		return updated, nil
	})
}

// Undo reverts the session's most recent entry for the workflow
func (s *Session) Undo(ctx context.Context, workflowID valueobjects.WorkflowID) (UndoResult, error) {
	return s.undoRedo(ctx, workflowID, s.undoSvc.Undo)
}

// Redo re-applies the session's most recently undone entry
func (s *Session) Redo(ctx context.Context, workflowID valueobjects.WorkflowID) (UndoResult, error) {
	return s.undoRedo(ctx, workflowID, s.undoSvc.Redo)
}

func (s *Session) undoRedo(ctx context.Context, workflowID valueobjects.WorkflowID, run func(context.Context, aggregates.Workflow) UndoResult) (UndoResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.working[workflowID]
	if !ok {
		return UndoResult{}, apperrors.NewNotFound(fmt.Sprintf("workflow %s is not open in this session", workflowID))
	}
	result := run(ctx, wf)
	if result.Success {
		s.working[workflowID] = result.Workflow
		s.persist(ctx, result.Workflow)
	}
	return result, nil
}

// ApplyRemoteOperation integrates a collaborator's operation
func (s *Session) ApplyRemoteOperation(ctx context.Context, msg ports.OperationMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.working[msg.Operation.WorkflowID]
	if !ok {
		return nil // workflow not open here; nothing to update
	}
	result, err := s.remote.HandleRemoteOperation(ctx, wf, msg)
	if err != nil {
		return err
	}
	s.working[msg.Operation.WorkflowID] = result
	return nil
}

// ApplyRemoteUndoRedo installs the resulting graph from a collaborator's
// undo or redo
func (s *Session) ApplyRemoteUndoRedo(ctx context.Context, msg ports.UndoRedoMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.working[msg.WorkflowID]
	if !ok {
		return nil
	}
	var (
		result aggregates.Workflow
		err    error
	)
	if msg.Kind == ports.KindUndo {
		result, err = s.remote.HandleRemoteUndo(ctx, wf, msg)
	} else {
		result, err = s.remote.HandleRemoteRedo(ctx, wf, msg)
	}
	if err != nil {
		return err
	}
	s.working[msg.WorkflowID] = result
	return nil
}

// edit runs a local mutation under the session lock, installing and
// persisting the result on success
func (s *Session) edit(ctx context.Context, workflowID valueobjects.WorkflowID, apply func(aggregates.Workflow) (aggregates.Workflow, error)) (aggregates.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.working[workflowID]
	if !ok {
		return aggregates.Workflow{}, apperrors.NewNotFound(fmt.Sprintf("workflow %s is not open in this session", workflowID))
	}
	updated, err := apply(wf)
	if err != nil {
		return wf, err
	}
	s.working[workflowID] = updated
	s.persist(ctx, updated)
	return updated, nil
}

// persist writes the session's result as the stored state. Last write wins
// across sessions; the operation log, not the store, is the source of
// truth for conflict detection.
func (s *Session) persist(ctx context.Context, wf aggregates.Workflow) {
	if err := s.graphs.SaveWorkflow(ctx, &wf); err != nil {
		s.logger.Warn("Failed to persist workflow",
			zap.String("workflowId", wf.ID.String()),
			zap.Error(err),
		)
	}
}

// LogFactory builds a fresh operation log replica for a new session
type LogFactory func() ports.OperationLog

// SessionManager tracks the active session per user and fans collaborator
// messages out to every other session, standing in for the broadcast a
// connected client would receive.
type SessionManager struct {
	factory LogFactory
	cfg     SessionConfig

	mu       sync.RWMutex
	sessions map[valueobjects.UserID]*Session
}

func NewSessionManager(factory LogFactory, cfg SessionConfig) *SessionManager {
	return &SessionManager{
		factory:  factory,
		cfg:      cfg,
		sessions: make(map[valueobjects.UserID]*Session),
	}
}

// SetChannel installs the message channel sessions broadcast on. Set once
// at wiring time, before any session exists; the channel itself needs the
// manager to deliver, so it cannot be a constructor argument.
func (m *SessionManager) SetChannel(ch ports.MessageChannel) {
	m.cfg.Channel = ch
}

// SetNotificationSink installs the conflict notification sink, under the
// same wiring constraint as SetChannel
func (m *SessionManager) SetNotificationSink(sink ports.NotificationSink) {
	m.cfg.Sink = sink
}

// SetMergeWindow updates the move merge window for every live session and
// for sessions created afterwards. Invoked when the dynamic configuration
// reloads; non-positive values are ignored.
func (m *SessionManager) SetMergeWindow(window time.Duration) {
	if window <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.MergeWindow = window
	for _, sess := range m.sessions {
		sess.SetMergeWindow(window)
	}
}

// SessionFor returns the user's session, creating it on first use
func (m *SessionManager) SessionFor(userID valueobjects.UserID) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[userID]; ok {
		return sess
	}
	sess := NewSession(userID, m.factory(), m.cfg)
	m.sessions[userID] = sess
	return sess
}

// EndSession drops a user's session and its history
func (m *SessionManager) EndSession(userID valueobjects.UserID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
}

// EachExcept visits every session other than the sender's
func (m *SessionManager) EachExcept(sender valueobjects.UserID, visit func(*Session)) {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for id, sess := range m.sessions {
		if id != sender {
			sessions = append(sessions, sess)
		}
	}
	m.mu.RUnlock()
	for _, sess := range sessions {
		visit(sess)
	}
}

// StaticIdentity is an IdentityProvider pinned to one user, used by
// sessions where the acting user is fixed for the session's lifetime
type StaticIdentity struct {
	UserID valueobjects.UserID
}

func (s StaticIdentity) CurrentUserID(ctx context.Context) (valueobjects.UserID, error) {
	if s.UserID.IsEmpty() {
		return "", apperrors.NewValidation("no user bound to session")
	}
	return s.UserID, nil
}
