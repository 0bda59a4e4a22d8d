package websocket

import (
	"context"

	"go.uber.org/zap"

	"flowdeck-backend/application/ports"
	"flowdeck-backend/application/services"
)

// Message types on the wire
const (
	TypeOperationApplied = "OPERATION_APPLIED"
	TypeUndoApplied      = "UNDO_APPLIED"
	TypeRedoApplied      = "REDO_APPLIED"
	TypeUndoConflict     = "UNDO_CONFLICT"
)

// Channel is the collaboration fan-out: every broadcast goes to the other
// users' server-side sessions (so their working copies and undo stacks
// stay current) and to their connected editors over the hub.
type Channel struct {
	hub      *Hub
	sessions *services.SessionManager
	logger   *zap.Logger
}

var (
	_ ports.MessageChannel   = (*Channel)(nil)
	_ ports.NotificationSink = (*Channel)(nil)
)

func NewChannel(hub *Hub, sessions *services.SessionManager, logger *zap.Logger) *Channel {
	return &Channel{
		hub:      hub,
		sessions: sessions,
		logger:   logger,
	}
}

// BroadcastOperation delivers a recorded operation to every collaborator
// except the sender
func (c *Channel) BroadcastOperation(ctx context.Context, msg ports.OperationMessage) error {
	c.sessions.EachExcept(msg.SenderID, func(sess *services.Session) {
		if err := sess.ApplyRemoteOperation(ctx, msg); err != nil {
			c.logger.Warn("Session failed to apply remote operation",
				zap.String("userId", sess.UserID().String()),
				zap.String("operationId", msg.Operation.ID.String()),
				zap.Error(err),
			)
		}
	})
	return c.hub.SendToAllExcept(msg.SenderID.String(), TypeOperationApplied, msg)
}

// BroadcastUndoRedo delivers an undo/redo result to every collaborator
// except the sender
func (c *Channel) BroadcastUndoRedo(ctx context.Context, msg ports.UndoRedoMessage) error {
	c.sessions.EachExcept(msg.SenderID, func(sess *services.Session) {
		if err := sess.ApplyRemoteUndoRedo(ctx, msg); err != nil {
			c.logger.Warn("Session failed to apply remote undo/redo",
				zap.String("userId", sess.UserID().String()),
				zap.String("entryId", msg.EntryID),
				zap.Error(err),
			)
		}
	})
	messageType := TypeUndoApplied
	if msg.Kind == ports.KindRedo {
		messageType = TypeRedoApplied
	}
	return c.hub.SendToAllExcept(msg.SenderID.String(), messageType, msg)
}

// NotifyConflict pushes a conflict notice to the affected user's editors
func (c *Channel) NotifyConflict(ctx context.Context, n ports.ConflictNotification) error {
	return c.hub.SendToUser(n.UserID.String(), TypeUndoConflict, n)
}
