// Package websocket delivers collaboration traffic: recorded operations,
// undo/redo results and conflict notices flow to every connected editor of
// a workflow.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"flowdeck-backend/pkg/observability"
)

// Hub maintains active connections and routes messages to users. One user
// can hold several connections (multiple tabs).
type Hub struct {
	connections map[string]map[*Client]bool // userID -> set of clients
	mu          sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage

	ctx     context.Context
	cancel  context.CancelFunc
	logger  *zap.Logger
	metrics *observability.Collector
}

// BroadcastMessage is one outbound frame. Exactly one of UserID or
// ExcludeUserID is set: deliver to that user, or to everyone else.
type BroadcastMessage struct {
	UserID        string          `json:"-"`
	ExcludeUserID string          `json:"-"`
	Type          string          `json:"type"`
	Data          json.RawMessage `json:"data"`
	Timestamp     int64           `json:"timestamp"`
}

// NewHub creates a hub. Call Run to start delivery.
func NewHub(metrics *observability.Collector, logger *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		connections: make(map[string]map[*Client]bool),
		register:    make(chan *Client, 100),
		unregister:  make(chan *Client, 100),
		broadcast:   make(chan *BroadcastMessage, 1000),
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger,
		metrics:     metrics,
	}
}

// Run starts the hub's main event loop
func (h *Hub) Run() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("Hub shutting down")
			h.closeAllConnections()
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.deliver(message)

		case <-ticker.C:
			h.performHealthCheck()
		}
	}
}

// Stop gracefully shuts down the hub
func (h *Hub) Stop() {
	h.logger.Info("Stopping WebSocket hub")
	h.cancel()
}

// SendToUser sends a message to all connections of one user
func (h *Hub) SendToUser(userID string, messageType string, data interface{}) error {
	return h.enqueue(&BroadcastMessage{UserID: userID, Type: messageType}, data)
}

// SendToAllExcept sends a message to every connected user except the sender
func (h *Hub) SendToAllExcept(excludeUserID string, messageType string, data interface{}) error {
	return h.enqueue(&BroadcastMessage{ExcludeUserID: excludeUserID, Type: messageType}, data)
}

func (h *Hub) enqueue(message *BroadcastMessage, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	message.Data = jsonData
	message.Timestamp = time.Now().Unix()

	select {
	case h.broadcast <- message:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("broadcast channel full, message dropped")
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.connections[client.userID] == nil {
		h.connections[client.userID] = make(map[*Client]bool)
	}
	h.connections[client.userID][client] = true

	if h.metrics != nil {
		h.metrics.ActiveConnections.Inc()
	}
	h.logger.Info("Client registered",
		zap.String("userID", client.userID),
		zap.String("connectionID", client.id),
		zap.Int("userConnections", len(h.connections[client.userID])),
	)
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.connections[client.userID]; ok {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			close(client.send)
			if len(clients) == 0 {
				delete(h.connections, client.userID)
			}
			if h.metrics != nil {
				h.metrics.ActiveConnections.Dec()
			}
			h.logger.Info("Client unregistered",
				zap.String("userID", client.userID),
				zap.String("connectionID", client.id),
				zap.Int("remainingConnections", len(clients)),
			)
		}
	}
}

// deliver fans a message out to its targets. Slow clients whose send
// buffers are full get disconnected rather than blocking delivery.
func (h *Hub) deliver(message *BroadcastMessage) {
	h.mu.RLock()
	var targets []*Client
	if message.UserID != "" {
		for client := range h.connections[message.UserID] {
			targets = append(targets, client)
		}
	} else {
		for userID, clients := range h.connections {
			if userID == message.ExcludeUserID {
				continue
			}
			for client := range clients {
				targets = append(targets, client)
			}
		}
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message",
			zap.Error(err),
			zap.String("messageType", message.Type),
		)
		return
	}

	for _, client := range targets {
		select {
		case client.send <- data:
			if h.metrics != nil {
				h.metrics.MessagesSent.Inc()
			}
		default:
			if h.metrics != nil {
				h.metrics.MessagesFailed.Inc()
			}
			h.logger.Warn("Closing slow client",
				zap.String("userID", client.userID),
				zap.String("connectionID", client.id),
			)
			go func(c *Client) {
				c.hub.unregister <- c
				c.conn.Close()
			}(client)
		}
	}
}

func (h *Hub) performHealthCheck() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for userID, clients := range h.connections {
		for client := range clients {
			select {
			case client.send <- []byte(`{"type":"ping"}`):
			default:
				h.logger.Warn("Failed to ping client",
					zap.String("userID", userID),
					zap.String("connectionID", client.id),
				)
			}
		}
	}
}

func (h *Hub) closeAllConnections() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for userID, clients := range h.connections {
		for client := range clients {
			close(client.send)
			client.conn.Close()
		}
		delete(h.connections, userID)
	}
	h.logger.Info("All connections closed")
}

// ConnectionCount returns the number of active connections for a user
func (h *Hub) ConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[userID])
}
