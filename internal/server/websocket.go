package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local evaluation dashboards
	},
}

// WSMessage is one message on the feed.
type WSMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// WSHub manages WebSocket connections.
type WSHub struct {
	clients map[*websocket.Conn]bool
	mu      sync.RWMutex
	// writeMu serializes writers; a conn allows one at a time.
	writeMu sync.Mutex
	logger  *log.Logger
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub(logger *log.Logger) *WSHub {
	return &WSHub{
		clients: make(map[*websocket.Conn]bool),
		logger:  logger,
	}
}

// AddClient registers a new WebSocket connection.
func (h *WSHub) AddClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = true
	h.logger.Info("websocket client connected", "total", len(h.clients))
}

// RemoveClient removes a WebSocket connection.
func (h *WSHub) RemoveClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[conn] {
		return
	}
	delete(h.clients, conn)
	conn.Close()
	h.logger.Info("websocket client disconnected", "remaining", len(h.clients))
}

// Clients returns the number of connected clients.
func (h *WSHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends a message to all connected clients.
func (h *WSHub) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("websocket marshal", "type", msg.Type, "err", err)
		return
	}

	h.writeMu.Lock()
	h.mu.RLock()
	var failed []*websocket.Conn
	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Warn("websocket write", "err", err)
			failed = append(failed, conn)
		}
	}
	h.mu.RUnlock()
	h.writeMu.Unlock()

	for _, conn := range failed {
		h.RemoveClient(conn)
	}
}

// BroadcastFrame sends a receive outcome to all clients.
func (h *WSHub) BroadcastFrame(f FrameSummary) {
	h.Broadcast(WSMessage{Type: "frame", Payload: f})
}

// BroadcastStatus sends a run status update to all clients.
func (h *WSHub) BroadcastStatus(status, message string) {
	h.Broadcast(WSMessage{
		Type: "status",
		Payload: map[string]string{
			"status":  status,
			"message": message,
		},
	})
}
