package handlers

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alerthub/alerthub/internal/correlation"
	"github.com/alerthub/alerthub/internal/database"
)

// StreamEvent is one live update pushed to connected operator UIs.
type StreamEvent struct {
	Type      string          `json:"type"`
	AlertID   string          `json:"alert_id,omitempty"`
	Outcome   string          `json:"outcome,omitempty"`
	Alert     *database.Alert `json:"alert,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// StreamHandler pushes alert state changes over websocket at /ws/alerts.
// A slow or dead client is dropped instead of blocking the broadcast.
type StreamHandler struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*websocket.Conn]bool
}

// NewStreamHandler creates a new live update stream handler.
func NewStreamHandler() *StreamHandler {
	return &StreamHandler{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*websocket.Conn]bool),
	}
}

// SetupRoutes configures websocket routes.
func (h *StreamHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/alerts", h.HandleWebSocket)
}

// HandleWebSocket upgrades the connection and keeps it registered until
// the client goes away.
func (h *StreamHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade websocket connection: %v", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	count := len(h.clients)
	h.mu.Unlock()
	log.Printf("Alert stream client connected (%d total)", count)

	// Reads are only used to detect disconnects.
	go func() {
		defer h.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Broadcast sends an event to every connected client.
func (h *StreamHandler) Broadcast(event StreamEvent) {
	event.Timestamp = time.Now()

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.WriteJSON(event); err != nil {
			log.Printf("Dropping alert stream client: %v", err)
			h.remove(conn)
		}
	}
}

// BroadcastResult publishes an ingest decision to the stream.
func (h *StreamHandler) BroadcastResult(result *correlation.Result) {
	h.Broadcast(StreamEvent{
		Type:    "alert",
		AlertID: result.Alert.ID,
		Outcome: string(result.Outcome),
		Alert:   result.Alert,
	})
}

// ClientCount returns the number of connected clients.
func (h *StreamHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *StreamHandler) remove(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	h.mu.Unlock()
}
