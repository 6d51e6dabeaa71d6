// Package stream pushes chair views to dashboards over WebSocket.
package stream

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Hub tracks open viewer connections per chair.
type Hub struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// Get returns the viewer's connection, or nil.
func (h *Hub) Get(chairID, viewerID string) *websocket.Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if viewers, ok := h.active[chairID]; ok {
		return viewers[viewerID]
	}
	return nil
}

// Count returns the number of viewers watching chairID.
func (h *Hub) Count(chairID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active[chairID])
}

// Register adds a viewer connection.
func (h *Hub) Register(chairID, viewerID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.active[chairID]; !exists {
		h.active[chairID] = make(map[string]*websocket.Conn)
	}
	h.active[chairID][viewerID] = conn
	slog.Debug("Viewer registered", "chair_id", chairID, "viewer_id", viewerID)
}

// Unregister removes a viewer if conn is still the registered connection.
func (h *Hub) Unregister(chairID, viewerID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	viewers, ok := h.active[chairID]
	if !ok {
		return
	}
	if current, exists := viewers[viewerID]; exists && current == conn {
		delete(viewers, viewerID)
		if len(viewers) == 0 {
			delete(h.active, chairID)
		}
		slog.Debug("Viewer unregistered", "chair_id", chairID, "viewer_id", viewerID)
	}
}

// Close disconnects every viewer. http.Server.Shutdown does not wait for
// hijacked connections, so the server calls this on the way out.
func (h *Hub) Close() {
	h.mu.Lock()
	active := h.active
	h.active = make(map[string]map[string]*websocket.Conn)
	h.mu.Unlock()

	for chairID, viewers := range active {
		for id, conn := range viewers {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			slog.Debug("Viewer disconnected", "chair_id", chairID, "viewer_id", id)
		}
	}
}
