// Package ws pushes analysis alerts to WebSocket subscribers, each
// optionally filtered to a single camera.
package ws

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"vigil/internal/events"
)

// AlertHub manages WebSocket connections for real-time alert streaming
type AlertHub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]subscription
}

type subscription struct {
	cameraID int
	filtered bool
}

// NewAlertHub creates a new alert hub
func NewAlertHub() *AlertHub {
	return &AlertHub{
		clients: make(map[*websocket.Conn]subscription),
	}
}

// Register adds a connection. A filtered connection only receives alerts
// for its camera.
func (h *AlertHub) Register(conn *websocket.Conn, cameraID int, filtered bool) {
	h.mu.Lock()
	h.clients[conn] = subscription{cameraID: cameraID, filtered: filtered}
	total := len(h.clients)
	h.mu.Unlock()
	fmt.Printf("[WS] Client registered (total: %d)\n", total)
}

// Unregister removes a connection
func (h *AlertHub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.clients[conn]
	delete(h.clients, conn)
	h.mu.Unlock()
	if ok {
		fmt.Printf("[WS] Client unregistered\n")
	}
}

// HasClients returns true if any connection would receive alerts for a camera
func (h *AlertHub) HasClients(cameraID int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.clients {
		if !sub.filtered || sub.cameraID == cameraID {
			return true
		}
	}
	return false
}

// ClientCount returns the total number of connected clients
func (h *AlertHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends an alert to every connection matching its camera
func (h *AlertHub) Broadcast(ev events.Event) {
	msg := NewAlertMessage(ev)
	data, err := json.Marshal(msg)
	if err != nil {
		fmt.Printf("[WS] Error marshaling alert message: %v\n", err)
		return
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn, sub := range h.clients {
		if sub.filtered && sub.cameraID != ev.CameraID {
			continue
		}
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			fmt.Printf("[WS] Error sending to client: %v\n", err)
			h.Unregister(conn)
			conn.Close()
		}
	}
}

// StartBridge pumps bus events into the hub on a dedicated goroutine.
// The returned function stops the pump and waits for it to drain.
func StartBridge(bus *events.Bus, hub *AlertHub) func() {
	ch, unsubscribe := bus.SubscribeChannel(32)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			hub.Broadcast(ev)
		}
	}()
	return func() {
		unsubscribe()
		<-done
	}
}
