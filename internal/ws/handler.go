package ws

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 256 * 1024, // 256KB for base64 encoded JPEG frames
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for development
		// In production, this should be more restrictive
		return true
	},
}

// Handler handles WebSocket connections for real-time alerts
type Handler struct {
	hub *AlertHub
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *AlertHub) *Handler {
	return &Handler{hub: hub}
}

// ServeHTTP handles WebSocket upgrade requests
// Expected URL format: /ws[?camera={camera_id}]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cameraID := 0
	filtered := false
	if raw := r.URL.Query().Get("camera"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil || id < 0 {
			http.Error(w, "invalid camera id", http.StatusBadRequest)
			return
		}
		cameraID = id
		filtered = true
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		fmt.Printf("[WS] Upgrade error: %v\n", err)
		return
	}

	fmt.Printf("[WS] New connection from %s\n", r.RemoteAddr)

	h.hub.Register(conn, cameraID, filtered)
	go h.readPump(conn)
}

// readPump reads messages from the WebSocket connection
// This keeps the connection alive and handles client disconnection
func (h *Handler) readPump(conn *websocket.Conn) {
	defer func() {
		h.hub.Unregister(conn)
		conn.Close()
	}()

	conn.SetReadLimit(512) // Small limit since client shouldn't send much
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	go func() {
		for range ticker.C {
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}()

	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				fmt.Printf("[WS] Read error: %v\n", err)
			}
			break
		}
	}
}
