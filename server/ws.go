package server

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"wabridge/session"
)

// statusUpdate is pushed to dashboard clients on every lifecycle
// transition. Polling /status remains the primary contract; this is a
// convenience feed.
type statusUpdate struct {
	Type     string `json:"type"`
	TenantID string `json:"tenant_id"`
	Status   string `json:"status"`
	QRCode   string `json:"qr_code,omitempty"`
}

// Hub fans session status transitions out to connected websocket clients.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// Serve upgrades the request and keeps the connection registered until the
// peer goes away. Inbound frames are drained and ignored.
func (h *Hub) Serve(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade websocket")
		return
	}
	defer ws.Close()

	h.mu.Lock()
	h.clients[ws] = struct{}{}
	h.mu.Unlock()

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	delete(h.clients, ws)
	h.mu.Unlock()
}

// Broadcast pushes one transition to every connected client, dropping
// clients whose writes fail.
func (h *Hub) Broadcast(tenantID string, status session.Status, qr string) {
	update := statusUpdate{
		Type:     "session_status",
		TenantID: tenantID,
		Status:   string(status),
		QRCode:   qr,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ws := range h.clients {
		if err := ws.WriteJSON(update); err != nil {
			log.Warn().Err(err).Msg("dropping websocket client")
			ws.Close()
			delete(h.clients, ws)
		}
	}
}

// Close disconnects all clients at shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ws := range h.clients {
		ws.Close()
		delete(h.clients, ws)
	}
}
