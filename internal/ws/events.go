package ws

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/substatus/backend/internal/domain"
	"github.com/substatus/backend/internal/service"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is handled at the HTTP level
	},
}

// Hub fans applied subscription transitions out to connected diagnostic
// clients. It implements service.EventPublisher; slow or dead connections are
// dropped rather than blocking reconciliation.
type Hub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{conns: make(map[*websocket.Conn]struct{})}
}

// Publish broadcasts a record to every connected client.
func (h *Hub) Publish(rec domain.SubscriptionRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		if err := conn.WriteJSON(rec); err != nil {
			conn.Close()
			delete(h.conns, conn)
		}
	}
}

func (h *Hub) register(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = struct{}{}
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[conn]; ok {
		conn.Close()
		delete(h.conns, conn)
	}
}

// EventsHandler upgrades HTTP to WebSocket for the live transition feed.
type EventsHandler struct {
	hub    *Hub
	tokens *service.TokenService
}

// NewEventsHandler creates a new EventsHandler.
func NewEventsHandler(hub *Hub, tokens *service.TokenService) *EventsHandler {
	return &EventsHandler{hub: hub, tokens: tokens}
}

// Handle serves GET /ws/events?token=JWT_TOKEN. Auth is via query param
// because browsers cannot set headers on WebSocket upgrades.
func (h *EventsHandler) Handle(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "token required", http.StatusUnauthorized)
		return
	}

	claims, err := h.tokens.VerifyToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	if claims.Role != "admin" {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	h.hub.register(conn)
	defer h.hub.unregister(conn)
	log.Printf("🔌 Event feed connected (user: %s)", claims.Email)

	// Drain client frames until the connection closes; the feed is one-way.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
