// Package ws provides the websocket transport for live chat: a room-based
// hub fanning chat events out to connected customers and admins.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xenking/storefront-api/internal/domain/chat"
)

// AdminRoom receives every session-level event for the support console.
const AdminRoom = "chat:admins"

// SessionRoom names the room scoped to a single conversation.
func SessionRoom(sessionID string) string {
	return "chat:session:" + sessionID
}

// Event is the wire envelope for everything crossing a chat socket, in
// either direction.
type Event struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ChatService is the slice of the chat domain the hub routes inbound
// frames to.
type ChatService interface {
	PostMessage(ctx context.Context, sessionID string, sender chat.Sender, text string) (*chat.Session, error)
	Close(ctx context.Context, sessionID, closedBy string) (*chat.Session, error)
}

var _ chat.Broadcaster = (*Hub)(nil)

// Hub tracks connected clients by room and broadcasts chat events to them.
// Delivery is fire-and-forget: a client whose send buffer is full is
// disconnected rather than awaited.
type Hub struct {
	chats    ChatService
	lg       *zap.Logger
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	rooms map[string]map[*client]struct{}
}

// NewHub creates a Hub with no chat service attached. Call Bind before
// serving connections: the hub broadcasts session events for the chat
// service, which in turn handles frames the hub receives, so the two are
// wired in stages.
func NewHub(lg *zap.Logger) *Hub {
	return &Hub{
		lg: lg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The chat widget is served from arbitrary storefront origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		rooms: make(map[string]map[*client]struct{}),
	}
}

// Bind attaches the chat service that inbound frames are routed to.
// Not safe to call once connections are being served.
func (h *Hub) Bind(chats ChatService) {
	h.chats = chats
}

// EmitToAdmins broadcasts an event to the admin console room.
func (h *Hub) EmitToAdmins(event string, payload any) {
	h.emit(AdminRoom, event, payload)
}

// EmitToSession broadcasts an event to a single conversation's room.
func (h *Hub) EmitToSession(sessionID, event string, payload any) {
	h.emit(SessionRoom(sessionID), event, payload)
}

func (h *Hub) emit(room, event string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		h.lg.Warn("dropping unmarshalable chat event", zap.String("event", event), zap.Error(err))
		return
	}
	frame, err := json.Marshal(Event{Event: event, Payload: raw})
	if err != nil {
		h.lg.Warn("dropping unmarshalable chat event", zap.String("event", event), zap.Error(err))
		return
	}

	h.mu.RLock()
	clients := make([]*client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case <-c.done:
		case c.send <- frame:
		default:
			// Slow consumer: drop the connection instead of blocking the hub.
			h.detach(c)
			c.stop()
		}
	}
}

func (h *Hub) join(room string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*client]struct{})
	}
	h.rooms[room][c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) leave(room string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms[room], c)
	if len(h.rooms[room]) == 0 {
		delete(h.rooms, room)
	}
	delete(c.rooms, room)
}

// detach removes a client from every room it joined.
func (h *Hub) detach(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room := range c.rooms {
		delete(h.rooms[room], c)
		if len(h.rooms[room]) == 0 {
			delete(h.rooms, room)
		}
	}
	c.rooms = make(map[string]struct{})
}

// ServeHTTP upgrades the connection and registers the client in its rooms.
// Customers pass ?sessionId= to join their conversation; the support console
// passes ?role=admin to join the admin room.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.lg.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := newClient(h, conn, r.URL.Query().Get("role") == "admin")
	if c.admin {
		h.join(AdminRoom, c)
	}
	if sessionID := r.URL.Query().Get("sessionId"); sessionID != "" {
		h.join(SessionRoom(sessionID), c)
	}

	go c.writePump()
	go c.readPump()
}

// roomSize reports the number of clients in a room. Used by tests.
func (h *Hub) roomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
