package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xenking/storefront-api/internal/domain/chat"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 4096
	sendBufferSize = 32

	frameTimeout = 10 * time.Second
)

type client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	done  chan struct{}
	admin bool
	rooms map[string]struct{}

	closeOnce sync.Once
}

func newClient(h *Hub, conn *websocket.Conn, admin bool) *client {
	return &client{
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, sendBufferSize),
		done:  make(chan struct{}),
		admin: admin,
		rooms: make(map[string]struct{}),
	}
}

func (c *client) stop() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// readPump consumes inbound frames until the connection drops, routing chat
// commands to the service. It owns the read side of the connection.
func (c *client) readPump() {
	defer func() {
		c.hub.detach(c)
		c.stop()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.lg.Debug("websocket read failed", zap.Error(err))
			}
			return
		}

		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.hub.lg.Debug("discarding malformed chat frame", zap.Error(err))
			continue
		}
		c.handle(ev)
	}
}

type joinPayload struct {
	Room string `json:"room"`
}

type inboundMessage struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
}

type inboundClose struct {
	SessionID string `json:"sessionId"`
	By        string `json:"by"`
}

func (c *client) handle(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
	defer cancel()

	switch ev.Event {
	case "chat:join":
		var p joinPayload
		if err := json.Unmarshal(ev.Payload, &p); err == nil && p.Room != "" {
			// Only admins may join the console room over a frame.
			if p.Room != AdminRoom || c.admin {
				c.hub.join(p.Room, c)
			}
		}
	case "chat:leave":
		var p joinPayload
		if err := json.Unmarshal(ev.Payload, &p); err == nil && p.Room != "" {
			c.hub.leave(p.Room, c)
		}
	case chat.EventMessage:
		var p inboundMessage
		if err := json.Unmarshal(ev.Payload, &p); err != nil || p.SessionID == "" {
			return
		}
		sender := chat.SenderCustomer
		if c.admin {
			sender = chat.SenderAdmin
		}
		if _, err := c.hub.chats.PostMessage(ctx, p.SessionID, sender, p.Text); err != nil {
			c.hub.lg.Debug("websocket message rejected",
				zap.String("session_id", p.SessionID),
				zap.Error(err),
			)
		}
	case "chat:close":
		var p inboundClose
		if err := json.Unmarshal(ev.Payload, &p); err != nil || p.SessionID == "" {
			return
		}
		if _, err := c.hub.chats.Close(ctx, p.SessionID, p.By); err != nil {
			c.hub.lg.Debug("websocket close rejected",
				zap.String("session_id", p.SessionID),
				zap.Error(err),
			)
		}
	default:
		c.hub.lg.Debug("ignoring unknown chat frame", zap.String("event", ev.Event))
	}
}

// writePump flushes outbound frames and keeps the connection alive with
// pings. It owns the write side of the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
