package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/veritest/veritest/internal/chat/events"
	"github.com/veritest/veritest/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxFrame   = 64 * 1024
)

// Client is one WebSocket connection attached to the bridge. A user with
// several tabs open holds several clients; each joins rooms independently.
type Client struct {
	bridge *Bridge
	conn   *websocket.Conn
	user   domain.User
	send   chan []byte

	mu       sync.Mutex
	ticketID string
	closed   bool
}

func newClient(b *Bridge, conn *websocket.Conn, user domain.User) *Client {
	return &Client{
		bridge: b,
		conn:   conn,
		user:   user,
		send:   make(chan []byte, 256),
	}
}

func (c *Client) currentTicket() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticketID
}

func (c *Client) setTicket(ticketID string) {
	c.mu.Lock()
	c.ticketID = ticketID
	c.mu.Unlock()
}

// enqueue hands a frame to the write pump. Frames are dropped when the
// client cannot keep up; the realtime channel is lossy by contract and the
// durable store is the source of truth.
func (c *Client) enqueue(payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- payload:
	default:
		slog.Warn("Client send buffer full, dropping frame", "userID", c.user.ID)
	}
}

func (c *Client) enqueueEvent(event string, payload any) {
	env, err := events.NewEnvelope(event, payload)
	if err != nil {
		slog.Error("Failed to build envelope", "event", event, "error", err)
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// readPump decodes inbound frames and hands them to the bridge until the
// connection fails or closes.
func (c *Client) readPump() {
	defer func() {
		c.bridge.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrame)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Error("WebSocket read error", "userID", c.user.ID, "error", err)
			}
			return
		}

		var env events.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.enqueueEvent(events.Error, events.ErrorPayload{Reason: "malformed frame"})
			continue
		}
		c.bridge.handleInbound(c, env)
	}
}

// writePump writes queued frames and keeps the connection alive with
// periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				slog.Error("WebSocket write error", "userID", c.user.ID, "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
