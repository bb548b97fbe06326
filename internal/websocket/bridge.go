package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/veritest/veritest/internal/chat/events"
	"github.com/veritest/veritest/internal/domain"
	"github.com/veritest/veritest/internal/middleware"
	"github.com/veritest/veritest/internal/pubsub"
)

// Fan-out topics carried on the pub/sub bus. The REST handlers publish
// here after durable writes; the bridge subscribes and delivers to the
// ticket room.
const (
	TopicMessageCreated = "chat.message.created"
	TopicMessageUpdated = "chat.message.updated"
	TopicMessageRead    = "chat.message.read"
	TopicTicketUpdated  = "chat.ticket.updated"
)

type roomChange struct {
	client   *Client
	ticketID string
}

type roomMessage struct {
	ticketID string
	payload  []byte
	// exclude, when set, skips one client (the originator of the event).
	exclude *Client
}

// Bridge manages the WebSocket side of the realtime channel: per-ticket
// room membership, read/write pumps, and the fan-out of bus events to room
// members. All membership mutations flow through the run loop.
type Bridge struct {
	mu sync.RWMutex
	// rooms maps ticketID to the clients currently joined.
	rooms   map[string]map[*Client]bool
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	join       chan roomChange
	leave      chan roomChange
	deliver    chan roomMessage
}

// NewBridge initializes a Bridge, ready to accept connections once Run is
// started.
func NewBridge() *Bridge {
	return &Bridge{
		rooms:      make(map[string]map[*Client]bool),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		join:       make(chan roomChange),
		leave:      make(chan roomChange),
		deliver:    make(chan roomMessage, 256),
	}
}

// Run drives client lifecycle and room routing until ctx is canceled.
func (b *Bridge) Run(ctx context.Context) {
	slog.Info("WebSocket bridge started")
	for {
		select {
		case <-ctx.Done():
			b.closeAll()
			return

		case client := <-b.register:
			b.mu.Lock()
			b.clients[client] = true
			b.mu.Unlock()
			slog.Info("Client connected", "userID", client.user.ID)

		case client := <-b.unregister:
			b.drop(client)

		case change := <-b.join:
			b.joinRoom(change.client, change.ticketID)

		case change := <-b.leave:
			b.leaveRoom(change.client, change.ticketID)

		case msg := <-b.deliver:
			b.mu.RLock()
			for client := range b.rooms[msg.ticketID] {
				if client == msg.exclude {
					continue
				}
				client.enqueue(msg.payload)
			}
			b.mu.RUnlock()
		}
	}
}

// Subscribe attaches the bridge to the fan-out topics on the bus. Events
// published by the REST handlers reach every client joined to the ticket.
func (b *Bridge) Subscribe(ctx context.Context, sub pubsub.Subscriber) error {
	topics := map[string]string{
		TopicMessageCreated: events.NewMessage,
		TopicMessageUpdated: events.NewMessage,
		TopicMessageRead:    events.MessageRead,
		TopicTicketUpdated:  events.TicketUpdated,
	}
	for topic, event := range topics {
		event := event
		if err := sub.Subscribe(ctx, topic, func(ctx context.Context, msg pubsub.Message) error {
			b.DeliverRoom(msg.TicketID, event, json.RawMessage(msg.Payload))
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// DeliverRoom sends one event to every client joined to the ticket.
func (b *Bridge) DeliverRoom(ticketID, event string, payload any) {
	env, err := events.NewEnvelope(event, payload)
	if err != nil {
		slog.Error("Failed to build envelope for room delivery", "event", event, "error", err)
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		slog.Error("Failed to marshal envelope for room delivery", "event", event, "error", err)
		return
	}
	b.queueDelivery(roomMessage{ticketID: ticketID, payload: data})
}

// queueDelivery never blocks; the run loop is both the producer and the
// consumer of room notifications, so a full queue sheds frames instead of
// deadlocking.
func (b *Bridge) queueDelivery(msg roomMessage) {
	select {
	case b.deliver <- msg:
	default:
		slog.Warn("Bridge delivery queue full, dropping frame", "ticketID", msg.ticketID)
	}
}

func (b *Bridge) deliverExcluding(ticketID, event string, payload any, exclude *Client) {
	env, err := events.NewEnvelope(event, payload)
	if err != nil {
		slog.Error("Failed to build envelope for room delivery", "event", event, "error", err)
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	b.queueDelivery(roomMessage{ticketID: ticketID, payload: data, exclude: exclude})
}

func (b *Bridge) joinRoom(client *Client, ticketID string) {
	previous := client.currentTicket()
	if previous == ticketID {
		return
	}

	b.mu.Lock()
	if previous != "" {
		b.removeFromRoomLocked(client, previous)
	}
	if b.rooms[ticketID] == nil {
		b.rooms[ticketID] = make(map[*Client]bool)
	}

	// Presence snapshot for the newcomer before they appear to others.
	for member := range b.rooms[ticketID] {
		client.enqueueEvent(events.UserJoined, events.UserPresencePayload{
			UserID:   member.user.ID,
			UserName: member.user.DisplayName(),
		})
	}

	b.rooms[ticketID][client] = true
	b.mu.Unlock()
	client.setTicket(ticketID)

	if previous != "" {
		b.deliverExcluding(previous, events.UserLeft, events.UserPresencePayload{
			UserID: client.user.ID, UserName: client.user.DisplayName(),
		}, client)
	}
	b.deliverExcluding(ticketID, events.UserJoined, events.UserPresencePayload{
		UserID: client.user.ID, UserName: client.user.DisplayName(),
	}, client)
	slog.Info("Client joined ticket room", "userID", client.user.ID, "ticketID", ticketID)
}

func (b *Bridge) leaveRoom(client *Client, ticketID string) {
	if client.currentTicket() != ticketID {
		return
	}
	b.mu.Lock()
	b.removeFromRoomLocked(client, ticketID)
	b.mu.Unlock()
	client.setTicket("")

	b.deliverExcluding(ticketID, events.UserLeft, events.UserPresencePayload{
		UserID: client.user.ID, UserName: client.user.DisplayName(),
	}, client)
}

func (b *Bridge) drop(client *Client) {
	b.mu.Lock()
	if !b.clients[client] {
		b.mu.Unlock()
		return
	}
	delete(b.clients, client)
	ticketID := client.currentTicket()
	if ticketID != "" {
		b.removeFromRoomLocked(client, ticketID)
	}
	b.mu.Unlock()
	client.setTicket("")
	client.close()

	if ticketID != "" {
		b.deliverExcluding(ticketID, events.UserLeft, events.UserPresencePayload{
			UserID: client.user.ID, UserName: client.user.DisplayName(),
		}, client)
	}
	slog.Info("Client disconnected", "userID", client.user.ID)
}

func (b *Bridge) removeFromRoomLocked(client *Client, ticketID string) {
	if room, ok := b.rooms[ticketID]; ok {
		delete(room, client)
		if len(room) == 0 {
			delete(b.rooms, ticketID)
		}
	}
}

func (b *Bridge) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for client := range b.clients {
		client.close()
		delete(b.clients, client)
	}
	b.rooms = make(map[string]map[*Client]bool)
}

// RoomSize reports how many clients are joined to the ticket.
func (b *Bridge) RoomSize(ticketID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms[ticketID])
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin enforcement happens at the edge; the handshake is already
	// behind credential auth.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler returns the echo handler that upgrades an authenticated request
// and attaches the connection to the bridge.
func (b *Bridge) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		user, ok := c.Get(middleware.UserContextKey).(domain.User)
		if !ok || user.ID == "" {
			return c.String(http.StatusUnauthorized, "User not authenticated")
		}

		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			slog.Error("Failed to upgrade connection to WebSocket", "error", err)
			return err
		}

		client := newClient(b, conn, user)
		b.register <- client

		go client.writePump()
		go client.readPump()
		return nil
	}
}

// handleInbound routes one decoded envelope from a client.
func (b *Bridge) handleInbound(client *Client, env events.Envelope) {
	switch env.Event {
	case events.JoinTicket:
		var p events.RoomRef
		if err := env.Decode(&p); err != nil || p.TicketID == "" {
			client.enqueueEvent(events.Error, events.ErrorPayload{Reason: "invalid join request"})
			return
		}
		b.join <- roomChange{client: client, ticketID: p.TicketID}

	case events.LeaveTicket:
		var p events.RoomRef
		if err := env.Decode(&p); err != nil {
			return
		}
		b.leave <- roomChange{client: client, ticketID: p.TicketID}

	case events.TypingStart, events.TypingStop:
		var p events.RoomRef
		if err := env.Decode(&p); err != nil {
			return
		}
		ticketID := client.currentTicket()
		if ticketID == "" {
			return
		}
		b.deliverExcluding(ticketID, events.UserTyping, events.UserTypingPayload{
			UserID:   client.user.ID,
			UserName: client.user.DisplayName(),
			IsTyping: env.Event == events.TypingStart,
		}, client)

	case events.MarkRead:
		var p events.MarkReadPayload
		if err := env.Decode(&p); err != nil || p.MessageID == "" {
			return
		}
		ticketID := client.currentTicket()
		if ticketID == "" {
			return
		}
		b.deliverExcluding(ticketID, events.MessageRead, events.MessageReadPayload{
			MessageID: p.MessageID,
			UserID:    client.user.ID,
		}, client)

	case events.SendMessage:
		// The durable path owns message creation and its canonical
		// fan-out; the socket hint carries no durable id to relay.
		slog.Debug("Ignoring realtime send hint", "userID", client.user.ID)

	default:
		slog.Debug("Ignoring unknown inbound event", "event", env.Event, "userID", client.user.ID)
	}
}
