package chat

import (
	"context"
	"log/slog"
	"sync"

	"github.com/veritest/veritest/internal/chat/events"
	"github.com/veritest/veritest/internal/domain"
)

// Room coordinates membership in the realtime channel scope of one ticket.
// Join is fire-and-forget: the room is marked joined as soon as the join
// event is emitted, and the server confirms asynchronously through its own
// presence and echo events.
type Room struct {
	conn *Connection

	mu       sync.Mutex
	ticketID string
	joined   bool
}

// NewRoom creates a Room bound to the given connection.
func NewRoom(conn *Connection) *Room {
	return &Room{conn: conn}
}

// Join enters the ticket's channel scope. Idempotent: joining the ticket the
// room is already in is a no-op. Joining a different ticket leaves the
// current one first. Requires a connected channel.
func (r *Room) Join(ctx context.Context, ticketID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.joined && r.ticketID == ticketID {
		return nil
	}
	if !r.conn.IsConnected() {
		return &domain.ConnectionError{Op: "join room", Err: domain.ErrNotConnected}
	}

	if r.joined {
		// Switching tickets: leave the old scope, best-effort.
		if err := r.conn.Emit(ctx, events.LeaveTicket, events.RoomRef{TicketID: r.ticketID}); err != nil {
			slog.Warn("Failed to leave previous room", "ticketID", r.ticketID, "error", err)
		}
	}

	if err := r.conn.Emit(ctx, events.JoinTicket, events.RoomRef{TicketID: ticketID}); err != nil {
		return err
	}
	r.ticketID = ticketID
	r.joined = true
	return nil
}

// Leave exits the current room. Idempotent and best-effort: it is attempted
// on teardown even when the connection is already down, and never fails.
func (r *Room) Leave(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.joined {
		return
	}
	if err := r.conn.Emit(ctx, events.LeaveTicket, events.RoomRef{TicketID: r.ticketID}); err != nil {
		slog.Debug("Best-effort room leave failed", "ticketID", r.ticketID, "error", err)
	}
	r.joined = false
}

// Rejoin re-emits the join event for the current ticket after a reconnect.
// A no-op when the room was never joined.
func (r *Room) Rejoin(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.joined || !r.conn.IsConnected() {
		return
	}
	if err := r.conn.Emit(ctx, events.JoinTicket, events.RoomRef{TicketID: r.ticketID}); err != nil {
		slog.Warn("Failed to rejoin room after reconnect", "ticketID", r.ticketID, "error", err)
	}
}

// Joined reports whether the room is currently joined.
func (r *Room) Joined() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.joined
}

// TicketID returns the ticket whose room this is.
func (r *Room) TicketID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ticketID
}

// Emit sends a room-scoped event. It rejects with ErrNotJoined when the
// room has not been joined, making send/typing/read operations meaningless
// outside a room cheap no-ops for callers.
func (r *Room) Emit(ctx context.Context, event string, payload any) error {
	r.mu.Lock()
	joined := r.joined
	r.mu.Unlock()

	if !joined {
		return &domain.ConnectionError{Op: "emit " + event, Err: domain.ErrNotJoined}
	}
	return r.conn.Emit(ctx, event, payload)
}
