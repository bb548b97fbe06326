package chat

import (
	"context"

	"github.com/veritest/veritest/internal/chat/events"
)

// Page is one chronological slice of a ticket's message history, oldest
// first, plus the caller's unread count for the ticket.
type Page struct {
	Messages    []events.Message `json:"messages"`
	UnreadCount int              `json:"unreadCount"`
}

// Persistence is the durable store boundary. It is authoritative: the
// realtime channel is only a low-latency hint, and every optimistic local
// state change is eventually confirmed or rolled back against this
// interface.
type Persistence interface {
	// FetchMessages returns up to limit messages older than the before
	// cursor (a message id), or the newest limit messages when before is
	// empty, in ascending chronological order.
	FetchMessages(ctx context.Context, ticketID string, limit int, before string) (Page, error)

	// CreateMessage durably appends a message and returns its canonical
	// form, including the server-issued id.
	CreateMessage(ctx context.Context, ticketID, content string, attachment *events.Attachment, kind events.MessageKind) (events.Message, error)

	// EditMessage replaces a message's content and returns the updated
	// canonical form.
	EditMessage(ctx context.Context, id, content string) (events.Message, error)

	// DeleteMessage tombstones a message.
	DeleteMessage(ctx context.Context, id string) error

	// MarkRead records that the calling user has read the message.
	// Idempotent; re-sending a mark is safe.
	MarkRead(ctx context.Context, id string) error

	// MarkAllRead records that the calling user has read every message in
	// the ticket.
	MarkAllRead(ctx context.Context, ticketID string) error
}
