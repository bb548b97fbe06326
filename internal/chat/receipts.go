package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/veritest/veritest/internal/chat/events"
	"github.com/veritest/veritest/internal/domain"
)

// ReadReceiptTracker propagates read state: optimistic local marks that are
// confirmed through the durable store, and remote receipts arriving over
// the realtime channel. Read marks are low-stakes and idempotent, so a
// failed confirmation is logged but never rolled back; re-sending the mark
// is safe.
type ReadReceiptTracker struct {
	persistence Persistence
	store       *MessageStore
	room        *Room
	user        domain.User
	now         func() time.Time
}

// NewReadReceiptTracker creates a tracker operating on the given store.
func NewReadReceiptTracker(persistence Persistence, store *MessageStore, room *Room, user domain.User) *ReadReceiptTracker {
	return &ReadReceiptTracker{
		persistence: persistence,
		store:       store,
		room:        room,
		user:        user,
		now:         time.Now,
	}
}

// MarkRead optimistically stamps the current user onto the message's readBy
// set, decrements the unread counter, hints the room, and confirms through
// the durable store.
func (r *ReadReceiptTracker) MarkRead(ctx context.Context, messageID string) error {
	if !r.store.markReadLocal(messageID, r.user.ID, r.now(), true, false) {
		return nil // unknown message or already marked
	}
	r.store.notify(Change{Kind: ChangeUpdate, MessageID: messageID})

	if err := r.room.Emit(ctx, events.MarkRead, events.MarkReadPayload{
		MessageID: messageID,
		TicketID:  r.room.TicketID(),
	}); err != nil {
		slog.Debug("Realtime read mark failed", "messageID", messageID, "error", err)
	}

	if err := r.persistence.MarkRead(ctx, messageID); err != nil {
		slog.Warn("Durable read mark failed; keeping optimistic state", "messageID", messageID, "error", err)
	}
	return nil
}

// MarkAllRead stamps every loaded message read, drives the unread counter
// to zero, and confirms the bulk mark through the durable store.
func (r *ReadReceiptTracker) MarkAllRead(ctx context.Context) error {
	marked := r.store.markAllReadLocal(r.user.ID, r.now())
	if len(marked) > 0 {
		r.store.notify(Change{Kind: ChangeReset})
	}

	for _, id := range marked {
		if err := r.room.Emit(ctx, events.MarkRead, events.MarkReadPayload{
			MessageID: id,
			TicketID:  r.room.TicketID(),
		}); err != nil {
			slog.Debug("Realtime read mark failed", "messageID", id, "error", err)
			break
		}
	}

	if err := r.persistence.MarkAllRead(ctx, r.room.TicketID()); err != nil {
		slog.Warn("Durable mark-all-read failed; keeping optimistic state", "error", err)
	}
	return nil
}

// ApplyRemote processes a message-read event from another user. Receipts
// from the reader never land on their own messages, and the local user's
// own echoes are ignored.
func (r *ReadReceiptTracker) ApplyRemote(ev events.MessageReadPayload) {
	if ev.UserID == "" || ev.UserID == r.user.ID {
		return
	}
	if r.store.markReadLocal(ev.MessageID, ev.UserID, r.now(), false, true) {
		r.store.notify(Change{Kind: ChangeUpdate, MessageID: ev.MessageID})
	}
}
