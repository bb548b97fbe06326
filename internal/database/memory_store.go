package database

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veritest/veritest/internal/chat/events"
	"github.com/veritest/veritest/internal/domain"
)

// MemoryMessageStore is an in-process MessageRepository. It backs handler
// tests and database-less runs of the server; the policy checks mirror the
// durable store's.
type MemoryMessageStore struct {
	mu         sync.Mutex
	messages   []events.Message
	editWindow time.Duration
	now        func() time.Time
}

// NewMemoryMessageStore creates an empty store enforcing the given edit
// window.
func NewMemoryMessageStore(editWindow time.Duration) *MemoryMessageStore {
	return &MemoryMessageStore{editWindow: editWindow, now: time.Now}
}

// ListMessages implements MessageRepository.
func (s *MemoryMessageStore) ListMessages(ctx context.Context, ticketID string, limit int, before string) ([]events.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	end := len(s.messages)
	if before != "" {
		end = 0
		for i, m := range s.messages {
			if m.ID == before && m.TicketID == ticketID {
				end = i
				break
			}
		}
	}

	var out []events.Message
	for i := end - 1; i >= 0 && len(out) < limit; i-- {
		if s.messages[i].TicketID == ticketID {
			out = append(out, s.messages[i])
		}
	}
	// Collected newest-first, returned oldest-first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// UnreadCount implements MessageRepository.
func (s *MemoryMessageStore) UnreadCount(ctx context.Context, ticketID, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, m := range s.messages {
		if m.TicketID == ticketID && !m.Deleted && m.Sender.ID != userID && !m.ReadByUser(userID) {
			count++
		}
	}
	return count, nil
}

// CreateMessage implements MessageRepository.
func (s *MemoryMessageStore) CreateMessage(ctx context.Context, ticketID string, sender domain.User, content string, attachment *events.Attachment, kind events.MessageKind) (events.Message, error) {
	msg := events.Message{
		ID:         "msg-" + uuid.NewString(),
		TicketID:   ticketID,
		Sender:     sender,
		Content:    content,
		Kind:       kind,
		CreatedAt:  s.now().UTC(),
		Attachment: attachment,
	}

	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	return msg, nil
}

// EditMessage implements MessageRepository.
func (s *MemoryMessageStore) EditMessage(ctx context.Context, messageID, editorID, content string) (events.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(messageID)
	if idx < 0 {
		return events.Message{}, domain.ErrMessageNotFound
	}
	msg := s.messages[idx]
	switch {
	case msg.Deleted:
		return events.Message{}, &domain.ValidationError{Field: "message", Reason: "has been deleted"}
	case msg.Sender.ID != editorID:
		return events.Message{}, &domain.ValidationError{Field: "message", Reason: "may only be edited by its author"}
	case s.now().Sub(msg.CreatedAt) > s.editWindow:
		return events.Message{}, &domain.ValidationError{Field: "message", Reason: "edit window has closed"}
	}

	editedAt := s.now().UTC()
	msg.Content = content
	msg.EditedAt = &editedAt
	s.messages[idx] = msg
	return msg, nil
}

// DeleteMessage implements MessageRepository.
func (s *MemoryMessageStore) DeleteMessage(ctx context.Context, messageID string, actor domain.User) (events.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(messageID)
	if idx < 0 {
		return events.Message{}, domain.ErrMessageNotFound
	}
	msg := s.messages[idx]
	if msg.Deleted {
		return msg, nil
	}
	if msg.Sender.ID != actor.ID && !actor.Elevated {
		return events.Message{}, &domain.ValidationError{Field: "message", Reason: "may only be deleted by its author or an agent"}
	}

	msg.Tombstone()
	s.messages[idx] = msg
	return msg, nil
}

// MarkRead implements MessageRepository.
func (s *MemoryMessageStore) MarkRead(ctx context.Context, messageID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(messageID)
	if idx < 0 {
		return domain.ErrMessageNotFound
	}
	if !s.messages[idx].ReadByUser(userID) {
		s.messages[idx].ReadBy = append(s.messages[idx].ReadBy, events.ReadReceipt{UserID: userID, ReadAt: s.now().UTC()})
	}
	return nil
}

// MarkAllRead implements MessageRepository.
func (s *MemoryMessageStore) MarkAllRead(ctx context.Context, ticketID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.messages {
		if s.messages[i].TicketID != ticketID || s.messages[i].ReadByUser(userID) {
			continue
		}
		s.messages[i].ReadBy = append(s.messages[i].ReadBy, events.ReadReceipt{UserID: userID, ReadAt: s.now().UTC()})
	}
	return nil
}

func (s *MemoryMessageStore) indexOf(messageID string) int {
	for i, m := range s.messages {
		if m.ID == messageID {
			return i
		}
	}
	return -1
}
