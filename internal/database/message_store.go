package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/veritest/veritest/internal/chat/events"
	"github.com/veritest/veritest/internal/domain"
)

const messageTable = "message"

// messageRecord is the database shape of a chat message. The record id is
// the driver's; message_id is the durable id exposed on the wire, stable
// across the API and the realtime channel.
type messageRecord struct {
	ID         *surrealmodels.RecordID       `json:"id,omitempty"`
	MessageID  string                        `json:"message_id"`
	TicketID   string                        `json:"ticket_id"`
	Sender     domain.User                   `json:"sender"`
	Content    string                        `json:"content"`
	Kind       events.MessageKind            `json:"kind"`
	CreatedAt  *surrealmodels.CustomDateTime `json:"created_at"`
	EditedAt   *surrealmodels.CustomDateTime `json:"edited_at,omitempty"`
	Deleted    bool                          `json:"deleted"`
	ReadBy     []readReceiptRecord           `json:"read_by"`
	Attachment *events.Attachment            `json:"attachment,omitempty"`
}

type readReceiptRecord struct {
	UserID string                        `json:"user_id"`
	ReadAt *surrealmodels.CustomDateTime `json:"read_at"`
}

func (r messageRecord) toEvent() events.Message {
	msg := events.Message{
		ID:         r.MessageID,
		TicketID:   r.TicketID,
		Sender:     r.Sender,
		Content:    r.Content,
		Kind:       r.Kind,
		Deleted:    r.Deleted,
		Attachment: r.Attachment,
	}
	if r.CreatedAt != nil {
		msg.CreatedAt = r.CreatedAt.Time
	}
	if r.EditedAt != nil {
		editedAt := r.EditedAt.Time
		msg.EditedAt = &editedAt
	}
	for _, rr := range r.ReadBy {
		receipt := events.ReadReceipt{UserID: rr.UserID}
		if rr.ReadAt != nil {
			receipt.ReadAt = rr.ReadAt.Time
		}
		msg.ReadBy = append(msg.ReadBy, receipt)
	}
	return msg
}

// SurrealMessageStore persists chat messages in SurrealDB, one record per
// message with the readBy set embedded.
type SurrealMessageStore struct {
	db         *surrealdb.DB
	editWindow time.Duration
}

// NewSurrealMessageStore creates a store enforcing the given edit window.
func NewSurrealMessageStore(db *surrealdb.DB, editWindow time.Duration) *SurrealMessageStore {
	return &SurrealMessageStore{db: db, editWindow: editWindow}
}

// ListMessages returns up to limit messages of the ticket ending just
// before the cursor message, oldest first. An empty cursor means the newest
// page.
func (s *SurrealMessageStore) ListMessages(ctx context.Context, ticketID string, limit int, before string) ([]events.Message, error) {
	query := "SELECT * FROM message WHERE ticket_id = $ticket"
	params := map[string]any{"ticket": ticketID, "limit": limit}

	if before != "" {
		cursor, err := s.findRecord(ctx, before)
		if err != nil {
			return nil, err
		}
		query += " AND created_at < $before"
		params["before"] = cursor.CreatedAt
	}
	query += " ORDER BY created_at DESC LIMIT $limit"

	records, err := Query[messageRecord](ctx, s.db, query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	// Newest-first from the database, oldest-first on the wire.
	out := make([]events.Message, len(records))
	for i, r := range records {
		out[len(records)-1-i] = r.toEvent()
	}
	return out, nil
}

// UnreadCount counts the ticket's live messages the user has neither sent
// nor read.
func (s *SurrealMessageStore) UnreadCount(ctx context.Context, ticketID, userID string) (int, error) {
	query := `SELECT count() AS total FROM message
		WHERE ticket_id = $ticket
		AND sender.id != $user
		AND deleted = false
		AND $user NOT IN read_by.user_id
		GROUP ALL`
	params := map[string]any{"ticket": ticketID, "user": userID}

	type countRow struct {
		Total int `json:"total"`
	}
	row, err := QueryOne[countRow](ctx, s.db, query, params)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	if row == nil {
		return 0, nil
	}
	return row.Total, nil
}

// CreateMessage stores a new message and returns its canonical form.
func (s *SurrealMessageStore) CreateMessage(ctx context.Context, ticketID string, sender domain.User, content string, attachment *events.Attachment, kind events.MessageKind) (events.Message, error) {
	record := messageRecord{
		MessageID:  "msg-" + uuid.NewString(),
		TicketID:   ticketID,
		Sender:     sender,
		Content:    content,
		Kind:       kind,
		CreatedAt:  &surrealmodels.CustomDateTime{Time: time.Now().UTC()},
		ReadBy:     []readReceiptRecord{},
		Attachment: attachment,
	}

	query := fmt.Sprintf("CREATE %s CONTENT $data", messageTable)
	created, err := QueryOne[messageRecord](ctx, s.db, query, map[string]any{"data": record})
	if err != nil {
		return events.Message{}, fmt.Errorf("failed to create message: %w", err)
	}
	if created == nil {
		return events.Message{}, fmt.Errorf("create returned no record")
	}
	return created.toEvent(), nil
}

// EditMessage rewrites the message content. Only the author may edit, only
// within the edit window, and never a tombstone.
func (s *SurrealMessageStore) EditMessage(ctx context.Context, messageID, editorID, content string) (events.Message, error) {
	record, err := s.findRecord(ctx, messageID)
	if err != nil {
		return events.Message{}, err
	}
	switch {
	case record.Deleted:
		return events.Message{}, &domain.ValidationError{Field: "message", Reason: "has been deleted"}
	case record.Sender.ID != editorID:
		return events.Message{}, &domain.ValidationError{Field: "message", Reason: "may only be edited by its author"}
	case record.CreatedAt != nil && time.Since(record.CreatedAt.Time) > s.editWindow:
		return events.Message{}, &domain.ValidationError{Field: "message", Reason: "edit window has closed"}
	}

	editedAt := &surrealmodels.CustomDateTime{Time: time.Now().UTC()}
	query := "UPDATE message SET content = $content, edited_at = $edited_at WHERE message_id = $id RETURN AFTER"
	updated, err := QueryOne[messageRecord](ctx, s.db, query, map[string]any{
		"id": messageID, "content": content, "edited_at": editedAt,
	})
	if err != nil {
		return events.Message{}, fmt.Errorf("failed to edit message: %w", err)
	}
	if updated == nil {
		return events.Message{}, domain.ErrMessageNotFound
	}
	return updated.toEvent(), nil
}

// DeleteMessage tombstones the message in place and returns its deleted
// form. Authors may delete their own messages, elevated users anyone's.
// Deleting a tombstone is a no-op.
func (s *SurrealMessageStore) DeleteMessage(ctx context.Context, messageID string, actor domain.User) (events.Message, error) {
	record, err := s.findRecord(ctx, messageID)
	if err != nil {
		return events.Message{}, err
	}
	tombstone := record.toEvent()
	if tombstone.Deleted {
		return tombstone, nil
	}
	if record.Sender.ID != actor.ID && !actor.Elevated {
		return events.Message{}, &domain.ValidationError{Field: "message", Reason: "may only be deleted by its author or an agent"}
	}

	query := "UPDATE message SET deleted = true, content = $placeholder, attachment = NONE WHERE message_id = $id"
	if err := Execute(ctx, s.db, query, map[string]any{
		"id": messageID, "placeholder": events.DeletedPlaceholder,
	}); err != nil {
		return events.Message{}, fmt.Errorf("failed to delete message: %w", err)
	}
	tombstone.Tombstone()
	return tombstone, nil
}

// MarkRead stamps the user onto the message's readBy set. Idempotent.
func (s *SurrealMessageStore) MarkRead(ctx context.Context, messageID, userID string) error {
	query := `UPDATE message SET read_by += $receipt
		WHERE message_id = $id AND $user NOT IN read_by.user_id`
	return s.applyReceipt(ctx, query, map[string]any{"id": messageID, "user": userID})
}

// MarkAllRead stamps the user onto every message of the ticket they have
// not read yet, their own included.
func (s *SurrealMessageStore) MarkAllRead(ctx context.Context, ticketID, userID string) error {
	query := `UPDATE message SET read_by += $receipt
		WHERE ticket_id = $ticket AND $user NOT IN read_by.user_id`
	return s.applyReceipt(ctx, query, map[string]any{"ticket": ticketID, "user": userID})
}

func (s *SurrealMessageStore) applyReceipt(ctx context.Context, query string, params map[string]any) error {
	params["receipt"] = readReceiptRecord{
		UserID: params["user"].(string),
		ReadAt: &surrealmodels.CustomDateTime{Time: time.Now().UTC()},
	}
	if err := Execute(ctx, s.db, query, params); err != nil {
		return fmt.Errorf("failed to record read receipt: %w", err)
	}
	return nil
}

func (s *SurrealMessageStore) findRecord(ctx context.Context, messageID string) (*messageRecord, error) {
	record, err := QueryOne[messageRecord](ctx, s.db, "SELECT * FROM message WHERE message_id = $id", map[string]any{"id": messageID})
	if err != nil {
		return nil, fmt.Errorf("failed to load message: %w", err)
	}
	if record == nil {
		return nil, domain.ErrMessageNotFound
	}
	return record, nil
}
