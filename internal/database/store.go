package database

import (
	"context"

	"github.com/veritest/veritest/internal/chat/events"
	"github.com/veritest/veritest/internal/domain"
)

// MessageRepository defines the durable message operations the API handlers
// depend on. This allows for dependency injection and easier testing of
// handlers.
type MessageRepository interface {
	ListMessages(ctx context.Context, ticketID string, limit int, before string) ([]events.Message, error)
	UnreadCount(ctx context.Context, ticketID, userID string) (int, error)
	CreateMessage(ctx context.Context, ticketID string, sender domain.User, content string, attachment *events.Attachment, kind events.MessageKind) (events.Message, error)
	EditMessage(ctx context.Context, messageID, editorID, content string) (events.Message, error)
	DeleteMessage(ctx context.Context, messageID string, actor domain.User) (events.Message, error)
	MarkRead(ctx context.Context, messageID, userID string) error
	MarkAllRead(ctx context.Context, ticketID, userID string) error
}

var _ MessageRepository = (*SurrealMessageStore)(nil)
var _ MessageRepository = (*MemoryMessageStore)(nil)
