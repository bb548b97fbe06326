package events

import (
	"time"

	"github.com/veritest/veritest/internal/domain"
)

// MessageKind tags the message variant. Each kind carries only the fields
// relevant to its case: text and system messages have content, file messages
// additionally carry attachment metadata.
type MessageKind string

const (
	KindText   MessageKind = "text"
	KindFile   MessageKind = "file"
	KindSystem MessageKind = "system"
)

// DeletedPlaceholder is the fixed content a tombstoned message displays.
// The entry keeps its id and list position so thread continuity survives.
const DeletedPlaceholder = "This message was deleted"

// Attachment is the opaque file metadata returned by the storage boundary.
// The chat core never processes attachment bytes.
type Attachment struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// ReadReceipt records that a user has seen a message. At most one receipt
// per user exists on a message.
type ReadReceipt struct {
	UserID string    `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

// Message is the canonical chat message exchanged over the wire and held in
// the MessageStore. While a locally-issued send awaits durable confirmation
// the entry carries a temporary id and Pending is set; exactly one canonical
// entry per durable id ever exists in a store.
type Message struct {
	ID         string        `json:"id"`
	TicketID   string        `json:"ticketId"`
	Sender     domain.User   `json:"sender"`
	Content    string        `json:"content"`
	Kind       MessageKind   `json:"kind"`
	CreatedAt  time.Time     `json:"createdAt"`
	EditedAt   *time.Time    `json:"editedAt,omitempty"`
	Deleted    bool          `json:"deleted,omitempty"`
	ReadBy     []ReadReceipt `json:"readBy,omitempty"`
	Attachment *Attachment   `json:"attachment,omitempty"`

	// Pending marks a local optimistic entry awaiting the durable store's
	// confirmation. Never serialized.
	Pending bool `json:"-"`
}

// ReadByUser reports whether userID already appears in the readBy set.
func (m Message) ReadByUser(userID string) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// Tombstone converts the message into its deleted form in place. Calling it
// on an already-deleted message is a no-op.
func (m *Message) Tombstone() {
	if m.Deleted {
		return
	}
	m.Deleted = true
	m.Content = DeletedPlaceholder
	m.Attachment = nil
}
