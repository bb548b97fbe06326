package chat

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veritest/veritest/internal/chat/events"
	"github.com/veritest/veritest/internal/domain"
)

// DefaultPageSize is the number of messages fetched per history page.
const DefaultPageSize = 50

// DefaultEditWindow bounds how long after creation a message may be edited
// by its author.
const DefaultEditWindow = 5 * time.Minute

// ChangeKind describes how a store mutation altered the list.
type ChangeKind int

const (
	// ChangeReset replaced the whole list (initial load or refresh).
	ChangeReset ChangeKind = iota
	// ChangeAppend added one message at the end.
	ChangeAppend
	// ChangePrepend inserted an older page before the existing list.
	ChangePrepend
	// ChangeUpdate modified one message in place (edit, tombstone,
	// read receipt, pending resolution).
	ChangeUpdate
	// ChangeRemove dropped one message (failed optimistic send).
	ChangeRemove
)

// Change describes a single list mutation. Appended is true exactly when
// the mutation grew the end of the list, which is what a UI needs to decide
// "only auto-scroll if the view was at the bottom before this change".
type Change struct {
	Kind      ChangeKind
	MessageID string
	Appended  bool
}

// MessageStore holds the ordered, duplicate-free message list of one ticket
// and reconciles three inputs into it: durable fetches, optimistic local
// actions, and realtime events.
type MessageStore struct {
	persistence Persistence
	room        *Room
	user        domain.User

	pageSize   int
	editWindow time.Duration
	now        func() time.Time

	mu      sync.Mutex
	closed  bool
	list    []events.Message
	hasMore bool
	unread  int

	onChange func(Change)
}

// StoreOption configures a MessageStore.
type StoreOption func(*MessageStore)

// WithPageSize overrides the history page size.
func WithPageSize(n int) StoreOption {
	return func(s *MessageStore) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithEditWindow overrides how long a message stays editable.
func WithEditWindow(d time.Duration) StoreOption {
	return func(s *MessageStore) {
		if d > 0 {
			s.editWindow = d
		}
	}
}

// WithClock overrides the store's time source. Tests use this to step
// through the edit window.
func WithClock(now func() time.Time) StoreOption {
	return func(s *MessageStore) {
		s.now = now
	}
}

// NewMessageStore creates a store for the room's ticket on behalf of user.
func NewMessageStore(persistence Persistence, room *Room, user domain.User, opts ...StoreOption) *MessageStore {
	s := &MessageStore{
		persistence: persistence,
		room:        room,
		user:        user,
		pageSize:    DefaultPageSize,
		editWindow:  DefaultEditWindow,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnChange registers the single mutation listener. Must be set before the
// store is used; the callback must not call back into the store.
func (s *MessageStore) OnChange(fn func(Change)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Close marks the store torn down. Results of in-flight calls that resolve
// afterwards are detected and discarded rather than applied.
func (s *MessageStore) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Messages returns a snapshot of the current list, oldest first.
func (s *MessageStore) Messages() []events.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.Message, len(s.list))
	copy(out, s.list)
	return out
}

// HasMore reports whether older history pages remain. True exactly when the
// most recently fetched page was full.
func (s *MessageStore) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// UnreadCount returns the caller's unread counter for the ticket.
func (s *MessageStore) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// LastID returns the durable or temporary id of the newest entry, or "".
// A UI compares this against its bottom-most rendered entry to make the
// auto-scroll decision deterministic.
func (s *MessageStore) LastID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.list) == 0 {
		return ""
	}
	return s.list[len(s.list)-1].ID
}

// OldestID returns the id of the oldest loaded canonical entry, used as the
// cursor for the next history page. Pending entries never serve as cursors.
func (s *MessageStore) OldestID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.list {
		if !m.Pending {
			return m.ID
		}
	}
	return ""
}

// FetchPage loads one history page. With an empty cursor the result
// replaces the list (pending entries are kept at the end); with a cursor
// the page is prepended, deduplicated against what is already displayed,
// without re-sorting the existing entries.
func (s *MessageStore) FetchPage(ctx context.Context, before string) error {
	page, err := s.persistence.FetchMessages(ctx, s.room.TicketID(), s.pageSize, before)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}

	var change Change
	if before == "" {
		fresh := make([]events.Message, 0, len(page.Messages)+len(s.list))
		fresh = append(fresh, page.Messages...)
		for _, m := range s.list {
			if m.Pending {
				fresh = append(fresh, m)
			}
		}
		s.list = fresh
		s.unread = page.UnreadCount
		change = Change{Kind: ChangeReset}
	} else {
		older := make([]events.Message, 0, len(page.Messages))
		for _, m := range page.Messages {
			if !s.contains(m.ID) {
				older = append(older, m)
			}
		}
		s.list = append(older, s.list...)
		change = Change{Kind: ChangePrepend}
	}
	s.hasMore = len(page.Messages) == s.pageSize
	s.mu.Unlock()

	s.notify(change)
	return nil
}

// Send appends an optimistic pending message, hints the room over the
// realtime channel, and confirms through the durable store. On success the
// canonical message replaces the pending entry at the same position; on
// failure the pending entry is removed and the error is returned. Exactly
// one of those two always happens.
func (s *MessageStore) Send(ctx context.Context, content string, attachment *events.Attachment, kind events.MessageKind) (events.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" && attachment == nil {
		return events.Message{}, &domain.ValidationError{Field: "content", Reason: "must not be empty"}
	}
	if kind == "" {
		kind = events.KindText
		if attachment != nil {
			kind = events.KindFile
		}
	}

	pending := events.Message{
		ID:         "tmp-" + uuid.NewString(),
		TicketID:   s.room.TicketID(),
		Sender:     s.user,
		Content:    content,
		Kind:       kind,
		CreatedAt:  s.now(),
		Attachment: attachment,
		Pending:    true,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return events.Message{}, domain.ErrSessionClosed
	}
	s.list = append(s.list, pending)
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeAppend, MessageID: pending.ID, Appended: true})

	// Low-latency peer delivery. Best-effort: the durable path below is
	// what decides the send's fate.
	if err := s.room.Emit(ctx, events.SendMessage, events.SendMessagePayload{
		TicketID:    pending.TicketID,
		Message:     content,
		MessageType: kind,
	}); err != nil {
		slog.Debug("Realtime send hint failed", "error", err)
	}

	canonical, err := s.persistence.CreateMessage(ctx, pending.TicketID, content, attachment, kind)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return events.Message{}, domain.ErrSessionClosed
	}
	idx := s.indexOf(pending.ID)
	if err != nil {
		if idx >= 0 {
			s.list = append(s.list[:idx], s.list[idx+1:]...)
		}
		s.mu.Unlock()
		s.notify(Change{Kind: ChangeRemove, MessageID: pending.ID})
		return events.Message{}, err
	}

	if idx >= 0 {
		s.list[idx] = canonical
		s.mu.Unlock()
		s.notify(Change{Kind: ChangeUpdate, MessageID: canonical.ID})
		return canonical, nil
	}

	// The pending entry is gone (a socket echo already resolved it, or a
	// refresh replaced the list). Reconcile instead of appending blindly.
	list, outcome := Reconcile(s.list, canonical, s.user.ID)
	s.list = list
	s.mu.Unlock()
	if outcome == OutcomeAppended {
		s.notify(Change{Kind: ChangeAppend, MessageID: canonical.ID, Appended: true})
	}
	return canonical, nil
}

// Edit optimistically rewrites a message the current user owns, then
// confirms through the durable store. Policy violations fail with
// ValidationError before any network call; persistence failures restore the
// prior content.
func (s *MessageStore) Edit(ctx context.Context, id, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return &domain.ValidationError{Field: "content", Reason: "must not be empty"}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return domain.ErrMessageNotFound
	}
	prev := s.list[idx]
	switch {
	case prev.Pending:
		s.mu.Unlock()
		return &domain.ValidationError{Field: "message", Reason: "is still sending"}
	case prev.Deleted:
		s.mu.Unlock()
		return &domain.ValidationError{Field: "message", Reason: "has been deleted"}
	case prev.Sender.ID != s.user.ID:
		s.mu.Unlock()
		return &domain.ValidationError{Field: "message", Reason: "may only be edited by its author"}
	case s.now().Sub(prev.CreatedAt) > s.editWindow:
		s.mu.Unlock()
		return &domain.ValidationError{Field: "message", Reason: "edit window has closed"}
	}

	editedAt := s.now()
	optimistic := prev
	optimistic.Content = content
	optimistic.EditedAt = &editedAt
	s.list[idx] = optimistic
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeUpdate, MessageID: id})

	canonical, err := s.persistence.EditMessage(ctx, id, content)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	if idx = s.indexOf(id); idx >= 0 {
		if err != nil {
			s.list[idx] = prev
		} else {
			s.list[idx] = canonical
		}
	}
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeUpdate, MessageID: id})
	return err
}

// Delete tombstones a message: the entry keeps its id and position, the
// content becomes the fixed placeholder. Owners may delete their own
// messages; elevated users may delete any. Deleting a tombstone is a no-op.
func (s *MessageStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return domain.ErrMessageNotFound
	}
	prev := s.list[idx]
	if prev.Deleted {
		s.mu.Unlock()
		return nil
	}
	if prev.Sender.ID != s.user.ID && !s.user.Elevated {
		s.mu.Unlock()
		return &domain.ValidationError{Field: "message", Reason: "may only be deleted by its author or an agent"}
	}

	tombstone := prev
	tombstone.Tombstone()
	s.list[idx] = tombstone
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeUpdate, MessageID: id})

	err := s.persistence.DeleteMessage(ctx, id)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	if err != nil {
		if idx = s.indexOf(id); idx >= 0 {
			s.list[idx] = prev
		}
	}
	s.mu.Unlock()
	if err != nil {
		s.notify(Change{Kind: ChangeUpdate, MessageID: id})
	}
	return err
}

// ApplyIncoming merges a canonical message arriving over the realtime
// channel. Duplicates of already-held ids leave the list untouched.
func (s *MessageStore) ApplyIncoming(msg events.Message) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	list, outcome := Reconcile(s.list, msg, s.user.ID)
	s.list = list
	if outcome == OutcomeAppended && msg.Sender.ID != s.user.ID && !msg.ReadByUser(s.user.ID) {
		s.unread++
	}
	s.mu.Unlock()

	switch outcome {
	case OutcomeAppended:
		s.notify(Change{Kind: ChangeAppend, MessageID: msg.ID, Appended: true})
	case OutcomeReplacedPending, OutcomeTombstoned:
		s.notify(Change{Kind: ChangeUpdate, MessageID: msg.ID})
	}
}

// markReadLocal stamps userID onto the message's readBy set. Idempotent:
// re-marking is a no-op. decrement controls whether the unread counter
// moves (only for the local user's own marks); skipOwn enforces the remote
// rule that receipts never land on the reader's own messages.
func (s *MessageStore) markReadLocal(messageID, userID string, at time.Time, decrement, skipOwn bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	idx := s.indexOf(messageID)
	if idx < 0 || s.list[idx].ReadByUser(userID) {
		return false
	}
	if skipOwn && s.list[idx].Sender.ID == userID {
		return false
	}
	s.list[idx].ReadBy = append(s.list[idx].ReadBy, events.ReadReceipt{UserID: userID, ReadAt: at})
	if decrement && s.unread > 0 {
		s.unread--
	}
	return true
}

// markAllReadLocal stamps userID onto every loaded message and zeroes the
// unread counter. Returns the ids that were newly marked.
func (s *MessageStore) markAllReadLocal(userID string, at time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	var marked []string
	for i := range s.list {
		if s.list[i].ReadByUser(userID) {
			continue
		}
		s.list[i].ReadBy = append(s.list[i].ReadBy, events.ReadReceipt{UserID: userID, ReadAt: at})
		marked = append(marked, s.list[i].ID)
	}
	s.unread = 0
	return marked
}

func (s *MessageStore) indexOf(id string) int {
	for i, m := range s.list {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func (s *MessageStore) contains(id string) bool {
	return s.indexOf(id) >= 0
}

func (s *MessageStore) notify(c Change) {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}
