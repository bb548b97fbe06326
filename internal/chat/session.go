package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/veritest/veritest/internal/chat/events"
	"github.com/veritest/veritest/internal/domain"
)

// NoticeLevel classifies user-visible notices surfaced by the session.
type NoticeLevel int

const (
	NoticeInfo NoticeLevel = iota
	NoticeWarn
	NoticeError
)

// Notice is a user-visible message the UI should show without interrupting
// the conversation.
type Notice struct {
	Level NoticeLevel
	Text  string
}

// Session composes the connection, room, message store, and trackers into
// the single action surface the UI consumes. One Session serves one ticket
// conversation for one user; sessions are independent and never share
// state.
type Session struct {
	conn     *Connection
	room     *Room
	store    *MessageStore
	typing   *TypingTracker
	presence *PresenceTracker
	receipts *ReadReceiptTracker

	user     domain.User
	ticketID string

	mu     sync.Mutex
	active bool
	cancel context.CancelFunc

	onNotice        func(Notice)
	onTicketUpdated func(json.RawMessage)
}

// SessionOption configures a Session at construction time.
type SessionOption func(*sessionConfig)

type sessionConfig struct {
	backoff      *BackoffPolicy
	pageSize     int
	editWindow   time.Duration
	typingIdle   time.Duration
	remoteExpiry time.Duration
}

// WithSessionBackoff overrides the connection retry policy.
func WithSessionBackoff(p BackoffPolicy) SessionOption {
	return func(c *sessionConfig) { c.backoff = &p }
}

// WithSessionPageSize overrides the history page size.
func WithSessionPageSize(n int) SessionOption {
	return func(c *sessionConfig) { c.pageSize = n }
}

// WithSessionEditWindow overrides the message edit window.
func WithSessionEditWindow(d time.Duration) SessionOption {
	return func(c *sessionConfig) { c.editWindow = d }
}

// WithSessionTypingIdle overrides the typing quiet interval.
func WithSessionTypingIdle(d time.Duration) SessionOption {
	return func(c *sessionConfig) { c.typingIdle = d }
}

// WithSessionRemoteTypingExpiry enables local eviction of stale remote
// typing entries.
func WithSessionRemoteTypingExpiry(d time.Duration) SessionOption {
	return func(c *sessionConfig) { c.remoteExpiry = d }
}

// NewSession wires a session for one ticket on behalf of user. Nothing
// connects until Activate.
func NewSession(dialer Dialer, persistence Persistence, user domain.User, ticketID string, opts ...SessionOption) *Session {
	var cfg sessionConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	var connOpts []ConnectionOption
	if cfg.backoff != nil {
		connOpts = append(connOpts, WithBackoff(*cfg.backoff))
	}
	conn := NewConnection(dialer, connOpts...)
	room := NewRoom(conn)

	var storeOpts []StoreOption
	if cfg.pageSize > 0 {
		storeOpts = append(storeOpts, WithPageSize(cfg.pageSize))
	}
	if cfg.editWindow > 0 {
		storeOpts = append(storeOpts, WithEditWindow(cfg.editWindow))
	}
	store := NewMessageStore(persistence, room, user, storeOpts...)

	var typingOpts []TypingOption
	if cfg.typingIdle > 0 {
		typingOpts = append(typingOpts, WithTypingIdle(cfg.typingIdle))
	}
	if cfg.remoteExpiry > 0 {
		typingOpts = append(typingOpts, WithRemoteExpiry(cfg.remoteExpiry))
	}

	s := &Session{
		conn:     conn,
		room:     room,
		store:    store,
		typing:   NewTypingTracker(room, typingOpts...),
		presence: NewPresenceTracker(),
		receipts: NewReadReceiptTracker(persistence, store, room, user),
		user:     user,
		ticketID: ticketID,
	}

	conn.OnStateChange(s.handleStateChange)
	return s
}

// Store exposes the message store for list snapshots and change listening.
func (s *Session) Store() *MessageStore { return s.store }

// Typing exposes the typing tracker for typist snapshots.
func (s *Session) Typing() *TypingTracker { return s.typing }

// Presence exposes the presence tracker for online snapshots.
func (s *Session) Presence() *PresenceTracker { return s.presence }

// ConnectionState returns the current realtime channel state.
func (s *Session) ConnectionState() State { return s.conn.State() }

// OnNotice registers the user-visible notice callback.
func (s *Session) OnNotice(fn func(Notice)) {
	s.mu.Lock()
	s.onNotice = fn
	s.mu.Unlock()
}

// OnTicketUpdated registers a callback for ticket-updated events. The
// ticket body is opaque to the chat core.
func (s *Session) OnTicketUpdated(fn func(json.RawMessage)) {
	s.mu.Lock()
	s.onTicketUpdated = fn
	s.mu.Unlock()
}

// Activate brings the session up: connect (when not already connected),
// join the ticket room, load the first history page, and start dispatching
// inbound events. Idempotent while active.
func (s *Session) Activate(ctx context.Context, credential string) error {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if !s.conn.IsConnected() {
		if err := s.conn.Connect(ctx, credential); err != nil {
			return err
		}
	}
	if err := s.room.Join(ctx, s.ticketID); err != nil {
		s.conn.Disconnect()
		return err
	}
	if err := s.store.FetchPage(ctx, ""); err != nil {
		// History can be retried; an unusable room cannot. Surface the
		// failure but keep the session up, degraded.
		s.notice(Notice{Level: NoticeWarn, Text: "Could not load message history"})
		slog.Warn("Initial history fetch failed", "ticketID", s.ticketID, "error", err)
	}

	dispatchCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.active = true
	s.cancel = cancel
	s.mu.Unlock()

	go s.dispatch(dispatchCtx)
	return nil
}

// Deactivate tears the session down: leave the room (best-effort, even when
// the connection is already gone), disconnect, cancel every owned timer,
// and stop the dispatch loop. Responses of in-flight calls arriving later
// are discarded. Idempotent.
func (s *Session) Deactivate() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	ctx, cancelLeave := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelLeave()
	s.typing.Close()
	s.room.Leave(ctx)
	s.conn.Disconnect()
	s.store.Close()
	s.presence.Reset()
}

// Send posts a message to the conversation.
func (s *Session) Send(ctx context.Context, content string, attachment *events.Attachment, kind events.MessageKind) (events.Message, error) {
	if err := s.ready(); err != nil {
		return events.Message{}, err
	}
	// Sending ends the typing burst immediately.
	if err := s.typing.Stop(ctx); err != nil {
		slog.Debug("Typing stop on send failed", "error", err)
	}
	msg, err := s.store.Send(ctx, content, attachment, kind)
	if err != nil && !domain.IsValidationError(err) {
		s.notice(Notice{Level: NoticeError, Text: "Message could not be sent. Try again."})
	}
	return msg, err
}

// Edit rewrites one of the current user's messages.
func (s *Session) Edit(ctx context.Context, messageID, content string) error {
	if err := s.ready(); err != nil {
		return err
	}
	err := s.store.Edit(ctx, messageID, content)
	if err != nil && !domain.IsValidationError(err) {
		s.notice(Notice{Level: NoticeError, Text: "Message could not be edited."})
	}
	return err
}

// Delete tombstones a message.
func (s *Session) Delete(ctx context.Context, messageID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	err := s.store.Delete(ctx, messageID)
	if err != nil && !domain.IsValidationError(err) {
		s.notice(Notice{Level: NoticeError, Text: "Message could not be deleted."})
	}
	return err
}

// MarkRead records that the current user has read the message.
func (s *Session) MarkRead(ctx context.Context, messageID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.receipts.MarkRead(ctx, messageID)
}

// MarkAllRead records that the current user has read the whole
// conversation.
func (s *Session) MarkAllRead(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.receipts.MarkAllRead(ctx)
}

// StartTyping signals a typing burst; safe to call per keystroke.
func (s *Session) StartTyping(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.typing.Start(ctx)
}

// StopTyping ends the typing burst immediately.
func (s *Session) StopTyping(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.typing.Stop(ctx)
}

// LoadMore fetches the next older history page.
func (s *Session) LoadMore(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	cursor := s.store.OldestID()
	if cursor == "" {
		return nil
	}
	return s.store.FetchPage(ctx, cursor)
}

// Refresh reloads the newest history page, replacing the list.
func (s *Session) Refresh(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.store.FetchPage(ctx, "")
}

// ready enforces the connected-and-joined precondition every action shares.
// Violations are reported as errors, never as panics.
func (s *Session) ready() error {
	if !s.conn.IsConnected() {
		return &domain.ConnectionError{Op: "action", Err: domain.ErrNotConnected}
	}
	if !s.room.Joined() {
		return &domain.ConnectionError{Op: "action", Err: domain.ErrNotJoined}
	}
	return nil
}

// dispatch routes inbound realtime events to the owning component until the
// session is deactivated.
func (s *Session) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-s.conn.Events():
			s.route(env)
		}
	}
}

func (s *Session) route(env events.Envelope) {
	switch env.Event {
	case events.NewMessage:
		var p events.NewMessagePayload
		if err := env.Decode(&p); err != nil {
			slog.Error("Malformed new-message event", "error", err)
			return
		}
		s.store.ApplyIncoming(p.Message)

	case events.UserTyping:
		var p events.UserTypingPayload
		if err := env.Decode(&p); err != nil {
			slog.Error("Malformed user-typing event", "error", err)
			return
		}
		s.typing.ApplyRemote(p, s.user.ID)

	case events.UserJoined, events.UserLeft:
		var p events.UserPresencePayload
		if err := env.Decode(&p); err != nil {
			slog.Error("Malformed presence event", "error", err)
			return
		}
		s.presence.Apply(env.Event == events.UserJoined, p)

	case events.MessageRead:
		var p events.MessageReadPayload
		if err := env.Decode(&p); err != nil {
			slog.Error("Malformed message-read event", "error", err)
			return
		}
		s.receipts.ApplyRemote(p)

	case events.TicketUpdated:
		var p events.TicketUpdatedPayload
		if err := env.Decode(&p); err != nil {
			slog.Error("Malformed ticket-updated event", "error", err)
			return
		}
		s.mu.Lock()
		fn := s.onTicketUpdated
		s.mu.Unlock()
		if fn != nil {
			fn(p.Ticket)
		}

	case events.Error:
		var p events.ErrorPayload
		if err := env.Decode(&p); err != nil {
			slog.Error("Malformed error event", "error", err)
			return
		}
		s.notice(Notice{Level: NoticeError, Text: p.Reason})

	default:
		slog.Debug("Ignoring unknown realtime event", "event", env.Event)
	}
}

// handleStateChange reacts to connection transitions: rejoining the room
// after a reconnect, and clearing transient remote state on a drop.
func (s *Session) handleStateChange(state State) {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if !active {
		return
	}

	switch state {
	case Connected:
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.room.Rejoin(ctx)
		s.notice(Notice{Level: NoticeInfo, Text: "Reconnected"})
	case Disconnected:
		s.typing.ClearRemote()
		s.presence.Reset()
		s.notice(Notice{Level: NoticeWarn, Text: "Connection lost. Reconnecting…"})
	}
}

func (s *Session) notice(n Notice) {
	s.mu.Lock()
	fn := s.onNotice
	s.mu.Unlock()
	if fn != nil {
		fn(n)
	}
}
