package chat

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/veritest/veritest/internal/chat/events"
)

// DefaultTypingIdle is the quiet interval after which a typing burst is
// considered over and typing-stop is emitted automatically.
const DefaultTypingIdle = time.Second

// TypingUser is one remote user currently composing a message.
type TypingUser struct {
	ID   string
	Name string
}

// TypingTracker debounces the local user's typing signal and tracks which
// remote users are typing. The start event is emitted only on the
// transition into typing, never per keystroke; the stop event fires either
// explicitly (on send) or automatically after the idle interval, even when
// the caller never calls Stop.
type TypingTracker struct {
	room *Room
	idle *Debounce

	mu     sync.Mutex
	typing bool
	closed bool

	remote       map[string]string // userID -> display name
	remoteExpiry time.Duration
	remoteTimers map[string]*time.Timer

	onChange func([]TypingUser)
}

// TypingOption configures a TypingTracker.
type TypingOption func(*TypingTracker)

// WithTypingIdle overrides the local quiet interval.
func WithTypingIdle(d time.Duration) TypingOption {
	return func(t *TypingTracker) {
		if d > 0 {
			t.idle = NewDebounce(d)
		}
	}
}

// WithRemoteExpiry evicts remote typing entries that have not been
// refreshed within d. Disabled by default (0): a remote client that
// vanishes uncleanly without emitting typing-stop then stays visible, which
// matches the server contract where removal is event-driven. Enable this
// for a locally-inferred safety net.
func WithRemoteExpiry(d time.Duration) TypingOption {
	return func(t *TypingTracker) {
		t.remoteExpiry = d
	}
}

// NewTypingTracker creates a tracker scoped to the given room.
func NewTypingTracker(room *Room, opts ...TypingOption) *TypingTracker {
	t := &TypingTracker{
		room:         room,
		idle:         NewDebounce(DefaultTypingIdle),
		remote:       make(map[string]string),
		remoteTimers: make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OnChange registers a callback invoked with the new typist snapshot
// whenever the remote set changes.
func (t *TypingTracker) OnChange(fn func([]TypingUser)) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

// Start signals that the local user is typing. Emits typing-start only on
// the transition from not-typing to typing and (re)arms the idle timer on
// every call.
func (t *TypingTracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	first := !t.typing
	t.typing = true
	t.mu.Unlock()

	if first {
		if err := t.room.Emit(ctx, events.TypingStart, events.RoomRef{TicketID: t.room.TicketID()}); err != nil {
			t.mu.Lock()
			t.typing = false
			t.mu.Unlock()
			return err
		}
	}

	// Rearm on every keystroke; expiry emits the stop even if the caller
	// never calls Stop explicitly.
	t.idle.Trigger(func() {
		if err := t.Stop(context.Background()); err != nil {
			slog.Debug("Automatic typing-stop failed", "error", err)
		}
	})
	return nil
}

// Stop signals the end of the typing burst immediately, canceling the idle
// timer. A no-op when the user was not typing.
func (t *TypingTracker) Stop(ctx context.Context) error {
	t.idle.Cancel()

	t.mu.Lock()
	if t.closed || !t.typing {
		t.mu.Unlock()
		return nil
	}
	t.typing = false
	t.mu.Unlock()

	return t.room.Emit(ctx, events.TypingStop, events.RoomRef{TicketID: t.room.TicketID()})
}

// ApplyRemote updates the remote typist set from a user-typing event. The
// local user's own echoes are ignored when userID matches self.
func (t *TypingTracker) ApplyRemote(p events.UserTypingPayload, selfID string) {
	if p.UserID == "" || p.UserID == selfID {
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	changed := false
	if p.IsTyping {
		if _, ok := t.remote[p.UserID]; !ok {
			changed = true
		}
		t.remote[p.UserID] = p.UserName
		t.armRemoteExpiryLocked(p.UserID)
	} else {
		if _, ok := t.remote[p.UserID]; ok {
			delete(t.remote, p.UserID)
			changed = true
		}
		t.cancelRemoteExpiryLocked(p.UserID)
	}
	fn := t.onChange
	var snapshot []TypingUser
	if changed && fn != nil {
		snapshot = t.typistsLocked()
	}
	t.mu.Unlock()

	if changed && fn != nil {
		fn(snapshot)
	}
}

// Typists returns the remote users currently typing, ordered by id for
// stable rendering.
func (t *TypingTracker) Typists() []TypingUser {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.typistsLocked()
}

// ClearRemote drops all remote typist entries and their timers, used when
// the connection drops and the remote state can no longer be trusted.
func (t *TypingTracker) ClearRemote() {
	t.mu.Lock()
	changed := len(t.remote) > 0
	for id, timer := range t.remoteTimers {
		timer.Stop()
		delete(t.remoteTimers, id)
	}
	t.remote = make(map[string]string)
	fn := t.onChange
	t.mu.Unlock()

	if changed && fn != nil {
		fn(nil)
	}
}

// Close cancels all owned timers and clears state. Called on session
// teardown; the tracker is unusable afterwards.
func (t *TypingTracker) Close() {
	t.idle.Cancel()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.typing = false
	for id, timer := range t.remoteTimers {
		timer.Stop()
		delete(t.remoteTimers, id)
	}
	t.remote = make(map[string]string)
}

func (t *TypingTracker) typistsLocked() []TypingUser {
	out := make([]TypingUser, 0, len(t.remote))
	for id, name := range t.remote {
		out = append(out, TypingUser{ID: id, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *TypingTracker) armRemoteExpiryLocked(userID string) {
	if t.remoteExpiry <= 0 {
		return
	}
	if timer, ok := t.remoteTimers[userID]; ok {
		timer.Stop()
	}
	t.remoteTimers[userID] = time.AfterFunc(t.remoteExpiry, func() {
		t.expireRemote(userID)
	})
}

func (t *TypingTracker) cancelRemoteExpiryLocked(userID string) {
	if timer, ok := t.remoteTimers[userID]; ok {
		timer.Stop()
		delete(t.remoteTimers, userID)
	}
}

func (t *TypingTracker) expireRemote(userID string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	_, ok := t.remote[userID]
	if ok {
		delete(t.remote, userID)
	}
	delete(t.remoteTimers, userID)
	fn := t.onChange
	var snapshot []TypingUser
	if ok && fn != nil {
		snapshot = t.typistsLocked()
	}
	t.mu.Unlock()

	if ok && fn != nil {
		fn(snapshot)
	}
}
