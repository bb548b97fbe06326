package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/veritest/veritest/internal/chat/events"
	"github.com/veritest/veritest/internal/domain"
)

// State is the connection lifecycle state. Transitions happen only through
// the Connection's own methods.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Reconnection defaults. Deployments can override them per Connection via
// WithBackoff.
const (
	DefaultReconnectInitial  = 500 * time.Millisecond
	DefaultReconnectMax      = 10 * time.Second
	DefaultReconnectAttempts = 5
)

// BackoffPolicy bounds the automatic retry loop: a growing delay starting at
// Initial, doubling per attempt, capped at Max, for at most Attempts dials.
type BackoffPolicy struct {
	Initial  time.Duration
	Max      time.Duration
	Attempts int
}

// DefaultBackoff returns the policy the shipped product uses.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		Initial:  DefaultReconnectInitial,
		Max:      DefaultReconnectMax,
		Attempts: DefaultReconnectAttempts,
	}
}

// Delay returns the wait before retry number attempt (0-based).
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	d := p.Initial
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.Max {
			return p.Max
		}
	}
	if d > p.Max {
		return p.Max
	}
	return d
}

// Connection owns the realtime channel lifecycle: connect, disconnect,
// reconnect-with-backoff, and the inbound event stream. Each chat session
// owns its own Connection instance; there is no process-wide channel.
type Connection struct {
	dialer Dialer
	policy BackoffPolicy

	mu         sync.Mutex
	state      State
	conn       Conn
	credential string
	// explicit is set by Disconnect. While set, no automatic reconnection
	// is attempted.
	explicit bool

	// events is the stable inbound stream consumers read across
	// reconnects. Underlying connections are pumped into it.
	events chan events.Envelope

	cbMu     sync.Mutex
	onChange []func(State)
}

// ConnectionOption configures a Connection.
type ConnectionOption func(*Connection)

// WithBackoff overrides the reconnect policy.
func WithBackoff(p BackoffPolicy) ConnectionOption {
	return func(c *Connection) {
		if p.Initial > 0 && p.Max >= p.Initial && p.Attempts > 0 {
			c.policy = p
		}
	}
}

// NewConnection creates a disconnected Connection using the given dialer.
func NewConnection(dialer Dialer, opts ...ConnectionOption) *Connection {
	c := &Connection{
		dialer: dialer,
		policy: DefaultBackoff(),
		events: make(chan events.Envelope, 64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnStateChange registers a callback invoked on every state transition.
// Callbacks must be registered before Connect and must not block.
func (c *Connection) OnStateChange(fn func(State)) {
	c.cbMu.Lock()
	c.onChange = append(c.onChange, fn)
	c.cbMu.Unlock()
}

// State returns the current connection state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the channel is currently established.
func (c *Connection) IsConnected() bool {
	return c.State() == Connected
}

// Events returns the inbound event stream. The channel stays open across
// reconnects; it never closes for the lifetime of the Connection.
func (c *Connection) Events() <-chan events.Envelope {
	return c.events
}

// Connect establishes the channel. A missing credential fails immediately
// with an AuthError, as does a rejected one; transient dial failures are
// retried with growing backoff until the attempt ceiling, after which the
// state settles at Disconnected and a ConnectionError is returned.
func (c *Connection) Connect(ctx context.Context, credential string) error {
	if credential == "" {
		return &domain.AuthError{Reason: "missing credential"}
	}

	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = Connecting
	c.explicit = false
	c.credential = credential
	c.mu.Unlock()
	c.notify(Connecting)

	var lastErr error
	for attempt := 0; attempt < c.policy.Attempts; attempt++ {
		if attempt > 0 {
			delay := c.policy.Delay(attempt - 1)
			slog.Debug("Retrying realtime connect", "attempt", attempt+1, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				c.settle(Disconnected)
				return &domain.ConnectionError{Op: "connect", Err: ctx.Err()}
			}
		}

		conn, err := c.dialer.Dial(ctx, credential)
		if err == nil {
			if !c.attach(conn) {
				// Disconnect was called while dialing.
				conn.Close("superseded")
				return &domain.ConnectionError{Op: "connect", Err: domain.ErrNotConnected}
			}
			return nil
		}
		if domain.IsAuthError(err) {
			c.settle(Disconnected)
			return err
		}
		lastErr = err
		slog.Warn("Realtime dial failed", "attempt", attempt+1, "error", err)
	}

	c.settle(Disconnected)
	return &domain.ConnectionError{Op: "connect", Err: lastErr}
}

// Disconnect tears the channel down. After it returns, no automatic
// reconnection is attempted until a new Connect call.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	c.explicit = true
	conn := c.conn
	c.conn = nil
	changed := c.state != Disconnected
	c.state = Disconnected
	c.mu.Unlock()

	if conn != nil {
		conn.Close("client disconnect")
	}
	if changed {
		c.notify(Disconnected)
	}
}

// Emit sends an event over the current connection. Returns a
// ConnectionError when the channel is down.
func (c *Connection) Emit(ctx context.Context, event string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return &domain.ConnectionError{Op: "emit " + event, Err: domain.ErrNotConnected}
	}
	return conn.Emit(ctx, event, payload)
}

// attach installs a freshly dialed connection and starts its pump. Returns
// false when an explicit Disconnect raced the dial.
func (c *Connection) attach(conn Conn) bool {
	c.mu.Lock()
	if c.explicit {
		c.mu.Unlock()
		return false
	}
	c.conn = conn
	c.state = Connected
	c.mu.Unlock()

	c.notify(Connected)
	go c.pump(conn)
	return true
}

// pump copies inbound envelopes onto the stable event stream until the
// underlying connection closes, then decides whether to reconnect.
func (c *Connection) pump(conn Conn) {
	for env := range conn.Events() {
		c.events <- env
	}

	c.mu.Lock()
	if c.conn != conn {
		// A newer connection has already taken over.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	explicit := c.explicit
	credential := c.credential
	c.state = Disconnected
	c.mu.Unlock()
	c.notify(Disconnected)

	if explicit {
		return
	}

	slog.Info("Realtime connection dropped, attempting to reconnect")
	go func() {
		if err := c.Connect(context.Background(), credential); err != nil {
			slog.Error("Automatic reconnect failed", "error", err)
		}
	}()
}

// settle moves to the given terminal state, notifying when it changed.
func (c *Connection) settle(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed {
		c.notify(s)
	}
}

func (c *Connection) notify(s State) {
	c.cbMu.Lock()
	cbs := make([]func(State), len(c.onChange))
	copy(cbs, c.onChange)
	c.cbMu.Unlock()
	for _, fn := range cbs {
		fn(s)
	}
}
