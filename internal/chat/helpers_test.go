package chat_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veritest/veritest/internal/chat"
	"github.com/veritest/veritest/internal/chat/events"
	"github.com/veritest/veritest/internal/domain"
)

// emitted records one outbound event captured by the fake connection.
type emitted struct {
	Event   string
	Payload any
}

// fakeConn is an in-memory Conn. Tests push inbound envelopes and inspect
// what the client emitted.
type fakeConn struct {
	mu      sync.Mutex
	sent    []emitted
	emitErr error
	closed  bool

	events    chan events.Envelope
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{events: make(chan events.Envelope, 32)}
}

func (c *fakeConn) Emit(ctx context.Context, event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.emitErr != nil {
		return c.emitErr
	}
	c.sent = append(c.sent, emitted{Event: event, Payload: payload})
	return nil
}

func (c *fakeConn) Events() <-chan events.Envelope {
	return c.events
}

func (c *fakeConn) Close(reason string) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.events) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// push delivers an inbound event to the client.
func (c *fakeConn) push(event string, payload any) {
	env, err := events.NewEnvelope(event, payload)
	if err != nil {
		panic(err)
	}
	c.events <- env
}

// drop simulates an unclean connection loss.
func (c *fakeConn) drop() {
	c.closeOnce.Do(func() { close(c.events) })
}

// sentEvents returns the names of all emitted events, in order.
func (c *fakeConn) sentEvents() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	for i, e := range c.sent {
		out[i] = e.Event
	}
	return out
}

// countSent returns how many times event was emitted.
func (c *fakeConn) countSent(event string) int {
	n := 0
	for _, e := range c.sentEvents() {
		if e == event {
			n++
		}
	}
	return n
}

// fakeDialer hands out fakeConns, optionally failing the first transient
// dials or rejecting the credential outright.
type fakeDialer struct {
	mu        sync.Mutex
	conns     []*fakeConn
	dials     int
	transient int  // number of leading dials that fail with a transient error
	rejectAll bool // every dial fails with AuthError
}

func (d *fakeDialer) Dial(ctx context.Context, credential string) (chat.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.rejectAll {
		return nil, &domain.AuthError{Reason: "credential rejected"}
	}
	if d.dials <= d.transient {
		return nil, errors.New("connection refused")
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) lastConn() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// fakePersistence implements chat.Persistence with overridable behavior.
type fakePersistence struct {
	mu sync.Mutex

	fetchFn  func(ticketID string, limit int, before string) (chat.Page, error)
	createFn func(ticketID, content string) (events.Message, error)
	editFn   func(id, content string) (events.Message, error)
	deleteFn func(id string) error

	markedRead   []string
	markedAllFor []string
	markReadErr  error
	createdCount int
}

func (f *fakePersistence) FetchMessages(ctx context.Context, ticketID string, limit int, before string) (chat.Page, error) {
	if f.fetchFn != nil {
		return f.fetchFn(ticketID, limit, before)
	}
	return chat.Page{}, nil
}

func (f *fakePersistence) CreateMessage(ctx context.Context, ticketID, content string, attachment *events.Attachment, kind events.MessageKind) (events.Message, error) {
	f.mu.Lock()
	f.createdCount++
	f.mu.Unlock()
	if f.createFn != nil {
		return f.createFn(ticketID, content)
	}
	msg := canonicalMessage(ticketID, content)
	msg.Kind = kind
	msg.Attachment = attachment
	return msg, nil
}

func (f *fakePersistence) EditMessage(ctx context.Context, id, content string) (events.Message, error) {
	if f.editFn != nil {
		return f.editFn(id, content)
	}
	now := time.Now()
	return events.Message{ID: id, Content: content, Kind: events.KindText, Sender: self, EditedAt: &now}, nil
}

func (f *fakePersistence) DeleteMessage(ctx context.Context, id string) error {
	if f.deleteFn != nil {
		return f.deleteFn(id)
	}
	return nil
}

func (f *fakePersistence) MarkRead(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markedRead = append(f.markedRead, id)
	return f.markReadErr
}

func (f *fakePersistence) MarkAllRead(ctx context.Context, ticketID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markedAllFor = append(f.markedAllFor, ticketID)
	return nil
}

var (
	self  = domain.User{ID: "user-1", Name: "Avery"}
	other = domain.User{ID: "user-2", Name: "Brook"}
	agent = domain.User{ID: "agent-1", Name: "Casey", Elevated: true}
)

const testTicket = "ticket-42"

// canonicalMessage builds a server-shaped message from other defaults.
func canonicalMessage(ticketID, content string) events.Message {
	return events.Message{
		ID:        "msg-" + uuid.NewString(),
		TicketID:  ticketID,
		Sender:    self,
		Content:   content,
		Kind:      events.KindText,
		CreatedAt: time.Now(),
	}
}

// connectedRoom returns a connected Connection and a joined Room, plus the
// live fake connection for inspection.
func connectedRoom(t interface {
	Helper()
	Fatalf(string, ...any)
}) (*chat.Connection, *chat.Room, *fakeConn) {
	t.Helper()
	dialer := &fakeDialer{}
	conn := chat.NewConnection(dialer)
	if err := conn.Connect(context.Background(), "token"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	room := chat.NewRoom(conn)
	if err := room.Join(context.Background(), testTicket); err != nil {
		t.Fatalf("join: %v", err)
	}
	return conn, room, dialer.lastConn()
}
