package chat_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veritest/veritest/internal/chat"
	"github.com/veritest/veritest/internal/chat/events"
	"github.com/veritest/veritest/internal/domain"
)

// historyPage builds n canonical messages from other, ids prefixed for
// uniqueness.
func historyPage(prefix string, n int) []events.Message {
	out := make([]events.Message, n)
	base := time.Now().Add(-time.Hour)
	for i := range out {
		out[i] = events.Message{
			ID:        fmt.Sprintf("%s-%d", prefix, i),
			TicketID:  testTicket,
			Sender:    other,
			Content:   fmt.Sprintf("message %d", i),
			Kind:      events.KindText,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
	}
	return out
}

func newStore(t *testing.T, p *fakePersistence, opts ...chat.StoreOption) (*chat.MessageStore, *fakeConn) {
	t.Helper()
	_, room, fc := connectedRoom(t)
	return chat.NewMessageStore(p, room, self, opts...), fc
}

func TestMessageStore_FetchPageEmptyTicket(t *testing.T) {
	p := &fakePersistence{}
	store, _ := newStore(t, p)

	require.NoError(t, store.FetchPage(context.Background(), ""))

	assert.Empty(t, store.Messages())
	assert.False(t, store.HasMore())
	assert.Zero(t, store.UnreadCount())
}

func TestMessageStore_HasMoreTracksPageFullness(t *testing.T) {
	p := &fakePersistence{}
	p.fetchFn = func(ticketID string, limit int, before string) (chat.Page, error) {
		if before == "" {
			return chat.Page{Messages: historyPage("new", limit), UnreadCount: 3}, nil
		}
		return chat.Page{Messages: historyPage("old", limit-1)}, nil
	}
	store, _ := newStore(t, p, chat.WithPageSize(10))

	require.NoError(t, store.FetchPage(context.Background(), ""))
	assert.True(t, store.HasMore(), "a full page means older history remains")
	assert.Equal(t, 3, store.UnreadCount())
	assert.Len(t, store.Messages(), 10)

	require.NoError(t, store.FetchPage(context.Background(), store.OldestID()))
	assert.False(t, store.HasMore(), "a short page means history is exhausted")
	assert.Len(t, store.Messages(), 19)
}

func TestMessageStore_PrependKeepsDisplayedOrder(t *testing.T) {
	p := &fakePersistence{}
	first := historyPage("new", 5)
	older := historyPage("old", 5)
	p.fetchFn = func(ticketID string, limit int, before string) (chat.Page, error) {
		if before == "" {
			return chat.Page{Messages: first}, nil
		}
		assert.Equal(t, "new-0", before, "cursor must be the oldest loaded id")
		return chat.Page{Messages: older}, nil
	}
	store, _ := newStore(t, p, chat.WithPageSize(5))

	require.NoError(t, store.FetchPage(context.Background(), ""))
	require.NoError(t, store.FetchPage(context.Background(), store.OldestID()))

	got := store.Messages()
	require.Len(t, got, 10)
	assert.Equal(t, "old-0", got[0].ID)
	assert.Equal(t, "new-4", got[9].ID)
	assert.Equal(t, "new-4", store.LastID())
}

func TestMessageStore_PrependDeduplicatesAgainstDisplayed(t *testing.T) {
	p := &fakePersistence{}
	first := historyPage("page", 4)
	p.fetchFn = func(ticketID string, limit int, before string) (chat.Page, error) {
		if before == "" {
			return chat.Page{Messages: first[2:]}, nil
		}
		// The older page overlaps the two newest already displayed.
		return chat.Page{Messages: first}, nil
	}
	store, _ := newStore(t, p, chat.WithPageSize(4))

	require.NoError(t, store.FetchPage(context.Background(), ""))
	require.NoError(t, store.FetchPage(context.Background(), store.OldestID()))

	got := store.Messages()
	require.Len(t, got, 4)
	seen := map[string]bool{}
	for _, m := range got {
		assert.False(t, seen[m.ID], "no duplicate durable ids: %s", m.ID)
		seen[m.ID] = true
	}
}

func TestMessageStore_SendOptimisticThenCanonical(t *testing.T) {
	p := &fakePersistence{}
	done := make(chan struct{})
	p.createFn = func(ticketID, content string) (events.Message, error) {
		<-done // hold the durable call until the test inspects pending state
		return canonicalMessage(ticketID, content), nil
	}
	store, fc := newStore(t, p)

	sent := make(chan events.Message, 1)
	errs := make(chan error, 1)
	go func() {
		m, err := store.Send(context.Background(), "hello", nil, events.KindText)
		sent <- m
		errs <- err
	}()

	require.Eventually(t, func() bool { return len(store.Messages()) == 1 }, time.Second, time.Millisecond)
	pending := store.Messages()[0]
	assert.True(t, pending.Pending)
	assert.Contains(t, pending.ID, "tmp-")
	assert.Equal(t, "hello", pending.Content)

	close(done)
	msg := <-sent
	require.NoError(t, <-errs)

	got := store.Messages()
	require.Len(t, got, 1, "canonical must replace, not add")
	assert.False(t, got[0].Pending)
	assert.Equal(t, msg.ID, got[0].ID)
	assert.NotContains(t, got[0].ID, "tmp-")

	assert.Equal(t, 1, fc.countSent(events.SendMessage), "one realtime hint per send")
}

func TestMessageStore_SendFailureRollsBack(t *testing.T) {
	p := &fakePersistence{}
	p.createFn = func(ticketID, content string) (events.Message, error) {
		return events.Message{}, &domain.PersistenceError{Op: "create", Status: 500}
	}
	store, _ := newStore(t, p)

	_, err := store.Send(context.Background(), "hello", nil, events.KindText)

	require.Error(t, err)
	var pe *domain.PersistenceError
	assert.ErrorAs(t, err, &pe)
	assert.Empty(t, store.Messages(), "failed optimistic send must be removed")
}

func TestMessageStore_SendValidation(t *testing.T) {
	p := &fakePersistence{}
	store, _ := newStore(t, p)

	_, err := store.Send(context.Background(), "   ", nil, events.KindText)

	require.Error(t, err)
	assert.True(t, domain.IsValidationError(err))
	assert.Empty(t, store.Messages())
	assert.Zero(t, p.createdCount, "validation failures must not reach the network")
}

func TestMessageStore_SendAttachmentWithoutContent(t *testing.T) {
	p := &fakePersistence{}
	store, _ := newStore(t, p)

	att := &events.Attachment{URL: "https://files/x", Name: "report.pdf", Size: 1024}
	msg, err := store.Send(context.Background(), "", att, "")

	require.NoError(t, err)
	assert.Equal(t, events.KindFile, msg.Kind, "attachment-only sends default to the file kind")
}

func TestMessageStore_IncomingDeduplicatesByID(t *testing.T) {
	p := &fakePersistence{}
	store, _ := newStore(t, p)

	msg := msgFrom("m1", other.ID, "hi")
	store.ApplyIncoming(msg)
	store.ApplyIncoming(msg)

	assert.Len(t, store.Messages(), 1)
	assert.Equal(t, 1, store.UnreadCount(), "duplicates must not inflate unread")
}

func TestMessageStore_SocketEchoAfterResolutionIsDropped(t *testing.T) {
	p := &fakePersistence{}
	store, _ := newStore(t, p)

	msg, err := store.Send(context.Background(), "hello", nil, events.KindText)
	require.NoError(t, err)

	// The server echoes the same canonical message over the socket.
	echo := msg
	store.ApplyIncoming(echo)

	got := store.Messages()
	require.Len(t, got, 1, "persistence response plus socket echo must yield one entry")
	assert.Equal(t, msg.ID, got[0].ID)
}

func TestMessageStore_EchoBeforeResolutionReconciles(t *testing.T) {
	p := &fakePersistence{}
	release := make(chan events.Message, 1)
	p.createFn = func(ticketID, content string) (events.Message, error) {
		return <-release, nil
	}
	store, _ := newStore(t, p)

	errs := make(chan error, 1)
	go func() {
		_, err := store.Send(context.Background(), "hello", nil, events.KindText)
		errs <- err
	}()
	require.Eventually(t, func() bool { return len(store.Messages()) == 1 }, time.Second, time.Millisecond)

	// The socket echo lands before the durable response returns.
	canonical := canonicalMessage(testTicket, "hello")
	store.ApplyIncoming(canonical)
	got := store.Messages()
	require.Len(t, got, 1)
	assert.Equal(t, canonical.ID, got[0].ID, "echo must resolve the pending entry")

	release <- canonical
	require.NoError(t, <-errs)

	got = store.Messages()
	require.Len(t, got, 1, "the already-resolved canonical entry must win over a second copy")
	assert.Equal(t, canonical.ID, got[0].ID)
}

func TestMessageStore_EditOwnMessage(t *testing.T) {
	p := &fakePersistence{}
	store, _ := newStore(t, p)

	msg, err := store.Send(context.Background(), "helo", nil, events.KindText)
	require.NoError(t, err)

	require.NoError(t, store.Edit(context.Background(), msg.ID, "hello"))

	got := store.Messages()
	require.Len(t, got, 1)
	assert.Equal(t, "hello", got[0].Content)
	assert.NotNil(t, got[0].EditedAt)
}

func TestMessageStore_EditPolicy(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	stale := msgFrom("m-old", self.ID, "old words")
	stale.CreatedAt = now.Add(-10 * time.Minute)
	stale.Sender = self
	theirs := msgFrom("m-theirs", other.ID, "their words")
	theirs.Sender = other
	deleted := msgFrom("m-gone", self.ID, "gone")
	deleted.Sender = self
	deleted.CreatedAt = now
	deleted.Deleted = true

	tests := []struct {
		name   string
		seed   events.Message
		target string
		reason string
	}{
		{"outside edit window", stale, "m-old", "window"},
		{"not the owner", theirs, "m-theirs", "author"},
		{"already deleted", deleted, "m-gone", "deleted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePersistence{}
			store, _ := newStore(t, p, chat.WithClock(clock))
			store.ApplyIncoming(tt.seed)

			err := store.Edit(context.Background(), tt.target, "new words")

			require.Error(t, err)
			assert.True(t, domain.IsValidationError(err), "got %v", err)
			assert.Contains(t, err.Error(), tt.reason)
		})
	}
}

func TestMessageStore_EditFailureRestoresContent(t *testing.T) {
	p := &fakePersistence{}
	p.editFn = func(id, content string) (events.Message, error) {
		return events.Message{}, errors.New("backend down")
	}
	store, _ := newStore(t, p)

	msg, err := store.Send(context.Background(), "original", nil, events.KindText)
	require.NoError(t, err)

	require.Error(t, store.Edit(context.Background(), msg.ID, "changed"))

	got := store.Messages()
	require.Len(t, got, 1)
	assert.Equal(t, "original", got[0].Content, "failed edit must leave prior state untouched")
	assert.Nil(t, got[0].EditedAt)
}

func TestMessageStore_DeleteTombstones(t *testing.T) {
	p := &fakePersistence{}
	store, _ := newStore(t, p)

	msg, err := store.Send(context.Background(), "oops", nil, events.KindText)
	require.NoError(t, err)
	before := store.Messages()

	require.NoError(t, store.Delete(context.Background(), msg.ID))

	got := store.Messages()
	require.Len(t, got, len(before), "tombstoning must preserve the entry")
	assert.Equal(t, msg.ID, got[0].ID, "id and position survive deletion")
	assert.True(t, got[0].Deleted)
	assert.Equal(t, events.DeletedPlaceholder, got[0].Content)

	// Second delete is a no-op.
	require.NoError(t, store.Delete(context.Background(), msg.ID))
	assert.Equal(t, got, store.Messages())
}

func TestMessageStore_DeleteAuthorization(t *testing.T) {
	p := &fakePersistence{}
	store, _ := newStore(t, p)
	theirs := msgFrom("m-theirs", other.ID, "their words")
	theirs.Sender = other
	store.ApplyIncoming(theirs)

	err := store.Delete(context.Background(), "m-theirs")
	require.Error(t, err)
	assert.True(t, domain.IsValidationError(err))

	// An elevated user may delete anyone's message.
	_, room, _ := connectedRoom(t)
	agentStore := chat.NewMessageStore(p, room, agent)
	agentStore.ApplyIncoming(theirs)
	require.NoError(t, agentStore.Delete(context.Background(), "m-theirs"))
	assert.True(t, agentStore.Messages()[0].Deleted)
}

func TestMessageStore_CloseDiscardsLateResults(t *testing.T) {
	p := &fakePersistence{}
	release := make(chan struct{})
	p.createFn = func(ticketID, content string) (events.Message, error) {
		<-release
		return canonicalMessage(ticketID, content), nil
	}
	store, _ := newStore(t, p)

	errs := make(chan error, 1)
	go func() {
		_, err := store.Send(context.Background(), "hello", nil, events.KindText)
		errs <- err
	}()
	require.Eventually(t, func() bool { return len(store.Messages()) == 1 }, time.Second, time.Millisecond)

	store.Close()
	close(release)

	err := <-errs
	assert.ErrorIs(t, err, domain.ErrSessionClosed,
		"a send resolving after teardown must be discarded, not applied")
	store.ApplyIncoming(msgFrom("m1", other.ID, "late"))
	assert.Len(t, store.Messages(), 1, "no mutations after close")
}

func TestMessageStore_ChangeNotifications(t *testing.T) {
	p := &fakePersistence{}
	store, _ := newStore(t, p)

	var changes []chat.Change
	store.OnChange(func(c chat.Change) { changes = append(changes, c) })

	msg := msgFrom("m1", other.ID, "hi")
	store.ApplyIncoming(msg)

	require.Len(t, changes, 1)
	assert.Equal(t, chat.ChangeAppend, changes[0].Kind)
	assert.True(t, changes[0].Appended, "appends must be flagged for the auto-scroll decision")

	tomb := msg
	tomb.Deleted = true
	store.ApplyIncoming(tomb)

	require.Len(t, changes, 2)
	assert.Equal(t, chat.ChangeUpdate, changes[1].Kind)
	assert.False(t, changes[1].Appended)
}
