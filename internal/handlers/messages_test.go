package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veritest/veritest/internal/chat/events"
	"github.com/veritest/veritest/internal/database"
	"github.com/veritest/veritest/internal/domain"
	"github.com/veritest/veritest/internal/handlers"
	"github.com/veritest/veritest/internal/middleware"
	"github.com/veritest/veritest/internal/pubsub"
	"github.com/veritest/veritest/internal/websocket"
)

var (
	visitor = domain.User{ID: "visitor-1", Name: "Visitor"}
	agent   = domain.User{ID: "agent-1", Name: "Agent", Elevated: true}
)

// capturePublisher records bus publications for assertion.
type capturePublisher struct {
	mu       sync.Mutex
	messages []pubsub.Message
}

func (p *capturePublisher) Publish(ctx context.Context, msg pubsub.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func (p *capturePublisher) published(topic string) []pubsub.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []pubsub.Message
	for _, m := range p.messages {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

type handlerEnv struct {
	e       *echo.Echo
	repo    *database.MemoryMessageStore
	pub     *capturePublisher
	handler *handlers.MessageHandler
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()
	e := echo.New()
	e.Validator = handlers.NewValidator()
	repo := database.NewMemoryMessageStore(5 * time.Minute)
	pub := &capturePublisher{}
	return &handlerEnv{
		e:       e,
		repo:    repo,
		pub:     pub,
		handler: handlers.NewMessageHandler(repo, pub),
	}
}

// request builds an echo context carrying the authenticated user, the path
// parameter, and an optional JSON body.
func (env *handlerEnv) request(method, target string, body string, user domain.User, paramName, paramValue string) (echo.Context, *httptest.ResponseRecorder) {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := env.e.NewContext(req, rec)
	c.Set(middleware.UserContextKey, user)
	if paramName != "" {
		c.SetParamNames(paramName)
		c.SetParamValues(paramValue)
	}
	return c, rec
}

func (env *handlerEnv) seed(t *testing.T, sender domain.User, ticketID, content string) events.Message {
	t.Helper()
	msg, err := env.repo.CreateMessage(context.Background(), ticketID, sender, content, nil, events.KindText)
	require.NoError(t, err)
	return msg
}

func TestMessageHandler_ListReturnsPageWithUnreadCount(t *testing.T) {
	env := newHandlerEnv(t)
	env.seed(t, agent, "ticket-1", "hello")
	env.seed(t, agent, "ticket-1", "anyone there?")
	env.seed(t, agent, "ticket-2", "other room")

	c, rec := env.request(http.MethodGet, "/api/v1/tickets/ticket-1/messages", "", visitor, "id", "ticket-1")
	require.NoError(t, env.handler.List(c))

	require.Equal(t, http.StatusOK, rec.Code)
	var page handlers.PageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "hello", page.Messages[0].Content)
	assert.Equal(t, "anyone there?", page.Messages[1].Content)
	assert.Equal(t, 2, page.UnreadCount)
}

func TestMessageHandler_ListEmptyTicketReturnsEmptyArray(t *testing.T) {
	env := newHandlerEnv(t)

	c, rec := env.request(http.MethodGet, "/api/v1/tickets/empty/messages", "", visitor, "id", "empty")
	require.NoError(t, env.handler.List(c))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"messages":[],"unreadCount":0}`, rec.Body.String())
}

func TestMessageHandler_ListRejectsBadLimit(t *testing.T) {
	env := newHandlerEnv(t)

	for _, limit := range []string{"0", "-3", "abc"} {
		c, rec := env.request(http.MethodGet, "/api/v1/tickets/ticket-1/messages?limit="+limit, "", visitor, "id", "ticket-1")
		require.NoError(t, env.handler.List(c))
		assert.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", limit)
	}
}

func TestMessageHandler_ListHonorsCursorAndLimit(t *testing.T) {
	env := newHandlerEnv(t)
	var ids []string
	for _, content := range []string{"one", "two", "three", "four"} {
		ids = append(ids, env.seed(t, agent, "ticket-1", content).ID)
	}

	c, rec := env.request(http.MethodGet, "/api/v1/tickets/ticket-1/messages?limit=2&before="+ids[3], "", visitor, "id", "ticket-1")
	require.NoError(t, env.handler.List(c))

	var page handlers.PageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "two", page.Messages[0].Content)
	assert.Equal(t, "three", page.Messages[1].Content)
}

func TestMessageHandler_CreatePersistsAndFansOut(t *testing.T) {
	env := newHandlerEnv(t)

	c, rec := env.request(http.MethodPost, "/api/v1/tickets/ticket-1/messages",
		`{"content":"need help with question 4"}`, visitor, "id", "ticket-1")
	require.NoError(t, env.handler.Create(c))

	require.Equal(t, http.StatusCreated, rec.Code)
	var msg events.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.True(t, strings.HasPrefix(msg.ID, "msg-"))
	assert.Equal(t, "ticket-1", msg.TicketID)
	assert.Equal(t, events.KindText, msg.Kind)
	assert.Equal(t, visitor.ID, msg.Sender.ID)

	published := env.pub.published(websocket.TopicMessageCreated)
	require.Len(t, published, 1)
	assert.Equal(t, "ticket-1", published[0].TicketID)
	var fanned events.NewMessagePayload
	require.NoError(t, json.Unmarshal(published[0].Payload, &fanned))
	assert.Equal(t, msg.ID, fanned.Message.ID)
}

func TestMessageHandler_CreateInfersFileKindFromAttachment(t *testing.T) {
	env := newHandlerEnv(t)

	c, rec := env.request(http.MethodPost, "/api/v1/tickets/ticket-1/messages",
		`{"attachment":{"url":"/attachments/ticket-1/shot.png","name":"shot.png","size":1024}}`,
		visitor, "id", "ticket-1")
	require.NoError(t, env.handler.Create(c))

	require.Equal(t, http.StatusCreated, rec.Code)
	var msg events.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Equal(t, events.KindFile, msg.Kind)
	require.NotNil(t, msg.Attachment)
	assert.Equal(t, "shot.png", msg.Attachment.Name)
}

func TestMessageHandler_CreateRejectsEmptyPayload(t *testing.T) {
	env := newHandlerEnv(t)

	c, rec := env.request(http.MethodPost, "/api/v1/tickets/ticket-1/messages", `{}`, visitor, "id", "ticket-1")
	require.NoError(t, env.handler.Create(c))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, env.pub.published(websocket.TopicMessageCreated))
}

func TestMessageHandler_EditOwnMessage(t *testing.T) {
	env := newHandlerEnv(t)
	msg := env.seed(t, visitor, "ticket-1", "orginal")

	c, rec := env.request(http.MethodPatch, "/api/v1/messages/"+msg.ID,
		`{"content":"original"}`, visitor, "id", msg.ID)
	require.NoError(t, env.handler.Edit(c))

	require.Equal(t, http.StatusOK, rec.Code)
	var edited events.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &edited))
	assert.Equal(t, "original", edited.Content)
	assert.NotNil(t, edited.EditedAt)

	published := env.pub.published(websocket.TopicMessageUpdated)
	require.Len(t, published, 1)
}

func TestMessageHandler_EditForeignMessageIsRejected(t *testing.T) {
	env := newHandlerEnv(t)
	msg := env.seed(t, agent, "ticket-1", "canned reply")

	c, rec := env.request(http.MethodPatch, "/api/v1/messages/"+msg.ID,
		`{"content":"tampered"}`, visitor, "id", msg.ID)
	require.NoError(t, env.handler.Edit(c))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Empty(t, env.pub.published(websocket.TopicMessageUpdated))
}

func TestMessageHandler_EditUnknownMessageIs404(t *testing.T) {
	env := newHandlerEnv(t)

	c, rec := env.request(http.MethodPatch, "/api/v1/messages/msg-missing",
		`{"content":"anything"}`, visitor, "id", "msg-missing")
	require.NoError(t, env.handler.Edit(c))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMessageHandler_DeleteFansOutTombstone(t *testing.T) {
	env := newHandlerEnv(t)
	msg := env.seed(t, visitor, "ticket-1", "remove me")

	c, rec := env.request(http.MethodDelete, "/api/v1/messages/"+msg.ID, "", visitor, "id", msg.ID)
	require.NoError(t, env.handler.Delete(c))

	require.Equal(t, http.StatusNoContent, rec.Code)
	published := env.pub.published(websocket.TopicMessageUpdated)
	require.Len(t, published, 1)
	var fanned events.NewMessagePayload
	require.NoError(t, json.Unmarshal(published[0].Payload, &fanned))
	assert.True(t, fanned.Message.Deleted)
	assert.Equal(t, msg.ID, fanned.Message.ID)
	assert.NotEqual(t, "remove me", fanned.Message.Content)
}

func TestMessageHandler_AgentMayDeleteForeignMessage(t *testing.T) {
	env := newHandlerEnv(t)
	msg := env.seed(t, visitor, "ticket-1", "abusive content")

	c, rec := env.request(http.MethodDelete, "/api/v1/messages/"+msg.ID, "", agent, "id", msg.ID)
	require.NoError(t, env.handler.Delete(c))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestMessageHandler_VisitorMayNotDeleteForeignMessage(t *testing.T) {
	env := newHandlerEnv(t)
	msg := env.seed(t, agent, "ticket-1", "agent note")

	c, rec := env.request(http.MethodDelete, "/api/v1/messages/"+msg.ID, "", visitor, "id", msg.ID)
	require.NoError(t, env.handler.Delete(c))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Empty(t, env.pub.published(websocket.TopicMessageUpdated))
}

func TestMessageHandler_MarkReadIsDurableOnly(t *testing.T) {
	env := newHandlerEnv(t)
	msg := env.seed(t, agent, "ticket-1", "please read")

	c, rec := env.request(http.MethodPost, "/api/v1/messages/"+msg.ID+"/read", "", visitor, "id", msg.ID)
	require.NoError(t, env.handler.MarkRead(c))

	require.Equal(t, http.StatusNoContent, rec.Code)
	// Receipt fan-out rides the socket hint, not the REST write.
	assert.Empty(t, env.pub.messages)

	unread, err := env.repo.UnreadCount(context.Background(), "ticket-1", visitor.ID)
	require.NoError(t, err)
	assert.Zero(t, unread)
}

func TestMessageHandler_MarkAllRead(t *testing.T) {
	env := newHandlerEnv(t)
	env.seed(t, agent, "ticket-1", "one")
	env.seed(t, agent, "ticket-1", "two")
	env.seed(t, agent, "ticket-2", "elsewhere")

	c, rec := env.request(http.MethodPost, "/api/v1/tickets/ticket-1/read-all", "", visitor, "id", "ticket-1")
	require.NoError(t, env.handler.MarkAllRead(c))
	require.Equal(t, http.StatusNoContent, rec.Code)

	unread, err := env.repo.UnreadCount(context.Background(), "ticket-1", visitor.ID)
	require.NoError(t, err)
	assert.Zero(t, unread)

	other, err := env.repo.UnreadCount(context.Background(), "ticket-2", visitor.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, other)
}
