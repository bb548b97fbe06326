package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/veritest/veritest/internal/chat/events"
	"github.com/veritest/veritest/internal/database"
	"github.com/veritest/veritest/internal/domain"
	"github.com/veritest/veritest/internal/middleware"
	"github.com/veritest/veritest/internal/pubsub"
	"github.com/veritest/veritest/internal/websocket"
)

const defaultPageLimit = 50

// MessageHandler serves the durable message API. Writes publish on the bus
// so the bridge fans the canonical result out to the ticket room.
type MessageHandler struct {
	repo      database.MessageRepository
	publisher pubsub.Publisher
}

// NewMessageHandler creates a new MessageHandler.
func NewMessageHandler(repo database.MessageRepository, publisher pubsub.Publisher) *MessageHandler {
	return &MessageHandler{repo: repo, publisher: publisher}
}

func currentUser(c echo.Context) (domain.User, error) {
	user, ok := c.Get(middleware.UserContextKey).(domain.User)
	if !ok || user.ID == "" {
		return domain.User{}, echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
	}
	return user, nil
}

// List handles GET /api/v1/tickets/:id/messages.
func (h *MessageHandler) List(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	ticketID := c.Param("id")

	limit := defaultPageLimit
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Code: "bad_request", Message: "limit must be a positive integer"})
		}
		limit = parsed
	}

	ctx := c.Request().Context()
	messages, err := h.repo.ListMessages(ctx, ticketID, limit, c.QueryParam("before"))
	if err != nil {
		return h.mapError(c, err)
	}
	unread, err := h.repo.UnreadCount(ctx, ticketID, user.ID)
	if err != nil {
		return h.mapError(c, err)
	}

	if messages == nil {
		messages = []events.Message{}
	}
	return c.JSON(http.StatusOK, PageResponse{Messages: messages, UnreadCount: unread})
}

// Create handles POST /api/v1/tickets/:id/messages.
func (h *MessageHandler) Create(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	var req CreateMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Code: "bad_request", Message: "invalid message payload"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Code: "validation_failed", Message: err.Error()})
	}
	kind := req.Kind
	if kind == "" {
		kind = events.KindText
		if req.Attachment != nil {
			kind = events.KindFile
		}
	}

	msg, err := h.repo.CreateMessage(c.Request().Context(), c.Param("id"), user, req.Content, req.Attachment, kind)
	if err != nil {
		return h.mapError(c, err)
	}

	h.fanOut(c, websocket.TopicMessageCreated, msg)
	return c.JSON(http.StatusCreated, msg)
}

// Edit handles PATCH /api/v1/messages/:id.
func (h *MessageHandler) Edit(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	var req EditMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Code: "bad_request", Message: "invalid edit payload"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Code: "validation_failed", Message: err.Error()})
	}

	msg, err := h.repo.EditMessage(c.Request().Context(), c.Param("id"), user.ID, req.Content)
	if err != nil {
		return h.mapError(c, err)
	}

	h.fanOut(c, websocket.TopicMessageUpdated, msg)
	return c.JSON(http.StatusOK, msg)
}

// Delete handles DELETE /api/v1/messages/:id.
func (h *MessageHandler) Delete(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	tombstone, err := h.repo.DeleteMessage(c.Request().Context(), c.Param("id"), user)
	if err != nil {
		return h.mapError(c, err)
	}

	h.fanOut(c, websocket.TopicMessageUpdated, tombstone)
	return c.NoContent(http.StatusNoContent)
}

// MarkRead handles POST /api/v1/messages/:id/read. Realtime receipt
// fan-out rides the socket's mark-read hint; the durable write is all this
// endpoint owns.
func (h *MessageHandler) MarkRead(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	if err := h.repo.MarkRead(c.Request().Context(), c.Param("id"), user.ID); err != nil {
		return h.mapError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// MarkAllRead handles POST /api/v1/tickets/:id/read-all.
func (h *MessageHandler) MarkAllRead(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	if err := h.repo.MarkAllRead(c.Request().Context(), c.Param("id"), user.ID); err != nil {
		return h.mapError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// fanOut publishes the canonical message on the bus for room delivery.
// Best-effort; the durable write already succeeded.
func (h *MessageHandler) fanOut(c echo.Context, topic string, msg events.Message) {
	logger := middleware.FromContext(c.Request().Context())

	payload, err := json.Marshal(events.NewMessagePayload{Message: msg})
	if err != nil {
		logger.Error("Failed to encode fan-out payload", "messageID", msg.ID, "error", err)
		return
	}
	if err := h.publisher.Publish(c.Request().Context(), pubsub.Message{
		Topic:    topic,
		UserID:   msg.Sender.ID,
		TicketID: msg.TicketID,
		Payload:  payload,
	}); err != nil {
		logger.Error("Failed to publish message fan-out", "messageID", msg.ID, "error", err)
	}
}

func (h *MessageHandler) mapError(c echo.Context, err error) error {
	var ve *domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrMessageNotFound):
		return c.JSON(http.StatusNotFound, ErrorResponse{Code: "not_found", Message: "message not found"})
	case errors.As(err, &ve):
		return c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Code: "validation_failed", Message: ve.Error()})
	default:
		middleware.FromContext(c.Request().Context()).Error("Message API failure", "error", err)
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "internal", Message: "internal error"})
	}
}
