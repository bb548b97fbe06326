package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/veritest/veritest/internal/config"
)

// ChatConfigResponse carries the policy values a client session needs
// before it opens the realtime channel. Durations travel in milliseconds.
type ChatConfigResponse struct {
	PageSize           int   `json:"pageSize"`
	EditWindowMs       int64 `json:"editWindowMs"`
	TypingIdleMs       int64 `json:"typingIdleMs"`
	ReconnectInitialMs int64 `json:"reconnectInitialMs"`
	ReconnectMaxMs     int64 `json:"reconnectMaxMs"`
	ReconnectAttempts  int   `json:"reconnectAttempts"`
}

// ChatConfigHandler serves the chat policy to connecting clients, so the
// server stays the single source of truth for tunable behavior.
type ChatConfigHandler struct {
	cfg *config.Config
}

// NewChatConfigHandler creates a new ChatConfigHandler.
func NewChatConfigHandler(cfg *config.Config) *ChatConfigHandler {
	return &ChatConfigHandler{cfg: cfg}
}

// Get handles GET /api/v1/chat-config.
func (h *ChatConfigHandler) Get(c echo.Context) error {
	return c.JSON(http.StatusOK, ChatConfigResponse{
		PageSize:           h.cfg.PageSize,
		EditWindowMs:       h.cfg.EditWindow.Milliseconds(),
		TypingIdleMs:       h.cfg.TypingIdleInterval.Milliseconds(),
		ReconnectInitialMs: h.cfg.ReconnectInitial.Milliseconds(),
		ReconnectMaxMs:     h.cfg.ReconnectMax.Milliseconds(),
		ReconnectAttempts:  h.cfg.ReconnectAttempts,
	})
}
