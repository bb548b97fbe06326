package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/veritest/veritest/internal/handlers"
	"github.com/veritest/veritest/internal/middleware"
)

// RegisterRoutes sets up the routes for the server.
func (s *Server) RegisterRoutes() {
	auth := handlers.NewAuthHandler(s.credentials)
	messages := handlers.NewMessageHandler(s.repo, s.bus)
	attachments := handlers.NewAttachmentHandler(s.attachments)

	s.E.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	s.E.POST("/login", auth.Login)

	guarded := s.E.Group("", middleware.Auth(s.credentials))
	guarded.GET("/ws", s.bridge.Handler())

	api := guarded.Group("/api/v1")
	api.GET("/chat-config", handlers.NewChatConfigHandler(s.Cfg).Get)
	api.GET("/tickets/:id/messages", messages.List)
	api.POST("/tickets/:id/messages", messages.Create)
	api.PATCH("/messages/:id", messages.Edit)
	api.DELETE("/messages/:id", messages.Delete)
	api.POST("/messages/:id/read", messages.MarkRead)
	api.POST("/tickets/:id/read-all", messages.MarkAllRead)
	api.POST("/tickets/:id/attachments", attachments.Upload)

	guarded.GET("/attachments/*", attachments.Download)
}
