package server

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// Start runs the server and blocks until it receives an interrupt or
// termination signal, then shuts everything down gracefully.
func (s *Server) Start() {
	go func() {
		slog.Info("Starting server", "addr", s.Cfg.Addr)
		if err := s.E.Start(s.Cfg.Addr); err != nil && err != http.ErrServerClosed {
			slog.Error("Server stopped unexpectedly", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.cancelBridge()
	if err := s.bus.Close(); err != nil {
		slog.Error("Failed to close the message bus", "error", err)
	}
	if s.DB != nil {
		if err := s.DB.Close(ctx); err != nil {
			slog.Error("Failed to close database connection", "error", err)
		}
	}
	if err := s.E.Shutdown(ctx); err != nil {
		slog.Error("Failed to shut down the HTTP server", "error", err)
	}
}
