package server

import (
	"context"
	"log/slog"
	"os"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/surrealdb/surrealdb.go"

	"github.com/veritest/veritest/internal/config"
	"github.com/veritest/veritest/internal/database"
	"github.com/veritest/veritest/internal/handlers"
	"github.com/veritest/veritest/internal/logging"
	"github.com/veritest/veritest/internal/middleware"
	"github.com/veritest/veritest/internal/pubsub"
	"github.com/veritest/veritest/internal/storage"
	"github.com/veritest/veritest/internal/websocket"
)

// Server holds the dependencies for the HTTP server hosting the realtime
// bridge and the durable message API.
type Server struct {
	E   *echo.Echo
	DB  *surrealdb.DB
	Cfg *config.Config

	bus         *pubsub.WatermillBridge
	bridge      *websocket.Bridge
	repo        database.MessageRepository
	attachments storage.Store
	credentials *handlers.CredentialStore

	cancelBridge context.CancelFunc
}

// New creates a new Server instance. Without SurrealDB settings the server
// runs on the in-memory message store, which is enough for local
// development and tests.
func New() *Server {
	logging.New()
	cfg := config.New()

	var (
		db   *surrealdb.DB
		repo database.MessageRepository
	)
	if cfg.DBUrl != "" {
		cfg.RequireDB()
		var err error
		db, err = database.NewDB(context.Background(), cfg)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		repo = database.NewSurrealMessageStore(db, cfg.EditWindow)
	} else {
		slog.Warn("SURREAL_URL not set, using the in-memory message store")
		repo = database.NewMemoryMessageStore(cfg.EditWindow)
	}

	bus := pubsub.NewWatermillBridge()
	bridge := websocket.NewBridge()

	bridgeCtx, cancel := context.WithCancel(context.Background())
	go bridge.Run(bridgeCtx)
	if err := bridge.Subscribe(bridgeCtx, bus); err != nil {
		slog.Error("Failed to subscribe bridge to the bus", "error", err)
		os.Exit(1)
	}

	e := echo.New()
	e.HideBanner = true
	e.Validator = handlers.NewValidator()
	e.Use(echomw.RequestID())
	e.Use(middleware.Logger)
	e.Use(echomw.Recover())

	store := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7,
		HttpOnly: true,
	}
	e.Use(session.Middleware(store))

	return &Server{
		E:            e,
		DB:           db,
		Cfg:          cfg,
		bus:          bus,
		bridge:       bridge,
		repo:         repo,
		attachments:  storage.NewOsStore(cfg.AttachmentDir, cfg.AppBaseURL+"/attachments"),
		credentials:  handlers.NewCredentialStore(),
		cancelBridge: cancel,
	}
}

// Bridge exposes the websocket bridge.
func (s *Server) Bridge() *websocket.Bridge {
	return s.bridge
}
