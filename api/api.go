package api

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/mnemo/api/mcp"
	"github.com/papercomputeco/mnemo/pkg/logger"
	"github.com/papercomputeco/mnemo/pkg/memory"
)

// Server is the API server for the mnemo memory layer.
type Server struct {
	config Config
	memory *memory.Client
	logger *slog.Logger
	app    *fiber.App

	done     chan struct{}
	shutdown sync.Once
}

// NewServer creates a new API server over the unified memory client.
func NewServer(config Config, client *memory.Client, log *slog.Logger) (*Server, error) {
	if client == nil {
		return nil, errors.New("memory client is required")
	}
	if log == nil {
		log = logger.Nop()
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config: config,
		memory: client,
		logger: log,
		app:    app,
		done:   make(chan struct{}),
	}

	app.Get("/ping", s.handlePing)
	app.Get("/health", s.handleHealth)

	app.Post("/memory/retain", s.handleRetain)
	app.Post("/memory/recall", s.handleRecall)
	app.Post("/memory/search", s.handleSearch)
	app.Post("/memory/reflect", s.handleReflect)

	if config.Guard != nil && config.Sessions != nil {
		app.Get("/sessions", s.handleListSessions)
		app.Get("/sessions/:key", s.handleGetSession)
		app.Post("/sessions/:key/messages", s.handleAddMessage)
		app.Post("/sessions/:key/tools", s.handleAddTool)
		app.Post("/sessions/:key/agent", s.handleAgent)
		app.Post("/sessions/:key/compact", s.handleCompact)
		app.Delete("/sessions/:key", s.handleDeleteSession)
	}

	if config.Bus != nil {
		app.Get("/events", s.handleEvents)
	}

	if !config.DisableMCP {
		mcpServer, err := mcp.NewServer(mcp.Config{Memory: client, Logger: log})
		if err != nil {
			return nil, err
		}
		app.All("/mcp", adaptor.HTTPHandler(mcpServer.Handler()))
	}

	return s, nil
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server", "listen", s.config.ListenAddr)
	return s.app.Listen(s.config.ListenAddr)
}

// Serve runs the API server on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting API server", "listen", ln.Addr().String())
	return s.app.Listener(ln)
}

// Shutdown ends open event streams and gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	s.shutdown.Do(func() { close(s.done) })
	return s.app.Shutdown()
}

// Handler exposes the server's routes as a net/http handler.
func (s *Server) Handler() http.Handler {
	return adaptor.FiberApp(s.app)
}
