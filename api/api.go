package api

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/omnichat/relay/gateway"
	"github.com/omnichat/relay/pkg/store"
	"github.com/omnichat/relay/worker"
)

// Server is the HTTP API server for the relay system.
type Server struct {
	config     Config
	storer     store.Driver
	dispatcher *worker.Dispatcher
	terminator *worker.Terminator
	gateway    *gateway.Gateway
	logger     *zap.Logger
	app        *fiber.App
}

// NewServer creates a new API server. The store is injected to allow
// sharing with the worker pool.
func NewServer(config Config, storer store.Driver, dispatcher *worker.Dispatcher, terminator *worker.Terminator, gw *gateway.Gateway, logger *zap.Logger) *Server {
	// Immutable copies values out of fasthttp's recycled request buffers.
	// Handlers hand header and body strings straight to the store, so they
	// must survive past the request.
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		Immutable:             true,
	})

	s := &Server{
		config:     config,
		storer:     storer,
		dispatcher: dispatcher,
		terminator: terminator,
		gateway:    gw,
		logger:     logger,
		app:        app,
	}

	app.Get("/ping", s.handlePing)
	app.Post("/conversations", s.handleCreateConversation)
	app.Get("/conversations", s.handleListConversations)
	app.Get("/conversations/:id", s.handleGetConversation)
	app.Delete("/conversations/:id", s.handleDeleteConversation)
	app.Post("/conversations/:id/generate", s.handleGenerate)
	app.Post("/conversations/:id/tasks/:taskID/terminate", s.handleTerminate)
	app.Get("/conversations/:id/stream", s.handleStream)

	return s
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		zap.String("listen", s.config.ListenAddr),
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
