// Package server exposes the memory store, the extraction pipeline and the
// conversation listener over HTTP.
package server

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/recover"

	ctxpkg "github.com/memvra/memory-agent/internal/context"
	"github.com/memvra/memory-agent/internal/extract"
	"github.com/memvra/memory-agent/internal/listener"
	"github.com/memvra/memory-agent/internal/memory"
)

// Server is the HTTP API. The pipeline and listener are optional.
type Server struct {
	app      *fiber.App
	store    *memory.Store
	pipeline *extract.Pipeline
	listener *listener.Listener
	recall   *ctxpkg.Builder
	logger   *log.Logger
	now      func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithPipeline enables POST /ingest and GET /pipeline/stats.
func WithPipeline(p *extract.Pipeline) Option {
	return func(s *Server) { s.pipeline = p }
}

// WithListener enables GET /listener/stats.
func WithListener(l *listener.Listener) Option {
	return func(s *Server) { s.listener = l }
}

// WithLogger sets the request logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithTokenCounter sets the counter used by POST /recall.
func WithTokenCounter(c ctxpkg.Counter) Option {
	return func(s *Server) { s.recall = ctxpkg.NewBuilder(s.store, ctxpkg.NewFormatter(), c) }
}

// WithClock overrides the time source used for memory ages.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New builds the fiber app and registers every route.
func New(store *memory.Store, opts ...Option) *Server {
	s := &Server{
		store:  store,
		logger: log.New(io.Discard),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.recall == nil {
		s.recall = ctxpkg.NewBuilder(store, ctxpkg.NewFormatter(), ctxpkg.ApproxTokenizer{})
	}

	s.app = fiber.New(fiber.Config{
		AppName:      "memory-agent",
		ServerHeader: "memory-agent",
		ErrorHandler: s.handleError,
	})
	s.app.Use(recover.New(), cors.New(), s.logRequests)
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/health", s.handleHealth)
	s.app.Get("/stats", s.handleStats)

	s.app.Get("/memories", s.handleList)
	s.app.Post("/memories", s.handleStore)
	s.app.Post("/store", s.handleStore)
	s.app.Get("/memories/:id", s.handleGet)
	s.app.Patch("/memories/:id", s.handleUpdate)
	s.app.Delete("/memories/:id", s.handleDelete)
	s.app.Post("/memories/:id/links", s.handleLink)

	s.app.Post("/search", s.handleSearch)
	s.app.Post("/recall", s.handleRecall)
	s.app.Post("/ingest", s.handleIngest)

	s.app.Get("/pipeline/stats", s.handlePipelineStats)
	s.app.Get("/listener/stats", s.handleListenerStats)
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves on addr until Shutdown is called.
func (s *Server) Listen(addr string) error {
	s.logger.Info("http server listening", "addr", addr)
	return s.app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) logRequests(c fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	status := c.Response().StatusCode()
	var fe *fiber.Error
	if errors.As(err, &fe) {
		status = fe.Code
	}
	s.logger.Debug("request", "method", c.Method(), "path", c.Path(), "status", status, "took", time.Since(start))
	return err
}

// handleError renders every failure as {"error": msg}.
func (s *Server) handleError(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "method", c.Method(), "path", c.Path(), "err", err)
	}
	msg := err.Error()
	if fe != nil {
		msg = fe.Message
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}
