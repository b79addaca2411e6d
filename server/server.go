// Package server exposes the shortest-path service over HTTP.
package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gridpath/gridpath"
	"github.com/gridpath/gridpath/backend"
)

// Config carries the HTTP layer settings.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// Timeout is the per-request wall-clock budget covering upload,
	// every dispatch and readback.
	Timeout time.Duration

	// MaxCells caps width*height per request. Zero means no cap.
	MaxCells int
}

// Server wires the path finder to its HTTP routes.
type Server struct {
	cfg     Config
	app     *fiber.App
	backend backend.ComputeBackend
	finder  *gridpath.PathFinder
	log     *slog.Logger
}

// statser is implemented by backends exposing buffer accounting.
type statser interface {
	Stats() backend.Stats
}

// New builds the server around an initialized backend.
func New(cfg Config, b backend.ComputeBackend, log *slog.Logger) *Server {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	s := &Server{
		cfg:     cfg,
		app:     fiber.New(),
		backend: b,
		finder:  gridpath.NewPathFinder(b),
		log:     log,
	}

	s.app.Post("/shortest", s.handleShortest)
	s.app.Get("/healthz", s.handleHealthz)
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	return s
}

// App returns the underlying fiber app, used by tests via app.Test.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves until Shutdown or a listener error.
func (s *Server) Listen() error {
	s.log.Info("listening",
		"addr", s.cfg.Addr,
		"device", s.backend.Device().Name,
		"backend", s.backend.Name())
	return s.app.Listen(s.cfg.Addr)
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) handleHealthz(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok", "device": s.backend.Device().Name})
}
