// Command gridpathd serves grid shortest-path queries over HTTP,
// offloading the relaxation to a GPU when one is present and falling
// back to the software backend otherwise.
package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gridpath/gridpath"
	"github.com/gridpath/gridpath/backend"
	"github.com/gridpath/gridpath/server"

	// Backends self-register; priority picks wgpu when available.
	_ "github.com/gridpath/gridpath/backend/cpu"
	_ "github.com/gridpath/gridpath/backend/wgpu"
)

func main() {
	log := newLogger(
		os.Getenv("GRIDPATH_LOG_LEVEL"),
		os.Getenv("GRIDPATH_LOG_FORMAT"),
		os.Stderr,
	)
	gridpath.SetLogger(log)

	cfg := server.Config{
		Addr:     envString("GRIDPATH_ADDR", ":8080"),
		Timeout:  envDuration("GRIDPATH_TIMEOUT", 30*time.Second, log),
		MaxCells: envInt("GRIDPATH_MAX_CELLS", 1<<22, log),
	}

	// Empty means priority order: wgpu first, cpu fallback.
	name := os.Getenv("GRIDPATH_BACKEND")
	if name == "auto" {
		name = ""
	}
	b, err := backend.InitDefault(name)
	if err != nil {
		log.Error("backend initialization failed",
			"backend", name,
			"available", backend.Available(),
			"err", err)
		os.Exit(1)
	}
	defer b.Close()

	dev := b.Device()
	log.Info("device selected",
		"backend", b.Name(),
		"device", dev.Name,
		"class", dev.Class.String(),
		"compute_units", dev.ComputeUnits)

	// Compile the kernel up front: a broken kernel must kill the
	// process at startup, not surface as 502s under load.
	if w, ok := b.(backend.Warmer); ok {
		warmCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err := w.Warmup(warmCtx)
		cancel()
		if err != nil {
			var buildErr *backend.BuildError
			if errors.As(err, &buildErr) {
				log.Error("kernel build failed",
					"device", buildErr.Device,
					"diagnostics", buildErr.Diagnostics)
			} else {
				log.Error("warmup failed", "err", err)
			}
			os.Exit(1)
		}
	}

	srv := server.New(cfg, b, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Listen() }()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("listener failed", "err", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown failed", "err", err)
		}
	}
}

// newLogger builds an isolated slog.Logger from level and format
// strings; it does not touch the global logger.
func newLogger(levelStr, formatStr string, w io.Writer) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if formatStr == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration, log *slog.Logger) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn("invalid duration, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return d
}

func envInt(key string, fallback int, log *slog.Logger) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn("invalid integer, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return n
}
