package gridpath

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gridpath/gridpath/backend"
)

type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures logging for gridpath and its backend packages.
// By default gridpath produces no log output. Pass nil to restore the
// silent default.
//
// Log levels used:
//   - [slog.LevelDebug]: per-request diagnostics (iterations, buffer sizes)
//   - [slog.LevelInfo]: lifecycle events (device selected, kernel compiled)
//   - [slog.LevelWarn]: non-fatal issues (release errors, fallback in use)
//
// SetLogger is safe for concurrent use.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
	backend.SetLogger(l)
}

// Logger returns the current gridpath logger.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
