// Package observability configures structured logging for prepmate.
//
// Every log line emitted while a turn is handled carries the turn's
// trace_id, and known secrets are scrubbed by the handler itself.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/bdobrica/prepmate/common/redact"
	"github.com/bdobrica/prepmate/common/trace"
)

// Setup configures the global slog logger from level ("debug", "info",
// "warn", "error") and format ("json" or "text") strings, writing to
// stdout. secrets are redacted from every log line.
func Setup(level, format string, secrets ...string) *slog.Logger {
	logger := New(os.Stdout, level, format, secrets...)
	slog.SetDefault(logger)
	return logger
}

// New builds a logger without installing it globally.
func New(w io.Writer, level, format string, secrets ...string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       ParseLevel(level),
		ReplaceAttr: redact.New(secrets...).ReplaceAttr,
	}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel maps a level name to a slog.Level. Unknown names mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithTrace returns the default logger with the trace_id from ctx attached.
func WithTrace(ctx context.Context) *slog.Logger {
	return FromContext(ctx, slog.Default())
}

// FromContext returns base with the trace_id from ctx attached, or base
// itself when ctx has none.
func FromContext(ctx context.Context, base *slog.Logger) *slog.Logger {
	id := trace.FromContext(ctx)
	if id == "" {
		return base
	}
	return base.With("trace_id", id)
}
