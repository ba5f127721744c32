// Package observability holds the process logger and request-scoped fields.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

type ctxKey string

const (
	ctxKeyCorrelationID ctxKey = "correlation_id"
	ctxKeySessionID     ctxKey = "session_id"
)

var logger atomic.Pointer[slog.Logger]

func init() {
	logger.Store(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
}

// Configure replaces the process logger with a JSON logger at the given level.
func Configure(w io.Writer, level string) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	l := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
	logger.Store(l)
	slog.SetDefault(l)
	return l
}

func Logger() *slog.Logger {
	return logger.Load()
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyCorrelationID, id)
}

func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeySessionID, id)
}

func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyCorrelationID).(string)
	return id
}

// LoggerFromContext returns the process logger with correlation and session
// fields attached when present.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	l := Logger()
	if id := CorrelationID(ctx); id != "" {
		l = l.With("correlation_id", id)
	}
	if id, _ := ctx.Value(ctxKeySessionID).(string); id != "" {
		l = l.With("session_id", id)
	}
	return l
}
