// Package logging configures structured logging using log/slog.
//
// Loggers obtained through [FromContext] carry the chi request id when the
// call originates from the HTTP surface and the batch id once a batch has
// been registered, so every line of a run can be correlated.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

type contextKey string

const ctxKeyBatchID contextKey = "batch_id"

// Setup configures the global slog logger based on level and format.
//
// Level values: "debug", "info", "warn", "error" (default: "info")
// Format values: "text", "json" (default: "text")
func Setup(level, format string) {
	slog.SetDefault(New(os.Stdout, level, format))
}

// New builds a logger writing to w. Exposed for tests and tools that
// need a logger without touching the global default.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
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

// WithBatchID returns a context whose loggers include batch_id.
func WithBatchID(ctx context.Context, batchID string) context.Context {
	return context.WithValue(ctx, ctxKeyBatchID, batchID)
}

// BatchIDFromContext returns the batch id stored by WithBatchID.
func BatchIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyBatchID).(string); ok {
		return v
	}
	return ""
}

// FromContext returns the default logger enriched with request_id and
// batch_id when present in ctx.
func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()

	if reqID := middleware.GetReqID(ctx); reqID != "" {
		logger = logger.With("request_id", reqID)
	}
	if batchID := BatchIDFromContext(ctx); batchID != "" {
		logger = logger.With("batch_id", batchID)
	}

	return logger
}

// WithFields returns a context logger with additional structured fields.
//
//	fileLogger := logging.WithFields(ctx, "file", name, "table", table)
//	fileLogger.Info("file ingested", "rows", n)
func WithFields(ctx context.Context, args ...any) *slog.Logger {
	return FromContext(ctx).With(args...)
}
