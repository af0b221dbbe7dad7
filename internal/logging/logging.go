// Package logging provides structured logging for the assessment services
package logging

import (
	"context"
	"log/slog"
	"os"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	loggerKey    contextKey = "logger"
)

// New creates a new structured logger
func New(level string, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// Component returns a child logger tagged with the emitting component,
// so gateway, model server, and client lines are distinguishable when
// they share one stream.
func Component(logger *slog.Logger, name string) *slog.Logger {
	return logger.With("component", name)
}

// Attribute helpers for the fields assessment log lines share. Keeping
// the keys here stops "subject" and "address" drifting apart between
// packages.

// Subject tags the address or transaction hash being assessed.
func Subject(s string) slog.Attr {
	return slog.String("subject", s)
}

// Kind tags whether the subject is an address or a transaction.
func Kind(k string) slog.Attr {
	return slog.String("kind", k)
}

// Endpoint tags the model API endpoint involved.
func Endpoint(e string) slog.Attr {
	return slog.String("endpoint", e)
}

// Attempt tags a dispatch attempt number within a retry cycle.
func Attempt(n, max int) slog.Attr {
	return slog.Group("retry", slog.Int("attempt", n), slog.Int("max_attempts", max))
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID extracts the request ID from context
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithLogger adds a logger to the context
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext extracts the logger from context, or returns the default
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// L is a convenience function to get a logger with request context
func L(ctx context.Context) *slog.Logger {
	logger := FromContext(ctx)
	if reqID := RequestID(ctx); reqID != "" {
		return logger.With("request_id", reqID)
	}
	return logger
}
