// ABOUTME: This file provides context-aware structured logging for the retrieval pipeline
// ABOUTME: Supports retrieval ID and mode propagation with JSON output format
package logger

import (
	"context"
	"log/slog"
	"os"
)

type ContextKey string

const (
	// Business context keys for retrieval observability
	// These follow OpenTelemetry semantic conventions with 'retrieval.' prefix
	RetrievalIDKey ContextKey = "retrieval.id"
	ModeKey        ContextKey = "retrieval.mode"
)

// ContextLogger provides context-aware logging with retrieval business context
type ContextLogger struct {
	logger    *slog.Logger
	component string
}

// NewContextLogger creates a new context-aware logger
func NewContextLogger(component string) *ContextLogger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(os.Getenv("LOG_LEVEL")),
	}
	handler := slog.NewJSONHandler(os.Stdout, opts)

	return &ContextLogger{
		logger:    slog.New(handler),
		component: component,
	}
}

// NewContextLoggerWith wraps an existing logger instead of building a fresh handler.
func NewContextLoggerWith(logger *slog.Logger, component string) *ContextLogger {
	return &ContextLogger{
		logger:    logger,
		component: component,
	}
}

// WithContext returns a logger with context values extracted and added as fields
func (cl *ContextLogger) WithContext(ctx context.Context) *slog.Logger {
	logger := cl.logger.With("component", cl.component)

	var fields []any

	if retrievalID := ctx.Value(RetrievalIDKey); retrievalID != nil {
		fields = append(fields, string(RetrievalIDKey), retrievalID)
	}
	if mode := ctx.Value(ModeKey); mode != nil {
		fields = append(fields, string(ModeKey), mode)
	}

	if len(fields) > 0 {
		logger = logger.With(fields...)
	}

	return logger
}

// Context helper functions

// WithRetrievalID adds the per-request retrieval ID to context for observability
func WithRetrievalID(ctx context.Context, retrievalID string) context.Context {
	return context.WithValue(ctx, RetrievalIDKey, retrievalID)
}

// WithMode adds the effective retrieval mode to context for observability
func WithMode(ctx context.Context, mode string) context.Context {
	return context.WithValue(ctx, ModeKey, mode)
}
