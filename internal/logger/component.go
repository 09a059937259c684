package logger

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type correlationIDKey struct{}

// NewCorrelationID generates a new correlation ID for request tracing
func NewCorrelationID() string {
	return uuid.NewString()
}

// ContextWithCorrelationID adds a correlation ID to the context
func ContextWithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, correlationID)
}

// CorrelationIDFromContext retrieves the correlation ID from context
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return id
	}
	return ""
}

// ComponentLogger is a slog.Logger tagged with a component name. It binds
// to the default logger at construction, so create it after Init.
type ComponentLogger struct {
	*slog.Logger
}

// NewComponentLogger creates a new component logger
func NewComponentLogger(component string) *ComponentLogger {
	return &ComponentLogger{Logger: slog.Default().With("component", component)}
}

// WithContext tags records with the correlation ID carried by ctx, if any
func (l *ComponentLogger) WithContext(ctx context.Context) *ComponentLogger {
	id := CorrelationIDFromContext(ctx)
	if id == "" {
		return l
	}
	return &ComponentLogger{Logger: l.Logger.With("correlation_id", id)}
}

// With adds attributes to every record
func (l *ComponentLogger) With(args ...any) *ComponentLogger {
	return &ComponentLogger{Logger: l.Logger.With(args...)}
}
