package logger

import (
	"context"

	"github.com/google/uuid"
)

// WithTraceID adds a trace ID to the context, generating a fresh UUID when
// none is supplied.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		traceID = uuid.New().String()
	}
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID extracts the trace ID from the context, or "" if absent.
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// NewTraceID generates a new UUID trace ID.
func NewTraceID() string {
	return uuid.New().String()
}
