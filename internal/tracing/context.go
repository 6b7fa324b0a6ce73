package tracing

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// SessionIDKey is the context key for the chat session id
	SessionIDKey ContextKey = "session_id"
)

// TraceHeader carries the trace id between the client and the session server.
const TraceHeader = "X-Trace-Id"

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithSessionID adds a session id to the context
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetSessionID retrieves the session id from the context
func GetSessionID(ctx context.Context) string {
	if id, ok := ctx.Value(SessionIDKey).(string); ok {
		return id
	}
	return ""
}

// EnsureTraceID returns ctx unchanged when it already carries a trace id,
// otherwise a copy carrying a new one.
func EnsureTraceID(ctx context.Context) context.Context {
	if GetTraceID(ctx) != "" {
		return ctx
	}
	return WithTraceID(ctx, NewTraceID())
}

// InjectHeader copies the trace id from ctx onto an outgoing request.
func InjectHeader(ctx context.Context, req *http.Request) {
	if traceID := GetTraceID(ctx); traceID != "" {
		req.Header.Set(TraceHeader, traceID)
	}
}

// ExtractRequest returns the request context with the caller's trace id,
// or a fresh one when the header is absent.
func ExtractRequest(r *http.Request) context.Context {
	ctx := r.Context()
	if traceID := r.Header.Get(TraceHeader); traceID != "" {
		return WithTraceID(ctx, traceID)
	}
	return EnsureTraceID(ctx)
}

// LoggerFromContext adds tracing context to a zerolog logger
func LoggerFromContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if traceID := GetTraceID(ctx); traceID != "" {
		logger = logger.With().Str("trace_id", traceID).Logger()
	}
	if sessionID := GetSessionID(ctx); sessionID != "" {
		logger = logger.With().Str("session_id", sessionID).Logger()
	}
	return logger
}
