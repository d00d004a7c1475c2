package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	sessionIDKey contextKey = "session_id"
)

// NewRequestID returns a fresh request identifier
func NewRequestID() string {
	return uuid.New().String()
}

func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func ContextWithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// Ctx returns the global logger enriched with any request and session IDs in ctx.
// Session IDs are truncated so log files never carry a usable cookie value.
func Ctx(ctx context.Context) *zerolog.Logger {
	l := Logger().With().Logger()
	if id := RequestIDFromContext(ctx); id != "" {
		l = l.With().Str("request_id", id).Logger()
	}
	if id, _ := ctx.Value(sessionIDKey).(string); id != "" {
		if len(id) > 8 {
			id = id[:8]
		}
		l = l.With().Str("session", id).Logger()
	}
	return &l
}
