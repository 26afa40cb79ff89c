package log

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type sessionIDKey struct{}

// WithSessionID returns a context which knows its session ID.
// A session is one synchronization pass over a chain; every request issued
// on behalf of that pass carries the same id in the logs.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, id)
}

// WithNewSessionID does the same thing as WithSessionID but generates a new, random id.
func WithNewSessionID(ctx context.Context) context.Context {
	return WithSessionID(ctx, uuid.NewString())
}

// ExtractSessionID extracts the session id from a context object.
func ExtractSessionID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey{}).(string)
	return id, ok
}

// ZContext is the log field of the session of ctx, empty if ctx has no session.
func ZContext(ctx context.Context) zap.Field {
	if id, ok := ExtractSessionID(ctx); ok {
		return zap.String("session_id", id)
	}
	return zap.Skip()
}
