package logging

import (
	"context"

	"go.uber.org/zap"
)

type contextKey struct{}

// WithRequestID returns a context carrying a request identifier that
// every log line emitted under it will include.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKey{}, requestID)
}

// ContextFields extracts the log fields carried by ctx.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	if id, ok := ctx.Value(contextKey{}).(string); ok && id != "" {
		return []zap.Field{zap.String("request_id", id)}
	}
	return nil
}
