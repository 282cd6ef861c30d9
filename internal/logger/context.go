package logger

import (
	"context"
	"log/slog"
)

// contextKey is unexported so no other package can read or overwrite the
// request logger. An empty struct key allocates nothing.
type contextKey struct{}

// WithContext returns a copy of ctx carrying logger.
// Middleware calls it once per request so handlers log with the request id.
func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the logger stored in ctx.
//
// Design Choice: it never returns nil. Code reached without the middleware,
// such as unit tests or the startup Postgres connect, falls back to
// slog.Default() instead of forcing every caller to nil-check.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(contextKey{}).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return slog.Default()
}
