package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey struct{}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// Ctx returns the context's logger, or the global one.
func Ctx(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(zerolog.Logger); ok {
		return l
	}
	return L()
}

// ForConnection derives the logger used for the lifetime of one socket.
func ForConnection(base zerolog.Logger, connectionID, identity, participantID string) zerolog.Logger {
	return base.With().
		Str(FieldConnectionID, connectionID).
		Str(FieldIdentity, identity).
		Str(FieldUserID, participantID).
		Logger()
}
