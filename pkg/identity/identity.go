package identity

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dmitrymomot/meter/pkg/entitlement"
	"github.com/dmitrymomot/meter/pkg/logger"
)

// Identity is an authenticated caller.
type Identity struct {
	UserID string
	Email  string
}

// Authenticator verifies a raw bearer token.
type Authenticator interface {
	Authenticate(ctx context.Context, rawToken string) (Identity, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, rawToken string) (Identity, error)

func (f AuthenticatorFunc) Authenticate(ctx context.Context, rawToken string) (Identity, error) {
	return f(ctx, rawToken)
}

type contextKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity stored in ctx.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok && id.UserID != ""
}

// UserID returns the authenticated user id, or entitlement.ErrUnauthenticated.
func UserID(ctx context.Context) (string, error) {
	id, ok := FromContext(ctx)
	if !ok {
		return "", entitlement.ErrUnauthenticated
	}
	return id.UserID, nil
}

// LoggerExtractor adds the authenticated user id to log records.
func LoggerExtractor() logger.ContextExtractor {
	return func(ctx context.Context) (slog.Attr, bool) {
		id, ok := FromContext(ctx)
		if !ok {
			return slog.Attr{}, false
		}
		return slog.String("user_id", id.UserID), true
	}
}

func unauthenticated(err error) error {
	return errors.Join(entitlement.ErrUnauthenticated, err)
}
