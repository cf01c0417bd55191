package identity

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dmitrymomot/meter/pkg/entitlement"
	"github.com/dmitrymomot/meter/pkg/logger"
)

// ProfileEnsurer creates the profile of a user on first access.
type ProfileEnsurer interface {
	EnsureProfile(ctx context.Context, userID string) (*entitlement.UserProfile, error)
}

// ErrorHandler writes the response for a rejected request.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

type middleware struct {
	auth     Authenticator
	profiles ProfileEnsurer
	onError  ErrorHandler
	log      *slog.Logger
}

// MiddlewareOption configures Middleware.
type MiddlewareOption func(*middleware)

// WithProfileEnsurer makes every authenticated request ensure the caller's profile.
func WithProfileEnsurer(p ProfileEnsurer) MiddlewareOption {
	return func(m *middleware) { m.profiles = p }
}

// WithErrorHandler replaces the plain-text 401/503 responses.
func WithErrorHandler(h ErrorHandler) MiddlewareOption {
	return func(m *middleware) {
		if h != nil {
			m.onError = h
		}
	}
}

// WithMiddlewareLogger sets the logger.
func WithMiddlewareLogger(l *slog.Logger) MiddlewareOption {
	return func(m *middleware) {
		if l != nil {
			m.log = l
		}
	}
}

// Middleware authenticates the bearer token of every request.
func Middleware(auth Authenticator, opts ...MiddlewareOption) func(next http.Handler) http.Handler {
	m := &middleware{
		auth:    auth,
		onError: defaultErrorHandler,
		log:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			id, err := m.auth.Authenticate(ctx, BearerToken(r))
			if err != nil {
				m.log.DebugContext(ctx, "request rejected", logger.Error(err))
				m.onError(w, r, unauthenticatedOnly(err))
				return
			}

			if m.profiles != nil {
				if _, err := m.profiles.EnsureProfile(ctx, id.UserID); err != nil {
					m.log.ErrorContext(ctx, "failed to ensure profile", logger.UserID(id.UserID), logger.Error(err))
					m.onError(w, r, errors.Join(entitlement.ErrStoreUnavailable, err))
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, id)))
		})
	}
}

// BearerToken returns the token of an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func unauthenticatedOnly(err error) error {
	if errors.Is(err, entitlement.ErrUnauthenticated) {
		return err
	}
	return unauthenticated(err)
}

func defaultErrorHandler(w http.ResponseWriter, _ *http.Request, err error) {
	if errors.Is(err, entitlement.ErrUnauthenticated) {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
}
