package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dmitrymomot/meter/pkg/entitlement"
	"github.com/dmitrymomot/meter/pkg/identity"
	"github.com/dmitrymomot/meter/pkg/logger"
	"github.com/dmitrymomot/meter/pkg/usage"
)

const (
	HeaderUsageLimit     = "X-Usage-Limit"
	HeaderUsageRemaining = "X-Usage-Remaining"
)

type decisionKey struct{}

// DecisionFromContext returns the quota decision made by RequireQuota.
func DecisionFromContext(ctx context.Context) (usage.Decision, bool) {
	d, ok := ctx.Value(decisionKey{}).(usage.Decision)
	return d, ok
}

// RequireQuota consumes one unit of feature before calling next. Requests
// over the limit get 429; store failures get 503 and never reach next.
func RequireQuota(svc UsageService, feature entitlement.FeatureID, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = logger.Nop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			render := func(resp Response) {
				if err := resp.Render(w, r); err != nil {
					log.ErrorContext(ctx, "failed to render response", logger.Error(err))
				}
			}

			userID, err := identity.UserID(ctx)
			if err != nil {
				render(fail(r, log, err))
				return
			}

			d, err := svc.CheckAndIncrement(ctx, userID, feature)
			if err != nil {
				render(fail(r, log, err))
				return
			}

			w.Header().Set(HeaderUsageLimit, strconv.FormatInt(d.Limit, 10))
			w.Header().Set(HeaderUsageRemaining, strconv.FormatInt(max(d.Limit-d.Count, 0), 10))

			if !d.Allowed {
				render(Error(ErrUsageLimitReached, WithMeta(map[string]any{
					"feature":   feature,
					"count":     d.Count,
					"limit":     d.Limit,
					"isPremium": d.IsPremium,
				})))
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, decisionKey{}, d)))
		})
	}
}
