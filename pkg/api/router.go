package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrymomot/meter/pkg/billing"
	"github.com/dmitrymomot/meter/pkg/entitlement"
	"github.com/dmitrymomot/meter/pkg/httpserver"
	"github.com/dmitrymomot/meter/pkg/identity"
	"github.com/dmitrymomot/meter/pkg/logger"
	"github.com/dmitrymomot/meter/pkg/metrics"
	"github.com/dmitrymomot/meter/pkg/requestid"
	"github.com/dmitrymomot/meter/pkg/search"
	"github.com/dmitrymomot/meter/pkg/summarize"
	"github.com/dmitrymomot/meter/pkg/usage"
)

// UsageService meters feature usage.
type UsageService interface {
	CheckAndIncrement(ctx context.Context, userID string, feature entitlement.FeatureID) (usage.Decision, error)
	GetUsage(ctx context.Context, userID string, feature entitlement.FeatureID) (usage.Usage, error)
}

// BillingService drives checkouts and subscription changes.
type BillingService interface {
	StartCheckout(ctx context.Context, userID, priceID, successURL string) (*billing.CheckoutLink, error)
	OnPaymentConfirmed(ctx context.Context, userID, checkoutRef string) (*entitlement.UserProfile, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

type router struct {
	usage      UsageService
	auth       identity.Authenticator
	billing    BillingService
	profiles   entitlement.ProfileStore
	searcher   search.Searcher
	summarizer summarize.Summarizer
	metrics    *metrics.Metrics
	gatherer   prometheus.Gatherer
	checks     []httpserver.Check
	readyTTL   time.Duration
	log        *slog.Logger
	now        func() time.Time
}

// Option configures the router.
type Option func(*router)

// WithBilling mounts checkout, confirmation and webhook routes.
func WithBilling(b BillingService) Option {
	return func(r *router) { r.billing = b }
}

// WithProfiles creates profiles on first access and mounts GET /v1/profile.
func WithProfiles(p entitlement.ProfileStore) Option {
	return func(r *router) { r.profiles = p }
}

// WithSearcher mounts the metered search feature.
func WithSearcher(s search.Searcher) Option {
	return func(r *router) { r.searcher = s }
}

// WithSummarizer mounts the metered analysis feature.
func WithSummarizer(s summarize.Summarizer) Option {
	return func(r *router) { r.summarizer = s }
}

// WithMetrics records HTTP metrics and serves g on /metrics.
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) Option {
	return func(r *router) {
		r.metrics = m
		r.gatherer = g
	}
}

// WithReadiness sets the checks behind /readyz.
func WithReadiness(timeout time.Duration, checks ...httpserver.Check) Option {
	return func(r *router) {
		r.readyTTL = timeout
		r.checks = append(r.checks, checks...)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *router) {
		if l != nil {
			r.log = l
		}
	}
}

// WithClock overrides the time source used for profile rendering.
func WithClock(now func() time.Time) Option {
	return func(r *router) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRouter builds the HTTP handler.
func NewRouter(usageSvc UsageService, auth identity.Authenticator, opts ...Option) http.Handler {
	rt := &router{
		usage: usageSvc,
		auth:  auth,
		log:   logger.Nop(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(rt)
	}
	rt.log = rt.log.With(logger.Component("api"))

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(middleware.Recoverer)
	if rt.metrics != nil {
		r.Use(rt.metrics.Middleware)
	}

	r.Get("/healthz", httpserver.Liveness())
	r.Get("/readyz", httpserver.Readiness(rt.log, rt.readyTTL, rt.checks...))
	if rt.gatherer != nil {
		r.Handle("/metrics", metrics.Handler(rt.gatherer))
	}
	if rt.billing != nil {
		r.Post("/webhooks/paddle", wrap(rt.log, rt.handleWebhook))
	}

	authOpts := []identity.MiddlewareOption{
		identity.WithErrorHandler(rt.renderError),
		identity.WithMiddlewareLogger(rt.log),
	}
	if rt.profiles != nil {
		authOpts = append(authOpts, identity.WithProfileEnsurer(rt.profiles))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(identity.Middleware(rt.auth, authOpts...))

		r.Get("/usage/{feature}", wrap(rt.log, rt.getUsage))
		r.Post("/usage/{feature}/increment", wrap(rt.log, rt.incrementUsage))

		if rt.profiles != nil {
			r.Get("/profile", wrap(rt.log, rt.getProfile))
		}
		if rt.billing != nil {
			r.Post("/billing/checkout", wrap(rt.log, rt.startCheckout))
			r.Post("/billing/checkout/{ref}/confirm", wrap(rt.log, rt.confirmCheckout))
		}
		if rt.searcher != nil {
			r.With(decodeBody(rt.log, SearchRequest.validate), RequireQuota(rt.usage, entitlement.FeatureSearch, rt.log)).
				Post("/features/search", wrap(rt.log, rt.runSearch))
		}
		if rt.summarizer != nil {
			r.With(decodeBody(rt.log, AnalysisRequest.validate), RequireQuota(rt.usage, entitlement.FeatureAnalysis, rt.log)).
				Post("/features/analysis", wrap(rt.log, rt.runAnalysis))
		}
	})

	return r
}

func (rt *router) renderError(w http.ResponseWriter, r *http.Request, err error) {
	if rerr := fail(r, rt.log, err).Render(w, r); rerr != nil {
		rt.log.ErrorContext(r.Context(), "failed to render response", logger.Error(rerr))
	}
}
