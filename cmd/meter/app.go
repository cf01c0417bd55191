package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dmitrymomot/meter/pkg/api"
	"github.com/dmitrymomot/meter/pkg/billing"
	"github.com/dmitrymomot/meter/pkg/entitlement"
	"github.com/dmitrymomot/meter/pkg/httpserver"
	"github.com/dmitrymomot/meter/pkg/identity"
	"github.com/dmitrymomot/meter/pkg/logger"
	"github.com/dmitrymomot/meter/pkg/metrics"
	"github.com/dmitrymomot/meter/pkg/search"
	"github.com/dmitrymomot/meter/pkg/store/postgres"
	redisstore "github.com/dmitrymomot/meter/pkg/store/redis"
	"github.com/dmitrymomot/meter/pkg/summarize"
	"github.com/dmitrymomot/meter/pkg/usage"
)

// app holds the wired service and the resources it must release.
type app struct {
	handler http.Handler
	log     *slog.Logger
	closers []func()
	pool    *pgxpool.Pool
	checks  []httpserver.Check
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *app) postgres(ctx context.Context, s settings) (*pgxpool.Pool, error) {
	if a.pool != nil {
		return a.pool, nil
	}
	pool, err := postgres.Connect(ctx, s.Postgres)
	if err != nil {
		return nil, err
	}
	a.pool = pool
	a.closers = append(a.closers, pool.Close)
	a.checks = append(a.checks, httpserver.Check{Name: "postgres", Fn: postgres.Healthcheck(pool)})

	if s.App.AutoMigrate {
		if err := postgres.Migrate(ctx, pool, s.Postgres, a.log); err != nil {
			return nil, err
		}
	}
	return pool, nil
}

// newApp wires every component selected by s. On error the resources opened
// so far are released.
func newApp(ctx context.Context, s settings, log *slog.Logger) (_ *app, err error) {
	a := &app{log: log}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	catalog := entitlement.DefaultCatalog()
	if s.App.CatalogFile != "" {
		if catalog, err = entitlement.LoadCatalogFile(s.App.CatalogFile); err != nil {
			return nil, err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var (
		profiles  entitlement.ProfileStore
		checkouts billing.CheckoutStore
		counters  usage.Store
	)
	switch s.App.DataBackend {
	case backendPostgres:
		pool, err := a.postgres(ctx, s)
		if err != nil {
			return nil, err
		}
		profiles = postgres.NewProfileStore(pool)
		checkouts = postgres.NewCheckoutStore(pool)
	default:
		profiles = entitlement.NewMemoryProfileStore()
		checkouts = billing.NewMemoryCheckoutStore()
	}

	switch s.App.counterBackend() {
	case backendPostgres:
		pool, err := a.postgres(ctx, s)
		if err != nil {
			return nil, err
		}
		counters = postgres.NewCounterStore(pool)
	case backendRedis:
		client, err := redisstore.Connect(ctx, s.Redis)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() {
			if err := client.Close(); err != nil {
				log.Error("failed to close redis client", logger.Error(err))
			}
		})
		a.checks = append(a.checks, httpserver.Check{Name: "redis", Fn: redisstore.Healthcheck(client)})
		counters = redisstore.NewCounterStore(client, s.Redis)
	default:
		counters = usage.NewMemoryStore()
	}

	resolver := entitlement.NewResolver(profiles, catalog)
	svc := usage.NewService(resolver, counters, usage.WithLogger(log), usage.WithRecorder(m))

	auth, err := newAuthenticator(ctx, s)
	if err != nil {
		return nil, err
	}

	opts := []api.Option{
		api.WithLogger(log),
		api.WithProfiles(profiles),
		api.WithMetrics(m, reg),
	}

	if s.App.BillingEnabled {
		provider, err := billing.NewPaddleProvider(s.Paddle)
		if err != nil {
			return nil, err
		}
		syncer := billing.NewSync(profiles, checkouts, provider, svc, catalog,
			billing.WithLogger(log),
			billing.WithRecorder(m),
			billing.WithPriceTiers(billing.NewPriceTiers(s.Paddle.ProPriceIDs...)),
		)
		opts = append(opts, api.WithBilling(syncer))
	}

	if s.Search.Enabled() {
		client, err := search.Connect(ctx, s.Search)
		if err != nil {
			return nil, err
		}
		a.checks = append(a.checks, httpserver.Check{Name: "opensearch", Fn: search.Healthcheck(client)})
		opts = append(opts, api.WithSearcher(search.NewOpenSearch(client, s.Search)))
	}

	if s.Summarize.APIKey != "" {
		summarizer, err := summarize.NewOpenAI(s.Summarize)
		if err != nil {
			return nil, err
		}
		opts = append(opts, api.WithSummarizer(summarizer))
	}

	opts = append(opts, api.WithReadiness(s.HTTP.ReadinessTimeout, a.checks...))
	a.handler = api.NewRouter(svc, auth, opts...)

	log.InfoContext(ctx, "service wired",
		slog.String("data_backend", s.App.DataBackend),
		slog.String("counter_backend", s.App.counterBackend()),
		slog.String("auth", s.App.AuthMode),
		slog.Bool("billing", s.App.BillingEnabled),
		slog.Bool("search", s.Search.Enabled()),
		slog.Bool("analysis", s.Summarize.APIKey != ""),
	)
	return a, nil
}

func newAuthenticator(ctx context.Context, s settings) (identity.Authenticator, error) {
	switch s.App.AuthMode {
	case authOIDC:
		return identity.NewOIDC(ctx, s.OIDC)
	case authStatic:
		return identity.NewStaticKey(s.Static)
	default:
		return nil, fmt.Errorf("%w: AUTH_MODE=%q", ErrInvalidSetting, s.App.AuthMode)
	}
}

func serve(ctx context.Context, s settings, log *slog.Logger) error {
	a, err := newApp(ctx, s, log)
	if err != nil {
		return err
	}

	srv := httpserver.NewFromConfig(s.HTTP,
		httpserver.WithLogger(log),
		httpserver.WithStopHook(func(*slog.Logger) { a.close() }),
	)
	if err := srv.Run(ctx, a.handler); err != nil {
		a.close()
		return err
	}
	return nil
}

func migrate(ctx context.Context, s settings, log *slog.Logger) error {
	pool, err := postgres.Connect(ctx, s.Postgres)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool, s.Postgres, log); err != nil {
		return err
	}
	log.InfoContext(ctx, "migrations applied")
	return nil
}
