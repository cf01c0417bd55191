package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/meter/pkg/billing"
	"github.com/dmitrymomot/meter/pkg/config"
	"github.com/dmitrymomot/meter/pkg/httpserver"
	"github.com/dmitrymomot/meter/pkg/identity"
	"github.com/dmitrymomot/meter/pkg/logger"
	"github.com/dmitrymomot/meter/pkg/requestid"
	"github.com/dmitrymomot/meter/pkg/search"
	"github.com/dmitrymomot/meter/pkg/store/postgres"
	redisstore "github.com/dmitrymomot/meter/pkg/store/redis"
	"github.com/dmitrymomot/meter/pkg/summarize"
)

const (
	backendMemory   = "memory"
	backendPostgres = "postgres"
	backendRedis    = "redis"

	authStatic = "static"
	authOIDC   = "oidc"
)

var ErrInvalidSetting = errors.New("invalid setting")

type appConfig struct {
	Env            string `env:"APP_ENV" envDefault:"development"`
	LogLevel       string `env:"LOG_LEVEL"`
	DataBackend    string `env:"DATA_BACKEND" envDefault:"memory"` // profiles and checkouts: memory or postgres
	CounterBackend string `env:"COUNTER_BACKEND"`                  // memory, postgres or redis; empty follows DATA_BACKEND
	AutoMigrate    bool   `env:"AUTO_MIGRATE" envDefault:"false"`
	CatalogFile    string `env:"CATALOG_FILE"`
	AuthMode       string `env:"AUTH_MODE" envDefault:"static"`
	BillingEnabled bool   `env:"BILLING_ENABLED" envDefault:"false"`
}

func (c appConfig) counterBackend() string {
	if c.CounterBackend == "" {
		return c.DataBackend
	}
	return c.CounterBackend
}

func (c appConfig) needsPostgres() bool {
	return c.DataBackend == backendPostgres || c.counterBackend() == backendPostgres
}

func (c appConfig) validate() error {
	switch c.DataBackend {
	case backendMemory, backendPostgres:
	default:
		return fmt.Errorf("%w: DATA_BACKEND=%q", ErrInvalidSetting, c.DataBackend)
	}
	switch c.counterBackend() {
	case backendMemory, backendPostgres, backendRedis:
	default:
		return fmt.Errorf("%w: COUNTER_BACKEND=%q", ErrInvalidSetting, c.CounterBackend)
	}
	switch c.AuthMode {
	case authStatic, authOIDC:
	default:
		return fmt.Errorf("%w: AUTH_MODE=%q", ErrInvalidSetting, c.AuthMode)
	}
	return nil
}

// settings is every component config the binary may wire.
type settings struct {
	App       appConfig
	HTTP      httpserver.Config
	Postgres  postgres.Config
	Redis     redisstore.Config
	OIDC      identity.OIDCConfig
	Static    identity.StaticKeyConfig
	Paddle    billing.PaddleConfig
	Search    search.Config
	Summarize summarize.Config
}

// loadSettings reads the environment. Configs with required fields are only
// loaded when their component is enabled.
func loadSettings() (settings, error) {
	var s settings
	if err := config.LoadAll(&s.App, &s.HTTP, &s.Redis, &s.OIDC, &s.Static, &s.Search, &s.Summarize); err != nil {
		return s, err
	}
	if err := s.App.validate(); err != nil {
		return s, err
	}
	if s.App.needsPostgres() {
		if err := loadPostgres(&s); err != nil {
			return s, err
		}
	}
	if s.App.BillingEnabled {
		if err := config.Load(&s.Paddle); err != nil {
			return s, err
		}
	}
	return s, nil
}

func loadPostgres(s *settings) error {
	return config.Load(&s.Postgres)
}

func newLogger(cfg appConfig, override string) *slog.Logger {
	level := cfg.LogLevel
	if override != "" {
		level = override
	}
	return logger.New(
		logger.WithEnvironment(cfg.Env, appName),
		logger.WithLevelName(level),
		logger.WithContextExtractors(requestid.LoggerExtractor(), identity.LoggerExtractor()),
	)
}
