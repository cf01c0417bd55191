package httpserver

import "time"

type Config struct {
	Addr             string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout      time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout     time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout      time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout  time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"5s"`
	ReadinessTimeout time.Duration `env:"HTTP_READINESS_TIMEOUT" envDefault:"2s"` // ReadinessTimeout bounds each readiness check.
}

// NewFromConfig creates a Server from cfg. Zero values keep the defaults.
func NewFromConfig(cfg Config, opts ...Option) *Server {
	configOpts := make([]Option, 0, 5+len(opts))

	if cfg.Addr != "" {
		configOpts = append(configOpts, WithAddr(cfg.Addr))
	}
	if cfg.ReadTimeout > 0 {
		configOpts = append(configOpts, WithReadTimeout(cfg.ReadTimeout))
	}
	if cfg.WriteTimeout > 0 {
		configOpts = append(configOpts, WithWriteTimeout(cfg.WriteTimeout))
	}
	if cfg.IdleTimeout > 0 {
		configOpts = append(configOpts, WithIdleTimeout(cfg.IdleTimeout))
	}
	if cfg.ShutdownTimeout > 0 {
		configOpts = append(configOpts, WithShutdownTimeout(cfg.ShutdownTimeout))
	}

	return New(append(configOpts, opts...)...)
}
