package redis

import "time"

type Config struct {
	ConnectionURL  string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"` // ConnectionURL is the URL of the server, e.g. "redis://:password@localhost:6379/0".
	RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`             // RetryAttempts is the number of attempts to connect.
	RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"5s"`            // RetryInterval is the delay between attempts.
	ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"`          // ConnectTimeout bounds the whole connection phase.

	KeyPrefix string        `env:"REDIS_USAGE_KEY_PREFIX" envDefault:"meter:usage:"` // KeyPrefix namespaces counter keys.
	Retention time.Duration `env:"REDIS_USAGE_RETENTION" envDefault:"840h"`          // Retention is how long a day's counter is kept.
}
