// Package redis keeps daily usage counters in Redis.
//
// The ceiling check and the increment run inside one Lua script, which Redis
// executes atomically, so the limit holds across any number of API replicas.
package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/meter/pkg/usage"
)

var _ usage.Store = (*CounterStore)(nil)

// KEYS[1] counter key; ARGV[1] limit; ARGV[2] ttl in seconds.
// Returns {allowed, count}.
var incrementWithCeiling = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local limit = tonumber(ARGV[1])
if current >= limit then
	return {0, current}
end
current = redis.call('INCR', KEYS[1])
local ttl = tonumber(ARGV[2])
if ttl > 0 then
	redis.call('EXPIRE', KEYS[1], ttl)
end
return {1, current}
`)

// Zeroes an existing counter while keeping its expiry.
var resetCounter = redis.NewScript(`
local ttl = redis.call('PTTL', KEYS[1])
if ttl == -2 then
	return 0
end
if ttl > 0 then
	redis.call('SET', KEYS[1], 0, 'PX', ttl)
else
	redis.call('SET', KEYS[1], 0)
end
return 1
`)

// CounterStore implements usage.Store.
type CounterStore struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewCounterStore creates a CounterStore using cfg's key prefix and retention.
func NewCounterStore(client redis.UniversalClient, cfg Config) *CounterStore {
	return &CounterStore{
		client:    client,
		prefix:    cfg.KeyPrefix,
		retention: cfg.Retention,
	}
}

func (s *CounterStore) key(k usage.Key) string {
	return s.prefix + k.String()
}

func (s *CounterStore) Count(ctx context.Context, key usage.Key) (int64, error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}
	n, err := s.client.Get(ctx, s.key(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (s *CounterStore) IncrementWithCeiling(ctx context.Context, key usage.Key, limit int64) (int64, bool, error) {
	if err := key.Validate(); err != nil {
		return 0, false, err
	}
	reply, err := incrementWithCeiling.Run(ctx, s.client,
		[]string{s.key(key)}, limit, int64(s.retention/time.Second)).Int64Slice()
	if err != nil {
		return 0, false, err
	}
	if len(reply) != 2 {
		return 0, false, ErrUnexpectedScriptReply
	}
	return reply[1], reply[0] == 1, nil
}

func (s *CounterStore) Reset(ctx context.Context, key usage.Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	return resetCounter.Run(ctx, s.client, []string{s.key(key)}).Err()
}
