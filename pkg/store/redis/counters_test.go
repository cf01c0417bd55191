package redis_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/meter/pkg/entitlement"
	"github.com/dmitrymomot/meter/pkg/store/redis"
	"github.com/dmitrymomot/meter/pkg/usage"
)

func setup(t *testing.T) (*miniredis.Miniredis, *redis.CounterStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, redis.NewCounterStore(client, redis.Config{
		KeyPrefix: "test:",
		Retention: 48 * time.Hour,
	})
}

func TestCounterStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	day := time.Date(2026, 10, 14, 15, 0, 0, 0, time.UTC)

	t.Run("ceiling", func(t *testing.T) {
		t.Parallel()
		_, store := setup(t)
		key := usage.NewKey("u1", entitlement.FeatureSearch, day)

		for i := int64(1); i <= 3; i++ {
			n, ok, err := store.IncrementWithCeiling(ctx, key, 3)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, i, n)
		}

		n, ok, err := store.IncrementWithCeiling(ctx, key, 3)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, int64(3), n)

		count, err := store.Count(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)
	})

	t.Run("missing counter reads zero", func(t *testing.T) {
		t.Parallel()
		_, store := setup(t)
		n, err := store.Count(ctx, usage.NewKey("nobody", entitlement.FeatureSearch, day))
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("retention ttl is applied", func(t *testing.T) {
		t.Parallel()
		mr, store := setup(t)
		key := usage.NewKey("u1", entitlement.FeatureAnalysis, day)
		_, _, err := store.IncrementWithCeiling(ctx, key, 5)
		require.NoError(t, err)

		assert.Equal(t, 48*time.Hour, mr.TTL("test:"+key.String()))
		mr.FastForward(49 * time.Hour)
		assert.False(t, mr.Exists("test:"+key.String()))
	})

	t.Run("reset keeps ttl", func(t *testing.T) {
		t.Parallel()
		mr, store := setup(t)
		key := usage.NewKey("u1", entitlement.FeatureSearch, day)
		for range 2 {
			_, _, err := store.IncrementWithCeiling(ctx, key, 5)
			require.NoError(t, err)
		}

		require.NoError(t, store.Reset(ctx, key))
		n, err := store.Count(ctx, key)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Positive(t, mr.TTL("test:"+key.String()))

		require.NoError(t, store.Reset(ctx, usage.NewKey("u2", entitlement.FeatureSearch, day)))
		assert.False(t, mr.Exists("test:u2:search:2026-10-14"))
	})

	t.Run("concurrent increments never pass the limit", func(t *testing.T) {
		t.Parallel()
		_, store := setup(t)
		key := usage.NewKey("u1", entitlement.FeatureSearch, day)

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			allowed int
		)
		for range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, ok, err := store.IncrementWithCeiling(ctx, key, 20)
				assert.NoError(t, err)
				if ok {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 20, allowed)
		n, err := store.Count(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, int64(20), n)
	})

	t.Run("invalid key", func(t *testing.T) {
		t.Parallel()
		_, store := setup(t)
		_, _, err := store.IncrementWithCeiling(ctx, usage.Key{}, 1)
		assert.ErrorIs(t, err, usage.ErrInvalidKey)
	})
}

func TestHealthcheck(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	check := redis.Healthcheck(client)
	require.NoError(t, check(context.Background()))

	mr.Close()
	assert.ErrorIs(t, check(context.Background()), redis.ErrHealthcheckFailed)
}

func TestConnect(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)

	client, err := redis.Connect(context.Background(), redis.Config{
		ConnectionURL: "redis://" + mr.Addr() + "/0",
		RetryAttempts: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = redis.Connect(context.Background(), redis.Config{ConnectionURL: "://bad"})
	assert.ErrorIs(t, err, redis.ErrFailedToParseRedisConnString)
}
