package usage_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/meter/pkg/entitlement"
	"github.com/dmitrymomot/meter/pkg/usage"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(t time.Time) *clock { return &clock{now: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fixture struct {
	profiles *entitlement.MemoryProfileStore
	store    *usage.MemoryStore
	clock    *clock
	svc      *usage.Service
}

func newFixture(t *testing.T, catalog *entitlement.Catalog, opts ...usage.Option) *fixture {
	t.Helper()
	f := &fixture{
		profiles: entitlement.NewMemoryProfileStore(),
		store:    usage.NewMemoryStore(),
		clock:    newClock(time.Date(2026, 5, 4, 23, 58, 0, 0, time.UTC)),
	}
	resolver := entitlement.NewResolver(f.profiles, catalog, entitlement.WithClock(f.clock.Now))
	f.svc = usage.NewService(resolver, f.store, append([]usage.Option{usage.WithClock(f.clock.Now)}, opts...)...)
	return f
}

func (f *fixture) setPro(t *testing.T, userID string, status entitlement.SubscriptionStatus) {
	t.Helper()
	p, err := f.profiles.EnsureProfile(context.Background(), userID)
	require.NoError(t, err)
	p.Tier = entitlement.TierPro
	p.SubscriptionStatus = status
	require.NoError(t, f.profiles.SaveProfile(context.Background(), p))
}

func (f *fixture) consume(t *testing.T, userID string, feature entitlement.FeatureID, n int) {
	t.Helper()
	for range n {
		d, err := f.svc.CheckAndIncrement(context.Background(), userID, feature)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
}

func TestCheckAndIncrement_FreeLimit(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	f.consume(t, "u1", entitlement.FeatureSearch, 19)

	d, err := f.svc.CheckAndIncrement(ctx, "u1", entitlement.FeatureSearch)
	require.NoError(t, err)
	assert.Equal(t, usage.Decision{Allowed: true, Count: 20, Limit: 20}, d)

	d, err = f.svc.CheckAndIncrement(ctx, "u1", entitlement.FeatureSearch)
	require.NoError(t, err)
	assert.Equal(t, usage.Decision{Allowed: false, Count: 20, Limit: 20}, d)

	u, err := f.svc.GetUsage(ctx, "u1", entitlement.FeatureSearch)
	require.NoError(t, err)
	assert.Equal(t, usage.Usage{Count: 20, Limit: 20, Remaining: 0, IsLimitReached: true}, u)
}

func TestCheckAndIncrement_DeniedNeverConsumes(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	f.consume(t, "u1", entitlement.FeatureAnalysis, 5)
	for range 10 {
		d, err := f.svc.CheckAndIncrement(ctx, "u1", entitlement.FeatureAnalysis)
		require.NoError(t, err)
		assert.False(t, d.Allowed)
	}

	count, err := f.store.Count(ctx, usage.NewKey("u1", entitlement.FeatureAnalysis, f.clock.Now()))
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}

func TestCheckAndIncrement_Concurrent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		allowed atomic.Int64
	)
	for range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := f.svc.CheckAndIncrement(ctx, "u1", entitlement.FeatureSearch)
			if err == nil && d.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(20), allowed.Load())
	count, err := f.store.Count(ctx, usage.NewKey("u1", entitlement.FeatureSearch, f.clock.Now()))
	require.NoError(t, err)
	assert.Equal(t, int64(20), count)
}

func TestCheckAndIncrement_DayBoundary(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	f.consume(t, "u1", entitlement.FeatureSearch, 20)
	d, err := f.svc.CheckAndIncrement(ctx, "u1", entitlement.FeatureSearch)
	require.NoError(t, err)
	require.False(t, d.Allowed)

	f.clock.Set(f.clock.Now().Add(3 * time.Minute))

	d, err = f.svc.CheckAndIncrement(ctx, "u1", entitlement.FeatureSearch)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(1), d.Count)

	previous, err := f.store.Count(ctx, usage.NewKey("u1", entitlement.FeatureSearch, f.clock.Now().Add(-24*time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, int64(20), previous, "previous day is retained")
}

func TestCheckAndIncrement_Downgrade(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	f.setPro(t, "u1", entitlement.StatusActive)
	f.consume(t, "u1", entitlement.FeatureSearch, 95)

	p, err := f.profiles.GetProfile(ctx, "u1")
	require.NoError(t, err)
	p.SubscriptionStatus = entitlement.StatusCanceled
	require.NoError(t, f.profiles.SaveProfile(ctx, p))

	d, err := f.svc.CheckAndIncrement(ctx, "u1", entitlement.FeatureSearch)
	require.NoError(t, err)
	assert.Equal(t, usage.Decision{Allowed: false, Count: 95, Limit: 20}, d)

	u, err := f.svc.GetUsage(ctx, "u1", entitlement.FeatureSearch)
	require.NoError(t, err)
	assert.Equal(t, int64(95), u.Count, "consumed usage is never reduced")
	assert.Equal(t, int64(0), u.Remaining)
	assert.True(t, u.IsLimitReached)
}

func TestCheckAndIncrement_DisabledFeature(t *testing.T) {
	t.Parallel()
	catalog, err := entitlement.NewCatalog(entitlement.FeatureDefinition{ID: "export", FreeLimit: 0, ProLimit: 3})
	require.NoError(t, err)
	f := newFixture(t, catalog)
	ctx := context.Background()

	d, err := f.svc.CheckAndIncrement(ctx, "u1", "export")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, int64(0), d.Limit)

	f.setPro(t, "u1", entitlement.StatusActive)
	d, err = f.svc.CheckAndIncrement(ctx, "u1", "export")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.True(t, d.IsPremium)
}

func TestCheckAndIncrement_ResolverErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.CheckAndIncrement(ctx, "", entitlement.FeatureSearch)
	assert.ErrorIs(t, err, entitlement.ErrUnauthenticated)

	_, err = f.svc.CheckAndIncrement(ctx, "u1", "unknown")
	assert.ErrorIs(t, err, entitlement.ErrUnknownFeature)
}

type flakyStore struct {
	usage.Store
	failures atomic.Int64
	calls    atomic.Int64
}

func (s *flakyStore) IncrementWithCeiling(ctx context.Context, key usage.Key, limit int64) (int64, bool, error) {
	s.calls.Add(1)
	if s.failures.Add(-1) >= 0 {
		return 0, false, errors.New("connection reset")
	}
	return s.Store.IncrementWithCeiling(ctx, key, limit)
}

type recorder struct {
	mu       sync.Mutex
	outcomes []usage.Outcome
	resets   []entitlement.FeatureID
}

func (r *recorder) RecordDecision(_ entitlement.FeatureID, o usage.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func (r *recorder) RecordReset(f entitlement.FeatureID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets = append(r.resets, f)
}

func TestCheckAndIncrement_StoreFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	resolver := entitlement.NewResolver(entitlement.NewMemoryProfileStore(), nil)

	t.Run("single failure is retried", func(t *testing.T) {
		t.Parallel()
		store := &flakyStore{Store: usage.NewMemoryStore()}
		store.failures.Store(1)
		svc := usage.NewService(resolver, store)

		d, err := svc.CheckAndIncrement(ctx, "u1", entitlement.FeatureSearch)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, int64(2), store.calls.Load())
	})

	t.Run("persistent failure fails closed", func(t *testing.T) {
		t.Parallel()
		store := &flakyStore{Store: usage.NewMemoryStore()}
		store.failures.Store(10)
		rec := &recorder{}
		svc := usage.NewService(resolver, store, usage.WithStoreRetry(0), usage.WithRecorder(rec))

		d, err := svc.CheckAndIncrement(ctx, "u1", entitlement.FeatureSearch)
		require.Error(t, err)
		assert.ErrorIs(t, err, usage.ErrStoreUnavailable)
		assert.False(t, d.Allowed)
		assert.Equal(t, int64(1), store.calls.Load())
		assert.Equal(t, []usage.Outcome{usage.OutcomeError}, rec.outcomes)
	})
}

func TestResetDay(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	f := newFixture(t, nil, usage.WithRecorder(rec))
	ctx := context.Background()

	f.consume(t, "u1", entitlement.FeatureSearch, 20)
	f.consume(t, "u1", entitlement.FeatureAnalysis, 2)

	require.NoError(t, f.svc.ResetDay(ctx, "u1", entitlement.FeatureSearch, entitlement.FeatureAnalysis))

	u, err := f.svc.GetUsage(ctx, "u1", entitlement.FeatureSearch)
	require.NoError(t, err)
	assert.Equal(t, int64(0), u.Count)
	assert.Equal(t, int64(20), u.Remaining)
	assert.Equal(t, []entitlement.FeatureID{entitlement.FeatureSearch, entitlement.FeatureAnalysis}, rec.resets)

	assert.ErrorIs(t, f.svc.ResetDay(ctx, "u1"), usage.ErrNoFeatures)
	assert.ErrorIs(t, f.svc.ResetDay(ctx, "", entitlement.FeatureSearch), entitlement.ErrUnauthenticated)
}

func TestNewKey(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("UTC+3", 3*3600)
	at := time.Date(2026, 5, 5, 1, 30, 0, 0, loc)

	key := usage.NewKey("u1", entitlement.FeatureSearch, at)
	assert.Equal(t, "2026-05-04", key.Date(), "days are UTC calendar days")
	assert.Equal(t, "u1:search:2026-05-04", key.String())
	assert.ErrorIs(t, usage.Key{}.Validate(), usage.ErrInvalidKey)
}
