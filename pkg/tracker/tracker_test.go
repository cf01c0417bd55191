package tracker_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/meter/pkg/entitlement"
	"github.com/dmitrymomot/meter/pkg/tracker"
)

const search = entitlement.FeatureSearch

// fakeAPI is an in-memory usage server. When replies is set, each Increment
// blocks until a scripted reply is sent.
type fakeAPI struct {
	mu      sync.Mutex
	count   int64
	limit   int64
	premium bool
	getErr  error
	incErr  error
	replies chan tracker.IncrementResult
	getGate chan struct{}

	gets atomic.Int32
	incs atomic.Int32
}

func (f *fakeAPI) GetUsage(_ context.Context, _ entitlement.FeatureID) (tracker.UsageSnapshot, error) {
	f.gets.Add(1)
	if f.getGate != nil {
		<-f.getGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return tracker.UsageSnapshot{}, f.getErr
	}
	return tracker.UsageSnapshot{
		Count:          f.count,
		Limit:          f.limit,
		Remaining:      max(f.limit-f.count, 0),
		IsLimitReached: f.count >= f.limit,
		IsPremium:      f.premium,
	}, nil
}

func (f *fakeAPI) Increment(_ context.Context, _ entitlement.FeatureID) (tracker.IncrementResult, error) {
	f.incs.Add(1)
	if f.replies != nil {
		return <-f.replies, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.incErr != nil {
		return tracker.IncrementResult{}, f.incErr
	}
	allowed := f.count < f.limit
	if allowed {
		f.count++
	}
	return tracker.IncrementResult{
		Success:      allowed,
		Count:        f.count,
		Limit:        f.limit,
		LimitReached: f.count >= f.limit,
		IsPremium:    f.premium,
	}, nil
}

func (f *fakeAPI) set(count, limit int64, premium bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count, f.limit, f.premium = count, limit, premium
}

type recordingNotifier struct {
	mu        sync.Mutex
	reached   []tracker.Mirror
	near      []tracker.Mirror
	syncFails []error
}

func (n *recordingNotifier) LimitReached(m tracker.Mirror) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reached = append(n.reached, m)
}

func (n *recordingNotifier) NearLimit(m tracker.Mirror) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.near = append(n.near, m)
}

func (n *recordingNotifier) SyncFailed(_ entitlement.FeatureID, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.syncFails = append(n.syncFails, err)
}

func (n *recordingNotifier) counts() (reached, near, fails int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.reached), len(n.near), len(n.syncFails)
}

func newTracker(api tracker.UsageAPI, opts ...tracker.Option) (*tracker.Tracker, *recordingNotifier) {
	n := &recordingNotifier{}
	opts = append([]tracker.Option{tracker.WithNotifier(n)}, opts...)
	t := tracker.New(api, map[entitlement.FeatureID]tracker.FeatureConfig{
		search: {Limit: 20},
	}, opts...)
	return t, n
}

func TestMount(t *testing.T) {
	t.Parallel()

	t.Run("refreshes from server", func(t *testing.T) {
		t.Parallel()
		api := &fakeAPI{}
		api.set(3, 20, false)
		tr, _ := newTracker(api)

		assert.Equal(t, tracker.StateIdle, tr.Snapshot(search).State)

		m, err := tr.Mount(context.Background(), search)
		require.NoError(t, err)
		assert.Equal(t, int64(3), m.Count)
		assert.Equal(t, int64(20), m.Limit)
		assert.Equal(t, tracker.StateReconciled, m.State)
		assert.False(t, m.SyncedAt.IsZero())
		assert.Equal(t, int64(17), m.Remaining())
	})

	t.Run("paints cached mirror when server is unreachable", func(t *testing.T) {
		t.Parallel()
		cache := tracker.NewMemoryCache()
		cache.Store(tracker.Mirror{Feature: search, Count: 7, Limit: 20})
		api := &fakeAPI{getErr: errors.New("offline")}
		tr, n := newTracker(api, tracker.WithCache(cache))

		m, err := tr.Mount(context.Background(), search)
		require.ErrorIs(t, err, tracker.ErrSyncFailed)
		assert.Equal(t, int64(7), m.Count)
		assert.Equal(t, tracker.StateIdle, m.State)
		_, _, fails := n.counts()
		assert.Equal(t, 1, fails)
	})

	t.Run("stores synced mirror in cache", func(t *testing.T) {
		t.Parallel()
		cache := tracker.NewMemoryCache()
		api := &fakeAPI{}
		api.set(4, 20, true)
		tr, _ := newTracker(api, tracker.WithCache(cache))

		_, err := tr.Mount(context.Background(), search)
		require.NoError(t, err)

		cached, ok := cache.Load(search)
		require.True(t, ok)
		assert.Equal(t, int64(4), cached.Count)
		assert.True(t, cached.IsPremium)
	})

	t.Run("concurrent mounts share one request", func(t *testing.T) {
		t.Parallel()
		api := &fakeAPI{getGate: make(chan struct{})}
		api.set(1, 20, false)
		tr, _ := newTracker(api)

		var wg sync.WaitGroup
		for range 5 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = tr.Mount(context.Background(), search)
			}()
		}
		time.Sleep(50 * time.Millisecond)
		close(api.getGate)
		wg.Wait()

		assert.Equal(t, int32(1), api.gets.Load())
	})

	t.Run("cancelled mount does not fail shared callers", func(t *testing.T) {
		t.Parallel()
		api := &fakeAPI{getGate: make(chan struct{})}
		api.set(2, 20, false)
		tr, n := newTracker(api)

		ctx, cancel := context.WithCancel(context.Background())
		first := make(chan error, 1)
		go func() {
			_, err := tr.Mount(ctx, search)
			first <- err
		}()
		require.Eventually(t, func() bool { return api.gets.Load() == 1 }, time.Second, time.Millisecond)

		second := make(chan error, 1)
		go func() {
			_, err := tr.Mount(context.Background(), search)
			second <- err
		}()
		time.Sleep(50 * time.Millisecond)

		cancel()
		require.ErrorIs(t, <-first, context.Canceled)

		close(api.getGate)
		require.NoError(t, <-second)

		m := tr.Snapshot(search)
		assert.Equal(t, int64(2), m.Count)
		assert.Equal(t, tracker.StateReconciled, m.State)
		assert.Equal(t, int32(1), api.gets.Load())
		_, _, fails := n.counts()
		assert.Zero(t, fails)
	})

	t.Run("unauthorized refresh is not a sync failure", func(t *testing.T) {
		t.Parallel()
		api := &fakeAPI{getErr: &tracker.APIError{Status: http.StatusUnauthorized, Code: "unauthorized"}}
		tr, n := newTracker(api)

		_, err := tr.Mount(context.Background(), search)
		require.ErrorIs(t, err, entitlement.ErrUnauthenticated)
		assert.NotErrorIs(t, err, tracker.ErrSyncFailed)
		_, _, fails := n.counts()
		assert.Zero(t, fails)
	})

	t.Run("refresh with headroom leaves limit reached", func(t *testing.T) {
		t.Parallel()
		api := &fakeAPI{}
		api.set(20, 20, false)
		tr, _ := newTracker(api)

		m, err := tr.Mount(context.Background(), search)
		require.NoError(t, err)
		require.Equal(t, tracker.StateLimitReached, m.State)

		api.set(0, 20, false)
		m, err = tr.Mount(context.Background(), search)
		require.NoError(t, err)
		assert.Equal(t, tracker.StateReconciled, m.State)
		assert.Equal(t, int64(0), m.Count)
	})

	t.Run("unknown feature", func(t *testing.T) {
		t.Parallel()
		tr, _ := newTracker(&fakeAPI{})
		_, err := tr.Mount(context.Background(), "export")
		assert.ErrorIs(t, err, tracker.ErrUnknownFeature)
		_, err = tr.Act(context.Background(), "export")
		assert.ErrorIs(t, err, tracker.ErrUnknownFeature)
	})
}

func TestAct(t *testing.T) {
	t.Parallel()

	t.Run("performs and reconciles", func(t *testing.T) {
		t.Parallel()
		api := &fakeAPI{}
		api.set(5, 20, false)
		tr, _ := newTracker(api)
		_, err := tr.Mount(context.Background(), search)
		require.NoError(t, err)

		out, err := tr.Act(context.Background(), search)
		require.NoError(t, err)
		assert.Equal(t, tracker.OutcomePerformed, out)

		m := tr.Snapshot(search)
		assert.Equal(t, int64(6), m.Count)
		assert.Equal(t, tracker.StateReconciled, m.State)
	})

	t.Run("at limit prompts without request", func(t *testing.T) {
		t.Parallel()
		api := &fakeAPI{}
		api.set(20, 20, false)
		tr, n := newTracker(api)
		_, err := tr.Mount(context.Background(), search)
		require.NoError(t, err)
		reachedOnMount, _, _ := n.counts()

		out, err := tr.Act(context.Background(), search)
		require.NoError(t, err)
		assert.Equal(t, tracker.OutcomeLimitPrompt, out)
		assert.Zero(t, api.incs.Load())

		reached, _, _ := n.counts()
		assert.Equal(t, reachedOnMount+1, reached)
	})

	t.Run("reaching the limit moves to limit reached", func(t *testing.T) {
		t.Parallel()
		api := &fakeAPI{}
		api.set(19, 20, false)
		tr, n := newTracker(api)
		_, err := tr.Mount(context.Background(), search)
		require.NoError(t, err)

		out, err := tr.Act(context.Background(), search)
		require.NoError(t, err)
		assert.Equal(t, tracker.OutcomePerformed, out)

		m := tr.Snapshot(search)
		assert.Equal(t, tracker.StateLimitReached, m.State)
		assert.Equal(t, int64(20), m.Count)
		reached, _, _ := n.counts()
		assert.Equal(t, 1, reached)
	})

	t.Run("bump to the limit enters limit reached while in flight", func(t *testing.T) {
		t.Parallel()
		api := &fakeAPI{}
		api.set(19, 20, false)
		tr, n := newTracker(api)
		_, err := tr.Mount(context.Background(), search)
		require.NoError(t, err)
		api.replies = make(chan tracker.IncrementResult)

		done := make(chan tracker.Outcome, 1)
		go func() {
			out, err := tr.Act(context.Background(), search)
			assert.NoError(t, err)
			done <- out
		}()
		require.Eventually(t, func() bool { return api.incs.Load() == 1 }, time.Second, time.Millisecond)

		m := tr.Snapshot(search)
		assert.Equal(t, int64(20), m.Count)
		assert.Equal(t, tracker.StateLimitReached, m.State)
		reached, _, _ := n.counts()
		assert.Equal(t, 1, reached)

		// A second action is refused locally while the first is pending.
		out, err := tr.Act(context.Background(), search)
		require.NoError(t, err)
		assert.Equal(t, tracker.OutcomeLimitPrompt, out)
		assert.Equal(t, int32(1), api.incs.Load())

		api.replies <- tracker.IncrementResult{Success: true, Count: 20, Limit: 20, LimitReached: true}
		assert.Equal(t, tracker.OutcomePerformed, <-done)

		m = tr.Snapshot(search)
		assert.Equal(t, int64(20), m.Count)
		assert.Equal(t, tracker.StateLimitReached, m.State)
		reached, _, _ = n.counts()
		assert.Equal(t, 2, reached, "one notice for the bump and one for the refused action")
	})

	t.Run("near limit notice fires once", func(t *testing.T) {
		t.Parallel()
		api := &fakeAPI{}
		api.set(16, 20, false)
		tr, n := newTracker(api)
		_, err := tr.Mount(context.Background(), search)
		require.NoError(t, err)

		for range 2 {
			_, err := tr.Act(context.Background(), search)
			require.NoError(t, err)
		}

		m := tr.Snapshot(search)
		assert.True(t, m.IsNearLimit)
		_, near, _ := n.counts()
		assert.Equal(t, 1, near)
	})

	t.Run("server denial overrides optimistic room", func(t *testing.T) {
		t.Parallel()
		api := &fakeAPI{}
		api.set(3, 20, false)
		tr, n := newTracker(api)
		_, err := tr.Mount(context.Background(), search)
		require.NoError(t, err)

		// Another device used the rest of the quota.
		api.set(20, 20, false)

		out, err := tr.Act(context.Background(), search)
		require.NoError(t, err)
		assert.Equal(t, tracker.OutcomeLimitPrompt, out)

		m := tr.Snapshot(search)
		assert.Equal(t, int64(20), m.Count)
		assert.Equal(t, tracker.StateLimitReached, m.State)
		reached, _, _ := n.counts()
		assert.Equal(t, 1, reached)
	})

	t.Run("network failure keeps the optimistic bump", func(t *testing.T) {
		t.Parallel()
		api := &fakeAPI{}
		api.set(5, 20, false)
		tr, n := newTracker(api)
		_, err := tr.Mount(context.Background(), search)
		require.NoError(t, err)

		api.mu.Lock()
		api.incErr = errors.New("connection reset")
		api.mu.Unlock()

		out, err := tr.Act(context.Background(), search)
		require.NoError(t, err)
		assert.Equal(t, tracker.OutcomeUnconfirmed, out)

		m := tr.Snapshot(search)
		assert.Equal(t, int64(6), m.Count)
		assert.Equal(t, tracker.StateOptimistic, m.State)
		_, _, fails := n.counts()
		assert.Equal(t, 1, fails)

		// The next successful sync replaces the local guess.
		_, err = tr.Mount(context.Background(), search)
		require.NoError(t, err)
		m = tr.Snapshot(search)
		assert.Equal(t, int64(5), m.Count)
		assert.Equal(t, tracker.StateReconciled, m.State)
	})

	t.Run("unauthorized increment drops the bump", func(t *testing.T) {
		t.Parallel()
		api := &fakeAPI{}
		api.set(5, 20, false)
		tr, n := newTracker(api)
		_, err := tr.Mount(context.Background(), search)
		require.NoError(t, err)

		api.mu.Lock()
		api.incErr = &tracker.APIError{Status: http.StatusUnauthorized, Code: "unauthorized"}
		api.mu.Unlock()

		out, err := tr.Act(context.Background(), search)
		require.ErrorIs(t, err, entitlement.ErrUnauthenticated)
		assert.Empty(t, out)

		m := tr.Snapshot(search)
		assert.Equal(t, int64(5), m.Count)
		assert.Equal(t, tracker.StateReconciled, m.State)
		_, _, fails := n.counts()
		assert.Zero(t, fails)
	})

	t.Run("other api errors keep the bump", func(t *testing.T) {
		t.Parallel()
		api := &fakeAPI{}
		api.set(5, 20, false)
		tr, _ := newTracker(api)
		_, err := tr.Mount(context.Background(), search)
		require.NoError(t, err)

		api.mu.Lock()
		api.incErr = &tracker.APIError{Status: http.StatusServiceUnavailable, Code: "service_unavailable"}
		api.mu.Unlock()

		out, err := tr.Act(context.Background(), search)
		require.NoError(t, err)
		assert.Equal(t, tracker.OutcomeUnconfirmed, out)
		assert.Equal(t, int64(6), tr.Snapshot(search).Count)
	})

	t.Run("limit change from server overwrites mirror", func(t *testing.T) {
		t.Parallel()
		api := &fakeAPI{}
		api.set(15, 20, false)
		tr, _ := newTracker(api)
		_, err := tr.Mount(context.Background(), search)
		require.NoError(t, err)

		// Upgrade reset the counter and raised the limit.
		api.set(0, 100, true)

		_, err = tr.Act(context.Background(), search)
		require.NoError(t, err)

		m := tr.Snapshot(search)
		assert.Equal(t, int64(1), m.Count)
		assert.Equal(t, int64(100), m.Limit)
		assert.True(t, m.IsPremium)
		assert.False(t, m.IsNearLimit)
	})
}

func TestAct_DoubleSubmit(t *testing.T) {
	t.Parallel()

	t.Run("out of order responses converge on highest count", func(t *testing.T) {
		t.Parallel()
		api := &fakeAPI{}
		api.set(0, 20, false)
		tr, _ := newTracker(api)
		_, err := tr.Mount(context.Background(), search)
		require.NoError(t, err)
		api.replies = make(chan tracker.IncrementResult)

		var wg sync.WaitGroup
		for range 2 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				out, err := tr.Act(context.Background(), search)
				assert.NoError(t, err)
				assert.Equal(t, tracker.OutcomePerformed, out)
			}()
		}

		require.Eventually(t, func() bool { return api.incs.Load() == 2 }, time.Second, time.Millisecond)
		m := tr.Snapshot(search)
		assert.Equal(t, int64(2), m.Count)
		assert.Equal(t, tracker.StateOptimistic, m.State)

		api.replies <- tracker.IncrementResult{Success: true, Count: 2, Limit: 20}
		api.replies <- tracker.IncrementResult{Success: true, Count: 1, Limit: 20}
		wg.Wait()

		m = tr.Snapshot(search)
		assert.Equal(t, int64(2), m.Count)
		assert.Equal(t, tracker.StateReconciled, m.State)
	})

	t.Run("burst at the edge never overshoots the server", func(t *testing.T) {
		t.Parallel()
		api := &fakeAPI{}
		api.set(18, 20, false)
		tr, _ := newTracker(api)
		_, err := tr.Mount(context.Background(), search)
		require.NoError(t, err)

		var (
			wg        sync.WaitGroup
			performed atomic.Int32
		)
		for range 5 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				out, err := tr.Act(context.Background(), search)
				assert.NoError(t, err)
				if out == tracker.OutcomePerformed {
					performed.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(2), performed.Load())
		m := tr.Snapshot(search)
		assert.Equal(t, int64(20), m.Count)
		assert.Equal(t, tracker.StateLimitReached, m.State)
	})
}
