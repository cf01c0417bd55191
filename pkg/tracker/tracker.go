package tracker

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dmitrymomot/meter/pkg/entitlement"
	"github.com/dmitrymomot/meter/pkg/logger"
)

var (
	ErrUnknownFeature = errors.New("tracker: unknown feature")
	ErrSyncFailed     = errors.New("tracker: usage sync failed")
)

// featureState holds one feature's mirror and the bookkeeping needed to
// reconcile it.
//
// The displayed count is the best known server count plus local increments
// the server has not confirmed yet. Within a burst of concurrent actions the
// best known count is the highest the server reported, so responses arriving
// out of order never move the mirror backwards.
type featureState struct {
	cfg         FeatureConfig
	mirror      Mirror
	base        int64 // last server count outside a burst
	peak        int64 // highest server count in the current burst, -1 if none
	inflight    int64
	unconfirmed int64 // increments whose request failed
}

func (fs *featureState) known() int64 {
	if fs.peak >= 0 {
		return fs.peak
	}
	return fs.base
}

func (fs *featureState) display() int64 {
	k := fs.known()
	return min(k+fs.inflight+fs.unconfirmed, max(fs.mirror.Limit, k))
}

// Tracker keeps optimistic usage mirrors for a set of features and reconciles
// them with the server.
type Tracker struct {
	api      UsageAPI
	notifier Notifier
	cache    MirrorCache
	log      *slog.Logger
	now      func() time.Time
	group    singleflight.Group

	mu       sync.Mutex
	features map[entitlement.FeatureID]*featureState
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithNotifier sets the receiver of limit and sync notices.
func WithNotifier(n Notifier) Option {
	return func(t *Tracker) {
		if n != nil {
			t.notifier = n
		}
	}
}

// WithCache sets the mirror cache used for first paint.
func WithCache(c MirrorCache) Option {
	return func(t *Tracker) {
		if c != nil {
			t.cache = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.log = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// New creates a Tracker for the given features. FeatureConfig.Limit is shown
// until the first server response.
// Panics if api is nil.
func New(api UsageAPI, features map[entitlement.FeatureID]FeatureConfig, opts ...Option) *Tracker {
	if api == nil {
		panic("tracker: usage api is required")
	}
	t := &Tracker{
		api:      api,
		notifier: nopNotifier{},
		cache:    NewMemoryCache(),
		log:      logger.Nop(),
		now:      time.Now,
		features: make(map[entitlement.FeatureID]*featureState, len(features)),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.With(logger.Component("tracker"))

	for id, cfg := range features {
		if cfg.WarningThreshold <= 0 || cfg.WarningThreshold > 1 {
			cfg.WarningThreshold = entitlement.DefaultWarningThreshold
		}
		t.features[id] = &featureState{
			cfg:    cfg,
			peak:   -1,
			mirror: Mirror{Feature: id, Limit: cfg.Limit, State: StateIdle},
		}
	}
	return t
}

// Snapshot returns the current mirror of feature.
func (t *Tracker) Snapshot(feature entitlement.FeatureID) Mirror {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fs, ok := t.features[feature]; ok {
		return fs.mirror
	}
	return Mirror{Feature: feature}
}

// Mount paints the cached mirror of feature and refreshes it from the server.
// Concurrent mounts of the same feature share one request.
func (t *Tracker) Mount(ctx context.Context, feature entitlement.FeatureID) (Mirror, error) {
	t.mu.Lock()
	fs, ok := t.features[feature]
	if !ok {
		t.mu.Unlock()
		return Mirror{}, ErrUnknownFeature
	}
	if fs.mirror.State == StateIdle && fs.mirror.SyncedAt.IsZero() {
		if cached, ok := t.cache.Load(feature); ok {
			t.paint(fs, cached)
		}
	}
	t.mu.Unlock()

	// The shared request outlives any single caller's cancellation.
	shared := context.WithoutCancel(ctx)
	ch := t.group.DoChan(string(feature), func() (any, error) {
		return t.api.GetUsage(shared, feature)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return t.Snapshot(feature), ctx.Err()
	case res = <-ch:
	}
	if err := res.Err; err != nil {
		if unauthorized(err) {
			t.log.InfoContext(ctx, "usage refresh unauthorized", logger.Feature(string(feature)), logger.Error(err))
			return t.Snapshot(feature), errors.Join(entitlement.ErrUnauthenticated, err)
		}
		t.log.WarnContext(ctx, "usage refresh failed", logger.Feature(string(feature)), logger.Error(err))
		t.notifier.SyncFailed(feature, err)
		return t.Snapshot(feature), errors.Join(ErrSyncFailed, err)
	}
	snap := res.Val.(UsageSnapshot)

	t.mu.Lock()
	fs.mirror.Limit = snap.Limit
	fs.mirror.IsPremium = snap.IsPremium
	if fs.inflight > 0 {
		fs.peak = max(fs.peak, snap.Count)
	} else {
		fs.base = snap.Count
		fs.unconfirmed = 0
	}
	notes := t.settle(fs, EventLoaded)
	m := fs.mirror
	t.mu.Unlock()

	t.deliver(notes, m)
	return m, nil
}

// Act records one use of feature.
//
// At the displayed limit it returns OutcomeLimitPrompt without contacting the
// server. Otherwise the mirror is bumped at once and then reconciled with the
// server's answer. When the server is unreachable the bump is kept, a sync
// notice is sent and OutcomeUnconfirmed is returned. A 401 from the server
// drops the bump and returns entitlement.ErrUnauthenticated.
func (t *Tracker) Act(ctx context.Context, feature entitlement.FeatureID) (Outcome, error) {
	t.mu.Lock()
	fs, ok := t.features[feature]
	if !ok {
		t.mu.Unlock()
		return "", ErrUnknownFeature
	}
	if !lifecycle.canFire(fs.mirror, EventAct) {
		m := fs.mirror
		t.mu.Unlock()
		t.notifier.LimitReached(m)
		return OutcomeLimitPrompt, nil
	}
	fs.inflight++
	notes := t.settle(fs, EventAct)
	m := fs.mirror
	t.mu.Unlock()
	t.deliver(notes, m)

	res, err := t.api.Increment(ctx, feature)

	t.mu.Lock()
	fs.inflight--
	if unauthorized(err) {
		t.endBurst(fs)
		notes = t.settle(fs, eventRejected)
		m = fs.mirror
		t.mu.Unlock()

		t.log.InfoContext(ctx, "usage increment unauthorized",
			logger.Feature(string(feature)), logger.Error(err))
		t.deliver(notes, m)
		return "", errors.Join(entitlement.ErrUnauthenticated, err)
	}
	if err != nil {
		fs.unconfirmed++
		t.endBurst(fs)
		notes = t.settle(fs, EventSyncFailed)
		m = fs.mirror
		t.mu.Unlock()

		t.log.WarnContext(ctx, "usage increment not confirmed",
			logger.Feature(string(feature)), logger.Usage(m.Count, m.Limit), logger.Error(err))
		t.notifier.SyncFailed(feature, err)
		t.deliver(notes, m)
		return OutcomeUnconfirmed, nil
	}

	if res.Limit != fs.mirror.Limit {
		fs.peak = res.Count
		fs.mirror.Limit = res.Limit
	} else {
		fs.peak = max(fs.peak, res.Count)
	}
	fs.mirror.IsPremium = res.IsPremium
	if fs.inflight == 0 {
		fs.unconfirmed = 0
	}
	t.endBurst(fs)
	notes = t.settle(fs, EventServerResult)
	m = fs.mirror
	t.mu.Unlock()

	t.log.DebugContext(ctx, "usage reconciled",
		logger.Feature(string(feature)), logger.Usage(m.Count, m.Limit), slog.Bool("allowed", res.Success))
	t.deliver(notes, m)

	if !res.Success {
		if !notes.limitReached {
			t.notifier.LimitReached(m)
		}
		return OutcomeLimitPrompt, nil
	}
	return OutcomePerformed, nil
}

// endBurst folds the burst peak into the base once no request is in flight.
func (t *Tracker) endBurst(fs *featureState) {
	if fs.inflight > 0 || fs.peak < 0 {
		return
	}
	fs.base = fs.peak
	fs.peak = -1
}

type notices struct {
	limitReached bool
	nearLimit    bool
}

// settle recomputes the mirror after event and stores it in the cache.
// Callers hold t.mu.
func (t *Tracker) settle(fs *featureState, event Event) notices {
	before := fs.mirror
	if event == EventAct {
		// The act guard looks at the count before the bump.
		if to, ok := lifecycle.next(fs.mirror, event); ok {
			fs.mirror.State = to
		}
		fs.mirror.Count = fs.display()
		if to, ok := lifecycle.next(fs.mirror, eventBumped); ok {
			fs.mirror.State = to
		}
	} else {
		fs.mirror.Count = fs.display()
		if to, ok := lifecycle.next(fs.mirror, event); ok {
			fs.mirror.State = to
		}
	}
	if event == EventLoaded || event == EventServerResult {
		fs.mirror.SyncedAt = t.now().UTC()
	}
	fs.mirror.IsNearLimit = nearLimit(fs.mirror, fs.cfg.WarningThreshold)
	t.cache.Store(fs.mirror)

	return notices{
		limitReached: fs.mirror.State == StateLimitReached && before.State != StateLimitReached,
		nearLimit:    fs.mirror.IsNearLimit && !before.IsNearLimit && fs.mirror.State != StateLimitReached,
	}
}

func (t *Tracker) deliver(n notices, m Mirror) {
	if n.limitReached {
		t.notifier.LimitReached(m)
	}
	if n.nearLimit {
		t.notifier.NearLimit(m)
	}
}

// paint seeds the mirror from the cache. Callers hold t.mu.
func (t *Tracker) paint(fs *featureState, cached Mirror) {
	fs.base = cached.Count
	fs.mirror.Count = cached.Count
	fs.mirror.Limit = cached.Limit
	fs.mirror.IsPremium = cached.IsPremium
	fs.mirror.SyncedAt = cached.SyncedAt
	fs.mirror.IsNearLimit = nearLimit(fs.mirror, fs.cfg.WarningThreshold)
	if atLimit(fs.mirror) {
		fs.mirror.State = StateLimitReached
	}
}

func unauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

func nearLimit(m Mirror, threshold float64) bool {
	return m.Limit > 0 && float64(m.Count) >= threshold*float64(m.Limit)
}
