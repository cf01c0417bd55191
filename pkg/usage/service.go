package usage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/meter/pkg/entitlement"
	"github.com/dmitrymomot/meter/pkg/logger"
)

// LimitResolver resolves a user's limit for a feature.
type LimitResolver interface {
	ResolveLimit(ctx context.Context, userID string, feature entitlement.FeatureID) (entitlement.Entitlement, error)
}

// Outcome labels a quota decision for metrics.
type Outcome string

const (
	OutcomeAllowed  Outcome = "allowed"
	OutcomeDenied   Outcome = "denied"
	OutcomeDisabled Outcome = "disabled"
	OutcomeError    Outcome = "error"
)

// Recorder receives decision outcomes.
type Recorder interface {
	RecordDecision(feature entitlement.FeatureID, outcome Outcome)
	RecordReset(feature entitlement.FeatureID)
}

// Decision is the result of CheckAndIncrement.
type Decision struct {
	Allowed   bool  `json:"allowed"`
	Count     int64 `json:"count"`
	Limit     int64 `json:"limit"`
	IsPremium bool  `json:"isPremium"`
}

// Usage is a read-only snapshot of today's counter.
type Usage struct {
	Count          int64 `json:"count"`
	Limit          int64 `json:"limit"`
	Remaining      int64 `json:"remaining"`
	IsLimitReached bool  `json:"isLimitReached"`
	IsPremium      bool  `json:"isPremium"`
}

// Service is the only writer of usage counters. It is stateless apart from
// its dependencies and is safe for concurrent use.
type Service struct {
	resolver LimitResolver
	store    Store
	log      *slog.Logger
	recorder Recorder
	now      func() time.Time
	retries  int
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. Defaults to a discarding logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithClock overrides the time source that selects the counter day.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithStoreRetry sets how many times a failing store call is retried before
// the request is denied.
func WithStoreRetry(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.retries = n
		}
	}
}

// NewService creates a Service.
func NewService(resolver LimitResolver, store Store, opts ...Option) *Service {
	s := &Service{
		resolver: resolver,
		store:    store,
		log:      logger.Nop(),
		now:      time.Now,
		retries:  1,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("usage"))
	return s
}

// CheckAndIncrement decides whether the user may use feature once more and,
// when allowed, consumes one unit before returning.
//
// A denied request never changes the counter. Any store failure denies the
// request and returns an error wrapping ErrStoreUnavailable.
func (s *Service) CheckAndIncrement(ctx context.Context, userID string, feature entitlement.FeatureID) (Decision, error) {
	ent, err := s.resolver.ResolveLimit(ctx, userID, feature)
	if err != nil {
		s.record(feature, OutcomeError)
		return Decision{}, s.resolveError(ctx, userID, feature, err)
	}

	key := NewKey(userID, feature, s.now())
	decision := Decision{Limit: ent.Limit, IsPremium: ent.IsPremium}

	if !ent.Enabled() {
		count, err := s.count(ctx, key)
		if err != nil {
			s.record(feature, OutcomeError)
			return Decision{Limit: ent.Limit, IsPremium: ent.IsPremium}, err
		}
		decision.Count = count
		s.record(feature, OutcomeDisabled)
		return decision, nil
	}

	var (
		count   int64
		allowed bool
	)
	err = s.withRetry(ctx, "increment", key, func() error {
		var opErr error
		count, allowed, opErr = s.store.IncrementWithCeiling(ctx, key, ent.Limit)
		return opErr
	})
	if err != nil {
		s.record(feature, OutcomeError)
		return decision, err
	}

	decision.Allowed = allowed
	decision.Count = count
	if allowed {
		s.record(feature, OutcomeAllowed)
		s.log.DebugContext(ctx, "usage consumed",
			logger.UserID(userID), logger.Feature(string(feature)), logger.Usage(count, ent.Limit))
	} else {
		s.record(feature, OutcomeDenied)
		s.log.InfoContext(ctx, "usage limit reached",
			logger.UserID(userID), logger.Feature(string(feature)), logger.Tier(string(ent.Tier)), logger.Usage(count, ent.Limit))
	}
	return decision, nil
}

// GetUsage reports today's counter without modifying it.
func (s *Service) GetUsage(ctx context.Context, userID string, feature entitlement.FeatureID) (Usage, error) {
	ent, err := s.resolver.ResolveLimit(ctx, userID, feature)
	if err != nil {
		return Usage{}, s.resolveError(ctx, userID, feature, err)
	}

	count, err := s.count(ctx, NewKey(userID, feature, s.now()))
	if err != nil {
		return Usage{}, err
	}

	return Usage{
		Count:          count,
		Limit:          ent.Limit,
		Remaining:      max(ent.Limit-count, 0),
		IsLimitReached: count >= ent.Limit,
		IsPremium:      ent.IsPremium,
	}, nil
}

// ResetDay sets today's counters of the given features back to zero.
// It is reserved for the subscription lifecycle sync granting a new tier.
func (s *Service) ResetDay(ctx context.Context, userID string, features ...entitlement.FeatureID) error {
	if userID == "" {
		return entitlement.ErrUnauthenticated
	}
	if len(features) == 0 {
		return ErrNoFeatures
	}

	now := s.now()
	for _, f := range features {
		key := NewKey(userID, f, now)
		if err := s.withRetry(ctx, "reset", key, func() error { return s.store.Reset(ctx, key) }); err != nil {
			return err
		}
		if s.recorder != nil {
			s.recorder.RecordReset(f)
		}
	}
	s.log.InfoContext(ctx, "daily usage reset",
		logger.UserID(userID), slog.Any("features", features))
	return nil
}

func (s *Service) count(ctx context.Context, key Key) (int64, error) {
	var count int64
	err := s.withRetry(ctx, "count", key, func() error {
		var opErr error
		count, opErr = s.store.Count(ctx, key)
		return opErr
	})
	return count, err
}

func (s *Service) withRetry(ctx context.Context, op string, key Key, fn func() error) error {
	var err error
	for attempt := 0; attempt <= s.retries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if errors.Is(err, ErrInvalidKey) || ctx.Err() != nil {
			break
		}
		s.log.WarnContext(ctx, "usage store call failed",
			slog.String("op", op), slog.Int("attempt", attempt+1),
			logger.UserID(key.UserID), logger.Feature(string(key.Feature)), logger.Error(err))
	}
	if errors.Is(err, ErrInvalidKey) {
		return err
	}
	return errors.Join(ErrStoreUnavailable, err)
}

func (s *Service) resolveError(ctx context.Context, userID string, feature entitlement.FeatureID, err error) error {
	if errors.Is(err, entitlement.ErrStoreUnavailable) {
		s.log.ErrorContext(ctx, "profile lookup failed",
			logger.UserID(userID), logger.Feature(string(feature)), logger.Error(err))
		return errors.Join(ErrStoreUnavailable, err)
	}
	return err
}

func (s *Service) record(feature entitlement.FeatureID, outcome Outcome) {
	if s.recorder != nil {
		s.recorder.RecordDecision(feature, outcome)
	}
}
