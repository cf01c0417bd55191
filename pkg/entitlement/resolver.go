package entitlement

import (
	"context"
	"errors"
	"time"
)

// Resolver answers how many uses of a feature a user may make per day.
// It holds no mutable state and is safe for concurrent use.
type Resolver struct {
	profiles ProfileReader
	catalog  *Catalog
	now      func() time.Time
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithClock overrides the time source used to evaluate period ends.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// NewResolver creates a Resolver. A nil catalog falls back to DefaultCatalog.
func NewResolver(profiles ProfileReader, catalog *Catalog, opts ...ResolverOption) *Resolver {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	r := &Resolver{
		profiles: profiles,
		catalog:  catalog,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Catalog returns the feature table the resolver works with.
func (r *Resolver) Catalog() *Catalog {
	return r.catalog
}

// ResolveLimit returns the user's entitlement for feature.
func (r *Resolver) ResolveLimit(ctx context.Context, userID string, feature FeatureID) (Entitlement, error) {
	if userID == "" {
		return Entitlement{}, ErrUnauthenticated
	}
	def, ok := r.catalog.Get(feature)
	if !ok {
		return Entitlement{}, ErrUnknownFeature
	}

	profile, err := r.profiles.GetProfile(ctx, userID)
	if err != nil && !errors.Is(err, ErrProfileNotFound) {
		return Entitlement{}, errors.Join(ErrStoreUnavailable, err)
	}
	// A missing profile is a fresh free user; profile stays nil.

	tier := EffectiveTier(profile, r.now())
	return Entitlement{
		Feature:   feature,
		Limit:     def.LimitFor(tier),
		Tier:      tier,
		IsPremium: tier == TierPro,
	}, nil
}
