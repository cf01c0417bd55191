package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/meter/pkg/entitlement"
	"github.com/dmitrymomot/meter/pkg/logger"
)

// UsageResetter resets today's counters for a user.
type UsageResetter interface {
	ResetDay(ctx context.Context, userID string, features ...entitlement.FeatureID) error
}

// Recorder receives lifecycle events for metrics.
type Recorder interface {
	RecordLifecycle(event string)
}

// Sync maps payment processor events onto user profiles. It is the only
// writer of UserProfile.
type Sync struct {
	profiles  entitlement.ProfileStore
	checkouts CheckoutStore
	provider  Provider
	usage     UsageResetter
	features  []entitlement.FeatureID
	prices    PriceTiers
	log       *slog.Logger
	recorder  Recorder
	now       func() time.Time
}

// SyncOption configures a Sync.
type SyncOption func(*Sync)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) SyncOption {
	return func(s *Sync) {
		if l != nil {
			s.log = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) SyncOption {
	return func(s *Sync) { s.recorder = r }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) SyncOption {
	return func(s *Sync) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPriceTiers sets the price to tier mapping. Unmapped prices are rejected.
func WithPriceTiers(pt PriceTiers) SyncOption {
	return func(s *Sync) { s.prices = pt }
}

// NewSync creates a Sync. The catalog decides which counters are reset when a
// user gains the premium tier.
// Panics if a required dependency is nil.
func NewSync(profiles entitlement.ProfileStore, checkouts CheckoutStore, provider Provider, usage UsageResetter, catalog *entitlement.Catalog, opts ...SyncOption) *Sync {
	if profiles == nil || checkouts == nil || provider == nil || usage == nil {
		panic("billing: profiles, checkouts, provider and usage are required")
	}
	if catalog == nil {
		catalog = entitlement.DefaultCatalog()
	}
	s := &Sync{
		profiles:  profiles,
		checkouts: checkouts,
		provider:  provider,
		usage:     usage,
		features:  catalog.IDs(),
		prices:    PriceTiers{},
		log:       logger.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("billing"))
	return s
}

// StartCheckout creates a provider checkout for userID and records the
// session so the confirmation can be bound back to the same user.
func (s *Sync) StartCheckout(ctx context.Context, userID, priceID, successURL string) (*CheckoutLink, error) {
	if userID == "" {
		return nil, entitlement.ErrUnauthenticated
	}
	if priceID == "" {
		return nil, ErrMissingPriceID
	}
	if _, ok := s.prices.TierFor(priceID); !ok {
		return nil, ErrUnknownPrice
	}

	link, err := s.provider.CreateCheckout(ctx, CheckoutRequest{UserID: userID, PriceID: priceID, SuccessURL: successURL})
	if err != nil {
		return nil, errors.Join(ErrProviderError, err)
	}

	session := CheckoutSession{
		Ref:       link.Ref,
		UserID:    userID,
		PriceID:   priceID,
		CreatedAt: s.now().UTC(),
	}
	if err := s.checkouts.SaveCheckout(ctx, session); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "checkout started",
		logger.UserID(userID), slog.String("checkout_ref", link.Ref), slog.String("price_id", priceID))
	s.record("checkout_started")
	return link, nil
}

// OnPaymentConfirmed applies a paid checkout to the user's profile.
//
// Both the recorded session and the provider's copy of the checkout must name
// userID. A user entering the premium tier has today's counters reset before
// the profile is written.
// Confirming an already confirmed checkout returns the current profile.
func (s *Sync) OnPaymentConfirmed(ctx context.Context, userID, checkoutRef string) (*entitlement.UserProfile, error) {
	if userID == "" {
		return nil, entitlement.ErrUnauthenticated
	}

	session, err := s.checkouts.GetCheckout(ctx, checkoutRef)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		s.log.WarnContext(ctx, "checkout confirmation by non-owner",
			logger.UserID(userID), slog.String("checkout_ref", checkoutRef))
		s.record("checkout_rejected")
		return nil, ErrCheckoutOwnership
	}

	remote, err := s.provider.GetCheckout(ctx, checkoutRef)
	if err != nil {
		return nil, errors.Join(ErrProviderError, err)
	}
	if remote.UserID != userID {
		s.log.WarnContext(ctx, "provider checkout bound to another user",
			logger.UserID(userID), slog.String("checkout_ref", checkoutRef))
		s.record("checkout_rejected")
		return nil, ErrCheckoutOwnership
	}
	if !remote.Completed {
		return nil, ErrCheckoutNotCompleted
	}

	profile, err := s.profiles.EnsureProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if session.ConfirmedAt != nil && profile.PaymentSubscriptionRef == remote.SubscriptionRef {
		return profile, nil
	}

	priceID := remote.PriceID
	if priceID == "" {
		priceID = session.PriceID
	}
	tier, ok := s.prices.TierFor(priceID)
	if !ok {
		return nil, ErrUnknownPrice
	}

	now := s.now()
	wasPremium := entitlement.IsPremium(profile, now)

	profile.Tier = tier
	profile.SubscriptionStatus = entitlement.StatusActive
	profile.CurrentPeriodEnd = remote.PeriodEnd
	if remote.CustomerRef != "" {
		profile.PaymentCustomerRef = remote.CustomerRef
	}
	if remote.SubscriptionRef != "" {
		profile.PaymentSubscriptionRef = remote.SubscriptionRef
	}

	if err := s.resetOnUpgrade(ctx, profile, wasPremium, now); err != nil {
		return nil, err
	}
	if err := s.profiles.SaveProfile(ctx, profile); err != nil {
		return nil, err
	}
	if err := s.checkouts.MarkCheckoutConfirmed(ctx, checkoutRef, now.UTC()); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "payment confirmed",
		logger.UserID(userID), logger.Tier(string(tier)), slog.String("checkout_ref", checkoutRef))
	s.record("payment_confirmed")
	return profile, nil
}

// OnSubscriptionChanged applies a status change of an existing subscription.
//
// The stored tier is kept; EffectiveTier derives free access for inactive
// subscriptions. Consumed usage is never rewritten on downgrade. Moving back
// into the premium tier resets today's counters.
func (s *Sync) OnSubscriptionChanged(ctx context.Context, userID, subscriptionRef string, status entitlement.SubscriptionStatus, periodEnd *time.Time) (*entitlement.UserProfile, error) {
	if userID == "" {
		return nil, entitlement.ErrUnauthenticated
	}
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}

	profile, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, entitlement.ErrProfileNotFound) {
			return nil, ErrSubscriptionMismatch
		}
		return nil, err
	}
	if subscriptionRef == "" || profile.PaymentSubscriptionRef != subscriptionRef {
		s.log.WarnContext(ctx, "subscription change for unbound subscription",
			logger.UserID(userID), slog.String("subscription_ref", subscriptionRef))
		return nil, ErrSubscriptionMismatch
	}

	now := s.now()
	wasPremium := entitlement.IsPremium(profile, now)

	profile.SubscriptionStatus = status
	if periodEnd != nil {
		end := periodEnd.UTC()
		profile.CurrentPeriodEnd = &end
	}
	if err := s.resetOnUpgrade(ctx, profile, wasPremium, now); err != nil {
		return nil, err
	}
	if err := s.profiles.SaveProfile(ctx, profile); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "subscription changed",
		logger.UserID(userID), slog.String("status", string(status)),
		logger.Tier(string(entitlement.EffectiveTier(profile, now))))
	s.record("subscription_" + string(status))
	return profile, nil
}

// HandleWebhook verifies a provider webhook and dispatches it.
// Unhandled event types are acknowledged without changes.
func (s *Sync) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := s.provider.ParseWebhook(ctx, payload, signature)
	if err != nil {
		return err
	}

	log := s.log.With(logger.Event(event.ProviderEvent), slog.String("event_id", event.ID))

	switch event.Type {
	case EventCheckoutCompleted:
		if event.UserID == "" {
			log.WarnContext(ctx, "checkout event without user reference")
			return ErrMissingUserRef
		}
		_, err = s.OnPaymentConfirmed(ctx, event.UserID, event.CheckoutRef)
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionCancelled, EventSubscriptionPastDue:
		userID := event.UserID
		if userID == "" {
			p, lookupErr := s.profiles.FindBySubscriptionRef(ctx, event.SubscriptionRef)
			if lookupErr != nil {
				log.WarnContext(ctx, "subscription event for unknown subscription", logger.Error(lookupErr))
				return ErrMissingUserRef
			}
			userID = p.UserID
		}
		_, err = s.OnSubscriptionChanged(ctx, userID, event.SubscriptionRef, event.Status, event.PeriodEnd)
	default:
		log.DebugContext(ctx, "webhook event ignored")
		return nil
	}

	if err != nil {
		log.ErrorContext(ctx, "webhook processing failed", logger.Error(err))
		return err
	}
	return nil
}

// resetOnUpgrade resets today's counters when profile is about to enter the
// premium tier. It runs before the profile is stored, so a failed reset leaves
// the transition pending and a retried confirmation or webhook redelivery
// attempts it again.
func (s *Sync) resetOnUpgrade(ctx context.Context, profile *entitlement.UserProfile, wasPremium bool, now time.Time) error {
	if wasPremium || !entitlement.IsPremium(profile, now) {
		return nil
	}
	if err := s.usage.ResetDay(ctx, profile.UserID, s.features...); err != nil {
		s.log.ErrorContext(ctx, "usage reset after upgrade failed",
			logger.UserID(profile.UserID), logger.Error(err))
		return err
	}
	s.record("upgrade_reset")
	return nil
}

func (s *Sync) record(event string) {
	if s.recorder != nil {
		s.recorder.RecordLifecycle(event)
	}
}
