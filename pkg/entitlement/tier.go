package entitlement

import "time"

// EffectiveTier returns the tier the user is entitled to at now.
//
// Pro is honoured only when the status is active and the period end is
// either unknown or still in the future. Everything else, including a nil
// profile, resolves to free.
func EffectiveTier(p *UserProfile, now time.Time) Tier {
	if p == nil || p.Tier != TierPro {
		return TierFree
	}
	if p.SubscriptionStatus != StatusActive {
		return TierFree
	}
	if p.CurrentPeriodEnd != nil && !p.CurrentPeriodEnd.After(now) {
		return TierFree
	}
	return TierPro
}

// IsPremium is shorthand for EffectiveTier(p, now) == TierPro.
func IsPremium(p *UserProfile, now time.Time) bool {
	return EffectiveTier(p, now) == TierPro
}
