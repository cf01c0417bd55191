package entitlement

import "time"

// Tier is the subscription tier stored on a profile.
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t == TierFree || t == TierPro
}

// SubscriptionStatus mirrors the payment processor's view of the subscription.
type SubscriptionStatus string

const (
	StatusNone     SubscriptionStatus = "none"
	StatusActive   SubscriptionStatus = "active"
	StatusPastDue  SubscriptionStatus = "past_due"
	StatusCanceled SubscriptionStatus = "canceled"
)

// Valid reports whether s is a known status.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case StatusNone, StatusActive, StatusPastDue, StatusCanceled:
		return true
	}
	return false
}

// FeatureID identifies a metered feature.
type FeatureID string

const (
	FeatureSearch   FeatureID = "search"
	FeatureAnalysis FeatureID = "analysis"
)

// UserProfile is the per-user subscription state.
type UserProfile struct {
	UserID                 string             `json:"userId"`
	Tier                   Tier               `json:"tier"`
	SubscriptionStatus     SubscriptionStatus `json:"subscriptionStatus"`
	CurrentPeriodEnd       *time.Time         `json:"currentPeriodEnd,omitempty"`
	PaymentCustomerRef     string             `json:"paymentCustomerRef,omitempty"`
	PaymentSubscriptionRef string             `json:"paymentSubscriptionRef,omitempty"`
	CreatedAt              time.Time          `json:"createdAt"`
	UpdatedAt              time.Time          `json:"updatedAt"`
}

// NewProfile returns the profile of a user seen for the first time.
func NewProfile(userID string, now time.Time) *UserProfile {
	return &UserProfile{
		UserID:             userID,
		Tier:               TierFree,
		SubscriptionStatus: StatusNone,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// Clone returns a deep copy of the profile.
func (p *UserProfile) Clone() *UserProfile {
	if p == nil {
		return nil
	}
	c := *p
	if p.CurrentPeriodEnd != nil {
		end := *p.CurrentPeriodEnd
		c.CurrentPeriodEnd = &end
	}
	return &c
}

// Entitlement is the resolved allowance of one user for one feature.
type Entitlement struct {
	Feature   FeatureID `json:"feature"`
	Limit     int64     `json:"limit"`
	Tier      Tier      `json:"tier"`
	IsPremium bool      `json:"isPremium"`
}

// Enabled reports whether the feature may be used at all on this tier.
func (e Entitlement) Enabled() bool {
	return e.Limit > 0
}
