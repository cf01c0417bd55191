package billing

import (
	"time"

	"github.com/dmitrymomot/meter/pkg/entitlement"
)

// CheckoutSession is the record of a checkout started by a user.
// It is written when the checkout is created and consulted when the payment
// is confirmed, binding the provider checkout to the initiating user.
type CheckoutSession struct {
	Ref         string     `json:"ref"`
	UserID      string     `json:"userId"`
	PriceID     string     `json:"priceId"`
	CreatedAt   time.Time  `json:"createdAt"`
	ConfirmedAt *time.Time `json:"confirmedAt,omitempty"`
}

// CheckoutRequest describes a checkout to create with the provider.
type CheckoutRequest struct {
	UserID     string
	PriceID    string
	Email      string
	SuccessURL string
}

// CheckoutLink is the hosted checkout returned to the client.
type CheckoutLink struct {
	URL       string    `json:"url"`
	Ref       string    `json:"ref"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Checkout is the provider's own record of a checkout.
type Checkout struct {
	Ref             string
	UserID          string // user reference embedded at checkout creation
	Completed       bool
	PriceID         string
	CustomerRef     string
	SubscriptionRef string
	PeriodEnd       *time.Time
}

// EventType is a provider-neutral webhook event kind.
type EventType string

const (
	EventCheckoutCompleted     EventType = "checkout_completed"
	EventSubscriptionCreated   EventType = "subscription_created"
	EventSubscriptionUpdated   EventType = "subscription_updated"
	EventSubscriptionCancelled EventType = "subscription_cancelled"
	EventSubscriptionPastDue   EventType = "subscription_past_due"
)

// Event is a verified provider webhook.
type Event struct {
	ID              string
	Type            EventType
	ProviderEvent   string
	UserID          string
	CheckoutRef     string
	SubscriptionRef string
	CustomerRef     string
	PriceID         string
	Status          entitlement.SubscriptionStatus
	PeriodEnd       *time.Time
}

// PriceTiers maps provider price ids to the tier they grant.
type PriceTiers map[string]entitlement.Tier

// NewPriceTiers maps every id in proPrices to the pro tier.
func NewPriceTiers(proPrices ...string) PriceTiers {
	pt := make(PriceTiers, len(proPrices))
	for _, id := range proPrices {
		if id != "" {
			pt[id] = entitlement.TierPro
		}
	}
	return pt
}

// TierFor returns the tier of priceID.
func (pt PriceTiers) TierFor(priceID string) (entitlement.Tier, bool) {
	t, ok := pt[priceID]
	return t, ok
}
