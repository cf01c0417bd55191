package billing

import "errors"

var (
	ErrCheckoutNotFound     = errors.New("checkout session not found")
	ErrCheckoutOwnership    = errors.New("checkout session belongs to another user")
	ErrCheckoutNotCompleted = errors.New("checkout has not been paid")
	ErrSubscriptionMismatch = errors.New("subscription is not bound to this user")
	ErrInvalidStatus        = errors.New("invalid subscription status")
	ErrUnknownPrice         = errors.New("price is not mapped to a tier")
	ErrMissingUserRef       = errors.New("provider event carries no user reference")
	ErrProviderError        = errors.New("billing provider error")

	// Provider-specific errors
	ErrMissingAPIKey              = errors.New("billing provider API key is required")
	ErrMissingWebhookSecret       = errors.New("billing provider webhook secret is required")
	ErrInvalidProviderEnvironment = errors.New("invalid billing provider environment")
	ErrWebhookVerificationFailed  = errors.New("webhook signature verification failed")
	ErrInvalidWebhookPayload      = errors.New("webhook payload cannot be parsed")
	ErrNoCheckoutURL              = errors.New("no checkout URL returned from provider")
	ErrMissingPriceID             = errors.New("price ID is required")
)
