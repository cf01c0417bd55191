// Package billing keeps user profiles in step with the payment processor.
//
// Sync is the single writer of entitlement.UserProfile. It starts checkouts
// (recording which user initiated them), confirms payments, and applies
// subscription status changes delivered by provider webhooks.
//
// A confirmation is accepted only when both the locally recorded checkout
// session and the provider's own copy of the checkout name the confirming
// user, so one account cannot claim a payment made by another.
//
// Tier transitions follow two rules:
//
//   - entering the premium tier resets today's usage counters for every
//     catalog feature, so the new allowance starts from zero;
//   - leaving it never touches consumed usage. The retained count is compared
//     with the lower limit at the next check, which cuts access off at once
//     when the user is already past it.
//
// PaddleProvider implements Provider on top of the Paddle Billing SDK.
package billing
