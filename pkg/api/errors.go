package api

import (
	"errors"
	"net/http"

	"github.com/dmitrymomot/meter/pkg/billing"
	"github.com/dmitrymomot/meter/pkg/entitlement"
	"github.com/dmitrymomot/meter/pkg/search"
	"github.com/dmitrymomot/meter/pkg/summarize"
	"github.com/dmitrymomot/meter/pkg/usage"
)

// HTTPError is an error with a status code and a stable machine-readable key.
type HTTPError struct {
	Code int
	Key  string
}

func (e HTTPError) Error() string {
	return e.Key
}

var (
	ErrBadRequest          = HTTPError{Code: http.StatusBadRequest, Key: "bad_request"}
	ErrUnauthorized        = HTTPError{Code: http.StatusUnauthorized, Key: "unauthorized"}
	ErrForbidden           = HTTPError{Code: http.StatusForbidden, Key: "forbidden"}
	ErrNotFound            = HTTPError{Code: http.StatusNotFound, Key: "not_found"}
	ErrConflict            = HTTPError{Code: http.StatusConflict, Key: "conflict"}
	ErrUnsupportedMedia    = HTTPError{Code: http.StatusUnsupportedMediaType, Key: "unsupported_media_type"}
	ErrTooManyRequests     = HTTPError{Code: http.StatusTooManyRequests, Key: "too_many_requests"}
	ErrInternalServerError = HTTPError{Code: http.StatusInternalServerError, Key: "internal_server_error"}
	ErrBadGateway          = HTTPError{Code: http.StatusBadGateway, Key: "bad_gateway"}
	ErrServiceUnavailable  = HTTPError{Code: http.StatusServiceUnavailable, Key: "service_unavailable"}

	ErrUsageLimitReached     = HTTPError{Code: http.StatusTooManyRequests, Key: "usage_limit_reached"}
	ErrUnknownFeature        = HTTPError{Code: http.StatusNotFound, Key: "unknown_feature"}
	ErrCheckoutNotFound      = HTTPError{Code: http.StatusNotFound, Key: "checkout_not_found"}
	ErrCheckoutOwnership     = HTTPError{Code: http.StatusForbidden, Key: "checkout_ownership"}
	ErrSubscriptionMismatch  = HTTPError{Code: http.StatusForbidden, Key: "subscription_mismatch"}
	ErrCheckoutNotCompleted  = HTTPError{Code: http.StatusConflict, Key: "checkout_not_completed"}
	ErrUnknownPrice          = HTTPError{Code: http.StatusBadRequest, Key: "unknown_price"}
	ErrInvalidWebhook        = HTTPError{Code: http.StatusBadRequest, Key: "invalid_webhook"}
	ErrFeatureBackendFailure = HTTPError{Code: http.StatusBadGateway, Key: "feature_backend_failure"}
)

// toHTTPError maps domain errors onto API errors. Unknown errors become 500.
func toHTTPError(err error) HTTPError {
	var he HTTPError
	if errors.As(err, &he) {
		return he
	}

	switch {
	case errors.Is(err, entitlement.ErrUnauthenticated):
		return ErrUnauthorized
	case errors.Is(err, entitlement.ErrUnknownFeature):
		return ErrUnknownFeature
	case errors.Is(err, usage.ErrStoreUnavailable), errors.Is(err, entitlement.ErrStoreUnavailable):
		return ErrServiceUnavailable
	case errors.Is(err, billing.ErrCheckoutNotFound):
		return ErrCheckoutNotFound
	case errors.Is(err, billing.ErrCheckoutOwnership):
		return ErrCheckoutOwnership
	case errors.Is(err, billing.ErrSubscriptionMismatch):
		return ErrSubscriptionMismatch
	case errors.Is(err, billing.ErrCheckoutNotCompleted):
		return ErrCheckoutNotCompleted
	case errors.Is(err, billing.ErrUnknownPrice), errors.Is(err, billing.ErrMissingPriceID):
		return ErrUnknownPrice
	case errors.Is(err, billing.ErrWebhookVerificationFailed),
		errors.Is(err, billing.ErrInvalidWebhookPayload),
		errors.Is(err, billing.ErrMissingUserRef):
		return ErrInvalidWebhook
	case errors.Is(err, billing.ErrProviderError):
		return ErrBadGateway
	case errors.Is(err, search.ErrEmptyQuery), errors.Is(err, summarize.ErrEmptyText):
		return ErrBadRequest
	case errors.Is(err, summarize.ErrRateLimited):
		return HTTPError{Code: http.StatusServiceUnavailable, Key: "feature_backend_busy"}
	case errors.Is(err, search.ErrSearchFailed),
		errors.Is(err, search.ErrInvalidResponse),
		errors.Is(err, summarize.ErrRequestFailed),
		errors.Is(err, summarize.ErrNoChoices):
		return ErrFeatureBackendFailure
	default:
		return ErrInternalServerError
	}
}
