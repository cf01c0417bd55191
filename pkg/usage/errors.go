package usage

import "errors"

var (
	ErrStoreUnavailable = errors.New("usage.errors.store_unavailable")
	ErrInvalidKey       = errors.New("usage.errors.invalid_key")
	ErrNoFeatures       = errors.New("usage.errors.no_features")
)
