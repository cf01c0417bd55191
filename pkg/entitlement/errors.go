package entitlement

import "errors"

var (
	ErrUnauthenticated     = errors.New("entitlement.errors.unauthenticated")
	ErrUnknownFeature      = errors.New("entitlement.errors.unknown_feature")
	ErrProfileNotFound     = errors.New("entitlement.errors.profile_not_found")
	ErrStoreUnavailable    = errors.New("entitlement.errors.store_unavailable")
	ErrInvalidCatalog      = errors.New("entitlement.errors.invalid_catalog")
	ErrFailedToLoadCatalog = errors.New("entitlement.errors.failed_to_load_catalog")
)
