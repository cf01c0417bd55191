package identity

import "errors"

var (
	ErrMissingToken      = errors.New("identity: missing bearer token")
	ErrInvalidToken      = errors.New("identity: invalid token")
	ErrMissingSubject    = errors.New("identity: token has no subject")
	ErrMissingIssuer     = errors.New("identity: issuer url is required")
	ErrMissingClientID   = errors.New("identity: client id is required")
	ErrMissingSigningKey = errors.New("identity: signing key is required")
	ErrWeakSigningKey    = errors.New("identity: signing key must be at least 32 bytes")
	ErrProviderDiscovery = errors.New("identity: provider discovery failed")
)
