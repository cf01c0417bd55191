package identity

import (
	"context"
	"errors"

	"github.com/coreos/go-oidc/v3/oidc"
)

// OIDCConfig configures ID token verification against an OpenID Connect issuer.
type OIDCConfig struct {
	IssuerURL string `env:"OIDC_ISSUER_URL"`
	ClientID  string `env:"OIDC_CLIENT_ID"`
}

// OIDC authenticates OpenID Connect ID tokens.
type OIDC struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDC discovers the issuer's keys and returns an authenticator for tokens
// addressed to cfg.ClientID.
func NewOIDC(ctx context.Context, cfg OIDCConfig) (*OIDC, error) {
	if cfg.IssuerURL == "" {
		return nil, ErrMissingIssuer
	}
	if cfg.ClientID == "" {
		return nil, ErrMissingClientID
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, errors.Join(ErrProviderDiscovery, err)
	}
	return NewOIDCFromVerifier(provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})), nil
}

// NewOIDCFromVerifier wraps an existing verifier.
func NewOIDCFromVerifier(v *oidc.IDTokenVerifier) *OIDC {
	return &OIDC{verifier: v}
}

// Authenticate verifies signature, issuer, audience and expiry of rawToken.
func (a *OIDC) Authenticate(ctx context.Context, rawToken string) (Identity, error) {
	if rawToken == "" {
		return Identity{}, unauthenticated(ErrMissingToken)
	}

	tok, err := a.verifier.Verify(ctx, rawToken)
	if err != nil {
		return Identity{}, unauthenticated(errors.Join(ErrInvalidToken, err))
	}
	if tok.Subject == "" {
		return Identity{}, unauthenticated(ErrMissingSubject)
	}

	var claims struct {
		Email string `json:"email"`
	}
	if err := tok.Claims(&claims); err != nil {
		return Identity{}, unauthenticated(errors.Join(ErrInvalidToken, err))
	}

	return Identity{UserID: tok.Subject, Email: claims.Email}, nil
}
