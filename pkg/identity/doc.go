// Package identity turns bearer tokens into authenticated user ids.
//
// An Authenticator verifies a raw token. Two implementations ship with the
// package: OIDC validates ID tokens issued by an OpenID Connect provider, and
// StaticKey validates HS256 tokens signed with a shared secret, intended for
// local development and tests.
//
// Middleware extracts the token from the Authorization header, authenticates
// it and stores the Identity in the request context. Requests without a valid
// identity are rejected with 401 before any handler (and therefore any store)
// runs. When a ProfileEnsurer is configured, the first authenticated request
// of a user creates their profile.
//
//	auth, err := identity.NewOIDC(ctx, identity.OIDCConfig{IssuerURL: issuer, ClientID: "meter"})
//	if err != nil {
//		return err
//	}
//	r.Use(identity.Middleware(auth, identity.WithProfileEnsurer(profiles)))
//
// Handlers read the caller with identity.UserID(ctx).
package identity
