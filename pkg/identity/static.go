package identity

import (
	"context"
	"errors"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// StaticKeyConfig configures shared-secret token verification.
type StaticKeyConfig struct {
	SigningKey string        `env:"AUTH_SIGNING_KEY"`
	Issuer     string        `env:"AUTH_ISSUER" envDefault:"meter"`
	Leeway     time.Duration `env:"AUTH_LEEWAY" envDefault:"1m"`
}

// StaticKey authenticates HS256 tokens signed with a shared key.
type StaticKey struct {
	key    []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// minSigningKeyLen is the shortest key go-jose accepts for HS256.
const minSigningKeyLen = 32

// NewStaticKey returns a StaticKey authenticator.
func NewStaticKey(cfg StaticKeyConfig) (*StaticKey, error) {
	if cfg.SigningKey == "" {
		return nil, ErrMissingSigningKey
	}
	if len(cfg.SigningKey) < minSigningKeyLen {
		return nil, ErrWeakSigningKey
	}
	return &StaticKey{
		key:    []byte(cfg.SigningKey),
		issuer: cfg.Issuer,
		leeway: cfg.Leeway,
		now:    time.Now,
	}, nil
}

func (a *StaticKey) Authenticate(_ context.Context, rawToken string) (Identity, error) {
	if rawToken == "" {
		return Identity{}, unauthenticated(ErrMissingToken)
	}

	tok, err := jwt.ParseSigned(rawToken, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return Identity{}, unauthenticated(errors.Join(ErrInvalidToken, err))
	}

	var (
		std   jwt.Claims
		extra struct {
			Email string `json:"email"`
		}
	)
	if err := tok.Claims(a.key, &std, &extra); err != nil {
		return Identity{}, unauthenticated(errors.Join(ErrInvalidToken, err))
	}
	if err := std.ValidateWithLeeway(jwt.Expected{Issuer: a.issuer, Time: a.now()}, a.leeway); err != nil {
		return Identity{}, unauthenticated(errors.Join(ErrInvalidToken, err))
	}
	if std.Subject == "" {
		return Identity{}, unauthenticated(ErrMissingSubject)
	}

	return Identity{UserID: std.Subject, Email: extra.Email}, nil
}

// Issue signs a token for userID valid for ttl.
func (a *StaticKey) Issue(userID, email string, ttl time.Duration) (string, error) {
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: a.key},
		(&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return "", err
	}

	now := a.now()
	std := jwt.Claims{
		Subject:  userID,
		Issuer:   a.issuer,
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(ttl)),
	}
	extra := struct {
		Email string `json:"email,omitempty"`
	}{Email: email}

	return jwt.Signed(signer).Claims(std).Claims(extra).Serialize()
}
