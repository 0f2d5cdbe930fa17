package authn

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"
)

const tokenTypeAccess = "access"

// TokenIssuer signs and verifies stateless access tokens with the gateway
// secret (HS256). Access tokens are never stored, only verified.
type TokenIssuer struct {
	key    jwk.Key
	issuer string
	ttl    time.Duration
}

func NewTokenIssuer(secret, issuer string, ttl time.Duration) (*TokenIssuer, error) {
	key, err := jwk.Import([]byte(secret))
	if err != nil {
		return nil, fmt.Errorf("authn: importing signing key: %w", err)
	}

	return &TokenIssuer{
		key:    key,
		issuer: issuer,
		ttl:    ttl,
	}, nil
}

// Issue signs an access token for the principal bound to a session id.
func (t *TokenIssuer) Issue(principalID, sessionID string) (string, error) {
	now := time.Now()

	claims := jwt.New()
	claims.Set(jwt.SubjectKey, principalID)
	claims.Set(jwt.IssuerKey, t.issuer)
	claims.Set(jwt.IssuedAtKey, now)
	claims.Set(jwt.ExpirationKey, now.Add(t.ttl))
	claims.Set(jwt.JwtIDKey, uuid.NewString())
	claims.Set("session_id", sessionID)
	claims.Set("type", tokenTypeAccess)

	signed, err := jwt.Sign(claims, jwt.WithKey(jwa.HS256(), t.key))
	if err != nil {
		return "", fmt.Errorf("authn: signing access token: %w", err)
	}

	return string(signed), nil
}

// Parse verifies the token signature and validity window and extracts the
// principal and session ids.
func (t *TokenIssuer) Parse(token string) (principalID, sessionID string, err error) {
	parsed, err := jwt.Parse([]byte(token), jwt.WithKey(jwa.HS256(), t.key), jwt.WithValidate(true))
	if err != nil {
		if errors.Is(err, jwt.TokenExpiredError()) {
			return "", "", ErrTokenExpired
		}
		return "", "", ErrTokenInvalid
	}

	var tokenType string
	if err := parsed.Get("type", &tokenType); err != nil || tokenType != tokenTypeAccess {
		return "", "", ErrTokenInvalid
	}

	sub, ok := parsed.Subject()
	if !ok || sub == "" {
		return "", "", ErrTokenInvalid
	}

	if err := parsed.Get("session_id", &sessionID); err != nil || sessionID == "" {
		return "", "", ErrTokenInvalid
	}

	return sub, sessionID, nil
}
