package gateway

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned by Authenticator.Verify for any token
// that fails signature, expiry, or claim validation.
var ErrInvalidToken = errors.New("gateway: invalid token")

// Authenticator verifies the bearer token carried in an AUTH message
// and extracts the owner id it authorizes.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator builds an Authenticator from the process's JWT_SECRET.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// claims is the expected JWT payload shape: a standard "sub" claim
// carrying the owner id.
type claims struct {
	jwt.RegisteredClaims
}

// Verify parses and validates token, returning the owner id bound to
// its "sub" claim.
func (a *Authenticator) Verify(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || c.Subject == "" {
		return "", ErrInvalidToken
	}
	return c.Subject, nil
}
