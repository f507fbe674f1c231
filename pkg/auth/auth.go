// Package auth defines the identity boundary of the sync server. Token
// verification is delegated to an IdentityVerifier that turns a bearer
// credential into a stable user identifier or fails; the sync engine
// itself never inspects credentials.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized is returned when a credential cannot be verified.
var ErrUnauthorized = errors.New("unauthorized")

// IdentityVerifier turns a bearer credential into a stable user id.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (userID string, err error)
}

// JWTVerifier verifies HMAC-signed JWTs and uses the subject claim as
// the user id.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a verifier for HS256-signed tokens.
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Verify parses and validates the token, returning its subject.
func (v *JWTVerifier) Verify(ctx context.Context, token string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrUnauthorized)
	}
	return sub, nil
}

// StaticVerifier maps fixed tokens to user ids. For tests and local
// development only.
type StaticVerifier map[string]string

// Verify looks the token up in the static map.
func (v StaticVerifier) Verify(ctx context.Context, token string) (string, error) {
	userID, ok := v[token]
	if !ok {
		return "", ErrUnauthorized
	}
	return userID, nil
}
