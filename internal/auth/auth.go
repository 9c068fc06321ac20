// Package auth verifies bearer tokens issued by the account service.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/rewardvault/internal/errs"
)

// RoleAdmin grants access to recovery and other operator endpoints.
const RoleAdmin = "admin"

// Claims are the token claims this service relies on.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// Principal is the authenticated caller.
type Principal struct {
	UserID uuid.UUID
	Role   string
}

// IsAdmin reports whether the caller may run operator actions.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// Verifier validates HS256 bearer tokens.
type Verifier struct {
	key    []byte
	leeway time.Duration
}

// NewVerifier constructs a verifier for the shared signing key.
func NewVerifier(key []byte) *Verifier {
	return &Verifier{key: key, leeway: 30 * time.Second}
}

// Verify parses tok and returns the caller it identifies.
func (v *Verifier) Verify(tok string) (Principal, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return v.key, nil
	}, jwt.WithLeeway(v.leeway), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return Principal{}, fmt.Errorf("%w: invalid token", errs.ErrUnauthorized)
	}

	id, err := uuid.FromString(claims.Subject)
	if err != nil || id == uuid.Nil {
		return Principal{}, fmt.Errorf("%w: bad subject", errs.ErrUnauthorized)
	}
	return Principal{UserID: id, Role: claims.Role}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", fmt.Errorf("%w: missing bearer token", errs.ErrUnauthorized)
	}
	tok := strings.TrimSpace(header[len(prefix):])
	if tok == "" {
		return "", fmt.Errorf("%w: empty token", errs.ErrUnauthorized)
	}
	return tok, nil
}

// Sign issues a token for userID. Used by operator tooling and tests.
func Sign(key []byte, userID uuid.UUID, role string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}
