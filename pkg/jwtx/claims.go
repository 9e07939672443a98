package jwtx

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultExpirySkew is the buffer subtracted from exp before a token counts
// as expired, so a token that dies mid-request is already treated as dead.
const DefaultExpirySkew = 30 * time.Second

// AccessClaims are the claims the gateway reads out of backend-issued access
// tokens. Only exp drives freshness decisions; the rest is surfaced to the UI
// through the session endpoint.
type AccessClaims struct {
	jwt.RegisteredClaims

	Email    string   `json:"email,omitempty"`
	Username string   `json:"username,omitempty"`
	Roles    []string `json:"roles,omitempty"`
}

// ParseUnverified decodes an access token without checking its signature.
// Trust in the signature was established by the backend at issuance and is
// re-checked by the backend on every API call; the gateway only needs exp.
func ParseUnverified(raw string) (*AccessClaims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMalformed
	}

	claims := &AccessClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return claims, nil
}

// ExpiresAt returns the exp claim of an access token. A token that cannot be
// decoded or has no exp yields an error; callers treat that as expired.
func ExpiresAt(raw string) (time.Time, error) {
	claims, err := ParseUnverified(raw)
	if err != nil {
		return time.Time{}, err
	}

	if claims.ExpiresAt == nil {
		return time.Time{}, ErrNoExpiry
	}

	return claims.ExpiresAt.Time, nil
}

// IsExpired reports whether now >= exp - skew.
func IsExpired(exp, now time.Time, skew time.Duration) bool {
	return !now.Before(exp.Add(-skew))
}

// TokenExpired decodes raw and applies IsExpired. Undecodable tokens and
// tokens without exp are expired (fail closed).
func TokenExpired(raw string, now time.Time, skew time.Duration) bool {
	exp, err := ExpiresAt(raw)
	if err != nil {
		return true
	}
	return IsExpired(exp, now, skew)
}
