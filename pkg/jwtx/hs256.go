package jwtx

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinHS256KeySize is the shortest key NewHS256 accepts.
const MinHS256KeySize = 32

// HS256 signs and verifies tokens the gateway issues to itself, i.e. the
// session cookie payload. Backend access tokens never go through here.
type HS256 struct {
	key []byte

	// Leeway allows small clock skew when validating exp/nbf.
	Leeway time.Duration

	// TimeFunc overrides the verification clock, nil means time.Now.
	TimeFunc func() time.Time
}

// NewHS256 creates a signer/verifier pair around a symmetric key.
func NewHS256(key []byte) (*HS256, error) {
	if len(key) < MinHS256KeySize {
		return nil, fmt.Errorf("%w: got %d bytes, need %d", ErrWeakKey, len(key), MinHS256KeySize)
	}

	k := make([]byte, len(key))
	copy(k, key)
	return &HS256{key: k}, nil
}

func (s *HS256) Alg() string { return jwt.SigningMethodHS256.Alg() }

// Sign takes your claims and turns them into a signed JWT string.
func (s *HS256) Sign(claims jwt.Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

// Verify checks the signature and time claims of raw and decodes it into
// claims. Errors are mapped onto the package sentinels.
func (s *HS256) Verify(raw string, claims jwt.Claims) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{s.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.Leeway),
	}
	if s.TimeFunc != nil {
		opts = append(opts, jwt.WithTimeFunc(s.TimeFunc))
	}

	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	}, opts...)
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrInvalidSig
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrAlgMismatch, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return ErrNotYetValid
	default:
		return fmt.Errorf("%w: %v", ErrInvalidClaim, err)
	}
}
