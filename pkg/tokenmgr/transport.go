package tokenmgr

import (
	"context"
	"errors"
	"net/http"
)

// TokenPair is a successful refresh response. RefreshToken is empty when the
// backend did not rotate it.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Transport exchanges a refresh token for a new token pair.
//
// Errors that carry an HTTP status should implement StatusCoder so the
// coordinator can tell rate limiting (429) and rejected refresh tokens (401)
// apart from generic failures.
type Transport interface {
	Refresh(ctx context.Context, refreshToken string) (TokenPair, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, refreshToken string) (TokenPair, error)

func (f TransportFunc) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	return f(ctx, refreshToken)
}

// StatusCoder is implemented by transport errors that come from a non-2xx
// HTTP response.
type StatusCoder interface {
	HTTPStatus() int
}

type failureClass int

const (
	failureGeneric failureClass = iota
	failureRateLimited
	failureRejected
)

func (f failureClass) String() string {
	switch f {
	case failureRateLimited:
		return "rate_limited"
	case failureRejected:
		return "rejected"
	default:
		return "generic"
	}
}

func classify(err error) failureClass {
	var sc StatusCoder
	if !errors.As(err, &sc) {
		return failureGeneric
	}

	switch sc.HTTPStatus() {
	case http.StatusTooManyRequests:
		return failureRateLimited
	case http.StatusUnauthorized:
		return failureRejected
	default:
		return failureGeneric
	}
}
