// Package session keeps the gateway's user sessions: a sealed cookie holding
// the backend tokens, one token coordinator per session, and the
// refresh-on-read logic that keeps access tokens fresh for API calls.
package session

import (
	"errors"
	"time"

	"github.com/aussiebroadwan/backoffice/pkg/idx"
	"github.com/aussiebroadwan/backoffice/pkg/tokenmgr"
)

var (
	// ErrNoSession means the request carries no session cookie.
	ErrNoSession = errors.New("session: no session")

	// ErrInvalidSession means the cookie could not be opened or verified.
	ErrInvalidSession = errors.New("session: invalid session")

	// ErrBadCredentials is returned by SignIn when the backend refuses the
	// email/password pair.
	ErrBadCredentials = errors.New("session: bad credentials")
)

// Session is what the gateway remembers about a signed-in user. It lives only
// in the sealed cookie.
type Session struct {
	ID       idx.ID
	Username string
	Email    string
	Roles    []string
	Token    tokenmgr.SessionToken
	IssuedAt time.Time
}

// Ended reports whether the session can no longer be used for API calls and
// the user must sign in again.
func (s Session) Ended() bool {
	return s.Token.Error != tokenmgr.ErrorKindNone
}

// User is the public part of a session.
type User struct {
	Username string   `json:"username"`
	Email    string   `json:"email,omitempty"`
	Roles    []string `json:"roles"`
}

// View is the JSON body of the session endpoint. Tokens are never exposed to
// the browser; API calls go through the gateway proxy.
type View struct {
	User           User               `json:"user"`
	TokenExpiresAt int64              `json:"tokenExpiresAt"`
	Error          tokenmgr.ErrorKind `json:"error,omitempty"`
}

// View returns the browser-facing view of s.
func (s Session) View() View {
	roles := s.Roles
	if roles == nil {
		roles = []string{}
	}
	return View{
		User:           User{Username: s.Username, Email: s.Email, Roles: roles},
		TokenExpiresAt: s.Token.ExpiresAt,
		Error:          s.Token.Error,
	}
}
