package tokenmgr

import "time"

// ErrorKind tags a SessionToken with the outcome of a previous refresh.
type ErrorKind string

const (
	ErrorKindNone ErrorKind = ""

	// ErrorKindShuttingDown means the session was logged out while a refresh
	// was requested.
	ErrorKindShuttingDown ErrorKind = "ShuttingDown"

	// ErrorKindRefreshAccessToken is terminal: retries are exhausted or the
	// refresh token was rejected. The user has to log in again.
	ErrorKindRefreshAccessToken ErrorKind = "RefreshAccessTokenError"
)

// SessionToken is the token material held by the session layer. It is passed
// by value into Refresh and a new value comes back; the coordinator keeps no
// reference to it.
type SessionToken struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    int64     `json:"tokenExpiresAt"` // epoch seconds
	Error        ErrorKind `json:"error,omitempty"`
}

// Expiry returns ExpiresAt as a time.Time.
func (t SessionToken) Expiry() time.Time {
	return time.Unix(t.ExpiresAt, 0)
}

// WithError returns a copy of t tagged with kind.
func (t SessionToken) WithError(kind ErrorKind) SessionToken {
	t.Error = kind
	return t
}

// Outcome classifies what Refresh did.
type Outcome int

const (
	// OutcomeRefreshed carries a new access token.
	OutcomeRefreshed Outcome = iota

	// OutcomeUnchanged means no attempt was made for this caller (cooldown,
	// or the shared flight could not be awaited). The token is returned as-is.
	OutcomeUnchanged

	// OutcomeRetryable means the attempt failed under the retry limit.
	OutcomeRetryable

	// OutcomeShuttingDown means the coordinator has been shut down.
	OutcomeShuttingDown

	// OutcomeTerminal means retries are exhausted or the refresh token was
	// rejected.
	OutcomeTerminal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRefreshed:
		return "refreshed"
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeShuttingDown:
		return "shutting_down"
	case OutcomeTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Retriable reports whether the caller should simply try again later.
func (o Outcome) Retriable() bool {
	return o == OutcomeUnchanged || o == OutcomeRetryable
}

// Ended reports whether the session can no longer be kept alive and the user
// has to go back to the login page.
func (o Outcome) Ended() bool {
	return o == OutcomeTerminal || o == OutcomeShuttingDown
}

// Result is what Refresh returns. Err explains a non-refreshed outcome for
// logging (transport error, cancelled wait, exhausted retries) and is nil
// when there is nothing to explain.
type Result struct {
	Token   SessionToken
	Outcome Outcome
	Err     error
}
