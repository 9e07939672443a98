package session

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aussiebroadwan/backoffice/pkg/cryptox"
	"github.com/aussiebroadwan/backoffice/pkg/idx"
	"github.com/aussiebroadwan/backoffice/pkg/jwtx"
	"github.com/aussiebroadwan/backoffice/pkg/tokenmgr"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

const (
	// CookieName holds the sealed session.
	CookieName = "backoffice.session-token"

	// RecentLoginCookieName marks the seconds right after a sign-in.
	RecentLoginCookieName = "backoffice.recent-login"

	// RecentLoginMaxAge is how long the recent-login marker lives.
	RecentLoginMaxAge = 10 * time.Second

	// DefaultMaxAge is the rolling lifetime of the session cookie.
	DefaultMaxAge = 30 * 24 * time.Hour

	signingInfo = "backoffice session signing"
	sealingInfo = "backoffice session sealing"
	issuer      = "backoffice-gateway"
)

type sessionClaims struct {
	jwt.RegisteredClaims

	Username string                `json:"username"`
	Email    string                `json:"email,omitempty"`
	Roles    []string              `json:"roles,omitempty"`
	Token    tokenmgr.SessionToken `json:"token"`
}

// Codec turns sessions into cookie values and back. The session is signed as
// an HS256 JWT and the JWT is then sealed with AES-GCM, both under keys
// derived from the deployment secret.
type Codec struct {
	signer *jwtx.HS256
	sealer *cryptox.Sealer
	maxAge time.Duration
	secure bool
	clock  clockwork.Clock
}

// NewCodec derives the signing and sealing keys from secret. Secure controls
// the Secure flag on cookies and should be false only in development.
func NewCodec(secret string, maxAge time.Duration, secure bool, clock clockwork.Clock) (*Codec, error) {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	signKey, err := cryptox.DeriveKey(secret, signingInfo)
	if err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}
	sealKey, err := cryptox.DeriveKey(secret, sealingInfo)
	if err != nil {
		return nil, fmt.Errorf("derive sealing key: %w", err)
	}

	signer, err := jwtx.NewHS256(signKey)
	if err != nil {
		return nil, err
	}
	signer.TimeFunc = clock.Now

	sealer, err := cryptox.NewSealer(sealKey)
	if err != nil {
		return nil, err
	}

	return &Codec{
		signer: signer,
		sealer: sealer,
		maxAge: maxAge,
		secure: secure,
		clock:  clock,
	}, nil
}

// Encode signs and seals s. Every encode pushes the expiry maxAge into the
// future.
func (c *Codec) Encode(s Session) (string, error) {
	now := c.clock.Now()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        s.ID.String(),
			Issuer:    issuer,
			Subject:   s.Username,
			IssuedAt:  jwt.NewNumericDate(s.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.maxAge)),
		},
		Username: s.Username,
		Email:    s.Email,
		Roles:    s.Roles,
		Token:    s.Token,
	}

	raw, err := c.signer.Sign(claims)
	if err != nil {
		return "", fmt.Errorf("sign session: %w", err)
	}

	sealed, err := c.sealer.Seal([]byte(raw))
	if err != nil {
		return "", fmt.Errorf("seal session: %w", err)
	}
	return sealed, nil
}

// Decode reverses Encode. Every failure is ErrInvalidSession.
func (c *Codec) Decode(value string) (Session, error) {
	raw, err := c.sealer.Open(value)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	var claims sessionClaims
	if err := c.signer.Verify(string(raw), &claims); err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if claims.Issuer != issuer {
		return Session{}, fmt.Errorf("%w: unexpected issuer %q", ErrInvalidSession, claims.Issuer)
	}

	id, err := idx.Parse(claims.ID)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	s := Session{
		ID:       id,
		Username: claims.Username,
		Email:    claims.Email,
		Roles:    claims.Roles,
		Token:    claims.Token,
	}
	if claims.IssuedAt != nil {
		s.IssuedAt = claims.IssuedAt.Time
	}
	return s, nil
}

// Read decodes the session cookie of r.
func (c *Codec) Read(r *http.Request) (Session, error) {
	cookie, err := r.Cookie(CookieName)
	if errors.Is(err, http.ErrNoCookie) || (err == nil && cookie.Value == "") {
		return Session{}, ErrNoSession
	}
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	return c.Decode(cookie.Value)
}

// Write sets the session cookie.
func (c *Codec) Write(w http.ResponseWriter, s Session) error {
	value, err := c.Encode(s)
	if err != nil {
		return err
	}

	http.SetCookie(w, c.cookie(CookieName, value, c.maxAge))
	return nil
}

// MarkRecentLogin sets the short-lived marker the expiry gate honours right
// after a sign-in.
func (c *Codec) MarkRecentLogin(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie(RecentLoginCookieName, "1", RecentLoginMaxAge))
}

// Clear expires both cookies.
func (c *Codec) Clear(w http.ResponseWriter) {
	for _, name := range []string{CookieName, RecentLoginCookieName} {
		ck := c.cookie(name, "", 0)
		ck.MaxAge = -1
		http.SetCookie(w, ck)
	}
}

func (c *Codec) cookie(name, value string, maxAge time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	}
}
