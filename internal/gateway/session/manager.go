package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/backoffice/pkg/authsdk"
	"github.com/aussiebroadwan/backoffice/pkg/cryptox"
	"github.com/aussiebroadwan/backoffice/pkg/idx"
	"github.com/aussiebroadwan/backoffice/pkg/jwtx"
	"github.com/aussiebroadwan/backoffice/pkg/slogx"
	"github.com/aussiebroadwan/backoffice/pkg/tokenmgr"
	"github.com/jonboulle/clockwork"
)

// DefaultRefreshWindow is how close to expiry an access token has to be
// before a read triggers a refresh.
const DefaultRefreshWindow = 60 * time.Second

// Authenticator signs users in against the backend.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*authsdk.TokenResponse, error)
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	RefreshWindow time.Duration
	Clock         clockwork.Clock
	Logger        *slog.Logger

	// OnSignIn, when set, is told the result of every sign-in:
	// "ok", "rejected" or "error".
	OnSignIn func(result string)
}

// Manager is the session layer: it reads and writes session cookies and keeps
// their access tokens fresh through the per-session coordinators.
type Manager struct {
	codec    *Codec
	registry *Registry
	auth     Authenticator
	cfg      ManagerConfig
	clock    clockwork.Clock
	logger   *slog.Logger
}

// NewManager wires the session layer together.
func NewManager(codec *Codec, registry *Registry, auth Authenticator, cfg ManagerConfig) *Manager {
	if cfg.RefreshWindow <= 0 {
		cfg.RefreshWindow = DefaultRefreshWindow
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slogx.Discard()
	}
	return &Manager{
		codec:    codec,
		registry: registry,
		auth:     auth,
		cfg:      cfg,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
	}
}

// Registry returns the coordinator registry.
func (m *Manager) Registry() *Registry { return m.registry }

// AccessToken returns the access token stored in the request's session
// without refreshing it. An ended session reports an empty token, which the
// expiry gate treats as expired.
func (m *Manager) AccessToken(r *http.Request) (string, bool) {
	s, err := m.codec.Read(r)
	if err != nil {
		return "", false
	}
	if s.Ended() {
		return "", true
	}
	return s.Token.AccessToken, s.Token.AccessToken != ""
}

// Resolve reads the session of r and refreshes its access token when it is
// within the refresh window of expiry. The bool reports whether the session
// changed and the cookie has to be written back.
func (m *Manager) Resolve(ctx context.Context, r *http.Request) (Session, bool, error) {
	s, err := m.codec.Read(r)
	if err != nil {
		return Session{}, false, err
	}

	if s.Ended() {
		return s, false, nil
	}

	now := m.clock.Now()
	if now.Before(s.Token.Expiry().Add(-m.cfg.RefreshWindow)) {
		return s, false, nil
	}

	log := slogx.FromContext(ctx).With("sid", s.ID.String())

	res := m.registry.Get(s.ID).Refresh(ctx, s.Token)
	switch res.Outcome {
	case tokenmgr.OutcomeRefreshed:
		log.Debug("session token refreshed", "expires_at", res.Token.Expiry().UTC())
	case tokenmgr.OutcomeTerminal, tokenmgr.OutcomeShuttingDown:
		log.Info("session ended by refresh", "outcome", res.Outcome.String(), "error", res.Err)
	default:
		log.Debug("session token not refreshed", "outcome", res.Outcome.String(), "error", res.Err)
	}

	// A signed-out session keeps whatever cookie the sign-out left behind.
	changed := res.Token != s.Token && res.Outcome != tokenmgr.OutcomeShuttingDown
	s.Token = res.Token
	return s, changed, nil
}

// Write stores s in the response cookie.
func (m *Manager) Write(w http.ResponseWriter, s Session) error {
	return m.codec.Write(w, s)
}

// SignIn exchanges credentials for backend tokens and starts a session. A
// request that already carries a valid session keeps its id and gets its
// coordinator reset.
func (m *Manager) SignIn(w http.ResponseWriter, r *http.Request, email, password string) (Session, error) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	tok, err := m.auth.Login(ctx, email, password)
	if err != nil {
		var se *authsdk.StatusError
		if errors.As(err, &se) && (se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusBadRequest) {
			m.signInResult("rejected")
			log.Info("sign-in rejected by backend", "status", se.StatusCode)
			return Session{}, ErrBadCredentials
		}
		m.signInResult("error")
		return Session{}, fmt.Errorf("backend login: %w", err)
	}

	claims, err := jwtx.ParseUnverified(tok.AccessToken)
	if err == nil && claims.ExpiresAt == nil {
		err = jwtx.ErrNoExpiry
	}
	if err != nil {
		m.signInResult("error")
		return Session{}, fmt.Errorf("backend issued unusable access token: %w", err)
	}

	id := idx.New()
	if prev, err := m.codec.Read(r); err == nil {
		id = prev.ID
	}

	s := Session{
		ID:       id,
		Username: claims.Username,
		Email:    claims.Email,
		Roles:    claims.Roles,
		Token: tokenmgr.SessionToken{
			AccessToken:  tok.AccessToken,
			RefreshToken: tok.RefreshToken,
			ExpiresAt:    claims.ExpiresAt.Unix(),
		},
		IssuedAt: m.clock.Now(),
	}
	if s.Username == "" {
		s.Username = email
	}
	if s.Email == "" {
		s.Email = email
	}

	m.registry.Get(s.ID).Reset()

	if err := m.codec.Write(w, s); err != nil {
		m.signInResult("error")
		return Session{}, err
	}
	m.codec.MarkRecentLogin(w)

	m.signInResult("ok")
	log.Info("signed in",
		"sid", s.ID.String(),
		"username", s.Username,
		"refresh_fp", cryptox.FingerprintToken(s.Token.RefreshToken),
	)
	return s, nil
}

// SignOut shuts the session's coordinator down and clears the cookies. It is
// safe to call without a session.
func (m *Manager) SignOut(w http.ResponseWriter, r *http.Request) {
	if s, err := m.codec.Read(r); err == nil {
		if coord, ok := m.registry.Lookup(s.ID); ok {
			coord.Shutdown()
		}
		slogx.FromContext(r.Context()).Info("signed out", "sid", s.ID.String())
	}
	m.codec.Clear(w)
}

// Coordinator returns the coordinator of the request's session for the
// diagnostics endpoints.
func (m *Manager) Coordinator(r *http.Request) (*tokenmgr.Coordinator, Session, error) {
	s, err := m.codec.Read(r)
	if err != nil {
		return nil, Session{}, err
	}
	return m.registry.Get(s.ID), s, nil
}

func (m *Manager) signInResult(result string) {
	if m.cfg.OnSignIn != nil {
		m.cfg.OnSignIn(result)
	}
}
