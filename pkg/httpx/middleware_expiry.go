package httpx

import (
	"net/http"
	"net/url"
	"time"

	"github.com/aussiebroadwan/backoffice/pkg/jwtx"
	"github.com/aussiebroadwan/backoffice/pkg/slogx"
	"github.com/jonboulle/clockwork"
)

// Decision reasons reported by Gate.Decide.
const (
	ReasonSkipped   = "skipped"
	ReasonPublic    = "public"
	ReasonValid     = "valid"
	ReasonGrace     = "grace"
	ReasonLoginPage = "login_page"
	ReasonNoToken   = "no_token"
	ReasonExpired   = "expired"
)

// DefaultPublicPaths are reachable without a session, with or without a
// locale prefix.
var DefaultPublicPaths = []string{
	"/login",
	"/register",
	"/forgot-password",
	"/reset-password",
	"/2fa",
	"/verify-email",
}

// DefaultSkipPrefixes are never gated: API routes authenticate on their own
// and framework assets must load on the login page.
var DefaultSkipPrefixes = []string{
	"/api/",
	"/_next/",
	"/favicon.ico",
}

// AccessTokenSource finds the access token of the session attached to a
// request. It must not refresh anything. ok with an empty token means there
// is a session but it can no longer be used; the gate redirects it as
// expired.
type AccessTokenSource interface {
	AccessToken(r *http.Request) (string, bool)
}

// AccessTokenSourceFunc adapts a function to AccessTokenSource.
type AccessTokenSourceFunc func(r *http.Request) (string, bool)

func (f AccessTokenSourceFunc) AccessToken(r *http.Request) (string, bool) { return f(r) }

// ExpiryGateConfig configures the expiry gate. Zero values take defaults.
type ExpiryGateConfig struct {
	Locales       []string
	DefaultLocale string

	// LoginPath is the un-prefixed login page, "/login" by default.
	LoginPath    string
	PublicPaths  []string
	SkipPrefixes []string

	// Skew is subtracted from exp before comparing with now.
	Skew time.Duration

	// RecentLoginCookie names the short-lived marker set right after a
	// successful sign-in. Its presence alone opens the grace window.
	RecentLoginCookie string

	Clock clockwork.Clock

	// OnDecision, when set, is called with every decision.
	OnDecision func(Decision)
}

// Decision is the outcome of gating one request.
type Decision struct {
	Allow    bool
	Location string
	Reason   string
}

// Gate decides whether a page request may proceed or must go to the login
// page. It never refreshes tokens.
type Gate struct {
	cfg    ExpiryGateConfig
	source AccessTokenSource
}

// NewGate builds a Gate, filling in defaults.
func NewGate(cfg ExpiryGateConfig, source AccessTokenSource) *Gate {
	if cfg.DefaultLocale == "" {
		cfg.DefaultLocale = "fr"
	}
	if len(cfg.Locales) == 0 {
		cfg.Locales = []string{cfg.DefaultLocale}
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/login"
	}
	if cfg.PublicPaths == nil {
		cfg.PublicPaths = DefaultPublicPaths
	}
	if cfg.SkipPrefixes == nil {
		cfg.SkipPrefixes = DefaultSkipPrefixes
	}
	if cfg.Skew <= 0 {
		cfg.Skew = jwtx.DefaultExpirySkew
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Gate{cfg: cfg, source: source}
}

// ExpiryGate returns the gate as middleware. Redirects use 307.
func ExpiryGate(cfg ExpiryGateConfig, source AccessTokenSource) Middleware {
	return NewGate(cfg, source).Middleware
}

// Middleware applies Decide to every request.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := g.Decide(r)
		if g.cfg.OnDecision != nil {
			g.cfg.OnDecision(d)
		}

		slogx.FromContext(r.Context()).Debug("expiry gate",
			"allow", d.Allow,
			"reason", d.Reason,
			"location", d.Location,
		)

		if !d.Allow {
			NoCache(w)
			http.Redirect(w, r, d.Location, http.StatusTemporaryRedirect)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Decide classifies r.
func (g *Gate) Decide(r *http.Request) Decision {
	for _, p := range g.cfg.SkipPrefixes {
		if matchesPath(r.URL.Path, p) {
			return Decision{Allow: true, Reason: ReasonSkipped}
		}
	}

	locale, rest := SplitLocale(r.URL.Path, g.cfg.Locales, g.cfg.DefaultLocale)

	for _, p := range g.cfg.PublicPaths {
		if matchesPath(rest, p) {
			return Decision{Allow: true, Reason: ReasonPublic}
		}
	}

	raw, ok := g.source.AccessToken(r)
	if !ok {
		if g.inGrace(r, rest) {
			return Decision{Allow: true, Reason: ReasonGrace}
		}
		return Decision{Location: g.loginURL(locale, rest, r.URL.Path, false), Reason: ReasonNoToken}
	}

	if !jwtx.TokenExpired(raw, g.cfg.Clock.Now(), g.cfg.Skew) {
		return Decision{Allow: true, Reason: ReasonValid}
	}

	if g.inGrace(r, rest) {
		return Decision{Allow: true, Reason: ReasonGrace}
	}
	if matchesPath(rest, g.cfg.LoginPath) {
		return Decision{Allow: true, Reason: ReasonLoginPage}
	}

	return Decision{Location: g.loginURL(locale, rest, r.URL.Path, true), Reason: ReasonExpired}
}

// inGrace covers the instant after a sign-in, before the session cookie is
// visible on every request: either the browser just left the login page for
// the root, or the recent-login marker is still alive.
func (g *Gate) inGrace(r *http.Request, rest string) bool {
	if g.cfg.RecentLoginCookie != "" {
		if _, err := r.Cookie(g.cfg.RecentLoginCookie); err == nil {
			return true
		}
	}

	if rest != "/" {
		return false
	}

	ref := r.Referer()
	if ref == "" {
		return false
	}
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	_, refRest := SplitLocale(u.Path, g.cfg.Locales, g.cfg.DefaultLocale)
	return matchesPath(refRest, g.cfg.LoginPath)
}

func (g *Gate) loginURL(locale, rest, original string, expired bool) string {
	loc := "/" + locale + g.cfg.LoginPath

	q := url.Values{}
	if expired {
		q.Set("expired", "true")
	} else if rest != "/" {
		q.Set("callbackUrl", original)
	}

	if len(q) == 0 {
		return loc
	}
	return loc + "?" + q.Encode()
}
