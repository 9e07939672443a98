package httpx_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aussiebroadwan/backoffice/pkg/httpx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

var gateKey = []byte("0123456789abcdef0123456789abcdef")

func tokenExpiringAt(t *testing.T, exp time.Time) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString(gateKey)
	require.NoError(t, err)
	return raw
}

func newTestGate(clock clockwork.Clock, token string) *httpx.Gate {
	return httpx.NewGate(httpx.ExpiryGateConfig{
		Locales:           []string{"fr", "en", "ar"},
		DefaultLocale:     "fr",
		RecentLoginCookie: "backoffice.recent-login",
		Clock:             clock,
	}, httpx.AccessTokenSourceFunc(func(*http.Request) (string, bool) {
		return token, token != ""
	}))
}

func TestSplitLocale(t *testing.T) {
	locales := []string{"fr", "en", "ar"}

	tests := []struct {
		path, locale, rest string
	}{
		{"", "fr", "/"},
		{"/", "fr", "/"},
		{"/fr", "fr", "/"},
		{"/en/", "en", "/"},
		{"/ar/clients/42", "ar", "/clients/42"},
		{"/clients", "fr", "/clients"},
		{"/de/clients", "fr", "/de/clients"},
		{"/french", "fr", "/french"},
	}

	for _, tt := range tests {
		locale, rest := httpx.SplitLocale(tt.path, locales, "fr")
		require.Equal(t, tt.locale, locale, tt.path)
		require.Equal(t, tt.rest, rest, tt.path)
	}
}

func TestGateExpiryBoundary(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(1_800_000_000, 0))
	now := clock.Now()

	t.Run("inside skew is expired", func(t *testing.T) {
		g := newTestGate(clock, tokenExpiringAt(t, now.Add(10*time.Second)))
		d := g.Decide(httptest.NewRequest(http.MethodGet, "/fr/clients", nil))
		require.False(t, d.Allow)
		require.Equal(t, httpx.ReasonExpired, d.Reason)
	})

	t.Run("beyond skew is valid", func(t *testing.T) {
		g := newTestGate(clock, tokenExpiringAt(t, now.Add(40*time.Second)))
		d := g.Decide(httptest.NewRequest(http.MethodGet, "/fr/clients", nil))
		require.True(t, d.Allow)
		require.Equal(t, httpx.ReasonValid, d.Reason)
	})

	t.Run("exactly at exp minus skew is expired", func(t *testing.T) {
		g := newTestGate(clock, tokenExpiringAt(t, now.Add(30*time.Second)))
		require.False(t, g.Decide(httptest.NewRequest(http.MethodGet, "/fr/clients", nil)).Allow)
	})

	t.Run("undecodable token fails closed", func(t *testing.T) {
		g := newTestGate(clock, "garbage")
		d := g.Decide(httptest.NewRequest(http.MethodGet, "/en/orders", nil))
		require.False(t, d.Allow)
		require.Equal(t, "/en/login?expired=true", d.Location)
	})
}

func TestGatePublicPages(t *testing.T) {
	clock := clockwork.NewFakeClock()
	expired := tokenExpiringAt(t, clock.Now().Add(-time.Hour))

	paths := []string{"/login", "/fr/login", "/ar/login", "/en/register", "/reset-password/abc123", "/fr/2fa", "/verify-email"}

	for _, token := range []string{"", expired} {
		g := newTestGate(clock, token)
		for _, p := range paths {
			d := g.Decide(httptest.NewRequest(http.MethodGet, p, nil))
			require.True(t, d.Allow, "%s token=%q", p, token != "")
			require.Equal(t, httpx.ReasonPublic, d.Reason)
		}
	}

	t.Run("lookalike is not public", func(t *testing.T) {
		g := newTestGate(clock, "")
		require.False(t, g.Decide(httptest.NewRequest(http.MethodGet, "/fr/login-history", nil)).Allow)
	})
}

func TestGateNoToken(t *testing.T) {
	g := newTestGate(clockwork.NewFakeClock(), "")

	t.Run("redirect keeps callback", func(t *testing.T) {
		d := g.Decide(httptest.NewRequest(http.MethodGet, "/en/securities/ost", nil))
		require.False(t, d.Allow)
		require.Equal(t, httpx.ReasonNoToken, d.Reason)
		require.Equal(t, "/en/login?callbackUrl=%2Fen%2Fsecurities%2Fost", d.Location)
	})

	t.Run("root redirect has no callback", func(t *testing.T) {
		require.Equal(t, "/fr/login", g.Decide(httptest.NewRequest(http.MethodGet, "/fr", nil)).Location)
		require.Equal(t, "/fr/login", g.Decide(httptest.NewRequest(http.MethodGet, "/", nil)).Location)
	})

	t.Run("coming from login to root is grace", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/fr", nil)
		req.Header.Set("Referer", "https://backoffice.example.com/fr/login?callbackUrl=%2Ffr")
		d := g.Decide(req)
		require.True(t, d.Allow)
		require.Equal(t, httpx.ReasonGrace, d.Reason)
	})

	t.Run("coming from login to a deep page is not grace", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/fr/clients", nil)
		req.Header.Set("Referer", "https://backoffice.example.com/fr/login")
		require.False(t, g.Decide(req).Allow)
	})

	t.Run("recent login marker is grace", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/fr/clients", nil)
		req.AddCookie(&http.Cookie{Name: "backoffice.recent-login", Value: "1"})
		require.True(t, g.Decide(req).Allow)
	})

	t.Run("assets and api are skipped", func(t *testing.T) {
		for _, p := range []string{"/api/backend/clients", "/_next/static/app.js", "/favicon.ico"} {
			d := g.Decide(httptest.NewRequest(http.MethodGet, p, nil))
			require.True(t, d.Allow, p)
			require.Equal(t, httpx.ReasonSkipped, d.Reason)
		}
	})
}

func TestExpiryGateMiddleware(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(1_800_000_000, 0))
	expired := tokenExpiringAt(t, clock.Now().Add(-5*time.Second))

	var decisions []httpx.Decision
	mw := httpx.ExpiryGate(httpx.ExpiryGateConfig{
		Locales:           []string{"fr", "en", "ar"},
		DefaultLocale:     "fr",
		RecentLoginCookie: "backoffice.recent-login",
		Clock:             clock,
		OnDecision:        func(d httpx.Decision) { decisions = append(decisions, d) },
	}, httpx.AccessTokenSourceFunc(func(*http.Request) (string, bool) { return expired, true }))

	h := httpx.Chain(okHandler(), mw)

	t.Run("expired token on a protected page", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fr/clients", nil))

		require.Equal(t, http.StatusTemporaryRedirect, rec.Code)
		require.Equal(t, "/fr/login?expired=true", rec.Header().Get("Location"))
		require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	})

	t.Run("expired token under grace passes", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/fr/clients", nil)
		req.AddCookie(&http.Cookie{Name: "backoffice.recent-login", Value: "1"})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
	})

	require.Len(t, decisions, 2)
	require.Equal(t, httpx.ReasonExpired, decisions[0].Reason)
	require.Equal(t, httpx.ReasonGrace, decisions[1].Reason)
}

func TestGateEndedSession(t *testing.T) {
	// A session that exists but can no longer refresh reports an empty token.
	g := httpx.NewGate(httpx.ExpiryGateConfig{
		Locales:       []string{"fr", "en", "ar"},
		DefaultLocale: "fr",
		Clock:         clockwork.NewFakeClock(),
	}, httpx.AccessTokenSourceFunc(func(*http.Request) (string, bool) { return "", true }))

	d := g.Decide(httptest.NewRequest(http.MethodGet, "/ar/orders", nil))
	require.False(t, d.Allow)
	require.Equal(t, httpx.ReasonExpired, d.Reason)
	require.Equal(t, "/ar/login?expired=true", d.Location)

	d = g.Decide(httptest.NewRequest(http.MethodGet, "/ar/login", nil))
	require.True(t, d.Allow)
	require.Equal(t, httpx.ReasonLoginPage, d.Reason)
}
