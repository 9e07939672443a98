package http_test

import (
	"bytes"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	gatewayhttp "github.com/aussiebroadwan/backoffice/internal/gateway/http"
	"github.com/aussiebroadwan/backoffice/internal/gateway/session"
	"github.com/aussiebroadwan/backoffice/internal/metrics"
	"github.com/aussiebroadwan/backoffice/pkg/authsdk"
	"github.com/aussiebroadwan/backoffice/pkg/httpx"
	"github.com/aussiebroadwan/backoffice/pkg/jwtx"
	"github.com/aussiebroadwan/backoffice/pkg/tokenmgr"
	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "an-adequately-long-nextauth-secret"

var backendKey = []byte("backend-signing-key-0123456789ab")

type gatewayHarness struct {
	backend  *httptest.Server
	frontend *httptest.Server
	gateway  *httptest.Server
	client   *http.Client

	// loginTTL is the lifetime of access tokens issued at login.
	loginTTL      atomic.Int64
	refreshCalls  atomic.Int32
	rejectRefresh atomic.Bool
}

func mint(t *testing.T, ttl time.Duration) string {
	t.Helper()
	signer, err := jwtx.NewHS256(backendKey)
	require.NoError(t, err)
	raw, err := signer.Sign(jwtx.AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "42", ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl))},
		Email:            "amina@example.dz",
		Username:         "amina",
		Roles:            []string{"ADMIN"},
	})
	require.NoError(t, err)
	return raw
}

func newGatewayHarness(t *testing.T) *gatewayHarness {
	t.Helper()
	h := &gatewayHarness{}
	h.loginTTL.Store(int64(15 * time.Minute))

	backend := http.NewServeMux()
	backend.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req authsdk.LoginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Password != "secret" {
			httpx.WriteJSON(w, http.StatusUnauthorized, authsdk.ErrorResponse{Message: "Bad credentials"})
			return
		}
		httpx.WriteJSON(w, http.StatusOK, authsdk.TokenResponse{
			AccessToken:  mint(t, time.Duration(h.loginTTL.Load())),
			RefreshToken: "rt-1",
		})
	})
	backend.HandleFunc("GET /auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		h.refreshCalls.Add(1)
		if h.rejectRefresh.Load() || r.Header.Get(authsdk.HeaderRefreshToken) != "rt-1" {
			httpx.WriteJSON(w, http.StatusUnauthorized, authsdk.ErrorResponse{Message: "unknown refresh token"})
			return
		}
		httpx.WriteJSON(w, http.StatusOK, authsdk.TokenResponse{AccessToken: mint(t, 15*time.Minute)})
	})
	backend.HandleFunc("GET /clients", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{
			"authorization": r.Header.Get("Authorization"),
			"cookie":        r.Header.Get("Cookie"),
			"path":          r.URL.Path,
			"query":         r.URL.RawQuery,
		})
	})
	backend.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	h.backend = httptest.NewServer(backend)
	t.Cleanup(h.backend.Close)

	h.frontend = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("page " + r.URL.Path))
	}))
	t.Cleanup(h.frontend.Close)

	sdk := authsdk.NewSDKClient(h.backend.URL)
	codec, err := session.NewCodec(testSecret, 24*time.Hour, false, nil)
	require.NoError(t, err)
	reg := session.NewRegistry(session.RegistryConfig{
		Transport: session.SDKTransport(sdk),
	})
	mgr := session.NewManager(codec, reg, sdk, session.ManagerConfig{})

	promReg := prometheus.NewRegistry()
	m, err := metrics.NewMetrics(promReg)
	require.NoError(t, err)

	backendURL, _ := url.Parse(h.backend.URL)
	frontendURL, _ := url.Parse(h.frontend.URL)

	router := gatewayhttp.NewRouter(gatewayhttp.RouterConfig{
		Sessions: mgr,
		Gate: httpx.ExpiryGateConfig{
			Locales:           []string{"fr", "en"},
			DefaultLocale:     "fr",
			RecentLoginCookie: session.RecentLoginCookieName,
		},
		BackendURL:   backendURL,
		FrontendURL:  frontendURL,
		Metrics:      m,
		Gatherer:     promReg,
		BuildVersion: "test",
	})
	router.ApplyRoutes()

	h.gateway = httptest.NewServer(router)
	t.Cleanup(h.gateway.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	h.client = &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return h
}

func (h *gatewayHarness) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, h.gateway.URL+path, &buf)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := h.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (h *gatewayHarness) signIn(t *testing.T) {
	t.Helper()
	resp := h.do(t, http.MethodPost, "/api/auth/signin", gatewayhttp.SignInRequest{
		Email:    "amina@example.dz",
		Password: "secret",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSignIn(t *testing.T) {
	h := newGatewayHarness(t)

	t.Run("rejects bad credentials", func(t *testing.T) {
		resp := h.do(t, http.MethodPost, "/api/auth/signin", gatewayhttp.SignInRequest{
			Email:    "amina@example.dz",
			Password: "wrong",
		})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "invalid_credentials", decode[httpx.ErrorBody](t, resp).Error)
	})

	t.Run("requires both fields", func(t *testing.T) {
		resp := h.do(t, http.MethodPost, "/api/auth/signin", gatewayhttp.SignInRequest{Email: "amina@example.dz"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("starts a session", func(t *testing.T) {
		resp := h.do(t, http.MethodPost, "/api/auth/signin", gatewayhttp.SignInRequest{
			Email:       "amina@example.dz",
			Password:    "secret",
			CallbackURL: "/fr/clients",
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		out := decode[gatewayhttp.SignInResponse](t, resp)
		assert.Equal(t, "/fr/clients", out.URL)
		assert.Equal(t, "amina", out.Session.User.Username)
		assert.Equal(t, []string{"ADMIN"}, out.Session.User.Roles)

		resp = h.do(t, http.MethodGet, "/api/auth/session", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		view := decode[session.View](t, resp)
		assert.Equal(t, "amina@example.dz", view.User.Email)
		assert.Empty(t, view.Error)
	})

	t.Run("drops off-site callbacks", func(t *testing.T) {
		resp := h.do(t, http.MethodPost, "/api/auth/signin", gatewayhttp.SignInRequest{
			Email:       "amina@example.dz",
			Password:    "secret",
			CallbackURL: "//evil.example/steal",
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "/fr", decode[gatewayhttp.SignInResponse](t, resp).URL)
	})
}

func TestSessionWithoutCookie(t *testing.T) {
	h := newGatewayHarness(t)

	resp := h.do(t, http.MethodGet, "/api/auth/session", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "no_session", decode[httpx.ErrorBody](t, resp).Error)
}

func TestBackendProxy(t *testing.T) {
	h := newGatewayHarness(t)

	resp := h.do(t, http.MethodGet, "/api/backend/clients", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	h.signIn(t)

	resp = h.do(t, http.MethodGet, "/api/backend/clients?page=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	seen := decode[map[string]string](t, resp)
	assert.True(t, strings.HasPrefix(seen["authorization"], "Bearer ey"))
	assert.Empty(t, seen["cookie"], "session cookie must not reach the backend")
	assert.Equal(t, "/clients", seen["path"])
	assert.Equal(t, "page=2", seen["query"])
	assert.Zero(t, h.refreshCalls.Load())
}

func TestBackendProxyRefreshesNearExpiry(t *testing.T) {
	h := newGatewayHarness(t)
	h.loginTTL.Store(int64(20 * time.Second))
	h.signIn(t)

	resp := h.do(t, http.MethodGet, "/api/backend/clients", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	first := decode[map[string]string](t, resp)["authorization"]
	assert.Equal(t, int32(1), h.refreshCalls.Load())

	// The refreshed token was written back, so the next call needs nothing.
	resp = h.do(t, http.MethodGet, "/api/backend/clients", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, first, decode[map[string]string](t, resp)["authorization"])
	assert.Equal(t, int32(1), h.refreshCalls.Load())
}

func TestPagesGate(t *testing.T) {
	h := newGatewayHarness(t)

	resp := h.do(t, http.MethodGet, "/fr/clients", nil)
	assert.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
	assert.Equal(t, "/fr/login?callbackUrl=%2Ffr%2Fclients", resp.Header.Get("Location"))

	resp = h.do(t, http.MethodGet, "/en/login", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	h.signIn(t)

	resp = h.do(t, http.MethodGet, "/fr/clients", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := new(bytes.Buffer)
	_, _ = body.ReadFrom(resp.Body)
	assert.Equal(t, "page /fr/clients", body.String())
}

func TestSignOut(t *testing.T) {
	h := newGatewayHarness(t)
	h.signIn(t)

	resp := h.do(t, http.MethodPost, "/api/auth/signout?locale=en", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/en/login", decode[gatewayhttp.SignOutResponse](t, resp).URL)

	resp = h.do(t, http.MethodGet, "/api/auth/session", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	t.Run("unknown locale falls back", func(t *testing.T) {
		resp := h.do(t, http.MethodPost, "/api/auth/signout?locale=de", nil)
		assert.Equal(t, "/fr/login", decode[gatewayhttp.SignOutResponse](t, resp).URL)
	})
}

func TestTokenState(t *testing.T) {
	h := newGatewayHarness(t)

	resp := h.do(t, http.MethodGet, "/api/auth/token-state", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	h.signIn(t)

	resp = h.do(t, http.MethodGet, "/api/auth/token-state", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	state := decode[tokenmgr.State](t, resp)
	assert.False(t, state.RefreshInFlight)
	assert.Zero(t, state.RetryCount)

	resp = h.do(t, http.MethodPost, "/api/auth/token-state/clear-stuck", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[gatewayhttp.ClearStuckResponse](t, resp).Cleared)

	resp = h.do(t, http.MethodPost, "/api/auth/token-state/reset", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[tokenmgr.State](t, resp).ShuttingDown)
}

func TestSystemEndpoints(t *testing.T) {
	h := newGatewayHarness(t)

	resp := h.do(t, http.MethodGet, "/livez", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "test", decode[gatewayhttp.HealthResponse](t, resp).Version)

	resp = h.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ready := decode[gatewayhttp.HealthResponse](t, resp)
	assert.Equal(t, "ok", ready.Checks["backend"])

	h.backend.Close()
	resp = h.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	h.do(t, http.MethodGet, "/fr/clients", nil)
	resp = h.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := new(bytes.Buffer)
	_, _ = body.ReadFrom(resp.Body)
	assert.Contains(t, body.String(), `backoffice_expiry_gate_decisions_total{allow="false",reason="no_token"} 1`)

	resp = h.do(t, http.MethodGet, "/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSignOutLocaleFromReferer(t *testing.T) {
	h := newGatewayHarness(t)

	req, err := http.NewRequest(http.MethodPost, h.gateway.URL+"/api/auth/signout", nil)
	require.NoError(t, err)
	req.Header.Set("Referer", h.gateway.URL+"/en/clients/7")
	resp, err := h.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "/en/login", decode[gatewayhttp.SignOutResponse](t, resp).URL)
}

func TestPagesGateEndedSession(t *testing.T) {
	h := newGatewayHarness(t)
	h.loginTTL.Store(int64(20 * time.Second))
	h.rejectRefresh.Store(true)
	h.signIn(t)

	resp := h.do(t, http.MethodGet, "/api/auth/session", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, tokenmgr.ErrorKindRefreshAccessToken, decode[session.View](t, resp).Error)

	// Only the session cookie, without the recent-login marker.
	u, err := url.Parse(h.gateway.URL)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodGet, h.gateway.URL+"/en/clients", nil)
	require.NoError(t, err)
	for _, c := range h.client.Jar.Cookies(u) {
		if c.Name == session.CookieName {
			req.AddCookie(c)
		}
	}
	noJar := &http.Client{CheckRedirect: h.client.CheckRedirect}
	resp, err = noJar.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
	require.Equal(t, "/en/login?expired=true", resp.Header.Get("Location"))
}
