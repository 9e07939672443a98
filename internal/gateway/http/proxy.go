package http

import (
	"errors"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/aussiebroadwan/backoffice/internal/gateway/session"
	"github.com/aussiebroadwan/backoffice/pkg/httpx"
	"github.com/aussiebroadwan/backoffice/pkg/slogx"
)

// BackendPrefix is stripped from proxied backend API requests.
const BackendPrefix = "/api/backend"

var errNoBackend = errors.New("backend url not configured")

// BackendProxy forwards API calls to the backend with the session's access
// token as bearer credentials, refreshing it first when it is close to
// expiry.
type BackendProxy struct {
	sessions *session.Manager
	proxy    *httputil.ReverseProxy
}

// NewBackendProxy builds the backend proxy. A nil target answers 502.
func NewBackendProxy(sessions *session.Manager, target *url.URL, logger *slog.Logger) *BackendProxy {
	p := &BackendProxy{sessions: sessions}
	if target != nil {
		p.proxy = newReverseProxy(target, logger)
	}
	return p
}

func (p *BackendProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	if p.proxy == nil {
		httpx.WriteError(w, http.StatusBadGateway, "backend_unavailable", errNoBackend.Error())
		return
	}

	s, changed, err := p.sessions.Resolve(ctx, r)
	if err != nil {
		httpx.WriteError(w, http.StatusUnauthorized, "no_session", "not signed in")
		return
	}

	if changed {
		if err := p.sessions.Write(w, s); err != nil {
			log.Error("failed to write session cookie", "error", err)
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "could not store session")
			return
		}
	}

	if s.Ended() {
		httpx.WriteError(w, http.StatusUnauthorized, "session_expired", string(s.Token.Error))
		return
	}

	out := r.Clone(ctx)
	out.URL.Path = strings.TrimPrefix(r.URL.Path, BackendPrefix)
	out.URL.RawPath = ""
	if out.URL.Path == "" {
		out.URL.Path = "/"
	}
	out.Header.Del("Cookie")
	out.Header.Set("Authorization", "Bearer "+s.Token.AccessToken)

	p.proxy.ServeHTTP(w, out)
}

// NewFrontendProxy forwards page requests to the page renderer unchanged.
func NewFrontendProxy(target *url.URL, logger *slog.Logger) http.Handler {
	return newReverseProxy(target, logger)
}

func newReverseProxy(target *url.URL, logger *slog.Logger) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			slogx.FromContext(r.Context()).Error("upstream request failed",
				"upstream", target.Host,
				"error", err,
			)
			httpx.WriteError(w, http.StatusBadGateway, "upstream_unavailable", "upstream did not answer")
		},
		ErrorLog: slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
}
