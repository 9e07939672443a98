package http

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/aussiebroadwan/backoffice/internal/gateway/session"
	"github.com/aussiebroadwan/backoffice/internal/metrics"
	"github.com/aussiebroadwan/backoffice/pkg/httpx"
	"github.com/aussiebroadwan/backoffice/pkg/slogx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig holds what the gateway routes depend on.
type RouterConfig struct {
	Sessions *session.Manager

	// Gate configures the expiry gate in front of page requests. Its token
	// source is always the session manager.
	Gate httpx.ExpiryGateConfig

	// BackendURL is where /api/backend/ is proxied to.
	BackendURL *url.URL

	// FrontendURL is the page renderer. Without it page requests that pass
	// the gate get 404.
	FrontendURL *url.URL

	// Metrics and Gatherer are optional.
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer

	BuildVersion string
	Logger       *slog.Logger
}

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	cfg       RouterConfig
	startTime time.Time
	logger    *slog.Logger
}

// NewRouter creates a router with the default middleware chain. Call
// ApplyRoutes before serving.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Logger == nil {
		cfg.Logger = slogx.Discard()
	}
	if cfg.Gate.DefaultLocale == "" {
		cfg.Gate.DefaultLocale = "fr"
	}
	if len(cfg.Gate.Locales) == 0 {
		cfg.Gate.Locales = []string{cfg.Gate.DefaultLocale}
	}

	r := &Router{
		Mux:       http.NewServeMux(),
		cfg:       cfg,
		startTime: time.Now(),
		logger:    cfg.Logger,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger, "/livez", "/readyz", "/metrics", "/_next/"),
	}

	return r
}

// ApplyRoutes registers every gateway route.
func (r *Router) ApplyRoutes() {
	r.registerAuth()
	r.registerTokenState()
	r.registerBackend()
	r.registerSystem()
	r.registerPages()
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerAuth() {
	locales := localeSet{supported: r.cfg.Gate.Locales, def: r.cfg.Gate.DefaultLocale}

	// Credential submission: strict limit by IP against brute force.
	r.Mux.Handle("POST /api/auth/signin",
		httpx.Chain(&SignInHandler{Sessions: r.cfg.Sessions, Locales: locales},
			httpx.RateLimitByIP(httpx.SignInLimit),
		),
	)

	// Polled by the UI, refreshes on read.
	r.Mux.Handle("GET /api/auth/session",
		httpx.Chain(&SessionHandler{Sessions: r.cfg.Sessions},
			httpx.RateLimitByIP(httpx.SessionLimit),
		),
	)

	r.Mux.Handle("POST /api/auth/signout", &SignOutHandler{Sessions: r.cfg.Sessions, Locales: locales})
}

func (r *Router) registerTokenState() {
	h := &TokenStateHandler{Sessions: r.cfg.Sessions}
	limit := httpx.RateLimitByIP(httpx.DiagnosticsLimit)

	r.Mux.Handle("GET /api/auth/token-state", httpx.Chain(http.HandlerFunc(h.HandleGet), limit))
	r.Mux.Handle("POST /api/auth/token-state/reset", httpx.Chain(http.HandlerFunc(h.HandleReset), limit))
	r.Mux.Handle("POST /api/auth/token-state/clear-stuck", httpx.Chain(http.HandlerFunc(h.HandleClearStuck), limit))
}

func (r *Router) registerBackend() {
	r.Mux.Handle("/api/backend/", NewBackendProxy(r.cfg.Sessions, r.cfg.BackendURL, r.logger))

	// Anything else under /api/ is ours and unknown.
	r.Mux.HandleFunc("/api/", func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteError(w, http.StatusNotFound, "not_found", "no such endpoint")
	})
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez", LivezHandler(r.startTime, r.cfg.BuildVersion))
	r.Mux.Handle("GET /readyz", ReadyzHandler(r.startTime, r.cfg.BuildVersion, r.cfg.BackendURL, r.cfg.Sessions.Registry()))

	if r.cfg.Gatherer != nil {
		r.Mux.Handle("GET /metrics", promhttp.HandlerFor(r.cfg.Gatherer, promhttp.HandlerOpts{}))
	}
}

func (r *Router) registerPages() {
	gateCfg := r.cfg.Gate
	if r.cfg.Metrics != nil {
		next := gateCfg.OnDecision
		gateCfg.OnDecision = func(d httpx.Decision) {
			r.cfg.Metrics.ObserveGateDecision(d)
			if next != nil {
				next(d)
			}
		}
	}

	var pages http.Handler = http.NotFoundHandler()
	if r.cfg.FrontendURL != nil {
		pages = NewFrontendProxy(r.cfg.FrontendURL, r.logger)
	}

	r.Mux.Handle("/", httpx.Chain(pages, httpx.ExpiryGate(gateCfg, r.cfg.Sessions)))
}
