package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/aussiebroadwan/backoffice/internal/gateway/http"
	"github.com/aussiebroadwan/backoffice/internal/gateway/session"
	"github.com/aussiebroadwan/backoffice/internal/metrics"
	"github.com/aussiebroadwan/backoffice/pkg/authsdk"
	"github.com/aussiebroadwan/backoffice/pkg/httpx"
	"github.com/aussiebroadwan/backoffice/pkg/slogx"
	"github.com/aussiebroadwan/backoffice/pkg/tokenmgr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	// BuildVersion is overridden at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application is the session gateway with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	backendURL  *url.URL
	frontendURL *url.URL

	promRegistry *prometheus.Registry
	metrics      *metrics.Metrics

	sdk      *authsdk.SDKClient
	registry *session.Registry
	sessions *session.Manager

	server *http.Server
	router *httpapi.Router
}

// New creates an Application from cfg.
func New(cfg Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "backoffice-gateway",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
			Output:  cfg.LogOutput,
		}),
	}

	app.backendURL, _ = parseUpstream(cfg.BackendURL)
	if cfg.FrontendURL != "" {
		app.frontendURL, _ = parseUpstream(cfg.FrontendURL)
	}

	if err := app.initMetrics(); err != nil {
		return nil, err
	}
	if err := app.initSessions(); err != nil {
		return nil, err
	}
	app.initHTTP()

	return app, nil
}

// Handler returns the gateway's root handler.
func (app *Application) Handler() http.Handler {
	return app.router
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.registry.Start()

	app.logger.Info("gateway starting",
		"port", app.cfg.Port,
		"version", BuildVersion,
		"backend", app.backendURL.Redacted(),
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		app.registry.Stop()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown drains the HTTP server and stops the registry janitor.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down gateway...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	err := app.server.Shutdown(ctx)
	if err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if cerr := app.server.Close(); cerr != nil {
			app.logger.Error("error closing server", "error", cerr)
		}
	}

	app.registry.Stop()

	app.logger.Info("gateway stopped")
	return err
}

func (app *Application) initMetrics() error {
	app.promRegistry = prometheus.NewRegistry()
	app.promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m, err := metrics.NewMetrics(app.promRegistry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	app.metrics = m
	return nil
}

func (app *Application) initSessions() error {
	app.sdk = authsdk.NewSDKClient(app.backendURL.String())

	codec, err := session.NewCodec(app.cfg.Secret, app.cfg.SessionMaxAge, app.cfg.secure(), nil)
	if err != nil {
		return fmt.Errorf("failed to initialize session codec: %w", err)
	}

	app.registry = session.NewRegistry(session.RegistryConfig{
		Transport: session.SDKTransport(app.sdk),
		Coordinator: tokenmgr.Config{
			Cooldown:   app.cfg.RefreshCooldown,
			MaxRetries: app.cfg.RefreshMaxRetries,
			Timeout:    app.cfg.RefreshTimeout,
			Observer:   app.metrics,
		},
		IdleTTL:      app.cfg.SessionIdleTTL,
		EndedTTL:     app.cfg.SessionMaxAge,
		Interval:     app.cfg.HousekeepingInterval,
		Logger:       slogx.Component(app.logger, "session-registry"),
		OnSizeChange: app.metrics.SetActiveSessions,
	})

	app.sessions = session.NewManager(codec, app.registry, app.sdk, session.ManagerConfig{
		RefreshWindow: app.cfg.RefreshWindow,
		Logger:        slogx.Component(app.logger, "sessions"),
		OnSignIn:      app.metrics.IncSignIn,
	})
	return nil
}

func (app *Application) initHTTP() {
	router := httpapi.NewRouter(httpapi.RouterConfig{
		Sessions: app.sessions,
		Gate: httpx.ExpiryGateConfig{
			Locales:           app.cfg.Locales,
			DefaultLocale:     app.cfg.DefaultLocale,
			Skew:              app.cfg.ExpirySkew,
			RecentLoginCookie: session.RecentLoginCookieName,
		},
		BackendURL:   app.backendURL,
		FrontendURL:  app.frontendURL,
		Metrics:      app.metrics,
		Gatherer:     app.promRegistry,
		BuildVersion: BuildVersion,
		Logger:       app.logger,
	})
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
