package app

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/backoffice/internal/gateway/session"
	"github.com/aussiebroadwan/backoffice/pkg/jwtx"
	"github.com/aussiebroadwan/backoffice/pkg/tokenmgr"
)

type Config struct {
	BackendURL    string   // Required: backend base URL, NEXT_PUBLIC_BACKEND_URL
	Secret        string   // Required: session secret, NEXTAUTH_SECRET
	FrontendURL   string   // Optional: page renderer upstream; pages 404 without it
	Locales       []string // Optional: supported locales (default: fr,en,ar)
	DefaultLocale string   // Optional: locale of un-prefixed paths (default: fr)

	RefreshCooldown   time.Duration // Optional: minimum time between refresh attempts (default: 5s)
	RefreshMaxRetries int           // Optional: failures before a session ends (default: 3)
	RefreshTimeout    time.Duration // Optional: hard bound on one refresh call (default: none)
	RefreshWindow     time.Duration // Optional: refresh when this close to expiry (default: 60s)
	ExpirySkew        time.Duration // Optional: clock skew allowed by the expiry gate (default: 30s)

	SessionMaxAge        time.Duration // Optional: session cookie lifetime (default: 30 days)
	SessionIdleTTL       time.Duration // Optional: idle coordinators are dropped after this (default: 1h)
	HousekeepingInterval time.Duration // Optional: registry sweep interval (default: 5m)

	Env                 string        // Environment (dev, staging, prod) (default: dev)
	LogLevel            string        // Log level (debug, info, warn, error) (default: info)
	LogFormat           string        // Log format (json, text) (default: json)
	Port                int           // HTTP server port (default: 8080)
	ShutdownGracePeriod time.Duration // Graceful shutdown timeout (default: 10s)

	// LogOutput defaults to stdout. Not read from the environment.
	LogOutput io.Writer
}

func LoadConfig() Config {
	cfg := Config{
		BackendURL:    os.Getenv("NEXT_PUBLIC_BACKEND_URL"),
		Secret:        os.Getenv("NEXTAUTH_SECRET"),
		FrontendURL:   os.Getenv("FRONTEND_URL"),
		Locales:       splitList(getEnvOrDefault("LOCALES", "fr,en,ar")),
		DefaultLocale: getEnvOrDefault("DEFAULT_LOCALE", "fr"),

		RefreshCooldown:   getEnvDurationOrDefault("REFRESH_COOLDOWN", tokenmgr.DefaultCooldown),
		RefreshMaxRetries: getEnvIntOrDefault("REFRESH_MAX_RETRIES", tokenmgr.DefaultMaxRetries),
		RefreshTimeout:    getEnvDurationOrDefault("REFRESH_TIMEOUT", 0),
		RefreshWindow:     getEnvDurationOrDefault("REFRESH_WINDOW", session.DefaultRefreshWindow),
		ExpirySkew:        getEnvDurationOrDefault("EXPIRY_SKEW", jwtx.DefaultExpirySkew),

		SessionMaxAge:        getEnvDurationOrDefault("SESSION_MAX_AGE", session.DefaultMaxAge),
		SessionIdleTTL:       getEnvDurationOrDefault("SESSION_IDLE_TTL", time.Hour),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 5*time.Minute),

		Env:                 getEnvOrDefault("ENV", "dev"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod: getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}

	return cfg
}

// Validate reports configuration the gateway cannot start with.
func (cfg Config) Validate() error {
	var errs []error

	if cfg.Secret == "" {
		errs = append(errs, errors.New("NEXTAUTH_SECRET is required"))
	}
	if cfg.BackendURL == "" {
		errs = append(errs, errors.New("NEXT_PUBLIC_BACKEND_URL is required"))
	} else if _, err := parseUpstream(cfg.BackendURL); err != nil {
		errs = append(errs, fmt.Errorf("NEXT_PUBLIC_BACKEND_URL: %w", err))
	}
	if cfg.FrontendURL != "" {
		if _, err := parseUpstream(cfg.FrontendURL); err != nil {
			errs = append(errs, fmt.Errorf("FRONTEND_URL: %w", err))
		}
	}
	if len(cfg.Locales) > 0 && !slices.Contains(cfg.Locales, cfg.DefaultLocale) {
		errs = append(errs, fmt.Errorf("DEFAULT_LOCALE %q is not in LOCALES", cfg.DefaultLocale))
	}

	return errors.Join(errs...)
}

// secure reports whether cookies should carry the Secure attribute.
func (cfg Config) secure() bool {
	return cfg.Env != "dev"
}

func parseUpstream(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("missing host")
	}
	return u, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are seconds.
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}
