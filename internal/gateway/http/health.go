package http

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/aussiebroadwan/backoffice/internal/gateway/session"
	"github.com/aussiebroadwan/backoffice/pkg/httpx"
)

// HealthResponse is the body of the health endpoints.
type HealthResponse struct {
	Status  string            `json:"status"`
	Uptime  string            `json:"uptime"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// backendProbeTimeout bounds the readiness probe of the backend.
const backendProbeTimeout = 2 * time.Second

// LivezHandler reports that the process is up.
func LivezHandler(startTime time.Time, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Uptime:  time.Since(startTime).String(),
			Version: version,
		})
	}
}

// ReadyzHandler reports whether the backend answers and how many sessions
// have a live coordinator.
func ReadyzHandler(startTime time.Time, version string, backend *url.URL, registry *session.Registry) http.HandlerFunc {
	client := &http.Client{Timeout: backendProbeTimeout}

	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"backend":  "ok",
			"sessions": strconv.Itoa(registry.Len()),
		}
		overallStatus := "ok"
		statusCode := http.StatusOK

		if err := probe(r.Context(), client, backend); err != nil {
			checks["backend"] = "error: " + err.Error()
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		httpx.WriteJSON(w, statusCode, HealthResponse{
			Status:  overallStatus,
			Uptime:  time.Since(startTime).String(),
			Version: version,
			Checks:  checks,
		})
	}
}

// probe succeeds when the backend answers at all; any status will do.
func probe(ctx context.Context, client *http.Client, backend *url.URL) error {
	if backend == nil {
		return errNoBackend
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, backend.String(), nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}
