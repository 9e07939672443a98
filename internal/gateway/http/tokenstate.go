package http

import (
	"net/http"

	"github.com/aussiebroadwan/backoffice/internal/gateway/session"
	"github.com/aussiebroadwan/backoffice/pkg/httpx"
	"github.com/aussiebroadwan/backoffice/pkg/slogx"
	"github.com/aussiebroadwan/backoffice/pkg/tokenmgr"
)

// ClearStuckResponse is the body of the clear-stuck endpoint.
type ClearStuckResponse struct {
	Cleared bool           `json:"cleared"`
	State   tokenmgr.State `json:"state"`
}

// TokenStateHandler exposes the session's coordinator for diagnostics.
type TokenStateHandler struct {
	Sessions *session.Manager
}

func (h *TokenStateHandler) coordinator(w http.ResponseWriter, r *http.Request) (*tokenmgr.Coordinator, bool) {
	coord, _, err := h.Sessions.Coordinator(r)
	if err != nil {
		httpx.WriteError(w, http.StatusUnauthorized, "no_session", "not signed in")
		return nil, false
	}
	return coord, true
}

// HandleGet returns the coordinator state.
func (h *TokenStateHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	coord, ok := h.coordinator(w, r)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, coord.State())
}

// HandleReset returns the coordinator to its initial state.
func (h *TokenStateHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	coord, ok := h.coordinator(w, r)
	if !ok {
		return
	}
	coord.Reset()
	slogx.FromContext(r.Context()).Info("token coordinator reset")
	httpx.WriteJSON(w, http.StatusOK, coord.State())
}

// HandleClearStuck drops a refresh that has been in flight too long.
func (h *TokenStateHandler) HandleClearStuck(w http.ResponseWriter, r *http.Request) {
	coord, ok := h.coordinator(w, r)
	if !ok {
		return
	}
	cleared := coord.ClearStuckRefresh()
	httpx.WriteJSON(w, http.StatusOK, ClearStuckResponse{Cleared: cleared, State: coord.State()})
}
