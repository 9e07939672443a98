package http

import (
	"errors"
	"net/http"

	"github.com/aussiebroadwan/backoffice/internal/gateway/session"
	"github.com/aussiebroadwan/backoffice/pkg/httpx"
	"github.com/aussiebroadwan/backoffice/pkg/slogx"
)

// SessionHandler returns the current session, refreshing its access token
// when it is close to expiry.
type SessionHandler struct {
	Sessions *session.Manager
}

func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	s, changed, err := h.Sessions.Resolve(ctx, r)
	switch {
	case errors.Is(err, session.ErrNoSession):
		httpx.WriteError(w, http.StatusUnauthorized, "no_session", "not signed in")
		return
	case err != nil:
		log.Warn("unreadable session cookie", "error", err)
		h.Sessions.SignOut(w, r)
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_session", "session could not be read")
		return
	}

	if changed {
		if err := h.Sessions.Write(w, s); err != nil {
			log.Error("failed to write session cookie", "error", err)
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "could not store session")
			return
		}
	}

	httpx.WriteJSON(w, http.StatusOK, s.View())
}
