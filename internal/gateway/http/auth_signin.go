package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/backoffice/internal/gateway/session"
	"github.com/aussiebroadwan/backoffice/pkg/httpx"
	"github.com/aussiebroadwan/backoffice/pkg/slogx"
	"github.com/goccy/go-json"
)

const maxSignInBody = 1 << 16

// SignInRequest is the credentials form posted by the login page.
type SignInRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	CallbackURL string `json:"callbackUrl,omitempty"`
}

// SignInResponse tells the login page where to go next.
type SignInResponse struct {
	URL     string       `json:"url"`
	Session session.View `json:"session"`
}

// SignInHandler exchanges credentials for a session cookie.
type SignInHandler struct {
	Sessions *session.Manager
	Locales  localeSet
}

func (h *SignInHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req SignInRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSignInBody)).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed sign-in body")
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	s, err := h.Sessions.SignIn(w, r, req.Email, req.Password)
	switch {
	case errors.Is(err, session.ErrBadCredentials):
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "email or password is incorrect")
		return
	case err != nil:
		log.Error("sign-in failed", "error", err)
		httpx.WriteError(w, http.StatusBadGateway, "backend_unavailable", "could not reach the authentication service")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, SignInResponse{
		URL:     h.Locales.safeCallback(req.CallbackURL),
		Session: s.View(),
	})
}
