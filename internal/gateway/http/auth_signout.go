package http

import (
	"net/http"
	"net/url"

	"github.com/aussiebroadwan/backoffice/internal/gateway/session"
	"github.com/aussiebroadwan/backoffice/pkg/httpx"
)

// SignOutResponse tells the page where to go after signing out.
type SignOutResponse struct {
	URL string `json:"url"`
}

// SignOutHandler ends the session. The locale of the login page comes from
// the locale query parameter, or the page the request was sent from.
type SignOutHandler struct {
	Sessions *session.Manager
	Locales  localeSet
}

func (h *SignOutHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.Sessions.SignOut(w, r)

	locale := r.URL.Query().Get("locale")
	if locale == "" {
		if ref, err := url.Parse(r.Referer()); err == nil && ref.Path != "" {
			locale = h.Locales.fromPath(ref.Path)
		}
	}

	httpx.WriteJSON(w, http.StatusOK, SignOutResponse{URL: h.Locales.loginURL(locale)})
}
