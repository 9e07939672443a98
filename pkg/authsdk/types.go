package authsdk

// ErrorResponse covers the error bodies the backend is known to send: OAuth2
// style {error, error_description} and {message}.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Message          string `json:"message"`
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse is returned by both the login and the refresh endpoints.
type TokenResponse struct {
	// AccessToken is the JWT sent as a bearer token on API calls.
	AccessToken string `json:"access_token"`

	// RefreshToken is empty on refresh when the backend keeps the old one.
	RefreshToken string `json:"refresh_token,omitempty"`
}
