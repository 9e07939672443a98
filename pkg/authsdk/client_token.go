package authsdk

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
)

// HeaderRefreshToken carries the refresh token on the refresh call.
const HeaderRefreshToken = "refresh_token"

var errEmptyAccessToken = errors.New("authsdk: response carried no access token")

// RefreshAccessToken exchanges a refresh token for a new access token. The
// returned RefreshToken is empty when the backend did not rotate it.
func (c *SDKClient) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/auth/refresh-token", nil, map[string]string{
		HeaderRefreshToken: refreshToken,
		"Accept":           "application/json",
	})
	if err != nil {
		return nil, err
	}

	var tok TokenResponse
	if err := decodeJSON(resp, &tok, http.StatusOK); err != nil {
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, errEmptyAccessToken
	}

	return &tok, nil
}

// Login signs a user in with email and password.
func (c *SDKClient) Login(ctx context.Context, email, password string) (*TokenResponse, error) {
	body, err := json.Marshal(LoginRequest{Email: email, Password: password})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/auth/login", bytes.NewReader(body), map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
	})
	if err != nil {
		return nil, err
	}

	var tok TokenResponse
	if err := decodeJSON(resp, &tok, http.StatusOK); err != nil {
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, errEmptyAccessToken
	}

	return &tok, nil
}
