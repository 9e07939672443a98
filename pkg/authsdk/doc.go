/*
Package authsdk is a small client for the authentication endpoints of the
back-office backend.

It covers the two calls the session gateway needs:

	client := authsdk.NewSDKClient("https://api.example.com")

	// Sign in with credentials.
	tok, err := client.Login(ctx, "ops@example.com", "secret")

	// Exchange a refresh token for a new access token.
	tok, err = client.RefreshAccessToken(ctx, tok.RefreshToken)

# Error Handling

Any non-2xx response comes back as *StatusError carrying the HTTP status and
whatever message the backend sent. StatusError implements HTTPStatus() so the
token coordinator can recognise rate limiting and rejected refresh tokens:

	var se *authsdk.StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized {
		// refresh token rejected
	}

Network failures and undecodable bodies are plain wrapped errors.
*/
package authsdk
