package session

import (
	"context"

	"github.com/aussiebroadwan/backoffice/pkg/authsdk"
	"github.com/aussiebroadwan/backoffice/pkg/tokenmgr"
)

// SDKTransport refreshes tokens through the backend client. Status errors
// pass through untouched so the coordinator can classify them.
func SDKTransport(client *authsdk.SDKClient) tokenmgr.Transport {
	return tokenmgr.TransportFunc(func(ctx context.Context, refreshToken string) (tokenmgr.TokenPair, error) {
		tok, err := client.RefreshAccessToken(ctx, refreshToken)
		if err != nil {
			return tokenmgr.TokenPair{}, err
		}
		return tokenmgr.TokenPair{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}, nil
	})
}
