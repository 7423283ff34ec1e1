package gtasks

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// TokenMinter exchanges a stored refresh token for a short-lived access
// token. The orchestrator calls this once per user per batch run.
type TokenMinter interface {
	AccessToken(ctx context.Context, refreshToken string) (string, error)
}

// oauthMinter mints access tokens against the source's OAuth endpoint.
type oauthMinter struct {
	conf *oauth2.Config
}

// NewTokenMinter creates a TokenMinter using the configured OAuth client.
func NewTokenMinter(clientID, clientSecret string) TokenMinter {
	return &oauthMinter{
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{"https://www.googleapis.com/auth/tasks.readonly"},
		},
	}
}

func (m *oauthMinter) AccessToken(ctx context.Context, refreshToken string) (string, error) {
	src := m.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("%w: refresh access token: %v", ErrRemoteSource, err)
	}
	return tok.AccessToken, nil
}
