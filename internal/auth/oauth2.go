package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// NewOAuth2Config creates the oauth2.Config for the backend's OAuth flow.
//
// The redirect port and path match the values registered for the OAuth
// application; the authorization server validates the redirect URI against
// the registered value, so neither can change.
func NewOAuth2Config(clientID, authorizeURL, tokenURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID: clientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:   authorizeURL,
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes:      []string{"org:create_api_key", "user:profile", "user:inference"},
		RedirectURL: "http://localhost:54545/callback",
	}
}

// Exchange trades an authorization code for tokens using PKCE.
func Exchange(ctx context.Context, cfg *oauth2.Config, code, verifier string) (*TokenData, error) {
	tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("code exchange failed: %w", err)
	}
	return &TokenData{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry.Unix(),
	}, nil
}

// tokenRefreshResponse is the JSON response from the token endpoint.
type tokenRefreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// refreshTokens exchanges a refresh token for new tokens.
// NOTE: kept as manual HTTP because the token endpoint expects an
// application/json body, not the form encoding oauth2.TokenSource sends.
func refreshTokens(refreshToken, clientID, tokenURL string) (*TokenData, error) {
	payload := map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
		"client_id":     clientID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	resp, err := http.Post(tokenURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("refresh token request returned status %d", resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("unable to read refresh response: %w", err)
	}

	var data tokenRefreshResponse
	if err := json.Unmarshal(respBody, &data); err != nil {
		return nil, fmt.Errorf("unable to parse refresh response: %w", err)
	}
	if data.AccessToken == "" {
		return nil, fmt.Errorf("refresh response missing access_token")
	}
	if data.RefreshToken == "" {
		data.RefreshToken = refreshToken
	}
	return &TokenData{
		AccessToken:  data.AccessToken,
		RefreshToken: data.RefreshToken,
		ExpiresAt:    time.Now().Unix() + data.ExpiresIn,
	}, nil
}
