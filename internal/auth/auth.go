// Package auth manages the OAuth credential used against the backend:
// on-disk storage, thread-safe access, and refresh.
package auth

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TokenData represents the tokens stored in auth.json.
type TokenData struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"` // unix seconds
}

// AuthFile represents the full auth.json contents.
type AuthFile struct {
	Tokens      TokenData `json:"tokens"`
	LastRefresh string    `json:"last_refresh"`
}

// HomeDir returns the credential storage directory path.
func HomeDir() string {
	if d := os.Getenv("LLMUX_HOME"); d != "" {
		return d
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".llmux")
}

// ReadAuthFile loads auth.json from the credential directory.
func ReadAuthFile() (*AuthFile, error) {
	data, err := os.ReadFile(filepath.Join(HomeDir(), "auth.json"))
	if err != nil {
		return nil, ErrNoCredentials
	}
	var af AuthFile
	if err := json.Unmarshal(data, &af); err != nil {
		return nil, ErrNoCredentials
	}
	return &af, nil
}

// WriteAuthFile persists auth data to the credential directory with 0600
// permissions.
func WriteAuthFile(af *AuthFile) error {
	dir := HomeDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("unable to create auth home directory %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(af, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "auth.json"), data, 0o600)
}

// TokenManager handles thread-safe token access and refresh.
type TokenManager struct {
	mu       sync.Mutex
	tokens   *TokenData
	clientID string
	tokenURL string
}

// NewTokenManager creates a token manager for the given OAuth client.
func NewTokenManager(clientID, tokenURL string) *TokenManager {
	return &TokenManager{clientID: clientID, tokenURL: tokenURL}
}

// refreshSkew refreshes tokens this long before their actual expiry so an
// in-flight request never races the deadline.
const refreshSkew = 2 * time.Minute

// AccessToken returns a valid bearer token, refreshing it first when close
// to expiry. Returns ErrNoCredentials when refresh is impossible.
func (m *TokenManager) AccessToken() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tokens == nil {
		af, err := ReadAuthFile()
		if err != nil {
			return "", err
		}
		m.tokens = &af.Tokens
	}

	if m.tokens.AccessToken != "" && time.Now().Unix() < m.tokens.ExpiresAt-int64(refreshSkew.Seconds()) {
		return m.tokens.AccessToken, nil
	}

	if m.tokens.RefreshToken == "" {
		return "", ErrNoCredentials
	}

	refreshed, err := refreshTokens(m.tokens.RefreshToken, m.clientID, m.tokenURL)
	if err != nil {
		slog.Error("token refresh failed", "error", err)
		return "", ErrNoCredentials
	}
	m.tokens = refreshed

	if err := WriteAuthFile(&AuthFile{
		Tokens:      *refreshed,
		LastRefresh: time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		slog.Warn("unable to persist refreshed tokens", "error", err)
	}
	return m.tokens.AccessToken, nil
}

// SetTokens replaces the cached tokens, used after an interactive login.
func (m *TokenManager) SetTokens(t TokenData) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = &t
}
