package auth

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAuthFileRoundTrip(t *testing.T) {
	t.Setenv("LLMUX_HOME", t.TempDir())

	want := &AuthFile{
		Tokens: TokenData{
			AccessToken:  "access",
			RefreshToken: "refresh",
			ExpiresAt:    1800000000,
		},
		LastRefresh: "2026-08-26T00:00:00Z",
	}
	if err := WriteAuthFile(want); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadAuthFile()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if *got != *want {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, want)
	}
}

func TestReadAuthFileMissing(t *testing.T) {
	t.Setenv("LLMUX_HOME", t.TempDir())
	if _, err := ReadAuthFile(); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("missing file must yield ErrNoCredentials, got %v", err)
	}
}

func TestAccessTokenFreshTokenNoRefresh(t *testing.T) {
	tm := NewTokenManager("cid", "http://127.0.0.1:0/token")
	tm.SetTokens(TokenData{
		AccessToken:  "fresh",
		RefreshToken: "r",
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
	})
	got, err := tm.AccessToken()
	if err != nil || got != "fresh" {
		t.Fatalf("fresh token must be returned as-is, got %q err=%v", got, err)
	}
}

func TestAccessTokenRefreshesWhenExpiring(t *testing.T) {
	t.Setenv("LLMUX_HOME", t.TempDir())

	var gotBody map[string]string
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("token endpoint must receive JSON, got %q", ct)
		}
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &gotBody)
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "new-access",
			"refresh_token": "new-refresh",
			"expires_in":    3600,
		})
	}))
	defer tokenSrv.Close()

	tm := NewTokenManager("cid", tokenSrv.URL)
	tm.SetTokens(TokenData{
		AccessToken:  "stale",
		RefreshToken: "old-refresh",
		ExpiresAt:    time.Now().Add(30 * time.Second).Unix(), // inside the skew
	})

	got, err := tm.AccessToken()
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if got != "new-access" {
		t.Fatalf("expected refreshed token, got %q", got)
	}
	if gotBody["grant_type"] != "refresh_token" || gotBody["refresh_token"] != "old-refresh" || gotBody["client_id"] != "cid" {
		t.Fatalf("unexpected refresh payload: %v", gotBody)
	}

	// Refreshed tokens must be persisted.
	af, err := ReadAuthFile()
	if err != nil {
		t.Fatalf("read after refresh: %v", err)
	}
	if af.Tokens.AccessToken != "new-access" || af.Tokens.RefreshToken != "new-refresh" {
		t.Fatalf("persisted tokens wrong: %+v", af.Tokens)
	}
}

func TestAccessTokenRefreshFailure(t *testing.T) {
	t.Setenv("LLMUX_HOME", t.TempDir())
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer tokenSrv.Close()

	tm := NewTokenManager("cid", tokenSrv.URL)
	tm.SetTokens(TokenData{
		AccessToken:  "stale",
		RefreshToken: "r",
		ExpiresAt:    time.Now().Unix() - 10,
	})
	if _, err := tm.AccessToken(); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("failed refresh must yield ErrNoCredentials, got %v", err)
	}
}

func TestAccessTokenNoRefreshToken(t *testing.T) {
	tm := NewTokenManager("cid", "http://127.0.0.1:0/token")
	tm.SetTokens(TokenData{AccessToken: "stale", ExpiresAt: time.Now().Unix() - 10})
	if _, err := tm.AccessToken(); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("expired token without refresh must fail, got %v", err)
	}
}
