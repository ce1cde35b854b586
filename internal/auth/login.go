package auth

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// loginResult carries the callback outcome to the waiting login flow.
type loginResult struct {
	code string
	err  error
}

// Login runs the interactive OAuth flow: it starts a localhost callback
// listener, returns the authorization URL for the user to open, and waits
// for the redirect. On success the tokens are persisted to auth.json.
func Login(ctx context.Context, cfg *oauth2.Config, announce func(authURL string)) (*TokenData, error) {
	verifier := oauth2.GenerateVerifier()
	state := oauth2.GenerateVerifier()

	ln, err := net.Listen("tcp", "localhost:54545")
	if err != nil {
		return nil, fmt.Errorf("unable to listen on login callback port: %w", err)
	}

	results := make(chan loginResult, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			results <- loginResult{err: fmt.Errorf("oauth state mismatch")}
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			results <- loginResult{err: fmt.Errorf("callback missing authorization code")}
			return
		}
		fmt.Fprintln(w, "Login complete. You can close this window.")
		results <- loginResult{code: code}
	})

	srv := &http.Server{Handler: mux}
	go srv.Serve(ln)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	authURL := cfg.AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("code", "true"),
	)
	if announce != nil {
		announce(authURL)
	}

	var res loginResult
	select {
	case res = <-results:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.err != nil {
		return nil, res.err
	}

	tokens, err := Exchange(ctx, cfg, res.code, verifier)
	if err != nil {
		return nil, err
	}
	if err := WriteAuthFile(&AuthFile{
		Tokens:      *tokens,
		LastRefresh: time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		return nil, err
	}
	return tokens, nil
}
