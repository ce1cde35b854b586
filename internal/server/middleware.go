package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mattbnz/LLMux/internal/apikey"
	"github.com/mattbnz/LLMux/internal/config"
)

type contextKey string

const keyIDContextKey contextKey = "apikey.id"

const apiKeyError = "Invalid or missing API key"

// KeyIDFromContext returns the validated API key id for the request, if any.
func KeyIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(keyIDContextKey).(string)
	return id
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqHeaders := r.Header.Get("Access-Control-Request-Headers")
		if reqHeaders == "" {
			reqHeaders = "Authorization, Content-Type, Accept, anthropic-version, anthropic-beta, x-api-key"
		}
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", reqHeaders)
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func apiKeyMiddleware(cfg *config.ServerConfig, keys *apikey.Store, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !cfg.RequireAPIKey || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		switch r.URL.Path {
		case "/", "/health":
			next.ServeHTTP(w, r)
			return
		}

		presented := presentedKey(r)
		keyID, ok := keys.Validate(presented)
		if !ok {
			writeAuthError(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), keyIDContextKey, keyID)))
	})
}

// presentedKey extracts the client's API key from either the Bearer
// authorization header or the x-api-key header.
func presentedKey(r *http.Request) string {
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		parts := strings.Fields(header)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
	}
	return strings.TrimSpace(r.Header.Get("x-api-key"))
}

func writeAuthError(w http.ResponseWriter, r *http.Request) {
	if isAnthropicRequest(r) {
		WriteAnthropicError(w, http.StatusUnauthorized, "authentication_error", apiKeyError)
		return
	}
	WriteOpenAIError(w, http.StatusUnauthorized, apiKeyError)
}

func isAnthropicRequest(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/v1/messages") {
		return true
	}
	return strings.TrimSpace(r.Header.Get("anthropic-version")) != "" ||
		strings.TrimSpace(r.Header.Get("anthropic-beta")) != ""
}

func verboseMiddleware(cfg *config.ServerConfig, next http.Handler) http.Handler {
	if cfg == nil || !cfg.Verbose {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slog.Info("request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
