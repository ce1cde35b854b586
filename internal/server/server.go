// Package server is the HTTP front end: OpenAI-compatible routes translated
// to the Anthropic Messages backend, plus a native passthrough route.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mattbnz/LLMux/internal/apikey"
	"github.com/mattbnz/LLMux/internal/auth"
	"github.com/mattbnz/LLMux/internal/config"
	"github.com/mattbnz/LLMux/internal/thinking"
	"github.com/mattbnz/LLMux/internal/upstream"
	"github.com/mattbnz/LLMux/internal/usage"
)

// maxBodyBytes limits the size of incoming request bodies.
const maxBodyBytes = 32 * 1024 * 1024 // 32 MB

// Server is the main HTTP server.
type Server struct {
	Config     *config.ServerConfig
	Upstream   *upstream.Client
	Keys       *apikey.Store
	Continuity *thinking.Cache
	Recorder   *usage.Recorder

	usageStore *usage.Store
	oauthCache *usage.OAuthCache
	httpServer *http.Server
}

// New creates a server with all routes registered. The usage database and
// key file are opened eagerly so misconfiguration fails at startup.
func New(cfg *config.ServerConfig) (*Server, error) {
	tm := auth.NewTokenManager(config.ClientID(), config.TokenURL())

	keys, err := apikey.Open(cfg.KeysFile)
	if err != nil {
		return nil, fmt.Errorf("open key store: %w", err)
	}

	var store *usage.Store
	if cfg.UsageDBFile != "" {
		store, err = usage.OpenStore(cfg.UsageDBFile)
		if err != nil {
			return nil, fmt.Errorf("open usage store: %w", err)
		}
	}

	s := &Server{
		Config:     cfg,
		Upstream:   upstream.NewClient(tm, cfg.Verbose),
		Keys:       keys,
		Continuity: thinking.NewCache(thinking.DefaultTTL, thinking.DefaultCapacity),
		Recorder:   usage.NewRecorder(store),
		usageStore: store,
		oauthCache: usage.NewOAuthCache(cfg.UsageCacheTTL),
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /", s.handleHealth)
	mux.HandleFunc("GET /health", s.handleHealth)

	// OpenAI-compatible routes
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("GET /v1/models", s.handleListModels)

	// Native Anthropic passthrough
	mux.HandleFunc("POST /v1/messages", s.handleMessages)

	// Account usage and local aggregates
	mux.HandleFunc("GET /api/oauth/usage", s.handleOAuthUsage)
	mux.HandleFunc("GET /api/usage", s.handleLocalUsage)

	mux.HandleFunc("OPTIONS /", s.handleOptions)

	handler := corsMiddleware(apiKeyMiddleware(cfg, keys, verboseMiddleware(cfg, mux)))

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 600 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// ListenAndServe starts the server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Handler exposes the full middleware-wrapped handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.usageStore != nil {
		s.usageStore.Close()
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		WriteOpenAIError(w, http.StatusBadRequest, "Failed to read request body")
		return nil, false
	}
	return body, true
}
