package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	ClientIDDefault    = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"
	OAuthIssuerDefault = "https://claude.ai"
	MessagesURL        = "https://api.anthropic.com/v1/messages"
	OAuthUsageURL      = "https://api.anthropic.com/api/oauth/usage"
	AnthropicVersion   = "2023-06-01"

	// UserAgent and XApp identify requests as coming from the CLI the OAuth
	// application was registered for. The backend validates these against
	// the OAuth session.
	UserAgent = "claude-cli/2.0.14 (external, cli)"
	XApp      = "cli"
)

// ServerConfig holds all server configuration.
type ServerConfig struct {
	Host             string
	Port             int
	Verbose          bool
	RequireAPIKey    bool
	UsageDBFile      string
	KeysFile         string
	CacheTTL         string // prompt cache annotation TTL, "5m" or "1h"
	UsageCacheTTL    time.Duration
	LogFile          string
	DefaultMaxTokens int
}

// ClientID returns the OAuth client ID from env or default.
func ClientID() string {
	if id := os.Getenv("LLMUX_CLIENT_ID"); id != "" {
		return id
	}
	return ClientIDDefault
}

// OAuthIssuer returns the OAuth issuer URL.
func OAuthIssuer() string {
	if iss := os.Getenv("LLMUX_OAUTH_ISSUER"); iss != "" {
		return iss
	}
	return OAuthIssuerDefault
}

// TokenURL returns the OAuth token endpoint.
func TokenURL() string {
	if u := os.Getenv("LLMUX_TOKEN_URL"); u != "" {
		return u
	}
	return "https://console.anthropic.com/v1/oauth/token"
}

// AuthorizeURL returns the OAuth authorization endpoint.
func AuthorizeURL() string {
	return OAuthIssuer() + "/oauth/authorize"
}

// DefaultFromEnv creates a ServerConfig with defaults from environment variables.
func DefaultFromEnv() *ServerConfig {
	return &ServerConfig{
		Host:             envOrDefault("LLMUX_HOST", "127.0.0.1"),
		Port:             envInt("LLMUX_PORT", 8000),
		Verbose:          envBool("LLMUX_VERBOSE"),
		RequireAPIKey:    !envBool("LLMUX_DISABLE_API_KEYS"),
		UsageDBFile:      os.Getenv("LLMUX_USAGE_DB"),
		KeysFile:         os.Getenv("LLMUX_KEYS_FILE"),
		CacheTTL:         envOrDefault("LLMUX_CACHE_TTL", "5m"),
		UsageCacheTTL:    60 * time.Second,
		LogFile:          os.Getenv("LLMUX_LOG_FILE"),
		DefaultMaxTokens: envInt("LLMUX_DEFAULT_MAX_TOKENS", 4096),
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func envBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}
