// Package upstream is the HTTP client for the Anthropic Messages backend.
// It owns credential injection, identity headers, and the timeout model;
// retry/backoff deliberately does not live here.
package upstream

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/mattbnz/LLMux/internal/auth"
	"github.com/mattbnz/LLMux/internal/config"
)

const (
	// connectTimeout bounds dialing the backend.
	connectTimeout = 10 * time.Second
	// requestTimeout bounds a whole non-streaming exchange.
	requestTimeout = 2 * time.Minute
	// streamTimeout is the hard ceiling on total stream duration.
	streamTimeout = 10 * time.Minute
	// readIdleTimeout bounds the gap between successive reads on a stream.
	readIdleTimeout = 60 * time.Second
)

var transport = &http.Transport{
	DialContext:           (&net.Dialer{Timeout: connectTimeout}).DialContext,
	ResponseHeaderTimeout: 30 * time.Second,
	ForceAttemptHTTP2:     true,
}

// Client makes requests to the Anthropic Messages backend.
type Client struct {
	Tokens      *auth.TokenManager
	MessagesURL string
	UsageURL    string
	Verbose     bool
	httpClient  *http.Client
}

// NewClient creates a backend client. URLs default to the production
// endpoints and are overridable for tests.
func NewClient(tm *auth.TokenManager, verbose bool) *Client {
	return &Client{
		Tokens:      tm,
		MessagesURL: config.MessagesURL,
		UsageURL:    config.OAuthUsageURL,
		Verbose:     verbose,
		httpClient:  &http.Client{Transport: transport},
	}
}

// Messages forwards a prepared request body to the backend. For streaming
// requests the response body enforces the stream and per-read idle
// ceilings; the caller must Close it either way.
func (c *Client) Messages(ctx context.Context, body []byte, betaHeader, anthropicVersion string, streaming bool) (*http.Response, error) {
	token, err := c.Tokens.AccessToken()
	if err != nil {
		return nil, err
	}

	timeout := requestTimeout
	if streaming {
		timeout = streamTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.MessagesURL, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, err
	}

	if anthropicVersion == "" {
		anthropicVersion = config.AnthropicVersion
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("anthropic-beta", betaHeader)
	req.Header.Set("User-Agent", config.UserAgent)
	req.Header.Set("x-app", config.XApp)
	if streaming {
		req.Header.Set("Accept", "text/event-stream")
	}

	if c.Verbose {
		slog.Info("upstream.request",
			"bytes", len(body),
			"stream", streaming,
			"betas", betaHeader,
		)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	if c.Verbose {
		slog.Info("upstream.response", "status", resp.StatusCode, "request_id", resp.Header.Get("request-id"))
	}

	if streaming {
		resp.Body = newIdleTimeoutBody(resp.Body, readIdleTimeout, cancel)
	} else {
		resp.Body = &cancelOnCloseBody{ReadCloser: resp.Body, cancel: cancel}
	}
	return resp, nil
}

// OAuthUsage fetches the backend's account usage endpoint.
func (c *Client) OAuthUsage(ctx context.Context) (int, []byte, error) {
	token, err := c.Tokens.AccessToken()
	if err != nil {
		return 0, nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.UsageURL, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("anthropic-beta", anthropicOAuthBeta())
	req.Header.Set("User-Agent", config.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func anthropicOAuthBeta() string {
	return "oauth-2025-04-20"
}

// cancelOnCloseBody releases the request context when the body is closed.
type cancelOnCloseBody struct {
	io.ReadCloser
	cancel context.CancelFunc
	once   sync.Once
}

func (b *cancelOnCloseBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.cancel)
	return err
}

// idleTimeoutBody cancels the request context when no bytes arrive within
// the idle window, turning a stalled stream into a read error.
type idleTimeoutBody struct {
	rc     io.ReadCloser
	timer  *time.Timer
	idle   time.Duration
	cancel context.CancelFunc
	once   sync.Once
}

func newIdleTimeoutBody(rc io.ReadCloser, idle time.Duration, cancel context.CancelFunc) *idleTimeoutBody {
	b := &idleTimeoutBody{rc: rc, idle: idle, cancel: cancel}
	b.timer = time.AfterFunc(idle, cancel)
	return b
}

func (b *idleTimeoutBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if err == nil {
		b.timer.Reset(b.idle)
	}
	return n, err
}

func (b *idleTimeoutBody) Close() error {
	b.timer.Stop()
	err := b.rc.Close()
	b.once.Do(b.cancel)
	return err
}
