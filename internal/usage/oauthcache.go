package usage

import (
	"sync"
	"time"
)

// OAuthCache holds the last account usage response for a short window so
// polling dashboards do not hammer the backend endpoint.
type OAuthCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	status  int
	body    []byte
	fetched time.Time
	now     func() time.Time
}

// NewOAuthCache creates a cache with the given TTL.
func NewOAuthCache(ttl time.Duration) *OAuthCache {
	return &OAuthCache{ttl: ttl, now: time.Now}
}

// Get returns the cached response if it is still fresh.
func (c *OAuthCache) Get() (int, []byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.body == nil || c.now().Sub(c.fetched) >= c.ttl {
		return 0, nil, false
	}
	return c.status, c.body, true
}

// Put stores a response. Non-2xx responses are not cached.
func (c *OAuthCache) Put(status int, body []byte) {
	if status < 200 || status >= 300 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = status
	c.body = body
	c.fetched = c.now()
}
