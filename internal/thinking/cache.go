// Package thinking carries backend-signed reasoning blocks across the
// independent HTTP requests of a tool-using conversation. The backend
// requires the signed block that accompanied a tool_use to be replayed
// verbatim when the conversation continues with the tool result, but the
// OpenAI protocol has no channel for it, so the gateway keeps it here keyed
// by tool invocation id.
package thinking

import (
	"sync"
	"time"

	"github.com/mattbnz/LLMux/internal/types"
)

const (
	// DefaultTTL bounds how long a conversation can pause between a tool
	// call and its result. A tuning parameter, not a correctness invariant.
	DefaultTTL = 30 * time.Minute
	// DefaultCapacity is a safety ceiling against unbounded growth in
	// long-running server instances.
	DefaultCapacity = 10000
)

type entry struct {
	block   types.ContentBlock
	expires time.Time
}

// Cache is a bounded, time-expiring store of signed thinking blocks keyed
// by tool invocation id. Expiry is passive: entries are dropped when read
// or when capacity pressure forces a sweep, never by a background task.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]entry
	ttl      time.Duration
	capacity int
	now      func() time.Time
}

// NewCache creates a continuity cache. Non-positive arguments fall back to
// the defaults.
func NewCache(ttl time.Duration, capacity int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		entries:  make(map[string]entry),
		ttl:      ttl,
		capacity: capacity,
		now:      time.Now,
	}
}

// Put stores a signed thinking block under a tool invocation id. Unsigned
// blocks are not cache-eligible and are ignored.
func (c *Cache) Put(toolUseID string, block types.ContentBlock) {
	if toolUseID == "" || block.Thinking == "" || block.Signature == "" {
		return
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.capacity {
		c.sweepLocked(now)
	}
	if len(c.entries) >= c.capacity {
		c.evictOldestLocked()
	}
	c.entries[toolUseID] = entry{block: block, expires: now.Add(c.ttl)}
}

// Get returns the cached block for a tool invocation id, if present and not
// expired. The entry is read, not consumed.
func (c *Cache) Get(toolUseID string) (types.ContentBlock, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[toolUseID]
	if !ok {
		return types.ContentBlock{}, false
	}
	if c.now().After(e.expires) {
		delete(c.entries, toolUseID)
		return types.ContentBlock{}, false
	}
	return e.block, true
}

// Len reports the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Capture stores the first signed thinking block of a response under every
// tool invocation id produced in the same response. The backend only needs
// one continuity block per assistant turn, so the first signed block stands
// in for all of the turn's invocations.
func (c *Cache) Capture(toolUseIDs []string, blocks []types.ContentBlock) {
	if len(toolUseIDs) == 0 {
		return
	}
	var signed *types.ContentBlock
	for i := range blocks {
		if blocks[i].Type == "thinking" && blocks[i].Thinking != "" && blocks[i].Signature != "" {
			signed = &blocks[i]
			break
		}
	}
	if signed == nil {
		return
	}
	for _, id := range toolUseIDs {
		c.Put(id, *signed)
	}
}

// sweepLocked deletes expired entries. Caller holds c.mu.
func (c *Cache) sweepLocked(now time.Time) {
	for id, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, id)
		}
	}
}

// evictOldestLocked removes the entry closest to expiry. Caller holds c.mu.
func (c *Cache) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, e := range c.entries {
		if oldestID == "" || e.expires.Before(oldest) {
			oldestID = id
			oldest = e.expires
		}
	}
	if oldestID != "" {
		delete(c.entries, oldestID)
	}
}
