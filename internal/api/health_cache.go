package api

import (
	"sync"
	"time"
)

// HealthCache remembers dependency check results for a short TTL so frequent
// load balancer checks do not hit the database or Redis on every request.
type HealthCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]healthEntry
}

type healthEntry struct {
	up        bool
	checkedAt time.Time
}

// DefaultHealthCacheTTL is the default TTL for dependency checks.
const DefaultHealthCacheTTL = 5 * time.Second

// NewHealthCache creates a HealthCache. A TTL of 0 disables caching.
func NewHealthCache(ttl time.Duration) *HealthCache {
	return &HealthCache{ttl: ttl, entries: make(map[string]healthEntry)}
}

// Get returns the cached state of name and whether it is still within TTL.
func (c *HealthCache) Get(name string) (up bool, valid bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[name]
	if !ok {
		return false, false
	}
	return e.up, time.Since(e.checkedAt) < c.ttl
}

// Set records the state of name.
func (c *HealthCache) Set(name string, up bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[name] = healthEntry{up: up, checkedAt: time.Now()}
}

// Invalidate forces the next Check of name to run its check.
func (c *HealthCache) Invalidate(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, name)
}

// Check returns the cached state of name, running check when the entry is stale.
func (c *HealthCache) Check(name string, check func() error) bool {
	if up, valid := c.Get(name); valid {
		return up
	}
	up := check() == nil
	c.Set(name, up)
	return up
}

// TTL returns the cache's time-to-live duration.
func (c *HealthCache) TTL() time.Duration {
	return c.ttl
}
