package currency

import (
	"sync"
	"time"
)

// RateCache holds the canonical rate for a bounded time. An expired rate is
// never served; the caller re-fetches synchronously.
type RateCache struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.RWMutex
	rate      *Rate
	expiresAt time.Time
}

// NewRateCache returns a cache with the given ttl. A zero ttl caches nothing.
func NewRateCache(ttl time.Duration, now func() time.Time) *RateCache {
	if now == nil {
		now = time.Now
	}
	return &RateCache{ttl: ttl, now: now}
}

// Get returns the cached rate while it is fresh.
func (c *RateCache) Get() (Rate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.rate == nil || !c.now().Before(c.expiresAt) {
		return Rate{}, false
	}
	return *c.rate, true
}

// Put stores rate until ttl elapses.
func (c *RateCache) Put(rate Rate) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rate = &rate
	c.expiresAt = c.now().Add(c.ttl)
}

// Invalidate forgets the cached rate.
func (c *RateCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rate = nil
	c.expiresAt = time.Time{}
}
