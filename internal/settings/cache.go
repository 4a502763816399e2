package settings

import (
	"context"
	"sync"
	"time"
)

type cacheKey struct {
	key      string
	category string
}

type cachedValue struct {
	value     string
	expiresAt time.Time
}

// CachedGetter serves settings from memory for ttl. Misses and errors go to
// the source; errors are never cached.
type CachedGetter struct {
	source Getter
	ttl    time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	entries map[cacheKey]cachedValue
}

// NewCachedGetter wraps source. A zero ttl disables caching.
func NewCachedGetter(source Getter, ttl time.Duration, now func() time.Time) *CachedGetter {
	if now == nil {
		now = time.Now
	}
	return &CachedGetter{
		source:  source,
		ttl:     ttl,
		now:     now,
		entries: make(map[cacheKey]cachedValue),
	}
}

func (c *CachedGetter) Get(ctx context.Context, key, category string) (string, error) {
	k := cacheKey{key: key, category: category}
	if c.ttl > 0 {
		c.mu.RLock()
		entry, ok := c.entries[k]
		c.mu.RUnlock()
		if ok && c.now().Before(entry.expiresAt) {
			return entry.value, nil
		}
	}

	value, err := c.source.Get(ctx, key, category)
	if err != nil {
		return "", err
	}
	if c.ttl > 0 {
		c.mu.Lock()
		c.entries[k] = cachedValue{value: value, expiresAt: c.now().Add(c.ttl)}
		c.mu.Unlock()
	}
	return value, nil
}

// Invalidate drops one cached value. It matches the ChangeHook signature.
func (c *CachedGetter) Invalidate(_ context.Context, key, category string) {
	c.mu.Lock()
	delete(c.entries, cacheKey{key: key, category: category})
	c.mu.Unlock()
}
