package idempotency

import (
	"context"
	"sync"
	"time"
)

// pruneEvery is how many MarkSeen calls pass between sweeps of expired markers.
const pruneEvery = 1024

// MemoryCache is a single-process cache. Markers are not shared between
// instances, so it only suits single-instance deployments and tests.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	expires map[string]time.Time
	calls   int
}

// NewMemoryCache creates a cache whose markers live for ttl. A nil now uses time.Now.
func NewMemoryCache(ttl time.Duration, now func() time.Time) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{ttl: ttl, now: now, expires: make(map[string]time.Time)}
}

func (c *MemoryCache) MarkSeen(_ context.Context, fp string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.calls++
	if c.calls%pruneEvery == 0 {
		for k, exp := range c.expires {
			if !now.Before(exp) {
				delete(c.expires, k)
			}
		}
	}
	if exp, ok := c.expires[fp]; ok && now.Before(exp) {
		return false, nil
	}
	c.expires[fp] = now.Add(c.ttl)
	return true, nil
}

func (c *MemoryCache) Release(_ context.Context, fp string) error {
	c.mu.Lock()
	delete(c.expires, fp)
	c.mu.Unlock()
	return nil
}

// Len returns the number of markers held, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.expires)
}

func (c *MemoryCache) Close() error { return nil }
