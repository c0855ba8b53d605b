// Package idempotency is the fast-path duplicate filter in front of the
// event store. A marker is keyed by event fingerprint and expires after a
// TTL; the store's uniqueness constraint remains the source of truth.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL bounds how long a marker suppresses redelivery.
	DefaultTTL = 24 * time.Hour
	// KeyPrefix namespaces markers in a shared Redis.
	KeyPrefix = "telemetry_dedupe:"
)

// ErrUnavailable is wrapped by every cache infrastructure failure.
var ErrUnavailable = errors.New("idempotency cache unavailable")

// Cache records fingerprints that have already been seen.
type Cache interface {
	// MarkSeen atomically sets a marker for fp if none exists.
	// It returns true when the marker was newly set.
	MarkSeen(ctx context.Context, fp string) (bool, error)
	// Release drops the marker for fp.
	Release(ctx context.Context, fp string) error
	Close() error
}

// Open builds a cache from a URL: redis:// and rediss:// select Redis,
// memory:// an in-process cache, none:// or an empty URL disables caching.
func Open(rawURL string, ttl time.Duration) (Cache, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if strings.TrimSpace(rawURL) == "" {
		return NopCache{}, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse cache url: %w", err)
	}
	switch u.Scheme {
	case "redis", "rediss":
		opts, err := redis.ParseURL(rawURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return NewRedisCache(redis.NewClient(opts), ttl), nil
	case "memory":
		return NewMemoryCache(ttl, nil), nil
	case "none":
		return NopCache{}, nil
	}
	return nil, fmt.Errorf("unsupported cache scheme %q", u.Scheme)
}

// NopCache reports every fingerprint as new, leaving deduplication to the store.
type NopCache struct{}

func (NopCache) MarkSeen(context.Context, string) (bool, error) { return true, nil }
func (NopCache) Release(context.Context, string) error          { return nil }
func (NopCache) Close() error                                   { return nil }
