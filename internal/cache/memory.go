package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const (
	memoryCleanupInterval = 5 * time.Minute
	maxIncrAttempts       = 3
)

// MemoryCache is a process-local Cache used when no Redis URL is configured.
// Values are copied in and out so callers never share backing arrays.
type MemoryCache struct {
	items *gocache.Cache
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: gocache.New(gocache.NoExpiration, memoryCleanupInterval)}
}

func (c *MemoryCache) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.items.Set(key, append([]byte(nil), value...), expiration(ttl))
	return nil
}

// Get returns counters as decimal text, the way Redis GET reads an INCR key.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := c.items.Get(key)
	if !ok {
		return nil, false, nil
	}
	switch val := v.(type) {
	case []byte:
		return append([]byte(nil), val...), true, nil
	case int64:
		return strconv.AppendInt(nil, val, 10), true, nil
	default:
		return nil, false, fmt.Errorf("memory get %s: unexpected %T", key, v)
	}
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.items.Delete(key)
	return nil
}

// IncrWithExpiry increments a counter. Only the increment that creates the
// counter sets its expiry; IncrementInt64 keeps the existing one.
func (c *MemoryCache) IncrWithExpiry(_ context.Context, key string, expiry time.Duration) (int64, error) {
	var err error
	for range maxIncrAttempts {
		var n int64
		if n, err = c.items.IncrementInt64(key, 1); err == nil {
			return n, nil
		}
		// Missing or expired: create it. Add loses to a concurrent creator,
		// in which case the next increment finds the key.
		if c.items.Add(key, int64(1), expiration(expiry)) == nil {
			return 1, nil
		}
	}
	return 0, fmt.Errorf("memory incr %s: %w", key, err)
}

func expiration(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return gocache.NoExpiration
	}
	return ttl
}

var _ Cache = (*MemoryCache)(nil)
