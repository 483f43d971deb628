// Package ristretto implements memory.CacheStore in-process.
//
// It serves single-process deployments and local development where no
// Redis is running. Entries still carry per-item TTLs, but the cache is
// private to the process and vanishes with it, which the engine already
// tolerates since L1 is never authoritative.
package ristretto

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"
)

// Cache is an in-process L1 tier backed by ristretto.
type Cache struct {
	cache *ristretto.Cache
}

// New creates an in-process cache sized to maxBytes (0 picks 64 MiB).
func New(maxBytes int64) (*Cache, error) {
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e6,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{cache: c}, nil
}

// Get returns the value for key, or false on miss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	data, ok := v.([]byte)
	return data, ok
}

// Set writes value under key with the given TTL. The write is flushed
// before returning so an immediate Get observes it.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	ok := c.cache.SetWithTTL(key, value, int64(len(value)), ttl)
	c.cache.Wait()
	return ok
}

// Delete removes key.
func (c *Cache) Delete(ctx context.Context, key string) bool {
	c.cache.Del(key)
	return true
}

// Ping always succeeds; the cache lives in this process.
func (c *Cache) Ping(ctx context.Context) bool {
	return true
}

// Close stops the cache's background goroutines.
func (c *Cache) Close() error {
	c.cache.Close()
	return nil
}
