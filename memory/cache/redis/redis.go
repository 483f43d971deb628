// Package redis implements memory.CacheStore on Redis.
//
// This is the production L1 tier: shared across processes, entries expire
// by TTL. Every failure is logged and reported as a miss/false so callers
// degrade instead of erroring.
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a Redis-backed L1 tier.
type Cache struct {
	client *redis.Client
}

// New connects to the Redis at url (redis://...) and verifies the
// connection before returning.
func New(ctx context.Context, url string) (*Cache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &Cache{client: client}, nil
}

// NewWithClient wraps an existing client, shared with other subsystems.
func NewWithClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Get returns the value for key, or false on miss or backend failure.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		log.Printf("[REDIS] GET %s failed: %v", key, err)
		return nil, false
	}
	return data, true
}

// Set writes value under key with the given TTL.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		log.Printf("[REDIS] SET %s failed: %v", key, err)
		return false
	}
	return true
}

// Delete removes key. Deleting an absent key still reports success.
func (c *Cache) Delete(ctx context.Context, key string) bool {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		log.Printf("[REDIS] DEL %s failed: %v", key, err)
		return false
	}
	return true
}

// Ping reports whether Redis is reachable.
func (c *Cache) Ping(ctx context.Context) bool {
	return c.client.Ping(ctx).Err() == nil
}

// Close releases the connection.
func (c *Cache) Close() error {
	return c.client.Close()
}
