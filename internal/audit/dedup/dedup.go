// Package dedup short-circuits redelivered events before they reach
// the store. It is a best-effort cache: the store's conflict clause on
// event ID remains the source of truth, so Redis being down or cold
// only costs a redundant insert attempt, never correctness.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Cache tracks recently seen event IDs.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New builds a cache over an established Redis client. A nil client
// disables deduplication: Seen reports false for everything.
func New(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cache{client: client, ttl: ttl}
}

// Open connects to Redis by URL. An empty URL means the cache is not
// configured and a disabled cache is returned.
func Open(ctx context.Context, url string, ttl time.Duration) (*Cache, error) {
	if url == "" {
		return New(nil, ttl), nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return New(client, ttl), nil
}

func key(eventID uuid.UUID) string {
	return "audit:seen:" + eventID.String()
}

// Seen reports whether the event ID was already persisted. Errors are
// swallowed into "not seen" so a Redis outage degrades to store-level
// dedup instead of blocking the stream.
func (c *Cache) Seen(ctx context.Context, eventID uuid.UUID) bool {
	if c.client == nil {
		return false
	}
	n, err := c.client.Exists(ctx, key(eventID)).Result()
	if err != nil {
		return false
	}
	return n > 0
}

// Mark records the event ID after a successful persist. Marking only
// after persistence means a mid-flight crash can never hide an
// unpersisted event behind the cache.
func (c *Cache) Mark(ctx context.Context, eventID uuid.UUID) {
	if c.client == nil {
		return
	}
	// Best effort; a lost mark costs one redundant insert.
	_ = c.client.SetNX(ctx, key(eventID), 1, c.ttl).Err()
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}
