/*
Package cache implements the ephemeral cache collaborator on top of Redis.

It holds short-TTL advisory state only (typing indicators); every entry is
allowed to be lost without correctness consequences, so connection failures
surface as errors the caller degrades on, never as stale data.
*/
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis wraps a go-redis client behind the small key/value surface the
// realtime core consumes.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a cache bound to the given Redis address.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	return &Redis{client: client}
}

// Set stores a value under key with the given TTL.
func (c *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Get retrieves the value for key. The second return value reports whether the
// key was present (and unexpired).
func (c *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("cache get: %w", err)
	}
	return val, true, nil
}

// Del removes the key. Deleting an absent key is not an error.
func (c *Redis) Del(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache del: %w", err)
	}
	return nil
}

// Keys returns all live keys matching the given prefix, using SCAN to avoid
// blocking the server on large keyspaces.
func (c *Redis) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var cursor uint64

	for {
		batch, next, err := c.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("cache scan: %w", err)
		}
		keys = append(keys, batch...)

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return keys, nil
}

// Ping checks if the Redis connection is healthy.
func (c *Redis) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (c *Redis) Close() error {
	return c.client.Close()
}
