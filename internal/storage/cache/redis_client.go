// Package cache adds a Redis read-aside layer in front of the subscription store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by Get when the key is absent or its value is unreadable.
var ErrMiss = errors.New("cache miss")

const defaultPingTimeout = 2 * time.Second

// RedisOptions configures the connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// PingTimeout bounds the startup check. Zero uses 2s.
	PingTimeout time.Duration
}

// RedisClient keeps JSON encoded subscription lists in Redis and satisfies CacheClient.
type RedisClient struct {
	rdb *redis.Client
}

// NewRedisClient connects and pings so a deployment can fall back to running
// without the cache.
func NewRedisClient(ctx context.Context, opts RedisOptions) (*RedisClient, error) {
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = defaultPingTimeout
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.PingTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, opts.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis %s unreachable: %w", opts.Addr, err)
	}
	return &RedisClient{rdb: rdb}, nil
}

// Get decodes the value at key into dest. A value that no longer decodes
// (e.g. written by an older schema) is evicted and reported as a miss.
func (c *RedisClient) Get(ctx context.Context, key string, dest interface{}) error {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return ErrMiss
	case err != nil:
		return fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		_ = c.rdb.Del(ctx, key).Err()
		return fmt.Errorf("%w: evicted undecodable entry %s: %v", ErrMiss, key, err)
	}
	return nil
}

func (c *RedisClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", key, err)
	}
	return c.rdb.Set(ctx, key, raw, ttl).Err()
}

func (c *RedisClient) Del(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

func (c *RedisClient) Close() error {
	return c.rdb.Close()
}
