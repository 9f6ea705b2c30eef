// Package cache connects the Redis client used by the availability cache.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options tune the Redis client. Zero values keep the go-redis defaults.
type Options struct {
	DB          int
	PoolSize    int
	DialTimeout time.Duration
}

// New creates a Redis client and verifies it answers PING. The client is
// closed again when the ping fails.
func New(ctx context.Context, addr string, opts Options) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		DB:          opts.DB,
		PoolSize:    opts.PoolSize,
		DialTimeout: opts.DialTimeout,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("platform/cache: ping %s: %w", addr, err)
	}
	return client, nil
}
