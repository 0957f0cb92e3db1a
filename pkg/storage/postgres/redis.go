package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisOptions configures the shared Redis client used for distributed
// rate limiting and readiness checks
type RedisOptions struct {
	URL        string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
}

// NewRedisClient parses opts.URL, applies the overrides and verifies the
// server answers a ping. The caller owns the returned client.
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	parsed, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if opts.Password != "" {
		parsed.Password = opts.Password
	}
	if opts.DB > 0 {
		parsed.DB = opts.DB
	}
	if opts.MaxRetries > 0 {
		parsed.MaxRetries = opts.MaxRetries
	}
	if opts.PoolSize > 0 {
		parsed.PoolSize = opts.PoolSize
	}

	parsed.DialTimeout = 5 * time.Second
	parsed.ReadTimeout = 3 * time.Second
	parsed.WriteTimeout = 3 * time.Second
	parsed.PoolTimeout = 4 * time.Second

	client := redis.NewClient(parsed)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}
