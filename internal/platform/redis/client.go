// Package redis connects the revocation store to Redis.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"consentmgr/internal/platform/config"
)

// Client is the connection the revocation store publishes through.
type Client struct {
	*redis.Client
}

// New connects to Redis and pings it. An empty URL disables Redis and
// returns a nil client.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	opts, err := options(cfg)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck // best-effort cleanup on init failure
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Client{Client: client}, nil
}

// options layers the pool settings over the URL. Zero values keep the
// go-redis defaults.
func options(cfg config.RedisConfig) (*redis.Options, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	return opts, nil
}

// Health is the readiness check for the revocation store.
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}
