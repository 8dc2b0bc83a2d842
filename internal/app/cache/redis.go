// Package cache holds short-lived read caches backed by Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/agentbank/internal/app/domain/operation"
)

const keyPrefix = "agentbank:"

// RedisOptions configures the client.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// QueueStats caches queue counters in Redis.
type QueueStats struct {
	client *redis.Client
	ttl    time.Duration
}

// Dial connects and pings Redis.
func Dial(ctx context.Context, opts RedisOptions) (*QueueStats, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return NewQueueStats(client, opts.TTL), nil
}

// NewQueueStats wraps an existing client.
func NewQueueStats(client *redis.Client, ttl time.Duration) *QueueStats {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &QueueStats{client: client, ttl: ttl}
}

// Get returns the cached stats and whether they were present.
func (c *QueueStats) Get(ctx context.Context, key string) (operation.QueueStats, bool, error) {
	raw, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return operation.QueueStats{}, false, nil
	}
	if err != nil {
		return operation.QueueStats{}, false, fmt.Errorf("redis get: %w", err)
	}
	var stats operation.QueueStats
	if err := json.Unmarshal(raw, &stats); err != nil {
		return operation.QueueStats{}, false, fmt.Errorf("decode cached stats: %w", err)
	}
	return stats, true, nil
}

// Set stores stats for the configured TTL.
func (c *QueueStats) Set(ctx context.Context, key string, stats operation.QueueStats) error {
	raw, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, keyPrefix+key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close releases the client.
func (c *QueueStats) Close() error {
	return c.client.Close()
}
