package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/force-engine/force/internal/component"
)

// RedisAggregateCache is a Redis store for PerformanceMetrics, keyed
// force:learning:agg:<kind>:<id>. The Learning Recorder writes its rollups
// to it through Put (see learning.WithAggregateCache); Registry.Stats does
// not read it and reports only the in-memory Learning Recorder aggregates.
type RedisAggregateCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisAggregateCache connects to redisURL and returns a cache with a
// 30s TTL, matching gomind's discovery TTL convention.
func NewRedisAggregateCache(redisURL string) (*RedisAggregateCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("registry: invalid redis url: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("registry: redis ping: %w", err)
	}

	return &RedisAggregateCache{client: client, ttl: 30 * time.Second}, nil
}

func aggregateKey(kind component.Kind, id string) string {
	return fmt.Sprintf("force:learning:agg:%s:%s", kind, id)
}

// Put stores m for (kind, id) with the cache's TTL.
func (c *RedisAggregateCache) Put(ctx context.Context, kind component.Kind, id string, m component.PerformanceMetrics) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("registry: marshal aggregate: %w", err)
	}
	return c.client.Set(ctx, aggregateKey(kind, id), data, c.ttl).Err()
}

// Get reads a cached aggregate for (kind, id), reporting false on miss.
func (c *RedisAggregateCache) Get(ctx context.Context, kind component.Kind, id string) (component.PerformanceMetrics, bool) {
	var m component.PerformanceMetrics
	data, err := c.client.Get(ctx, aggregateKey(kind, id)).Bytes()
	if err != nil {
		return m, false
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, false
	}
	return m, true
}

// Close releases the underlying Redis connection.
func (c *RedisAggregateCache) Close() error {
	return c.client.Close()
}
