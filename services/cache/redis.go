package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"crypto_dashboard/models"

	"github.com/redis/go-redis/v9"
)

const latestTopKey = "crypto_dashboard:latest_top"

// ErrMiss is returned by Get when nothing is cached
var ErrMiss = errors.New("cache miss")

// SnapshotCache caches the latest-top read model in Redis
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSnapshotCache connects to the Redis instance at url (redis://...)
func NewSnapshotCache(url string, ttl time.Duration) (*SnapshotCache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return NewSnapshotCacheWithClient(redis.NewClient(opt), ttl), nil
}

func NewSnapshotCacheWithClient(client *redis.Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{client: client, ttl: ttl}
}

// key scopes entries to one batch
func (c *SnapshotCache) key(batchID string, n int) string {
	return fmt.Sprintf("%s:%s:%d", latestTopKey, batchID, n)
}

// GetLatestTop returns the cached top-n list of batchID or ErrMiss
func (c *SnapshotCache) GetLatestTop(ctx context.Context, batchID string, n int) ([]models.SnapshotView, error) {
	raw, err := c.client.Get(ctx, c.key(batchID, n)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var views []models.SnapshotView
	if err := json.Unmarshal(raw, &views); err != nil {
		return nil, fmt.Errorf("decode cached snapshot: %w", err)
	}
	return views, nil
}

// SetLatestTop stores the top-n list of batchID. Empty lists are not cached.
func (c *SnapshotCache) SetLatestTop(ctx context.Context, batchID string, n int, views []models.SnapshotView) error {
	if len(views) == 0 {
		return nil
	}
	raw, err := json.Marshal(views)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return c.client.Set(ctx, c.key(batchID, n), raw, c.ttl).Err()
}

// Invalidate drops every cached latest-top list
func (c *SnapshotCache) Invalidate(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, latestTopKey+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *SnapshotCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *SnapshotCache) Close() error {
	return c.client.Close()
}
