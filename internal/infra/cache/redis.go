package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"tg-med-warehouse/internal/domain"
	"tg-med-warehouse/internal/infra/metrics"
)

const processedSetKey = "enriched_images"

// RedisProcessedIndex keeps the set of already-enriched image keys in Redis.
type RedisProcessedIndex struct {
	client *redis.Client
}

// NewProcessedIndex builds the index on top of a Redis client.
func NewProcessedIndex(client *redis.Client) *RedisProcessedIndex {
	return &RedisProcessedIndex{client: client}
}

var _ domain.ProcessedIndex = (*RedisProcessedIndex)(nil)

// IsProcessed reports whether the image key was already enriched.
func (c *RedisProcessedIndex) IsProcessed(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	ok, err := c.client.SIsMember(ctx, processedSetKey, key).Result()
	metrics.ObserveNetworkRequest("redis", "sismember", processedSetKey, start, err)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// MarkProcessed adds image keys to the enriched set.
func (c *RedisProcessedIndex) MarkProcessed(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	members := make([]interface{}, 0, len(keys))
	for _, k := range keys {
		members = append(members, k)
	}
	start := time.Now()
	err := c.client.SAdd(ctx, processedSetKey, members...).Err()
	metrics.ObserveNetworkRequest("redis", "sadd", processedSetKey, start, err)
	return err
}
