package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Repository interface {
	// InsertIfAbsent atomically records the key and reports whether it was
	// new. This is the single serialization point of the ingest path.
	InsertIfAbsent(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	CountEntries(ctx context.Context, prefix string) (int, error)
}

type RedisRepository struct {
	client *redis.Client
}

func NewRepository(client *redis.Client) Repository {
	return &RedisRepository{client: client}
}

func (r *RedisRepository) InsertIfAbsent(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	inserted, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis SetNX failed: %w", err)
	}
	return inserted, nil
}

func (r *RedisRepository) CountEntries(ctx context.Context, prefix string) (int, error) {
	iter := r.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	count := 0
	for iter.Next(ctx) {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan failed: %w", err)
	}
	return count, nil
}
