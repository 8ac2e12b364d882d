package dedup

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Redis is a dedup window kept in Redis keys with a TTL.
// It survives restarts and can be shared by replicas watching the same token.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis creates a Redis-backed window. Keys are "<prefix>:<txid>".
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if prefix == "" {
		prefix = "swapwatch:seen"
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

// IsNew sets the key only if absent. An existing key gets its TTL refreshed.
func (r *Redis) IsNew(ctx context.Context, txID string) (bool, error) {
	key := r.prefix + ":" + txID
	created, err := r.client.SetNX(ctx, key, 1, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis SETNX %s: %w", key, err)
	}
	if !created {
		if err := r.client.Expire(ctx, key, r.ttl).Err(); err != nil {
			return false, fmt.Errorf("redis EXPIRE %s: %w", key, err)
		}
	}
	return created, nil
}
