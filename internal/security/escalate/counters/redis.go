// Package counters provides failure-counter stores for the escalation
// engine: a Redis-backed store for production and an in-memory store for
// tests and single-node development.
package counters

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore counts failures in Redis. INCR is atomic on the server, so
// concurrent failures never under-count; EXPIRE NX starts the window on the
// first increment and leaves it running for later ones.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore creates a Redis-backed counter store.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

// IncrementWithExpiry atomically increments the counter and returns the new
// value. The TTL is set only when the key has none yet (window start).
func (s *RedisStore) IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("increment counter %s: %w", key, err)
	}
	return incr.Val(), nil
}
