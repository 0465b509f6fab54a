// Package cache holds Redis-backed helpers. The idempotency store lets the
// checkout endpoint absorb client retries: the first request under a key wins
// and later ones are answered with the already-created order number.
package cache

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// IdempotencyStore deduplicates requests by client-supplied key.
type IdempotencyStore interface {
	TryLock(ctx context.Context, scope, key string) (bool, error)
	Remember(ctx context.Context, scope, key, value string) error
	Recall(ctx context.Context, scope, key string) (string, bool, error)
	Release(ctx context.Context, scope, key string) error
}

var _ IdempotencyStore = (*RedisIdempotencyStore)(nil)

// RedisIdempotencyStore implements IdempotencyStore with SetNX locks and a
// shared TTL for both the lock and the remembered result.
type RedisIdempotencyStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisIdempotencyStore returns a store using the given client and TTL.
func NewRedisIdempotencyStore(rdb *redis.Client, ttl time.Duration) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{rdb: rdb, ttl: ttl}
}

// TryLock claims the key. Only the first caller within the TTL gets true.
func (s *RedisIdempotencyStore) TryLock(ctx context.Context, scope, key string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, "idemp:"+scope+":"+key, "1", s.ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "setnx")
	}
	return ok, nil
}

// Remember stores the result produced under the key.
func (s *RedisIdempotencyStore) Remember(ctx context.Context, scope, key, value string) error {
	if err := s.rdb.Set(ctx, "idemp:map:"+scope+":"+key, value, s.ttl).Err(); err != nil {
		return errors.Wrap(err, "set")
	}
	return nil
}

// Release frees the key so a failed request can be retried before the TTL
// runs out.
func (s *RedisIdempotencyStore) Release(ctx context.Context, scope, key string) error {
	if err := s.rdb.Del(ctx, "idemp:"+scope+":"+key).Err(); err != nil {
		return errors.Wrap(err, "del")
	}
	return nil
}

// Recall returns the remembered result, if any.
func (s *RedisIdempotencyStore) Recall(ctx context.Context, scope, key string) (string, bool, error) {
	val, err := s.rdb.Get(ctx, "idemp:map:"+scope+":"+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "get")
	}
	return val, true, nil
}
