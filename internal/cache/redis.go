package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultOpTimeout bounds every round-trip to the cache backend. Callers
// treat a timeout like any other cache failure: degrade to a miss.
const DefaultOpTimeout = 500 * time.Millisecond

// scanBatchSize is the SCAN COUNT hint used when deleting by prefix.
const scanBatchSize = 100

// RedisStore implements Store on a Redis backend.
type RedisStore struct {
	client    *redis.Client
	opTimeout time.Duration
}

// NewRedisStore creates a RedisStore with the default per-operation timeout.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client:    client,
		opTimeout: DefaultOpTimeout,
	}
}

// Get returns the value stored under key, or ErrMiss when absent.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	val, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, err
	}
	return val, nil
}

// Set stores value under key with the given TTL.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	return s.client.Set(ctx, key, value, ttl).Err()
}

// SetIfAbsent stores value under key only when absent, via SETNX.
func (s *RedisStore) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	return s.client.SetNX(ctx, key, value, ttl).Result()
}

// DeleteByPrefix scans for keys matching prefix* and deletes them in
// batches. The scan gets a wider timeout than single-key operations since it
// may touch many keys.
func (s *RedisStore) DeleteByPrefix(ctx context.Context, prefix string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 4*s.opTimeout)
	defer cancel()

	var deleted int64
	batch := make([]string, 0, scanBatchSize)

	iter := s.client.Scan(ctx, 0, prefix+"*", scanBatchSize).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatchSize {
			n, err := s.client.Del(ctx, batch...).Result()
			deleted += n
			if err != nil {
				return deleted, err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, err
	}
	if len(batch) > 0 {
		n, err := s.client.Del(ctx, batch...).Result()
		deleted += n
		if err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}
