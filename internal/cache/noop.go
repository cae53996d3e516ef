package cache

import (
	"context"
	"time"
)

// NoopStore is the Store used outside production-like deployments, where no
// cache backend connection is established. Every read misses, every write
// succeeds without storing, and SetIfAbsent always claims the key so
// features gated on it (nonce single-use) simply don't enforce. The rest of
// the system behaves identically with or without a live cache.
type NoopStore struct{}

// NewNoopStore returns the no-op store.
func NewNoopStore() NoopStore { return NoopStore{} }

// Get always misses.
func (NoopStore) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, ErrMiss
}

// Set discards the value.
func (NoopStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}

// SetIfAbsent always reports a successful claim.
func (NoopStore) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return true, nil
}

// DeleteByPrefix removes nothing.
func (NoopStore) DeleteByPrefix(ctx context.Context, prefix string) (int64, error) {
	return 0, nil
}
