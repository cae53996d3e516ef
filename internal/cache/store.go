// Package cache provides the read-through response cache and its key-value
// store backends. The cache is never the system of record: every backend
// failure degrades to a miss or a no-op so the request proceeds uncached.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is absent. Backend failures are
// returned as their own errors so callers can log them, but callers treat
// both cases as a miss.
var ErrMiss = errors.New("cache: miss")

// Store is the narrow key-value contract the protection subsystem relies on.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value stored under key, or ErrMiss when absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key with the given TTL, overwriting any
	// previous entry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetIfAbsent stores value under key only when the key is not already
	// present. It reports whether the write happened.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// DeleteByPrefix removes every key beginning with prefix and returns
	// the number of keys removed. Calling it when nothing matches is a
	// no-op, not an error.
	DeleteByPrefix(ctx context.Context, prefix string) (int64, error)
}
