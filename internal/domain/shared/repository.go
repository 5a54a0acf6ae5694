package shared

import (
	"context"
	"time"
)

// Cache is a string-keyed byte store with TTL.
// Implementations must tolerate being absent or failing: callers treat
// every error as a miss.
type Cache interface {
	// Get returns the value and whether it was found
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores a value with the given TTL (0 means no expiry)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// DeletePrefix removes every key starting with prefix
	DeletePrefix(ctx context.Context, prefix string) error
	// Close releases resources held by the cache
	Close() error
}

// Locker provides exclusive advisory locks keyed by string.
type Locker interface {
	// Acquire blocks until the lock for key is held or ctx is done.
	// The returned release func must be called exactly once.
	Acquire(ctx context.Context, key string) (release func(), err error)
}
