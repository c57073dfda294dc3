package repository

import (
	"context"
	"time"
)

// PersistentStore is the linearizable key-value backend for the cache
// fabric's L2 tier. Implementations (redis, badger) are assumed to provide
// their own concurrency; callers never guard persistent-store calls with
// their own locks.
type PersistentStore interface {
	// Get returns the raw bytes stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value at key with the given TTL. ttl <= 0 means no
	// expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. It is not an error if key does not exist.
	Delete(ctx context.Context, key string) error

	// Close releases resources held by the store.
	Close() error
}
