// Package redisstore adapts a redis.Client to repository.PersistentStore,
// one of the two pluggable L2 backends for the cache fabric.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hszk-dev/streamgw/internal/domain/repository"
)

// Store implements repository.PersistentStore over a redis.Client.
type Store struct {
	client *redis.Client
}

// New wraps an existing redis.Client.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// Get returns repository.ErrNotFound on a cache miss.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("redisstore: get %q: %w", key, err)
	}
	return data, nil
}

// Set stores value under key. A ttl <= 0 means no expiration.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redisstore: set %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redisstore: del %q: %w", key, err)
	}
	return nil
}

// Close releases the underlying client's connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

var _ repository.PersistentStore = (*Store)(nil)
