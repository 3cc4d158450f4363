// Package redisstore implements a storage.Store backed by Redis. Expiry is
// native: entries written with a positive TTL lapse server-side, so Get never
// needs to reason about staleness.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rshade/querycache/storage"
)

// Store wraps a go-redis client.
type Store struct {
	client *redis.Client
}

// New returns a Store over an existing client. Close closes the client.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// Open dials addr and returns a Store over the new connection.
func Open(addr, password string, db int) *Store {
	return New(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}))
}

// Get returns the value stored under key, or storage.ErrNotFound when the
// key is missing or has expired.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, storage.ErrInvalidKey
	}

	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return val, nil
}

// Set stores value under key. A positive ttl is applied server-side; zero
// keeps the entry until deleted.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return storage.ErrInvalidKey
	}

	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes the entry under key. Missing entries are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if key == "" {
		return storage.ErrInvalidKey
	}

	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping verifies connectivity to the server.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
