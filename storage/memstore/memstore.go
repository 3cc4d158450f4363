// Package memstore provides an in-memory storage.Store with lazy TTL expiry.
// It is the default store for tests and for processes that do not need
// persistence across restarts.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/rshade/querycache/storage"
)

type entry struct {
	value     []byte
	expiresAt time.Time
	hasTTL    bool
}

func (e entry) expired(now time.Time) bool {
	return e.hasTTL && now.After(e.expiresAt)
}

// Store is a map-backed storage.Store. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// New returns an empty Store.
func New() *Store {
	return &Store{entries: make(map[string]entry)}
}

// Get returns the value stored under key, or storage.ErrNotFound when the
// key is missing or its TTL has lapsed. Expired entries are removed.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, storage.ErrInvalidKey
	}

	s.mu.RLock()
	ent, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return nil, storage.ErrNotFound
	}
	if ent.expired(time.Now()) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, storage.ErrNotFound
	}

	// Copy so callers cannot mutate the stored slice.
	out := make([]byte, len(ent.value))
	copy(out, ent.value)
	return out, nil
}

// Set stores a copy of value under key. A positive ttl bounds the entry's
// lifetime; zero keeps it until deleted.
func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return storage.ErrInvalidKey
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	ent := entry{value: stored}
	if ttl > 0 {
		ent.hasTTL = true
		ent.expiresAt = time.Now().Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = ent
	return nil
}

// Delete removes the entry under key. Missing entries are not an error.
func (s *Store) Delete(_ context.Context, key string) error {
	if key == "" {
		return storage.ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Close drops all entries. The store remains usable afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]entry)
	return nil
}

// Len reports the number of stored entries, including expired ones that have
// not been collected yet.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
