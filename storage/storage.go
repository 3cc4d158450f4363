// Package storage defines the persistence bridge for querycache.
//
// A Store holds opaque byte values under namespaced entity keys. The cache
// core wraps values in a versioned Record envelope before writing, so
// backends stay schema-agnostic and only move bytes. Concrete backends live
// in the subpackages memstore, filestore, redisstore, and gormstore.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SchemaVersion identifies the Record envelope layout. DecodeRecord rejects
// records written with a different version.
const SchemaVersion = 1

// Common storage errors.
var (
	ErrNotFound   = errors.New("storage entry not found")
	ErrInvalidKey = errors.New("storage key cannot be empty")
	ErrVersion    = errors.New("unsupported record version")
)

// Store persists encoded records beyond the life of a single process.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value stored under key. Missing and expired entries
	// report ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, overwriting any previous value. A
	// positive ttl bounds the entry's lifetime; zero keeps it until
	// deleted.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes the entry under key. Deleting a missing entry is not
	// an error.
	Delete(ctx context.Context, key string) error

	// Close releases any resources held by the store.
	Close() error
}

// Record is the versioned envelope written through a Store. Data carries the
// caller's JSON-encoded value; the envelope adds identity and provenance so
// entries survive schema evolution and can be inspected by maintenance tools.
type Record struct {
	// Version is the envelope schema version (SchemaVersion at write time).
	Version int `json:"version"`

	// Key is the entity hash the record was written for.
	Key string `json:"key"`

	// Data is the JSON-encoded cached value.
	Data json.RawMessage `json:"data"`

	// UpdatedAt is when the value was last produced by a successful fetch.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRecord wraps data in a Record stamped with the current schema version.
func NewRecord(key string, data json.RawMessage, updatedAt time.Time) Record {
	return Record{
		Version:   SchemaVersion,
		Key:       key,
		Data:      data,
		UpdatedAt: updatedAt,
	}
}

// EncodeRecord serializes rec for storage.
func EncodeRecord(rec Record) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	return data, nil
}

// DecodeRecord parses a stored envelope. Records written with a schema
// version this build does not understand report ErrVersion.
func DecodeRecord(raw []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("decoding record: %w", err)
	}
	if rec.Version != SchemaVersion {
		return Record{}, fmt.Errorf("%w: %d", ErrVersion, rec.Version)
	}
	return rec, nil
}

// EntryKey builds the store key for an entity hash under a namespace.
func EntryKey(namespace, hash string) string {
	if namespace == "" {
		return hash
	}
	return namespace + ":" + hash
}
