// Package filestore implements a storage.Store that keeps one JSON file per
// entry under a single directory. Writes go through a temporary file and a
// rename, so a crash never leaves a torn entry behind. Entries carry expiry
// metadata that is evaluated on read; expired files are removed lazily and by
// CleanupExpired.
//
// Values must be valid JSON. The cache core always writes JSON envelopes, so
// stored files stay readable with standard tooling.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rshade/querycache/storage"
)

// fileExtension is the file extension used for store entries.
const fileExtension = ".json"

// ErrEmptyDirectory is returned by New when no directory is configured.
var ErrEmptyDirectory = errors.New("store directory cannot be empty")

// entryFile is the on-disk shape: the stored value plus expiry metadata.
type entryFile struct {
	// Key is the original store key before filesystem sanitization.
	Key string `json:"key"`

	// Value is the stored JSON value.
	Value json.RawMessage `json:"value"`

	// CreatedAt is when the entry was written.
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt bounds the entry's lifetime. Zero means no expiry.
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

func (e *entryFile) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Store persists entries as JSON files under a single directory.
// Safe for concurrent use.
type Store struct {
	// directory is the store directory path.
	directory string

	// mu protects concurrent access to file operations.
	mu sync.RWMutex
}

// New creates the directory if it does not exist and returns a Store over it.
func New(directory string) (*Store, error) {
	if directory == "" {
		return nil, ErrEmptyDirectory
	}

	if err := os.MkdirAll(directory, 0o750); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	return &Store{directory: directory}, nil
}

// Get returns the value stored under key. Missing and expired entries report
// storage.ErrNotFound; expired files are removed asynchronously.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, storage.ErrInvalidKey
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	filePath := s.keyToFilePath(key)
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("reading store file: %w", err)
	}

	var ent entryFile
	if unmarshalErr := json.Unmarshal(data, &ent); unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshaling store entry: %w", unmarshalErr)
	}

	if ent.expired(time.Now()) {
		// Delete the expired entry asynchronously.
		go func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			_ = os.Remove(filePath)
		}()
		return nil, storage.ErrNotFound
	}

	return ent.Value, nil
}

// Set stores value under key. An existing entry is overwritten. A positive
// ttl bounds the entry's lifetime; zero keeps it until deleted.
func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return storage.ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	ent := entryFile{
		Key:       key,
		Value:     json.RawMessage(value),
		CreatedAt: now,
	}
	if ttl > 0 {
		ent.ExpiresAt = now.Add(ttl)
	}

	entryData, err := json.MarshalIndent(&ent, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling store entry: %w", err)
	}

	filePath := s.keyToFilePath(key)

	// Write to a temporary file first, then rename for atomicity.
	tempPath := filePath + ".tmp"
	if writeErr := os.WriteFile(tempPath, entryData, 0o600); writeErr != nil {
		return fmt.Errorf("writing store file: %w", writeErr)
	}

	if renameErr := os.Rename(tempPath, filePath); renameErr != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("renaming store file: %w", renameErr)
	}

	return nil
}

// Delete removes the entry under key. Missing entries are not an error.
func (s *Store) Delete(_ context.Context, key string) error {
	if key == "" {
		return storage.ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.keyToFilePath(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting store file: %w", err)
	}

	return nil
}

// Close is a no-op; the store holds no open handles between calls.
func (s *Store) Close() error {
	return nil
}

// Info describes one stored entry for maintenance tooling.
type Info struct {
	Key       string    `json:"key"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
	Expired   bool      `json:"expired"`
}

// Stats summarizes the store contents.
type Stats struct {
	Entries    int
	Expired    int
	TotalBytes int64
}

// List returns an Info for every entry, sorted by key. Files that cannot be
// read or parsed are skipped.
func (s *Store) List() ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dirEntries, err := os.ReadDir(s.directory)
	if err != nil {
		return nil, fmt.Errorf("reading store directory: %w", err)
	}

	now := time.Now()
	infos := make([]Info, 0, len(dirEntries))
	for _, dirEntry := range dirEntries {
		if dirEntry.IsDir() || filepath.Ext(dirEntry.Name()) != fileExtension {
			continue
		}

		data, readErr := os.ReadFile(filepath.Join(s.directory, dirEntry.Name()))
		if readErr != nil {
			continue
		}

		var ent entryFile
		if unmarshalErr := json.Unmarshal(data, &ent); unmarshalErr != nil {
			continue
		}

		infos = append(infos, Info{
			Key:       ent.Key,
			Size:      int64(len(data)),
			CreatedAt: ent.CreatedAt,
			ExpiresAt: ent.ExpiresAt,
			Expired:   ent.expired(now),
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// Stats reports entry counts and total size on disk.
func (s *Store) Stats() (Stats, error) {
	infos, err := s.List()
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	for _, info := range infos {
		stats.Entries++
		stats.TotalBytes += info.Size
		if info.Expired {
			stats.Expired++
		}
	}
	return stats, nil
}

// CleanupExpired removes entries whose TTL has lapsed and reports how many
// were removed. Unreadable files are skipped.
func (s *Store) CleanupExpired() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dirEntries, err := os.ReadDir(s.directory)
	if err != nil {
		return 0, fmt.Errorf("reading store directory: %w", err)
	}

	now := time.Now()
	removed := 0
	for _, dirEntry := range dirEntries {
		if dirEntry.IsDir() || filepath.Ext(dirEntry.Name()) != fileExtension {
			continue
		}

		filePath := filepath.Join(s.directory, dirEntry.Name())
		data, readErr := os.ReadFile(filePath)
		if readErr != nil {
			continue
		}

		var ent entryFile
		if unmarshalErr := json.Unmarshal(data, &ent); unmarshalErr != nil {
			continue
		}

		if ent.expired(now) {
			if os.Remove(filePath) == nil {
				removed++
			}
		}
	}

	return removed, nil
}

// Clear removes every entry and reports how many were removed.
func (s *Store) Clear() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dirEntries, err := os.ReadDir(s.directory)
	if err != nil {
		return 0, fmt.Errorf("reading store directory: %w", err)
	}

	removed := 0
	for _, dirEntry := range dirEntries {
		if dirEntry.IsDir() || filepath.Ext(dirEntry.Name()) != fileExtension {
			continue
		}

		filePath := filepath.Join(s.directory, dirEntry.Name())
		if removeErr := os.Remove(filePath); removeErr != nil {
			return removed, fmt.Errorf("removing store file %s: %w", dirEntry.Name(), removeErr)
		}
		removed++
	}

	return removed, nil
}

// Directory returns the store directory path.
func (s *Store) Directory() string {
	return s.directory
}

// keyToFilePath converts a store key to a file path. The key is sanitized so
// namespaced keys ("namespace:hash") stay filesystem-safe.
func (s *Store) keyToFilePath(key string) string {
	safeKey := strings.ReplaceAll(key, "/", "_")
	safeKey = strings.ReplaceAll(safeKey, "\\", "_")
	safeKey = strings.ReplaceAll(safeKey, ":", "_")
	return filepath.Join(s.directory, safeKey+fileExtension)
}
