// Package gormstore implements a storage.Store on a relational database via
// GORM. Entries live in a single upserted table with an optional expiry
// column that is checked lazily on read; CleanupExpired reclaims lapsed rows
// in bulk.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rshade/querycache/storage"
)

// Entry is the table row backing the store.
type Entry struct {
	Key       string     `gorm:"primaryKey;size:512"`
	Value     []byte     `gorm:"not null"`
	ExpiresAt *time.Time `gorm:"index"`
	UpdatedAt time.Time
}

// TableName pins the table so multiple applications can share a database.
func (Entry) TableName() string { return "querycache_entries" }

// Store persists entries through a *gorm.DB. Safe for concurrent use.
type Store struct {
	db *gorm.DB
}

// New migrates the entries table and returns a Store over db.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("migrating entries table: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenPostgres dials a PostgreSQL DSN and returns a Store over the
// connection.
func OpenPostgres(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	return New(db)
}

// Get returns the value stored under key. Missing and expired rows report
// storage.ErrNotFound; expired rows are deleted on the way out.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, storage.ErrInvalidKey
	}

	var ent Entry
	err := s.db.WithContext(ctx).First(&ent, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("selecting entry: %w", err)
	}

	if ent.ExpiresAt != nil && time.Now().After(*ent.ExpiresAt) {
		if delErr := s.db.WithContext(ctx).Delete(&Entry{}, "key = ?", key).Error; delErr != nil {
			return nil, fmt.Errorf("deleting expired entry: %w", delErr)
		}
		return nil, storage.ErrNotFound
	}

	return ent.Value, nil
}

// Set upserts value under key. A positive ttl sets the expiry column; zero
// keeps the row until deleted.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return storage.ErrInvalidKey
	}

	now := time.Now()
	ent := Entry{Key: key, Value: value, UpdatedAt: now}
	if ttl > 0 {
		expires := now.Add(ttl)
		ent.ExpiresAt = &expires
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "updated_at"}),
	}).Create(&ent).Error
	if err != nil {
		return fmt.Errorf("upserting entry: %w", err)
	}
	return nil
}

// Delete removes the row under key. Missing rows are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if key == "" {
		return storage.ErrInvalidKey
	}

	if err := s.db.WithContext(ctx).Delete(&Entry{}, "key = ?", key).Error; err != nil {
		return fmt.Errorf("deleting entry: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("resolving sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// CleanupExpired deletes rows whose expiry has lapsed and reports how many
// were removed.
func (s *Store) CleanupExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at < ?", time.Now()).
		Delete(&Entry{})
	if res.Error != nil {
		return 0, fmt.Errorf("deleting expired entries: %w", res.Error)
	}
	return res.RowsAffected, nil
}
