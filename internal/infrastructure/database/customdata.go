package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrKeyNotFound indicates the requested custom data key does not exist.
var ErrKeyNotFound = errors.New("database: custom data key not found")

// CustomDataStore is the persisted key-value store for bridge state that
// must survive restarts: the access token, its expiry, and the profile
// version. It is the authoritative credential storage once a token has
// been written through from the cache file or the authorization flow.
type CustomDataStore struct {
	db *DB
}

// NewCustomDataStore creates a CustomDataStore backed by db.
func NewCustomDataStore(db *DB) *CustomDataStore {
	return &CustomDataStore{db: db}
}

// Get returns the value for key.
//
// Returns:
//   - string: The stored value
//   - error: ErrKeyNotFound if the key does not exist
func (s *CustomDataStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM custom_data WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("database: get custom data %q: %w", key, err)
	}
	return value, nil
}

// Set stores or replaces the value for key.
func (s *CustomDataStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO custom_data (key, value, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("database: set custom data %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *CustomDataStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM custom_data WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("database: delete custom data %q: %w", key, err)
	}
	return nil
}
