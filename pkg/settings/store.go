package settings

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// Store persists string key/value settings in the settings table for
// one namespace prefix. Writes are upserts keyed on the unique key
// column.
type Store struct {
	db     *sql.DB
	prefix string
}

// NewStore creates a settings store scoped to a namespace prefix
func NewStore(db *sql.DB, prefix string) *Store {
	if prefix == "" {
		prefix = "public"
	}
	return &Store{db: db, prefix: prefix}
}

func (s *Store) table() string {
	return pq.QuoteIdentifier(s.prefix) + ".settings"
}

// Get returns the value for a key. Missing keys return ok=false, not an
// error.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	query := fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, s.table())

	var value string
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get setting %q: %w", key, err)
	}
	return value, true, nil
}

// GetDefault returns the value for a key, or the fallback when unset
func (s *Store) GetDefault(ctx context.Context, key, fallback string) (string, error) {
	value, ok, err := s.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return fallback, nil
	}
	return value, nil
}

// Set writes a key, inserting or overwriting as needed
func (s *Store) Set(ctx context.Context, key, value string) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (key, value, inserted_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, s.table())

	if _, err := s.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to set setting %q: %w", key, err)
	}
	return nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, s.table())
	if _, err := s.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("failed to delete setting %q: %w", key, err)
	}
	return nil
}

// All returns every setting as a map
func (s *Store) All(ctx context.Context) (map[string]string, error) {
	query := fmt.Sprintf(`SELECT key, value FROM %s ORDER BY key`, s.table())

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	all := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		all[key] = value
	}
	return all, rows.Err()
}
