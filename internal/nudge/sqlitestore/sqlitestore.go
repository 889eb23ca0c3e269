// Package sqlitestore provides a single-file SQLite implementation of
// nudge.Store for installs without a database server.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS user_attributes (
	user_id    TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      BLOB NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (user_id, key)
);
CREATE TABLE IF NOT EXISTS site_options (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);`

// Store persists attributes in a SQLite database file.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path in WAL mode and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite allows one writer; a single connection avoids SQLITE_BUSY on upserts
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetAttr reads one user attribute.
func (s *Store) GetAttr(ctx context.Context, userID, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM user_attributes WHERE user_id = ? AND key = ?`,
		userID, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select attribute %s: %w", key, err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, true, nil
}

// SetAttrs upserts all values for a user in one transaction.
func (s *Store) SetAttrs(ctx context.Context, userID string, values map[string][]byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is harmless

	for key, value := range values {
		if value == nil {
			value = []byte{}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_attributes (user_id, key, value, updated_at)
			 VALUES (?, ?, ?, CURRENT_TIMESTAMP)
			 ON CONFLICT (user_id, key) DO UPDATE SET
			 	value      = excluded.value,
			 	updated_at = excluded.updated_at`,
			userID, key, value,
		); err != nil {
			return fmt.Errorf("upsert attribute %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// LoadOrStoreOption inserts the option if absent and returns the stored value.
func (s *Store) LoadOrStoreOption(ctx context.Context, key string, value []byte) ([]byte, error) {
	if value == nil {
		value = []byte{}
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO site_options (key, value) VALUES (?, ?) ON CONFLICT (key) DO NOTHING`,
		key, value,
	); err != nil {
		return nil, fmt.Errorf("insert option %s: %w", key, err)
	}

	var stored []byte
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM site_options WHERE key = ?`, key).Scan(&stored); err != nil {
		return nil, fmt.Errorf("select option %s: %w", key, err)
	}
	if stored == nil {
		stored = []byte{}
	}
	return stored, nil
}
