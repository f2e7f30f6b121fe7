// SPDX-License-Identifier: MIT

package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go driver
)

// SQLiteConfig defines standard SQLite operational parameters.
type SQLiteConfig struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// DefaultSQLiteConfig returns the recommended pool configuration.
func DefaultSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 4,
	}
}

// SQLiteStore is a Provider backed by a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite initializes a SQLite connection pool with mandatory PRAGMAs
// and ensures the users table exists.
//
// The PRAGMAs go into the DSN so they apply to every connection in the pool.
func OpenSQLite(dbPath string, cfg SQLiteConfig) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		dbPath, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("users: open sqlite: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("users: ping sqlite: %w", err)
	}

	const schema = `CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY,
		stream_key TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		timezone TEXT NOT NULL DEFAULT 'UTC'
	)`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("users: ensure schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ByStreamKey implements Provider.
func (s *SQLiteStore) ByStreamKey(ctx context.Context, key string) (*User, error) {
	return s.scanOne(s.db.QueryRowContext(ctx,
		`SELECT id, stream_key, display_name, timezone FROM users WHERE stream_key = ?`, key))
}

// ByID implements Provider.
func (s *SQLiteStore) ByID(ctx context.Context, id int64) (*User, error) {
	return s.scanOne(s.db.QueryRowContext(ctx,
		`SELECT id, stream_key, display_name, timezone FROM users WHERE id = ?`, id))
}

// Upsert inserts or replaces a record. Used by provisioning tooling and tests.
func (s *SQLiteStore) Upsert(ctx context.Context, u User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, stream_key, display_name, timezone) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET stream_key=excluded.stream_key,
		 display_name=excluded.display_name, timezone=excluded.timezone`,
		u.ID, u.StreamKey, u.DisplayName, u.Timezone)
	if err != nil {
		return fmt.Errorf("users: upsert id=%d: %w", u.ID, err)
	}
	return nil
}

func (s *SQLiteStore) scanOne(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.StreamKey, &u.DisplayName, &u.Timezone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("users: scan: %w", err)
	}
	return &u, nil
}
