package kvstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite is a Store backed by a local SQLite database. Increments use a
// single UPSERT statement so they are atomic without engine-level locking.
type SQLite struct {
	db        *sql.DB
	opTimeout time.Duration
}

const createKVTable = `
CREATE TABLE IF NOT EXISTS kv_entries (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	expires_at INTEGER
);
`

// NewSQLite opens (and migrates) a SQLite-backed store at path. opTimeout
// bounds every operation; the zero value defaults to two seconds.
func NewSQLite(path string, opTimeout time.Duration) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open kv db: %w", err)
	}

	if _, err := db.Exec(createKVTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate kv db: %w", err)
	}

	if opTimeout <= 0 {
		opTimeout = 2 * time.Second
	}

	return &SQLite{db: db, opTimeout: opTimeout}, nil
}

func (s *SQLite) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *SQLite) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var value string
	var expiresAt sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM kv_entries WHERE key = ?`, key,
	).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kv get: %w", err)
	}

	if expiresAt.Valid && time.Now().Unix() >= expiresAt.Int64 {
		// Lazy expiry; the row is gone as far as callers are concerned.
		_, _ = s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?`, key)
		return "", false, nil
	}

	return value, true, nil
}

func (s *SQLite) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var expiresAt sql.NullInt64
	if ttl > 0 {
		expiresAt = sql.NullInt64{Int64: time.Now().Add(ttl).Unix(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_entries (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("kv set: %w", err)
	}
	return nil
}

func (s *SQLite) Incr(ctx context.Context, key string) (int64, error) {
	return s.IncrBy(ctx, key, 1)
}

func (s *SQLite) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var result int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO kv_entries (key, value, expires_at) VALUES (?, CAST(? AS TEXT), NULL)
		 ON CONFLICT(key) DO UPDATE SET value = CAST(CAST(value AS INTEGER) + ? AS TEXT)
		 RETURNING CAST(value AS INTEGER)`,
		key, n, n,
	).Scan(&result)
	if err != nil {
		return 0, fmt.Errorf("kv incr: %w", err)
	}
	return result, nil
}

func (s *SQLite) TTL(ctx context.Context, key string) (time.Duration, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var expiresAt sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT expires_at FROM kv_entries WHERE key = ?`, key,
	).Scan(&expiresAt)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("kv ttl: %w", err)
	}

	if !expiresAt.Valid {
		return 0, nil
	}

	remaining := time.Until(time.Unix(expiresAt.Int64, 0))
	if remaining < 0 {
		return 0, ErrNotFound
	}
	return remaining, nil
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("kv delete: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}
