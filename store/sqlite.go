package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/arloliu/backsync"
	"github.com/arloliu/backsync/types"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS backsync_kv (
	bucket TEXT NOT NULL,
	key    TEXT NOT NULL,
	value  BLOB NOT NULL,
	PRIMARY KEY (bucket, key)
)`

// SQLite is a Store backed by a single SQLite database file.
//
// Several buckets may share one file; each SQLite value only sees its own.
type SQLite struct {
	db     *sql.DB
	bucket string
	closed atomic.Bool
}

var _ backsync.Store = (*SQLite)(nil)

// SQLiteOption configures a SQLite store.
type SQLiteOption func(*SQLite)

// WithSQLiteBucket sets the bucket (row namespace) used by the store.
// Default: "backsync"
func WithSQLiteBucket(bucket string) SQLiteOption {
	return func(s *SQLite) {
		s.bucket = bucket
	}
}

// OpenSQLite opens (creating if needed) the database at path.
//
// The database runs in WAL mode with a busy timeout so concurrent writers
// from one process wait instead of failing.
//
// Parameters:
//   - ctx: Context for the initial ping and schema creation
//   - path: Database file path
//   - opts: Optional configuration options
//
// Returns:
//   - *SQLite: A new SQLite store
//   - error: Error if the database cannot be opened or migrated
func OpenSQLite(ctx context.Context, path string, opts ...SQLiteOption) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("backsync: sqlite path is required")
	}

	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("backsync: open sqlite db: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("backsync: ping sqlite db: %w", err)
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("backsync: create sqlite schema: %w", err)
	}

	s := &SQLite{db: db, bucket: "backsync"}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Get loads the value stored under key.
func (s *SQLite) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s.closed.Load() {
		return nil, false, types.ErrStoreClosed
	}

	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM backsync_kv WHERE bucket = ? AND key = ?`,
		s.bucket, key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("backsync: get key: %w", err)
	}
	if value == nil {
		value = []byte{}
	}

	return value, true, nil
}

// Put upserts value under key.
func (s *SQLite) Put(ctx context.Context, key string, value []byte) error {
	if s.closed.Load() {
		return types.ErrStoreClosed
	}
	if value == nil {
		value = []byte{}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO backsync_kv (bucket, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(bucket, key) DO UPDATE SET value = excluded.value`,
		s.bucket, key, value,
	)
	if err != nil {
		return fmt.Errorf("backsync: put key: %w", err)
	}

	return nil
}

// Delete removes key.
func (s *SQLite) Delete(ctx context.Context, key string) error {
	if s.closed.Load() {
		return types.ErrStoreClosed
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM backsync_kv WHERE bucket = ? AND key = ?`,
		s.bucket, key,
	); err != nil {
		return fmt.Errorf("backsync: delete key: %w", err)
	}

	return nil
}

// Keys returns every key of the bucket in sorted order.
func (s *SQLite) Keys(ctx context.Context) ([]string, error) {
	if s.closed.Load() {
		return nil, types.ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM backsync_kv WHERE bucket = ? ORDER BY key`,
		s.bucket,
	)
	if err != nil {
		return nil, fmt.Errorf("backsync: list keys: %w", err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("backsync: scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("backsync: list keys: %w", err)
	}

	return keys, nil
}

// Close releases the underlying SQLite connection.
func (s *SQLite) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	return s.db.Close()
}
