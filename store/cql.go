package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync/atomic"

	"github.com/gocql/gocql"

	"github.com/arloliu/backsync"
	"github.com/arloliu/backsync/types"
)

var cqlIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,47}$`)

// CQLConfig configures the Cassandra/ScyllaDB store.
type CQLConfig struct {
	// Table is the table name, optionally keyspace-qualified.
	// Default: "backsync_kv"
	Table string

	// Bucket is the partition key value; several stores may share a table.
	// Default: "backsync"
	Bucket string

	// CreateTable creates the table if it does not exist.
	// Default: true
	CreateTable bool

	// Consistency is used for every statement.
	// Default: gocql.Quorum
	Consistency gocql.Consistency
}

// DefaultCQLConfig returns the default configuration.
func DefaultCQLConfig() CQLConfig {
	return CQLConfig{
		Table:       "backsync_kv",
		Bucket:      "backsync",
		CreateTable: true,
		Consistency: gocql.Quorum,
	}
}

// CQLOption configures a CQL store.
type CQLOption func(*CQLConfig)

// WithCQLTable sets the table name ("table" or "keyspace.table").
func WithCQLTable(table string) CQLOption {
	return func(c *CQLConfig) {
		c.Table = table
	}
}

// WithCQLBucket sets the partition used by the store.
func WithCQLBucket(bucket string) CQLOption {
	return func(c *CQLConfig) {
		c.Bucket = bucket
	}
}

// WithCQLCreateTable controls table creation at construction.
func WithCQLCreateTable(create bool) CQLOption {
	return func(c *CQLConfig) {
		c.CreateTable = create
	}
}

// WithCQLConsistency sets the statement consistency level.
func WithCQLConsistency(cl gocql.Consistency) CQLOption {
	return func(c *CQLConfig) {
		c.Consistency = cl
	}
}

// CQL is a Store backed by a Cassandra or ScyllaDB table.
//
// All keys of one bucket live in a single partition, so Keys is a single
// partition read. The table layout is:
//
//	CREATE TABLE backsync_kv (
//	    bucket text,
//	    key    text,
//	    value  blob,
//	    PRIMARY KEY ((bucket), key)
//	)
type CQL struct {
	session *gocql.Session
	config  CQLConfig
	closed  atomic.Bool

	getStmt    string
	putStmt    string
	deleteStmt string
	keysStmt   string
}

var _ backsync.Store = (*CQL)(nil)

// NewCQL creates a store on session.
//
// The caller owns the session; Close does not close it.
//
// Parameters:
//   - ctx: Context for table creation
//   - session: A connected gocql session
//   - opts: Optional configuration options
//
// Returns:
//   - *CQL: A new CQL store
//   - error: Error on an invalid table name or failed table creation
func NewCQL(ctx context.Context, session *gocql.Session, opts ...CQLOption) (*CQL, error) {
	if session == nil {
		return nil, errors.New("backsync: gocql session is nil")
	}

	config := DefaultCQLConfig()
	for _, opt := range opts {
		opt(&config)
	}

	if err := validateCQLTable(config.Table); err != nil {
		return nil, err
	}

	s := &CQL{
		session:    session,
		config:     config,
		getStmt:    "SELECT value FROM " + config.Table + " WHERE bucket = ? AND key = ?",
		putStmt:    "INSERT INTO " + config.Table + " (bucket, key, value) VALUES (?, ?, ?)",
		deleteStmt: "DELETE FROM " + config.Table + " WHERE bucket = ? AND key = ?",
		keysStmt:   "SELECT key FROM " + config.Table + " WHERE bucket = ?",
	}

	if config.CreateTable {
		ddl := "CREATE TABLE IF NOT EXISTS " + config.Table +
			" (bucket text, key text, value blob, PRIMARY KEY ((bucket), key))"
		if err := session.Query(ddl).WithContext(ctx).Exec(); err != nil {
			return nil, fmt.Errorf("backsync: failed to create table %s: %w", config.Table, err)
		}
	}

	return s, nil
}

func validateCQLTable(table string) error {
	ks, tbl := "", table
	for i := range len(table) {
		if table[i] == '.' {
			ks, tbl = table[:i], table[i+1:]
			break
		}
	}
	if ks != "" && !cqlIdentifier.MatchString(ks) {
		return fmt.Errorf("backsync: invalid keyspace name %q", ks)
	}
	if !cqlIdentifier.MatchString(tbl) {
		return fmt.Errorf("backsync: invalid table name %q", tbl)
	}

	return nil
}

// Get loads the value stored under key.
func (s *CQL) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s.closed.Load() {
		return nil, false, types.ErrStoreClosed
	}

	var value []byte
	err := s.session.Query(s.getStmt, s.config.Bucket, key).
		WithContext(ctx).
		Consistency(s.config.Consistency).
		Scan(&value)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("backsync: failed to get key: %w", err)
	}
	if value == nil {
		value = []byte{}
	}

	return value, true, nil
}

// Put stores value under key.
func (s *CQL) Put(ctx context.Context, key string, value []byte) error {
	if s.closed.Load() {
		return types.ErrStoreClosed
	}
	if value == nil {
		value = []byte{}
	}

	err := s.session.Query(s.putStmt, s.config.Bucket, key, value).
		WithContext(ctx).
		Consistency(s.config.Consistency).
		Exec()
	if err != nil {
		return fmt.Errorf("backsync: failed to put key: %w", err)
	}

	return nil
}

// Delete removes key.
func (s *CQL) Delete(ctx context.Context, key string) error {
	if s.closed.Load() {
		return types.ErrStoreClosed
	}

	err := s.session.Query(s.deleteStmt, s.config.Bucket, key).
		WithContext(ctx).
		Consistency(s.config.Consistency).
		Exec()
	if err != nil {
		return fmt.Errorf("backsync: failed to delete key: %w", err)
	}

	return nil
}

// Keys returns every key of the bucket in clustering (sorted) order.
func (s *CQL) Keys(ctx context.Context) ([]string, error) {
	if s.closed.Load() {
		return nil, types.ErrStoreClosed
	}

	iter := s.session.Query(s.keysStmt, s.config.Bucket).
		WithContext(ctx).
		Consistency(s.config.Consistency).
		Iter()

	keys := make([]string, 0)
	var key string
	for iter.Scan(&key) {
		keys = append(keys, key)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("backsync: failed to list keys: %w", err)
	}

	return keys, nil
}

// Close marks the store as closed. The gocql session is left open.
func (s *CQL) Close() error {
	s.closed.Store(true)

	return nil
}
