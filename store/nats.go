package store

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/backsync"
	"github.com/arloliu/backsync/types"
)

// NATSConfig configures the NATS JetStream key/value store.
type NATSConfig struct {
	// Bucket is the JetStream KV bucket name.
	// Default: "backsync"
	Bucket string

	// Description is stored with the bucket.
	// Default: "backsync request-replay queue"
	Description string

	// Replicas is the number of bucket replicas (for fault tolerance).
	// Default: 1 (use 3 for production clusters)
	Replicas int

	// Storage selects file or memory storage.
	// Default: jetstream.FileStorage
	Storage jetstream.StorageType

	// MaxValueSize caps the size of a single value. 0 means unlimited.
	// Default: 0
	MaxValueSize int32

	// OpTimeout bounds every KV operation in addition to the caller's context.
	// Default: 5 seconds
	OpTimeout time.Duration
}

// DefaultNATSConfig returns the default configuration.
//
// Returns:
//   - NATSConfig: Default configuration with reasonable defaults
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		Bucket:      "backsync",
		Description: "backsync request-replay queue",
		Replicas:    1,
		Storage:     jetstream.FileStorage,
		OpTimeout:   5 * time.Second,
	}
}

// NATSOption configures a NATS store.
type NATSOption func(*NATSConfig)

// WithBucket sets the KV bucket name.
//
// Parameters:
//   - name: Bucket name
//
// Returns:
//   - NATSOption: Configuration option
func WithBucket(name string) NATSOption {
	return func(c *NATSConfig) {
		c.Bucket = name
	}
}

// WithReplicas sets the number of bucket replicas.
//
// Parameters:
//   - n: Number of replicas (1 for dev, 3 for production)
//
// Returns:
//   - NATSOption: Configuration option
func WithReplicas(n int) NATSOption {
	return func(c *NATSConfig) {
		c.Replicas = n
	}
}

// WithStorage sets the bucket storage type.
func WithStorage(st jetstream.StorageType) NATSOption {
	return func(c *NATSConfig) {
		c.Storage = st
	}
}

// WithMaxValueSize caps the size of a single stored value.
func WithMaxValueSize(n int32) NATSOption {
	return func(c *NATSConfig) {
		c.MaxValueSize = n
	}
}

// WithOpTimeout sets the timeout applied to each KV operation.
func WithOpTimeout(d time.Duration) NATSOption {
	return func(c *NATSConfig) {
		c.OpTimeout = d
	}
}

// NATS is a Store backed by a JetStream key/value bucket.
//
// Unlike Memory, values persisted to JetStream survive process crashes and
// are shared by every process connected to the same bucket. KV keys are
// limited to [-/_=.a-zA-Z0-9], so keys are stored base64url encoded.
//
// Deletes purge the key, dropping its history.
type NATS struct {
	kv     jetstream.KeyValue
	config NATSConfig
	closed atomic.Bool
}

var _ backsync.Store = (*NATS)(nil)

// NewNATS creates or updates the KV bucket and returns a store on it.
//
// The caller owns the NATS connection; Close does not close it.
//
// Parameters:
//   - ctx: Context for bucket creation
//   - js: A JetStream context (created via jetstream.New(conn))
//   - opts: Optional configuration options
//
// Returns:
//   - *NATS: A new NATS store
//   - error: Error if bucket creation fails
//
// Example:
//
//	nc, _ := nats.Connect("nats://localhost:4222")
//	js, _ := jetstream.New(nc)
//	s, _ := store.NewNATS(ctx, js, store.WithBucket("requests"))
func NewNATS(ctx context.Context, js jetstream.JetStream, opts ...NATSOption) (*NATS, error) {
	if js == nil {
		return nil, errors.New("backsync: JetStream context is nil")
	}

	config := DefaultNATSConfig()
	for _, opt := range opts {
		opt(&config)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:       config.Bucket,
		Description:  config.Description,
		Replicas:     config.Replicas,
		Storage:      config.Storage,
		MaxValueSize: config.MaxValueSize,
		History:      1,
	})
	if err != nil {
		return nil, fmt.Errorf("backsync: failed to create/update KV bucket %s: %w", config.Bucket, err)
	}

	return &NATS{kv: kv, config: config}, nil
}

func encodeKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

func decodeKey(key string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(key)
	if err != nil {
		return "", err
	}

	return string(b), nil
}

func (n *NATS) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if n.config.OpTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, n.config.OpTimeout)
}

// Get loads the value stored under key.
func (n *NATS) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if n.closed.Load() {
		return nil, false, types.ErrStoreClosed
	}

	ctx, cancel := n.opContext(ctx)
	defer cancel()

	entry, err := n.kv.Get(ctx, encodeKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("backsync: failed to get key: %w", err)
	}

	return entry.Value(), true, nil
}

// Put stores value under key.
func (n *NATS) Put(ctx context.Context, key string, value []byte) error {
	if n.closed.Load() {
		return types.ErrStoreClosed
	}

	ctx, cancel := n.opContext(ctx)
	defer cancel()

	if _, err := n.kv.Put(ctx, encodeKey(key), value); err != nil {
		return fmt.Errorf("backsync: failed to put key: %w", err)
	}

	return nil
}

// Delete purges key.
func (n *NATS) Delete(ctx context.Context, key string) error {
	if n.closed.Load() {
		return types.ErrStoreClosed
	}

	ctx, cancel := n.opContext(ctx)
	defer cancel()

	if err := n.kv.Purge(ctx, encodeKey(key)); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("backsync: failed to delete key: %w", err)
	}

	return nil
}

// Keys lists every live key in the bucket.
func (n *NATS) Keys(ctx context.Context) ([]string, error) {
	if n.closed.Load() {
		return nil, types.ErrStoreClosed
	}

	ctx, cancel := n.opContext(ctx)
	defer cancel()

	lister, err := n.kv.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return []string{}, nil
		}

		return nil, fmt.Errorf("backsync: failed to list keys: %w", err)
	}
	defer func() { _ = lister.Stop() }()

	keys := make([]string, 0)
	for encoded := range lister.Keys() {
		key, err := decodeKey(encoded)
		if err != nil {
			// Not written by this store.
			continue
		}
		keys = append(keys, key)
	}

	return keys, nil
}

// Bucket returns the KV bucket name.
func (n *NATS) Bucket() string {
	return n.config.Bucket
}

// Close marks the store as closed. The NATS connection is left open.
func (n *NATS) Close() error {
	n.closed.Store(true)

	return nil
}
