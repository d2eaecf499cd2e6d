package store

import (
	"context"
	"slices"
	"sync"

	"github.com/arloliu/backsync"
	"github.com/arloliu/backsync/types"
)

// Memory is an in-memory Store.
//
// # Durability Warning
//
// Everything stored is LOST on process restart. Use Memory for:
//   - Development and testing
//   - Scenarios where losing queued requests is acceptable
//
// For production durability, use NATS, SQLite, CQL or DynamoDB.
//
// Values are copied on Put and Get, so callers never share memory with the
// store.
type Memory struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

var _ backsync.Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// Get returns a copy of the value stored under key.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, false, types.ErrStoreClosed
	}

	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}

	return slices.Clone(v), true, nil
}

// Put stores a copy of value under key.
func (m *Memory) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return types.ErrStoreClosed
	}
	m.data[key] = append([]byte{}, value...)

	return nil
}

// Delete removes key.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return types.ErrStoreClosed
	}
	delete(m.data, key)

	return nil
}

// Keys returns all keys in sorted order.
func (m *Memory) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, types.ErrStoreClosed
	}

	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	return keys, nil
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.data)
}

// Close marks the store as closed. Subsequent operations fail with
// types.ErrStoreClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true

	return nil
}
