package backsync

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/arloliu/backsync/codec"
	"github.com/arloliu/backsync/internal/keylock"
	"github.com/arloliu/backsync/types"
)

// locks serializes read-modify-write cycles on queue order lists and on the
// registry set within this process.
var locks keylock.Table

const (
	queueLockPrefix    = "queue/"
	registryLockPrefix = "registry/"
)

// Registry is the persisted set of queue names used by "replay all".
//
// Names are written only by a successful Queue.Push, so queues that were
// constructed but never used do not appear.
type Registry struct {
	store Store
}

// NewRegistry creates a registry persisted in store under RegistryKey.
func NewRegistry(store Store) *Registry {
	return &Registry{store: store}
}

// Register adds name to the registry. It is idempotent.
//
// A corrupt registry value is rebuilt from the queue states found in the
// store before name is added.
//
// Parameters:
//   - ctx: Context for cancellation
//   - name: The queue name
//
// Returns:
//   - error: nil on success, error if the registry could not be read or written
func (r *Registry) Register(ctx context.Context, name string) error {
	unlock := locks.Lock(registryLockPrefix + RegistryKey)
	defer unlock()

	names, err := r.load(ctx)
	if errors.Is(err, types.ErrCorruptRecord) {
		names, err = r.scan(ctx)
	}
	if err != nil {
		return err
	}

	idx, found := slices.BinarySearch(names, name)
	if found {
		return nil
	}
	names = slices.Insert(names, idx, name)

	return r.save(ctx, names)
}

// ListAll returns every registered queue name in sorted order.
func (r *Registry) ListAll(ctx context.Context) ([]string, error) {
	return r.load(ctx)
}

// Rebuild replaces the registry with the names of every non-empty queue found
// in the store. It is a recovery tool for a lost or corrupt registry value.
//
// Returns:
//   - int: Number of names in the rebuilt registry
//   - error: nil on success, error if the store could not be scanned or written
func (r *Registry) Rebuild(ctx context.Context) (int, error) {
	unlock := locks.Lock(registryLockPrefix + RegistryKey)
	defer unlock()

	names, err := r.scan(ctx)
	if err != nil {
		return 0, err
	}

	return len(names), r.save(ctx, names)
}

func (r *Registry) load(ctx context.Context) ([]string, error) {
	data, ok, err := r.store.Get(ctx, RegistryKey)
	if err != nil {
		return nil, fmt.Errorf("backsync: load registry: %w", err)
	}
	if !ok {
		return []string{}, nil
	}

	names, err := codec.UnmarshalNames(data)
	if err != nil {
		return nil, err
	}
	slices.Sort(names)

	return slices.Compact(names), nil
}

func (r *Registry) save(ctx context.Context, names []string) error {
	data, err := codec.MarshalNames(names)
	if err != nil {
		return err
	}
	if err := r.store.Put(ctx, RegistryKey, data); err != nil {
		return fmt.Errorf("backsync: save registry: %w", err)
	}

	return nil
}

// scan finds queue state keys. Entry ids always contain '!' and queue names
// never do, so the two are told apart by key shape before decoding.
func (r *Registry) scan(ctx context.Context) ([]string, error) {
	keys, err := r.store.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("backsync: scan store keys: %w", err)
	}

	names := make([]string, 0)
	for _, key := range keys {
		if key == RegistryKey || strings.Contains(key, "!") {
			continue
		}

		data, ok, err := r.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("backsync: scan queue %s: %w", key, err)
		}
		if !ok {
			continue
		}

		state, err := codec.UnmarshalQueueState(data)
		if err != nil || len(state.IDs) == 0 {
			continue
		}
		names = append(names, key)
	}
	slices.Sort(names)

	return names, nil
}
