package store

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/arloliu/backsync"
	"github.com/arloliu/backsync/types"
)

// Location identifies one logical store: an object store name inside a
// versioned namespace.
type Location struct {
	Namespace string
	Version   int
	Name      string
}

// String returns "namespace/version/name".
func (l Location) String() string {
	return l.Namespace + "/" + strconv.Itoa(l.Version) + "/" + l.Name
}

// OpenFunc opens the backend for a location.
type OpenFunc func(ctx context.Context, loc Location) (backsync.Store, error)

// Opener hands out lazily opened stores, one per Location.
//
// The backend is opened on the first operation and cached for the life of
// the Opener. A failed open is not cached: the operation returns
// *types.StoreOpenError and the next operation tries again.
type Opener struct {
	open   OpenFunc
	mu     sync.Mutex
	stores map[Location]*lazyStore
	closed bool
}

// NewOpener creates an opener that opens backends with open.
func NewOpener(open OpenFunc) *Opener {
	return &Opener{
		open:   open,
		stores: make(map[Location]*lazyStore),
	}
}

// Store returns the store for loc. Repeated calls with the same location
// return the same store. No I/O happens until the store is used.
func (o *Opener) Store(loc Location) backsync.Store {
	o.mu.Lock()
	defer o.mu.Unlock()

	s, ok := o.stores[loc]
	if !ok {
		s = &lazyStore{loc: loc, open: o.open}
		o.stores[loc] = s
	}

	return s
}

// Close closes every opened backend. Stores handed out earlier fail with
// types.ErrStoreClosed afterwards.
func (o *Opener) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil
	}
	o.closed = true

	var errs []error
	for _, s := range o.stores {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

type lazyStore struct {
	loc  Location
	open OpenFunc

	mu      sync.Mutex
	backend backsync.Store
	closed  bool
}

var _ backsync.Store = (*lazyStore)(nil)

func (s *lazyStore) get(ctx context.Context) (backsync.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, types.ErrStoreClosed
	}
	if s.backend != nil {
		return s.backend, nil
	}

	backend, err := s.open(ctx, s.loc)
	if err != nil {
		var openErr *types.StoreOpenError
		if errors.As(err, &openErr) {
			return nil, openErr
		}

		return nil, &types.StoreOpenError{Store: s.loc.String(), Cause: err}
	}
	s.backend = backend

	return backend, nil
}

func (s *lazyStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.get(ctx)
	if err != nil {
		return nil, false, err
	}

	return b.Get(ctx, key)
}

func (s *lazyStore) Put(ctx context.Context, key string, value []byte) error {
	b, err := s.get(ctx)
	if err != nil {
		return err
	}

	return b.Put(ctx, key, value)
}

func (s *lazyStore) Delete(ctx context.Context, key string) error {
	b, err := s.get(ctx)
	if err != nil {
		return err
	}

	return b.Delete(ctx, key)
}

func (s *lazyStore) Keys(ctx context.Context) ([]string, error) {
	b, err := s.get(ctx)
	if err != nil {
		return nil, err
	}

	return b.Keys(ctx)
}

func (s *lazyStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.backend == nil {
		return nil
	}

	return s.backend.Close()
}
