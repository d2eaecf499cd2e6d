package store

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/backsync"
	"github.com/arloliu/backsync/types"
)

func TestOpenerOpensLazilyOncePerLocation(t *testing.T) {
	ctx := context.Background()
	var opens atomic.Int32

	opener := NewOpener(func(_ context.Context, _ Location) (backsync.Store, error) {
		opens.Add(1)
		return NewMemory(), nil
	})
	defer opener.Close()

	loc := Location{Namespace: "backsync", Version: 1, Name: "requests"}
	s1 := opener.Store(loc)
	s2 := opener.Store(loc)
	assert.Same(t, s1, s2)
	assert.Zero(t, opens.Load(), "no I/O before first use")

	require.NoError(t, s1.Put(ctx, "k", []byte("v")))
	v, ok, err := s2.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), v)
	assert.Equal(t, int32(1), opens.Load())

	other := opener.Store(Location{Namespace: "backsync", Version: 2, Name: "requests"})
	_, ok, err = other.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int32(2), opens.Load())
}

func TestOpenerFailureIsStoreOpenErrorAndRetried(t *testing.T) {
	ctx := context.Background()
	var fail atomic.Bool
	fail.Store(true)

	opener := NewOpener(func(_ context.Context, _ Location) (backsync.Store, error) {
		if fail.Load() {
			return nil, errors.New("disk full")
		}
		return NewMemory(), nil
	})

	s := opener.Store(Location{Namespace: "ns", Version: 3, Name: "q"})

	err := s.Put(ctx, "k", []byte("v"))
	var openErr *types.StoreOpenError
	require.True(t, errors.As(err, &openErr))
	assert.Equal(t, "ns/3/q", openErr.Store)
	assert.Contains(t, err.Error(), "disk full")

	fail.Store(false)
	require.NoError(t, s.Put(ctx, "k", []byte("v")))
}

func TestOpenerClose(t *testing.T) {
	ctx := context.Background()
	opener := NewOpener(func(_ context.Context, _ Location) (backsync.Store, error) {
		return NewMemory(), nil
	})

	s := opener.Store(Location{Namespace: "ns", Version: 1, Name: "q"})
	require.NoError(t, s.Put(ctx, "k", []byte("v")))
	require.NoError(t, opener.Close())

	_, _, err := s.Get(ctx, "k")
	require.ErrorIs(t, err, types.ErrStoreClosed)
}
