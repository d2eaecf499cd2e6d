package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/backsync"
	"github.com/arloliu/backsync/types"
)

// runStoreContract exercises the behavior every backsync.Store must share.
// newStore must return an empty store.
func runStoreContract(t *testing.T, newStore func(t *testing.T) backsync.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)

		v, ok, err := s.Get(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, v)
	})

	t.Run("put get overwrite", func(t *testing.T) {
		s := newStore(t)

		require.NoError(t, s.Put(ctx, "k", []byte("v1")))
		v, ok, err := s.Get(ctx, "k")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("v1"), v)

		require.NoError(t, s.Put(ctx, "k", []byte("v2")))
		v, _, err = s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), v)
	})

	t.Run("arbitrary keys", func(t *testing.T) {
		s := newStore(t)
		keys := []string{
			"orders",
			"https://api.example.com/orders?id=7&x=y!1700000000000000000!42",
			"__backsync_queues__",
			"spaces and ünïcödé",
		}

		for i, k := range keys {
			require.NoError(t, s.Put(ctx, k, []byte(fmt.Sprint(i))))
		}
		for i, k := range keys {
			v, ok, err := s.Get(ctx, k)
			require.NoError(t, err)
			require.True(t, ok, k)
			assert.Equal(t, []byte(fmt.Sprint(i)), v)
		}

		got, err := s.Keys(ctx)
		require.NoError(t, err)
		sort.Strings(got)
		want := append([]string(nil), keys...)
		sort.Strings(want)
		assert.Equal(t, want, got)
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)

		require.NoError(t, s.Put(ctx, "a", []byte("1")))
		require.NoError(t, s.Put(ctx, "b", []byte("2")))
		require.NoError(t, s.Delete(ctx, "a"))
		require.NoError(t, s.Delete(ctx, "never-existed"))

		_, ok, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.False(t, ok)

		keys, err := s.Keys(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, keys)
	})

	t.Run("empty keys", func(t *testing.T) {
		s := newStore(t)

		keys, err := s.Keys(ctx)
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("binary values", func(t *testing.T) {
		s := newStore(t)
		value := []byte{0x00, 0xff, 0x80, 0x7f, 0x00}

		require.NoError(t, s.Put(ctx, "bin", value))
		v, ok, err := s.Get(ctx, "bin")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, value, v)
	})

	t.Run("concurrent puts", func(t *testing.T) {
		s := newStore(t)

		var wg sync.WaitGroup
		for i := range 20 {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, s.Put(ctx, fmt.Sprintf("key-%02d", i), []byte("x")))
			}(i)
		}
		wg.Wait()

		keys, err := s.Keys(ctx)
		require.NoError(t, err)
		assert.Len(t, keys, 20)
	})

	t.Run("closed", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Close())

		_, _, err := s.Get(ctx, "k")
		require.ErrorIs(t, err, types.ErrStoreClosed)
		require.ErrorIs(t, s.Put(ctx, "k", []byte("v")), types.ErrStoreClosed)
		require.ErrorIs(t, s.Delete(ctx, "k"), types.ErrStoreClosed)
		_, err = s.Keys(ctx)
		require.ErrorIs(t, err, types.ErrStoreClosed)
	})
}
