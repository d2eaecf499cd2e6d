package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/backsync/store"
	"github.com/arloliu/backsync/test/testutil"
)

func TestBucketName(t *testing.T) {
	loc := store.Location{Namespace: "edge.eu", Version: 2, Name: "default/main"}
	assert.Equal(t, "edge_eu_v2_default_main", bucketName(loc))
}

func TestBackendsOpen(t *testing.T) {
	ctx := context.Background()
	loc := store.Location{Namespace: "backsync", Version: 1, Name: "default"}

	t.Run("memory", func(t *testing.T) {
		b := newBackends(StoreConfig{Backend: backendMemory}, nil)
		s, err := b.open(ctx, loc)
		require.NoError(t, err)
		assert.IsType(t, &store.Memory{}, s)
	})

	t.Run("sqlite buckets by location", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "backsync.db")
		b := newBackends(StoreConfig{Backend: backendSQLite, SQLitePath: path}, nil)

		s1, err := b.open(ctx, loc)
		require.NoError(t, err)
		defer s1.Close()

		other := loc
		other.Version = 2
		s2, err := b.open(ctx, other)
		require.NoError(t, err)
		defer s2.Close()

		require.NoError(t, s1.Put(ctx, "k", []byte("v1")))
		_, ok, err := s2.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("nats", func(t *testing.T) {
		srv := testutil.StartNATSServer(t)
		b := newBackends(StoreConfig{Backend: backendNATS}, srv.JS)

		s, err := b.open(ctx, loc)
		require.NoError(t, err)
		require.NoError(t, s.Put(ctx, "k", []byte("v")))

		_, err = srv.JS.KeyValue(ctx, "backsync_v1_default")
		require.NoError(t, err)
	})

	t.Run("nats without connection", func(t *testing.T) {
		b := newBackends(StoreConfig{Backend: backendNATS}, nil)
		_, err := b.open(ctx, loc)
		require.Error(t, err)
	})

	t.Run("unknown", func(t *testing.T) {
		b := newBackends(StoreConfig{Backend: "redis"}, nil)
		_, err := b.open(ctx, loc)
		require.Error(t, err)
	})
}
