package connectivity_test

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/backsync/connectivity"
	"github.com/arloliu/backsync/test/testutil"
	"github.com/arloliu/backsync/types"
)

// drainUpdates drains a connectivity update channel in the background.
func drainUpdates(ch <-chan types.ConnectivityUpdate) {
	go func() {
		for range ch {
			_ = struct{}{} // consume item
		}
	}()
}

func createTestKV(t *testing.T, js jetstream.JetStream, bucket string) jetstream.KeyValue {
	t.Helper()

	kv, err := js.CreateKeyValue(context.Background(), jetstream.KeyValueConfig{
		Bucket: bucket,
	})
	require.NoError(t, err)

	return kv
}

func waitUpdate(t *testing.T, updates <-chan types.ConnectivityUpdate) types.ConnectivityUpdate {
	t.Helper()

	select {
	case update, ok := <-updates:
		require.True(t, ok, "updates channel closed")
		return update
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for connectivity update")
	}

	return types.ConnectivityUpdate{}
}

func TestNewNATSNilKV(t *testing.T) {
	_, err := connectivity.NewNATS(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KeyValue store is nil")
}

func TestNewNATSOptions(t *testing.T) {
	js := testutil.StartEmbeddedNATS(t)
	kv := createTestKV(t, js, "test-options")

	watcher, err := connectivity.NewNATS(kv,
		connectivity.WithKey("edge.connectivity"),
		connectivity.WithPollInterval(time.Second),
		connectivity.WithInitialFetchTimeout(2*time.Second),
	)
	require.NoError(t, err)
	defer watcher.Close()

	assert.Equal(t, "edge.connectivity", watcher.Config().Key)
	assert.Equal(t, time.Second, watcher.Config().PollInterval)
	assert.Equal(t, 2*time.Second, watcher.Config().InitialFetchTimeout)
	assert.True(t, watcher.IsOnline())
}

func TestNATSOfflineThenOnline(t *testing.T) {
	js := testutil.StartEmbeddedNATS(t)
	kv := createTestKV(t, js, "test-flip")

	watcher, err := connectivity.NewNATS(kv)
	require.NoError(t, err)
	defer watcher.Close()

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()

	updates := watcher.Watch(ctx)

	require.NoError(t, watcher.SetOnline(ctx, false, "upstream maintenance"))
	update := waitUpdate(t, updates)
	assert.False(t, update.Online)
	assert.Equal(t, "upstream maintenance", update.Reason)
	assert.False(t, watcher.IsOnline())
	assert.Equal(t, "upstream maintenance", watcher.Reason())

	require.NoError(t, watcher.SetOnline(ctx, true, ""))
	update = waitUpdate(t, updates)
	assert.True(t, update.Online)
	assert.True(t, watcher.IsOnline())
}

func TestNATSPresetOfflineAndDelete(t *testing.T) {
	js := testutil.StartEmbeddedNATS(t)
	kv := createTestKV(t, js, "test-preset")

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()

	_, err := kv.Put(ctx, "backsync.connectivity", []byte(`{"online":false,"reason":"preset"}`))
	require.NoError(t, err)

	watcher, err := connectivity.NewNATS(kv)
	require.NoError(t, err)
	defer watcher.Close()

	updates := watcher.Watch(ctx)
	update := waitUpdate(t, updates)
	assert.False(t, update.Online)

	require.NoError(t, kv.Delete(ctx, "backsync.connectivity"))
	update = waitUpdate(t, updates)
	assert.True(t, update.Online)
}

func TestNATSSharedAcrossWatchers(t *testing.T) {
	srv := testutil.StartNATSServer(t)
	kv := createTestKV(t, srv.JS, "test-shared")

	_, js2 := srv.Connect(t)
	kv2, err := js2.KeyValue(context.Background(), "test-shared")
	require.NoError(t, err)

	operator, err := connectivity.NewNATS(kv)
	require.NoError(t, err)
	defer operator.Close()

	watcher, err := connectivity.NewNATS(kv2)
	require.NoError(t, err)
	defer watcher.Close()

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()

	updates := watcher.Watch(ctx)

	require.NoError(t, operator.SetOnline(ctx, false, "drill"))
	update := waitUpdate(t, updates)
	assert.False(t, update.Online)
	assert.Equal(t, "drill", update.Reason)
}

func TestNATSInvalidJSONMeansOnline(t *testing.T) {
	js := testutil.StartEmbeddedNATS(t)
	kv := createTestKV(t, js, "test-invalid-json")

	watcher, err := connectivity.NewNATS(kv)
	require.NoError(t, err)
	defer watcher.Close()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	updates := watcher.Watch(ctx)
	defer drainUpdates(updates)

	_, err = kv.Put(ctx, "backsync.connectivity", []byte("not valid json"))
	require.NoError(t, err)

	require.Never(t, func() bool {
		return !watcher.IsOnline()
	}, 300*time.Millisecond, 20*time.Millisecond)
}

func TestNATSClose(t *testing.T) {
	js := testutil.StartEmbeddedNATS(t)
	kv := createTestKV(t, js, "test-close")

	watcher, err := connectivity.NewNATS(kv)
	require.NoError(t, err)

	updates := watcher.Watch(t.Context())
	assert.Equal(t, updates, watcher.Watch(t.Context()))

	require.NoError(t, watcher.Close())
	require.NoError(t, watcher.Close())

	select {
	case _, ok := <-updates:
		if ok {
			drainUpdates(updates)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after Close()")
	}
}
