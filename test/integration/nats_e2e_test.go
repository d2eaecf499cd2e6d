package integration_test

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/backsync"
	"github.com/arloliu/backsync/connectivity"
	"github.com/arloliu/backsync/notify"
	"github.com/arloliu/backsync/replay"
	"github.com/arloliu/backsync/store"
	"github.com/arloliu/backsync/test/testutil"
	"github.com/arloliu/backsync/trigger"
	"github.com/arloliu/backsync/types"
)

// process is one backsync instance sharing NATS with its peers.
type process struct {
	store    *store.NATS
	trigger  *trigger.NATS
	notifier *notify.NATS
	watcher  *connectivity.NATS
	coord    *replay.Coordinator
}

func startProcess(t *testing.T, nc *nats.Conn, js jetstream.JetStream) *process {
	t.Helper()
	ctx := context.Background()

	s, err := store.NewNATS(ctx, js, store.WithBucket("e2e_requests"))
	require.NoError(t, err)

	trig, err := trigger.NewNATS(ctx, nc, js, trigger.WithBucket("e2e-triggers"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = trig.Close() })

	n, err := notify.NewNATS(nc, notify.WithSubjectPrefix("e2e.events"))
	require.NoError(t, err)

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: "e2e-connectivity"})
	require.NoError(t, err)
	w, err := connectivity.NewNATS(kv)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	coord, err := replay.New(s, backsync.NewHTTPFetcher(nil),
		replay.WithTrigger(trig),
		replay.WithCleanupInterval(0),
		replay.WithQueueOptions(backsync.WithNotifier(n)),
	)
	require.NoError(t, err)
	require.NoError(t, coord.Start(ctx))
	t.Cleanup(coord.Stop)

	return &process{store: s, trigger: trig, notifier: n, watcher: w, coord: coord}
}

// followConnectivity fires the trigger every time the watcher reports the
// network is back.
func (p *process) followConnectivity(t *testing.T, ctx context.Context) {
	t.Helper()

	updates := p.watcher.Watch(ctx)
	go func() {
		for u := range updates {
			if u.Online {
				_ = p.trigger.Fire(ctx)
			}
		}
	}()
}

func TestEndToEndNATS(t *testing.T) {
	skipIfShort(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := testutil.StartNATSServer(t)
	up := newFlakyUpstream(t)
	up.down.Store(true)

	ncB, jsB := srv.Connect(t)
	a := startProcess(t, srv.Conn, srv.JS)
	b := startProcess(t, ncB, jsB)

	a.followConnectivity(t, ctx)
	b.followConnectivity(t, ctx)

	// Process B listens for enqueue events from any process.
	var (
		mu     sync.Mutex
		events []types.Event
	)
	sub, err := b.notifier.Subscribe(func(e types.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	})
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()
	require.NoError(t, ncB.Flush())

	// The network goes down; process A queues what it cannot send.
	operator, err := connectivity.NewNATS(mustKV(t, srv.JS, "e2e-connectivity"))
	require.NoError(t, err)
	defer operator.Close()
	require.NoError(t, operator.SetOnline(ctx, false, "uplink down"))

	qa, err := a.coord.Queue("orders")
	require.NoError(t, err)

	var ids []types.EntryID
	for _, item := range []string{"first", "second", "third"} {
		req, err := http.NewRequest(http.MethodPost, up.URL+"/orders", strings.NewReader(item))
		require.NoError(t, err)

		_, fetchErr := http.DefaultClient.Do(req)
		require.Error(t, fetchErr)

		req, err = http.NewRequest(http.MethodPost, up.URL+"/orders", strings.NewReader(item))
		require.NoError(t, err)
		id, err := qa.Push(ctx, req)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 3
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	for i, e := range events {
		assert.Equal(t, types.EventAdded, e.Type)
		assert.Equal(t, ids[i], e.ID)
		assert.Equal(t, "orders", e.Queue)
		assert.Equal(t, a.notifier.Origin(), e.Origin)
	}
	mu.Unlock()

	armed, err := a.trigger.Armed(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{backsync.QueueTag("orders")}, armed)

	// The network comes back: both processes see it, exactly one replays.
	up.down.Store(false)
	require.NoError(t, operator.SetOnline(ctx, true, "uplink restored"))

	require.Eventually(t, func() bool {
		return len(up.calls()) == 3
	}, 5*time.Second, 20*time.Millisecond)

	// Give a duplicate dispatch time to show up before checking.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, []string{
		"POST /orders first",
		"POST /orders second",
		"POST /orders third",
	}, up.calls())

	// Responses written by either process are readable from the other.
	for _, id := range ids {
		resp, ok, err := b.coord.Responses().Get(ctx, id)
		require.NoError(t, err)
		require.True(t, ok, "response of %s", id)
		assert.Equal(t, "ack orders", string(resp.Body))
	}

	armed, err = b.trigger.Armed(ctx)
	require.NoError(t, err)
	assert.Empty(t, armed)
}

func mustKV(t *testing.T, js jetstream.JetStream, bucket string) jetstream.KeyValue {
	t.Helper()

	kv, err := js.KeyValue(context.Background(), bucket)
	require.NoError(t, err)

	return kv
}
