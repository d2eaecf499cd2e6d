package trigger_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/backsync/test/testutil"
	"github.com/arloliu/backsync/trigger"
)

type tagLog struct {
	mu   sync.Mutex
	tags []string
}

func (l *tagLog) add(tag string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tags = append(l.tags, tag)
}

func (l *tagLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]string(nil), l.tags...)
}

var bucketSeq atomic.Int32

func newNATSTrigger(t *testing.T, srv *testutil.EmbeddedNATS, bucket, subject string) *trigger.NATS {
	t.Helper()

	nc, js := srv.Connect(t)
	trig, err := trigger.NewNATS(context.Background(), nc, js,
		trigger.WithBucket(bucket),
		trigger.WithSubject(subject),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = trig.Close() })

	return trig
}

func TestNewNATSNilArgs(t *testing.T) {
	srv := testutil.StartNATSServer(t)

	_, err := trigger.NewNATS(context.Background(), nil, srv.JS)
	require.Error(t, err)

	_, err = trigger.NewNATS(context.Background(), srv.Conn, nil)
	require.Error(t, err)
}

func TestNATSTriggerFire(t *testing.T) {
	ctx := context.Background()
	srv := testutil.StartNATSServer(t)
	n := bucketSeq.Add(1)
	trig := newNATSTrigger(t, srv, fmt.Sprintf("triggers-%d", n), fmt.Sprintf("fire.%d", n))

	log := &tagLog{}
	trig.OnTrigger(func(_ context.Context, tag string) error {
		log.add(tag)
		return nil
	})

	require.NoError(t, trig.Register(ctx, "backsync:orders"))
	require.NoError(t, trig.Register(ctx, "backsync:audit"))

	armed, err := trig.Armed(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"backsync:audit", "backsync:orders"}, armed)

	require.NoError(t, trig.Fire(ctx))
	require.Eventually(t, func() bool {
		return len(log.get()) == 2
	}, 5*time.Second, 10*time.Millisecond)
	trig.Wait()

	assert.ElementsMatch(t, []string{"backsync:audit", "backsync:orders"}, log.get())

	armed, err = trig.Armed(ctx)
	require.NoError(t, err)
	assert.Empty(t, armed)
}

func TestNATSTriggerRearmsOnError(t *testing.T) {
	ctx := context.Background()
	srv := testutil.StartNATSServer(t)
	n := bucketSeq.Add(1)
	trig := newNATSTrigger(t, srv, fmt.Sprintf("triggers-%d", n), fmt.Sprintf("fire.%d", n))

	var calls atomic.Int32
	trig.OnTrigger(func(context.Context, string) error {
		calls.Add(1)
		return errors.New("still offline")
	})

	require.NoError(t, trig.Register(ctx, "backsync:orders"))
	require.NoError(t, trig.FireTag(ctx, "backsync:orders"))

	require.Eventually(t, func() bool {
		return calls.Load() == 1
	}, 5*time.Second, 10*time.Millisecond)
	trig.Wait()

	armed, err := trig.Armed(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"backsync:orders"}, armed)
}

func TestNATSTriggerArmedTagsSurviveRestart(t *testing.T) {
	ctx := context.Background()
	srv := testutil.StartNATSServer(t)
	n := bucketSeq.Add(1)
	bucket, subject := fmt.Sprintf("triggers-%d", n), fmt.Sprintf("fire.%d", n)

	first := newNATSTrigger(t, srv, bucket, subject)
	require.NoError(t, first.Register(ctx, "backsync:orders"))
	require.NoError(t, first.Close())

	second := newNATSTrigger(t, srv, bucket, subject)
	log := &tagLog{}
	second.OnTrigger(func(_ context.Context, tag string) error {
		log.add(tag)
		return nil
	})

	require.NoError(t, second.Fire(ctx))
	require.Eventually(t, func() bool {
		return len(log.get()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"backsync:orders"}, log.get())
}

func TestNATSTriggerOneProcessClaimsEachTag(t *testing.T) {
	ctx := context.Background()
	srv := testutil.StartNATSServer(t)
	n := bucketSeq.Add(1)
	bucket, subject := fmt.Sprintf("triggers-%d", n), fmt.Sprintf("fire.%d", n)

	log := &tagLog{}
	handler := func(_ context.Context, tag string) error {
		log.add(tag)
		return nil
	}

	a := newNATSTrigger(t, srv, bucket, subject)
	b := newNATSTrigger(t, srv, bucket, subject)
	a.OnTrigger(handler)
	b.OnTrigger(handler)

	for i := 0; i < 10; i++ {
		require.NoError(t, a.Register(ctx, fmt.Sprintf("backsync:q%d", i)))
	}

	// Signals from both sides; every tag must still run exactly once.
	require.NoError(t, a.Fire(ctx))
	require.NoError(t, b.Fire(ctx))

	require.Eventually(t, func() bool {
		return len(log.get()) >= 10
	}, 5*time.Second, 10*time.Millisecond)
	a.Wait()
	b.Wait()

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, log.get(), 10)
}

func TestNATSTriggerFireWithoutCallerDeadline(t *testing.T) {
	srv := testutil.StartNATSServer(t)
	n := bucketSeq.Add(1)
	nc, js := srv.Connect(t)
	trig, err := trigger.NewNATS(context.Background(), nc, js,
		trigger.WithBucket(fmt.Sprintf("triggers-%d", n)),
		trigger.WithSubject(fmt.Sprintf("fire.%d", n)),
		trigger.WithOpTimeout(time.Second),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = trig.Close() })

	log := &tagLog{}
	trig.OnTrigger(func(_ context.Context, tag string) error {
		log.add(tag)
		return nil
	})

	// A plain background context, as used by long-running callers.
	require.NoError(t, trig.Register(context.Background(), "backsync:orders"))
	require.NoError(t, trig.Fire(context.Background()))
	require.Eventually(t, func() bool {
		return len(log.get()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	// A caller deadline is used as given.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, trig.Register(ctx, "backsync:audit"))
	require.NoError(t, trig.FireTag(ctx, "backsync:audit"))
	require.Eventually(t, func() bool {
		return len(log.get()) == 2
	}, 5*time.Second, 10*time.Millisecond)
	trig.Wait()

	assert.Equal(t, []string{"backsync:orders", "backsync:audit"}, log.get())
}

func TestTriggerConfigDefaults(t *testing.T) {
	config := trigger.DefaultConfig()
	assert.Equal(t, 5*time.Second, config.OpTimeout)

	config = trigger.DefaultConfig()
	trigger.WithOpTimeout(0)(&config)
	assert.Equal(t, 5*time.Second, config.OpTimeout)
	trigger.WithOpTimeout(time.Second)(&config)
	assert.Equal(t, time.Second, config.OpTimeout)
}
