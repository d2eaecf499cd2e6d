package trigger

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/backsync"
)

// signal is the payload of a fire message. An empty Tag fires every armed tag.
type signal struct {
	Tag string `json:"tag,omitempty"`
}

// NATS is a trigger whose armed tags live in a JetStream KV bucket.
//
// Armed tags survive restarts and are shared by every process using the
// bucket. Fire publishes a signal on a core NATS subject; the member of the
// queue group receiving it claims each armed tag with a revision-checked
// delete, so a tag is dispatched by exactly one process per signal.
type NATS struct {
	nc     *nats.Conn
	kv     jetstream.KeyValue
	config Config
	d      *dispatcher
	sub    *nats.Subscription

	mu     sync.Mutex
	closed bool
}

var _ backsync.Trigger = (*NATS)(nil)

// NewNATS creates the KV bucket if needed and subscribes to fire signals.
//
// Parameters:
//   - ctx: Context for creating the bucket
//   - nc: Core NATS connection for fire signals
//   - js: JetStream context for the KV bucket
//   - opts: Optional configuration options
//
// Returns:
//   - *NATS: A new trigger
//   - error: Error if nc or js is nil, or the bucket or subscription
//     cannot be created
func NewNATS(ctx context.Context, nc *nats.Conn, js jetstream.JetStream, opts ...Option) (*NATS, error) {
	if nc == nil {
		return nil, errors.New("backsync/trigger: nats connection is nil")
	}
	if js == nil {
		return nil, errors.New("backsync/trigger: jetstream context is nil")
	}

	config := newConfig(opts)

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      config.Bucket,
		Description: "backsync armed replay tags",
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("backsync/trigger: create bucket %s: %w", config.Bucket, err)
	}

	t := &NATS{
		nc:     nc,
		kv:     kv,
		config: config,
		d:      newDispatcher(config.Logger),
	}

	sub, err := nc.QueueSubscribe(config.Subject, config.QueueGroup, t.handleMsg)
	if err != nil {
		return nil, fmt.Errorf("backsync/trigger: subscribe %s: %w", config.Subject, err)
	}
	t.sub = sub

	return t, nil
}

// Register arms tag in the bucket.
func (t *NATS) Register(ctx context.Context, tag string) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if _, err := t.kv.Put(ctx, encodeTag(tag), []byte(tag)); err != nil {
		return fmt.Errorf("backsync/trigger: arm %s: %w", tag, err)
	}

	return nil
}

// OnTrigger installs the handler. Without a handler, fire signals are
// ignored and armed tags stay armed.
func (t *NATS) OnTrigger(h backsync.TriggerHandler) {
	t.d.setHandler(h)
}

// Fire publishes a signal that dispatches every armed tag.
func (t *NATS) Fire(ctx context.Context) error {
	return t.publish(ctx, signal{})
}

// FireTag publishes a signal that dispatches tag if it is armed.
func (t *NATS) FireTag(ctx context.Context, tag string) error {
	return t.publish(ctx, signal{Tag: tag})
}

// Armed returns the armed tags in sorted order.
func (t *NATS) Armed(ctx context.Context) ([]string, error) {
	keys, err := t.listKeys(ctx)
	if err != nil {
		return nil, err
	}

	tags := make([]string, 0, len(keys))
	for _, key := range keys {
		tag, err := decodeTag(key)
		if err != nil {
			continue
		}
		tags = append(tags, tag)
	}
	slices.Sort(tags)

	return tags, nil
}

// Wait blocks until every dispatched handler has returned.
func (t *NATS) Wait() {
	t.d.wait()
}

// Close unsubscribes, cancels running handlers and waits for them. Tags of
// handlers that fail because of the cancellation are re-armed. It is safe to
// call multiple times.
func (t *NATS) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	err := t.sub.Unsubscribe()
	t.d.shutdown()

	if err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
		return fmt.Errorf("backsync/trigger: unsubscribe: %w", err)
	}

	return nil
}

func (t *NATS) publish(ctx context.Context, sig signal) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("backsync/trigger: encode signal: %w", err)
	}
	if err := t.nc.Publish(t.config.Subject, data); err != nil {
		return fmt.Errorf("backsync/trigger: publish: %w", err)
	}

	// Flush so the signal is on the wire when Fire returns. FlushWithContext
	// rejects contexts without a deadline.
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.OpTimeout)
		defer cancel()
	}
	if err := t.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("backsync/trigger: flush: %w", err)
	}

	return nil
}

func (t *NATS) handleMsg(msg *nats.Msg) {
	var sig signal
	if err := json.Unmarshal(msg.Data, &sig); err != nil {
		t.config.Logger.Warn("ignoring malformed trigger signal", "error", err.Error())
		return
	}

	h := t.d.getHandler()
	if h == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	ctx := t.d.ctx

	var keys []string
	if sig.Tag != "" {
		keys = []string{encodeTag(sig.Tag)}
	} else {
		var err error
		keys, err = t.listKeys(ctx)
		if err != nil {
			t.config.Logger.Warn("list armed tags failed", "error", err.Error())
			return
		}
		slices.Sort(keys)
	}

	for _, key := range keys {
		tag, ok := t.claim(ctx, key)
		if !ok {
			continue
		}
		t.d.dispatch(h, tag, t.rearm)
	}
}

// claim disarms key if it is still at the revision just read.
func (t *NATS) claim(ctx context.Context, key string) (string, bool) {
	entry, err := t.kv.Get(ctx, key)
	if err != nil {
		return "", false
	}
	if err := t.kv.Delete(ctx, key, jetstream.LastRevision(entry.Revision())); err != nil {
		// Claimed by another process, or re-armed in between.
		return "", false
	}

	return string(entry.Value()), true
}

func (t *NATS) rearm(tag string) {
	ctx, cancel := context.WithTimeout(context.Background(), t.config.OpTimeout)
	defer cancel()

	if _, err := t.kv.Put(ctx, encodeTag(tag), []byte(tag)); err != nil {
		t.config.Logger.Error("re-arm failed", "tag", tag, "error", err.Error())
	}
}

func (t *NATS) listKeys(ctx context.Context) ([]string, error) {
	lister, err := t.kv.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return []string{}, nil
		}

		return nil, fmt.Errorf("backsync/trigger: list armed tags: %w", err)
	}
	defer func() { _ = lister.Stop() }()

	keys := make([]string, 0)
	for key := range lister.Keys() {
		keys = append(keys, key)
	}

	return keys, nil
}

func encodeTag(tag string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(tag))
}

func decodeTag(key string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(key)
	if err != nil {
		return "", err
	}

	return string(b), nil
}
