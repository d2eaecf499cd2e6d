package connectivity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/backsync"
	"github.com/arloliu/backsync/types"
)

// NATS monitors a NATS KV key for the connectivity status.
//
// An absent, deleted or unparsable value means online; only an explicit
// {"online": false} document takes the process offline. The same type is
// also an operator: SetOnline writes the document, so one process (or an
// operations tool) can flip the state for every watcher of the key.
type NATS struct {
	kv     jetstream.KeyValue
	config WatcherConfig
	st     *state
}

var (
	_ backsync.ConnectivityWatcher  = (*NATS)(nil)
	_ backsync.ConnectivityOperator = (*NATS)(nil)
)

// NewNATS creates a new NATS KV connectivity watcher.
//
// The watcher begins monitoring the key when Watch is called.
//
// Parameters:
//   - kv: A NATS JetStream KeyValue store
//   - opts: Optional configuration options
//
// Returns:
//   - *NATS: A new watcher instance
//   - error: Error if kv is nil
//
// Example:
//
//	kv, _ := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: "backsync-config"})
//	watcher, _ := connectivity.NewNATS(kv,
//	    connectivity.WithKey("edge.connectivity"),
//	)
func NewNATS(kv jetstream.KeyValue, opts ...WatcherOption) (*NATS, error) {
	if kv == nil {
		return nil, errors.New("backsync/connectivity: KeyValue store is nil")
	}

	config := DefaultWatcherConfig()
	for _, opt := range opts {
		opt(&config)
	}

	return &NATS{
		kv:     kv,
		config: config,
		st:     newState(),
	}, nil
}

// Watch returns a channel that receives connectivity changes.
//
// The first call spawns a goroutine that watches the KV key, falling back
// to polling if the watch cannot be established. The channel is closed when
// Close is called or the context of the first call ends. Multiple calls to
// Watch return the same channel.
func (n *NATS) Watch(ctx context.Context) <-chan types.ConnectivityUpdate {
	if n.st.startWatch() {
		go n.watchLoop(ctx)
	}

	return n.st.updates
}

// SetOnline writes the connectivity status to the KV key.
//
// The local state changes once the watch delivers the write, like on every
// other process watching the key.
func (n *NATS) SetOnline(ctx context.Context, online bool, reason string) error {
	data, err := json.Marshal(Status{Online: online, Reason: reason})
	if err != nil {
		return fmt.Errorf("backsync/connectivity: encode status: %w", err)
	}

	if _, err := n.kv.Put(ctx, n.config.Key, data); err != nil {
		return fmt.Errorf("backsync/connectivity: put %s: %w", n.config.Key, err)
	}

	return nil
}

// IsOnline returns the last observed state.
func (n *NATS) IsOnline() bool {
	return n.st.isOnline()
}

// Reason returns the reason of the last observed change.
func (n *NATS) Reason() string {
	return n.st.getReason()
}

// Config returns the watcher configuration.
func (n *NATS) Config() WatcherConfig {
	return n.config
}

// Close stops the watcher. It is safe to call multiple times.
func (n *NATS) Close() error {
	n.st.close()

	return nil
}

func (n *NATS) watchLoop(ctx context.Context) {
	defer n.st.closeUpdates()

	n.fetchAndEmit(ctx)

	watcher, err := n.kv.Watch(ctx, n.config.Key)
	if err != nil {
		n.pollLoop(ctx)
		return
	}
	defer func() { _ = watcher.Stop() }()

	for {
		select {
		case <-ctx.Done():
			return
		case <-n.st.done:
			return
		case entry, ok := <-watcher.Updates():
			if !ok {
				n.pollLoop(ctx)
				return
			}
			if entry == nil {
				continue
			}
			n.processEntry(entry)
		}
	}
}

func (n *NATS) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(n.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-n.st.done:
			return
		case <-ticker.C:
			n.fetchAndEmit(ctx)
		}
	}
}

func (n *NATS) fetchAndEmit(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, n.config.InitialFetchTimeout)
	defer cancel()

	entry, err := n.kv.Get(fetchCtx, n.config.Key)
	if err != nil {
		// Missing key or unreachable server: no override in effect.
		n.st.set(true, "")
		return
	}

	n.processEntry(entry)
}

func (n *NATS) processEntry(entry jetstream.KeyValueEntry) {
	if entry.Operation() == jetstream.KeyValueDelete || entry.Operation() == jetstream.KeyValuePurge {
		n.st.set(true, "")
		return
	}

	var status Status
	if err := json.Unmarshal(entry.Value(), &status); err != nil {
		n.st.set(true, "")
		return
	}

	n.st.set(status.Online, status.Reason)
}
