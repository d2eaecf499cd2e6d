package backsync

import (
	"context"
	"net/http"

	"github.com/arloliu/backsync/types"
)

// Store is the durable key/value persistence used by queues, the registry
// and the response store.
//
// Implementations live in the store package (Memory, NATS, SQLite, CQL,
// DynamoDB). Values are opaque byte slices; keys are arbitrary strings and
// implementations must map them to whatever their backend accepts.
//
// Implementations MUST be safe for concurrent use from multiple goroutines.
type Store interface {
	// Get loads the value stored under key.
	//
	// Parameters:
	//   - ctx: Context for cancellation
	//   - key: The key to load
	//
	// Returns:
	//   - []byte: The stored value (nil when absent)
	//   - bool: true if the key exists
	//   - error: Backend failure, or *types.StoreOpenError if the store cannot be opened
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys returns every key currently stored, in no particular order.
	Keys(ctx context.Context) ([]string, error)

	// Close releases the backend resources.
	Close() error
}

// Fetcher performs the network fetch of a rehydrated request.
//
// A returned error means the request never produced a response (network
// failure). Any response, including non-2xx, is returned with a nil error and
// the caller owns its body.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// FetcherFunc adapts an ordinary function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

// Fetch calls f(ctx, req).
func (f FetcherFunc) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}

// Notifier broadcasts enqueue events to listeners outside the process.
//
// Delivery is fire-and-forget: there is no acknowledgment, and a returned
// error is only logged by the queue.
type Notifier interface {
	Notify(ctx context.Context, event types.Event) error
}

// TriggerHandler is invoked once per armed tag when connectivity is restored.
//
// Returning an error re-arms the tag so the next signal retries it.
type TriggerHandler func(ctx context.Context, tag string) error

// Trigger arms one-shot "connectivity restored" signals.
//
// Implementations include trigger.Local (in-memory) and trigger.NATS
// (JetStream KV backed, shared between processes).
type Trigger interface {
	// Register arms a future signal for tag. Registering an already armed
	// tag is a no-op.
	//
	// Parameters:
	//   - ctx: Context for cancellation
	//   - tag: The tag to arm
	//
	// Returns:
	//   - error: nil on success, error if the tag could not be armed
	Register(ctx context.Context, tag string) error

	// OnTrigger installs the handler invoked for fired tags.
	OnTrigger(handler TriggerHandler)
}

// ConnectivityWatcher monitors network reachability.
//
// Implementations include connectivity.Local (in-memory), connectivity.NATS
// (NATS KV backed) and connectivity.Probe (HTTP health probe).
type ConnectivityWatcher interface {
	// Watch returns a channel that receives reachability changes.
	//
	// Parameters:
	//   - ctx: Context for cancellation
	//
	// Returns:
	//   - <-chan types.ConnectivityUpdate: Channel of reachability changes
	Watch(ctx context.Context) <-chan types.ConnectivityUpdate
}

// ConnectivityOperator allows setting the reachability state explicitly.
//
// This interface is typically used by operations tools and tests.
type ConnectivityOperator interface {
	// SetOnline publishes a reachability state.
	//
	// Parameters:
	//   - ctx: Context for cancellation/timeout
	//   - online: true when the network is reachable
	//   - reason: Human-readable reason for the change
	//
	// Returns:
	//   - error: nil on success, error if the operation fails
	SetOnline(ctx context.Context, online bool, reason string) error
}
