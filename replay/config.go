package replay

import (
	"time"

	"github.com/arloliu/backsync"
	"github.com/arloliu/backsync/types"
)

// SuccessHandler is called after an entry was replayed and its response stored.
type SuccessHandler func(queue string, id types.EntryID, resp *types.ResponseSnapshot)

// FailureHandler is called after an entry failed to replay.
type FailureHandler func(queue string, id types.EntryID, err error)

// CoordinatorConfig configures the replay coordinator.
type CoordinatorConfig struct {
	// Registry lists the queues replayed by ReplayAll.
	// Default: a registry on the coordinator's store
	Registry *backsync.Registry

	// ResponseStore persists the responses of successful replays.
	// Default: a response store on the coordinator's store
	ResponseStore *backsync.ResponseStore

	// Trigger delivers replay signals. When set, Start installs
	// HandleTrigger as its handler and queues created by the coordinator
	// arm it on every push.
	Trigger backsync.Trigger

	// FetchTimeout bounds each replay fetch, including reading the body.
	// Default: 0 (no timeout)
	FetchTimeout time.Duration

	// Concurrency is the number of queues ReplayAll replays at once.
	// Entries of one queue are always replayed sequentially.
	// Default: 4
	Concurrency int

	// CleanupInterval is the interval of the background cleanup loop started
	// by Start. Zero disables the loop.
	// Default: 1 hour
	CleanupInterval time.Duration

	// QueueOptions are applied to queues the coordinator creates on demand.
	QueueOptions []backsync.QueueOption

	// OnSuccess is called after each successful entry replay (optional).
	OnSuccess SuccessHandler

	// OnFailure is called after each failed entry replay (optional).
	OnFailure FailureHandler

	// Logger is the structured logger for replay events.
	// If nil, no logs are emitted.
	Logger types.Logger

	// Metrics is the metrics collector for replay statistics.
	// If nil, no metrics are recorded.
	Metrics types.MetricsCollector
}

// DefaultCoordinatorConfig returns the default coordinator configuration.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		Concurrency:     4,
		CleanupInterval: time.Hour,
	}
}

// Option configures a Coordinator.
type Option func(*CoordinatorConfig)

// WithRegistry sets the registry used by ReplayAll.
func WithRegistry(registry *backsync.Registry) Option {
	return func(c *CoordinatorConfig) {
		c.Registry = registry
	}
}

// WithResponseStore sets the store for replay responses.
//
// Use it to cap captured bodies:
//
//	replay.WithResponseStore(backsync.NewResponseStore(st,
//	    backsync.WithResponseBodyLimit(1<<20),
//	))
func WithResponseStore(responses *backsync.ResponseStore) Option {
	return func(c *CoordinatorConfig) {
		c.ResponseStore = responses
	}
}

// WithTrigger sets the trigger that drives replays.
func WithTrigger(trigger backsync.Trigger) Option {
	return func(c *CoordinatorConfig) {
		c.Trigger = trigger
	}
}

// WithFetchTimeout bounds each replay fetch.
//
// Without a timeout a hung upstream blocks the rest of the queue's pass.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *CoordinatorConfig) {
		c.FetchTimeout = d
	}
}

// WithConcurrency sets how many queues ReplayAll replays at once.
//
// Parameters:
//   - n: Number of concurrent queue passes (values below 1 are treated as 1)
//
// Returns:
//   - Option: Configuration option
func WithConcurrency(n int) Option {
	return func(c *CoordinatorConfig) {
		c.Concurrency = n
	}
}

// WithCleanupInterval sets the interval of the background cleanup loop.
// Zero disables it.
func WithCleanupInterval(d time.Duration) Option {
	return func(c *CoordinatorConfig) {
		c.CleanupInterval = d
	}
}

// WithQueueOptions sets options for queues created on demand.
func WithQueueOptions(opts ...backsync.QueueOption) Option {
	return func(c *CoordinatorConfig) {
		c.QueueOptions = append(c.QueueOptions, opts...)
	}
}

// WithOnSuccess sets the success callback.
func WithOnSuccess(fn SuccessHandler) Option {
	return func(c *CoordinatorConfig) {
		c.OnSuccess = fn
	}
}

// WithOnFailure sets the failure callback.
func WithOnFailure(fn FailureHandler) Option {
	return func(c *CoordinatorConfig) {
		c.OnFailure = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l types.Logger) Option {
	return func(c *CoordinatorConfig) {
		c.Logger = l
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m types.MetricsCollector) Option {
	return func(c *CoordinatorConfig) {
		c.Metrics = m
	}
}
