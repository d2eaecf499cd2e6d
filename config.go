package backsync

import (
	"context"
	"net/http"
	"time"

	"github.com/arloliu/backsync/internal/logging"
	"github.com/arloliu/backsync/internal/metrics"
	"github.com/arloliu/backsync/types"
)

// DefaultMaxAge is the default retention window of a queued entry.
const DefaultMaxAge = 7 * 24 * time.Hour

// Clock returns the current time.
//
// The default clock is time.Now.
type Clock func() time.Time

// EnqueueHandler is called after a push with the minted id and the request URL.
type EnqueueHandler func(id types.EntryID, url string)

// ExpireHandler is called for every entry reclaimed by Cleanup.
type ExpireHandler func(id types.EntryID)

// RequestHook rewrites a request before it is queued or before it is replayed.
//
// The hook may return the request it was given or a replacement. A hook
// error aborts the operation and is returned to the caller.
type RequestHook func(ctx context.Context, req *http.Request) (*http.Request, error)

// QueueConfig holds configuration for a Queue.
type QueueConfig struct {
	MaxAge           time.Duration
	Trigger          Trigger
	Notifier         Notifier
	Registry         *Registry
	Logger           types.Logger
	Metrics          MetricsCollector
	Clock            Clock
	OnEnqueueSuccess EnqueueHandler
	OnEnqueueFailure EnqueueHandler
	OnExpire         ExpireHandler
	BeforeEnqueue    RequestHook
	BeforeReplay     RequestHook
}

// DefaultQueueConfig returns a QueueConfig with sensible defaults.
//
// Trigger and Notifier are nil (no arming, no broadcast). Registry is nil,
// which makes NewQueue use a registry on the queue's own store.
//
// Returns:
//   - *QueueConfig: Configuration with default settings
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxAge:  DefaultMaxAge,
		Logger:  logging.NewNopLogger(),
		Metrics: metrics.NewNopMetrics(),
		Clock:   time.Now,
	}
}

// QueueOption configures a QueueConfig.
type QueueOption func(*QueueConfig)

// WithMaxAge sets how long entries are retained after creation.
//
// Parameters:
//   - d: Retention window (values <= 0 are ignored)
//
// Returns:
//   - QueueOption: Configuration option
func WithMaxAge(d time.Duration) QueueOption {
	return func(c *QueueConfig) {
		if d > 0 {
			c.MaxAge = d
		}
	}
}

// WithTrigger sets the trigger armed by every successful push.
//
// Parameters:
//   - trigger: The trigger implementation (e.g., trigger.Local, trigger.NATS)
//
// Returns:
//   - QueueOption: Configuration option
func WithTrigger(trigger Trigger) QueueOption {
	return func(c *QueueConfig) {
		c.Trigger = trigger
	}
}

// WithNotifier sets the broadcast notifier for enqueue events.
//
// Parameters:
//   - notifier: The notifier implementation (e.g., notify.NATS)
//
// Returns:
//   - QueueOption: Configuration option
func WithNotifier(notifier Notifier) QueueOption {
	return func(c *QueueConfig) {
		c.Notifier = notifier
	}
}

// WithRegistry sets the queue registry written by successful pushes.
func WithRegistry(registry *Registry) QueueOption {
	return func(c *QueueConfig) {
		c.Registry = registry
	}
}

// WithLogger sets the structured logger.
//
// If not set, a no-op logger is used that discards all messages.
//
// Parameters:
//   - logger: The logger implementation
//
// Returns:
//   - QueueOption: Configuration option
//
// Example:
//
//	import bslogrus "github.com/arloliu/backsync/contrib/logging/logrus"
//
//	queue, _ := backsync.NewQueue("orders", store,
//	    backsync.WithLogger(bslogrus.New(logrus.StandardLogger())),
//	)
func WithLogger(logger types.Logger) QueueOption {
	return func(c *QueueConfig) {
		c.Logger = logger
	}
}

// WithMetrics sets the metrics collector.
//
// If not set, a no-op collector is used that discards all metrics.
// Use contrib/metrics/vm.New() for VictoriaMetrics integration.
func WithMetrics(collector MetricsCollector) QueueOption {
	return func(c *QueueConfig) {
		c.Metrics = collector
	}
}

// WithClock sets the time source used for ids, creation timestamps and expiry.
func WithClock(clock Clock) QueueOption {
	return func(c *QueueConfig) {
		c.Clock = clock
	}
}

// WithOnEnqueueSuccess sets a callback for durably queued requests.
func WithOnEnqueueSuccess(handler EnqueueHandler) QueueOption {
	return func(c *QueueConfig) {
		c.OnEnqueueSuccess = handler
	}
}

// WithOnEnqueueFailure sets a callback for requests that could not be queued.
//
// The request is not in the queue when this fires; callers must treat it as
// lost.
//
// Parameters:
//   - handler: Function called with the minted id and the request URL
//
// Returns:
//   - QueueOption: Configuration option
//
// Example:
//
//	backsync.WithOnEnqueueFailure(func(id types.EntryID, url string) {
//	    log.Error("request not queued", "id", id, "url", url)
//	})
func WithOnEnqueueFailure(handler EnqueueHandler) QueueOption {
	return func(c *QueueConfig) {
		c.OnEnqueueFailure = handler
	}
}

// WithOnExpire sets a callback for entries reclaimed by Cleanup.
func WithOnExpire(handler ExpireHandler) QueueOption {
	return func(c *QueueConfig) {
		c.OnExpire = handler
	}
}

// WithBeforeEnqueue sets a hook that rewrites requests before they are queued.
func WithBeforeEnqueue(hook RequestHook) QueueOption {
	return func(c *QueueConfig) {
		c.BeforeEnqueue = hook
	}
}

// WithBeforeReplay sets a hook that rewrites rehydrated requests before replay.
func WithBeforeReplay(hook RequestHook) QueueOption {
	return func(c *QueueConfig) {
		c.BeforeReplay = hook
	}
}

// PushFailureHandler is called when one push could not be queued, with the
// minted id and the cause.
type PushFailureHandler func(id types.EntryID, cause error)

// pushConfig holds per-push overrides.
type pushConfig struct {
	maxAge    time.Duration
	onFailure PushFailureHandler
}

// PushOption configures a single Push call.
type PushOption func(*pushConfig)

// WithEntryMaxAge overrides the queue's retention window for one entry.
func WithEntryMaxAge(d time.Duration) PushOption {
	return func(c *pushConfig) {
		if d > 0 {
			c.maxAge = d
		}
	}
}

// WithPushFailure sets a callback for this push only, called when the
// request could not be queued. It runs before Push returns, after the
// queue-level failure callback.
//
// Example:
//
//	var lost error
//	id, err := q.Push(ctx, req, backsync.WithPushFailure(func(_ types.EntryID, cause error) {
//	    lost = cause
//	}))
//	if err == nil && lost != nil {
//	    // not queued
//	}
func WithPushFailure(handler PushFailureHandler) PushOption {
	return func(c *pushConfig) {
		c.onFailure = handler
	}
}
