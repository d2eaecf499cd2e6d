package vm

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/VictoriaMetrics/metrics"

	"github.com/arloliu/backsync/types"
)

// Option configures a Collector.
type Option func(*Collector)

// WithPrefix sets the metric name prefix.
//
// Default: "backsync"
//
// Parameters:
//   - prefix: The prefix to use for all metric names
//
// Returns:
//   - Option: A configuration option
func WithPrefix(prefix string) Option {
	return func(c *Collector) {
		c.prefix = prefix
	}
}

// WithMetricsSet sets the metrics set to use.
//
// If provided, the collector will register metrics with this set instead of
// creating a new one. The caller is responsible for exposing this set
// (e.g., via metrics.WritePrometheus or a custom handler).
//
// Parameters:
//   - set: The metrics set to use
//
// Returns:
//   - Option: A configuration option
func WithMetricsSet(set *metrics.Set) Option {
	return func(c *Collector) {
		c.set = set
	}
}

// Collector implements types.MetricsCollector using VictoriaMetrics.
//
// Queue names are only known at runtime, so series are created on first use
// with a queue label and cached by the metrics set. Thread-safe for
// concurrent use.
type Collector struct {
	set    *metrics.Set
	prefix string
}

var _ types.MetricsCollector = (*Collector)(nil)

// New creates a new VictoriaMetrics-based metrics collector.
//
// The collector creates its own metrics.Set and registers it globally unless
// WithMetricsSet is given.
//
// Parameters:
//   - opts: Configuration options (e.g., WithPrefix)
//
// Returns:
//   - *Collector: A new metrics collector ready for use
//
// Example:
//
//	collector := vm.New(vm.WithPrefix("myapp"))
//	queue, _ := backsync.NewQueue("orders", store,
//	    backsync.WithMetrics(collector),
//	)
func New(opts ...Option) *Collector {
	c := &Collector{
		prefix: "backsync",
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.set == nil {
		c.set = metrics.NewSet()
		metrics.RegisterSet(c.set)
	}

	return c
}

// Set returns the underlying metrics set.
func (c *Collector) Set() *metrics.Set {
	return c.set
}

// Handler exposes metrics in Prometheus format.
//
// Example:
//
//	http.HandleFunc("/metrics", collector.Handler)
func (c *Collector) Handler(w http.ResponseWriter, _ *http.Request) {
	c.set.WritePrometheus(w)
}

// WritePrometheus writes all metrics in Prometheus format to w.
func (c *Collector) WritePrometheus(w io.Writer) {
	c.set.WritePrometheus(w)
}

// name builds a series name like `backsync_enqueued_total{queue="orders"}`.
func (c *Collector) name(metric, queue string) string {
	return fmt.Sprintf(`%s_%s{queue=%s}`, c.prefix, metric, strconv.Quote(queue))
}

// ----------------------
// Enqueue
// ----------------------

// IncEnqueued increments the counter of durably queued requests.
func (c *Collector) IncEnqueued(queue string) {
	c.set.GetOrCreateCounter(c.name("enqueued_total", queue)).Inc()
}

// IncEnqueueFailed increments the counter of requests that could not be queued.
func (c *Collector) IncEnqueueFailed(queue string) {
	c.set.GetOrCreateCounter(c.name("enqueue_failed_total", queue)).Inc()
}

// SetQueueDepth sets the queue depth gauge.
func (c *Collector) SetQueueDepth(queue string, depth int) {
	c.set.GetOrCreateGauge(c.name("queue_depth", queue), nil).Set(float64(depth))
}

// ----------------------
// Replay
// ----------------------

// IncReplaySuccess increments the counter of successful entry replays.
func (c *Collector) IncReplaySuccess(queue string) {
	c.set.GetOrCreateCounter(c.name("replay_success_total", queue)).Inc()
}

// IncReplayError increments the counter of failed entry replays.
func (c *Collector) IncReplayError(queue string) {
	c.set.GetOrCreateCounter(c.name("replay_errors_total", queue)).Inc()
}

// IncReplaySkipped increments the counter of already replayed entries.
func (c *Collector) IncReplaySkipped(queue string) {
	c.set.GetOrCreateCounter(c.name("replay_skipped_total", queue)).Inc()
}

// ObserveReplayDuration records an entry replay duration in seconds.
func (c *Collector) ObserveReplayDuration(queue string, seconds float64) {
	c.set.GetOrCreateHistogram(c.name("replay_duration_seconds", queue)).Update(seconds)
}

// ----------------------
// Retention
// ----------------------

// AddExpired adds n to the counter of expired entries.
func (c *Collector) AddExpired(queue string, n int) {
	if n <= 0 {
		return
	}
	c.set.GetOrCreateCounter(c.name("expired_total", queue)).Add(n)
}
