package types

// MetricsCollector defines methods for collecting operational metrics.
//
// All methods accept the queue name for labeling. Implementations should be
// thread-safe as methods may be called concurrently from pushes and replays.
//
// Example usage with VictoriaMetrics (via contrib/metrics/vm):
//
//	import vmmetrics "github.com/arloliu/backsync/contrib/metrics/vm"
//
//	collector := vmmetrics.New(vmmetrics.WithPrefix("myapp"))
//	queue, _ := backsync.NewQueue("orders", store,
//	    backsync.WithMetrics(collector),
//	)
//
//	// Expose metrics via HTTP
//	http.HandleFunc("/metrics", collector.Handler)
type MetricsCollector interface {
	// ----------------------
	// Enqueue
	// ----------------------

	// IncEnqueued increments the counter of durably queued requests.
	IncEnqueued(queue string)

	// IncEnqueueFailed increments the counter of requests that could not be queued.
	IncEnqueueFailed(queue string)

	// SetQueueDepth sets the current number of ids in the queue's order list.
	SetQueueDepth(queue string, depth int)

	// ----------------------
	// Replay
	// ----------------------

	// IncReplaySuccess increments the counter of successful entry replays.
	IncReplaySuccess(queue string)

	// IncReplayError increments the counter of failed entry replays.
	IncReplayError(queue string)

	// IncReplaySkipped increments the counter of entries skipped because
	// they already carry a response.
	IncReplaySkipped(queue string)

	// ObserveReplayDuration records a single entry replay duration in seconds.
	ObserveReplayDuration(queue string, seconds float64)

	// ----------------------
	// Retention
	// ----------------------

	// AddExpired adds n to the counter of entries reclaimed by cleanup.
	AddExpired(queue string, n int)
}
