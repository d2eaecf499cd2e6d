// Package vm provides a VictoriaMetrics-based implementation of the MetricsCollector interface.
//
// This package uses github.com/VictoriaMetrics/metrics for lightweight,
// Prometheus-compatible metrics collection.
//
// # Basic Usage
//
// Create a collector with default prefix "backsync":
//
//	collector := vm.New()
//	coord, _ := replay.New(store, fetcher,
//	    replay.WithMetrics(collector),
//	)
//
// # Exposing Metrics
//
//	http.HandleFunc("/metrics", collector.Handler)
//
// # Metrics Provided
//
// Every series carries a queue label.
//
// Enqueue:
//   - {prefix}_enqueued_total - Counter of durably queued requests
//   - {prefix}_enqueue_failed_total - Counter of requests that could not be queued
//   - {prefix}_queue_depth - Gauge of ids in the order list
//
// Replay:
//   - {prefix}_replay_success_total - Counter of successful entry replays
//   - {prefix}_replay_errors_total - Counter of failed entry replays
//   - {prefix}_replay_skipped_total - Counter of entries that already had a response
//   - {prefix}_replay_duration_seconds - Histogram of fetch latencies
//
// Retention:
//   - {prefix}_expired_total - Counter of entries reclaimed by cleanup
package vm
