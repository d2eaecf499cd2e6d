// Package metrics provides internal metrics utilities for backsync.
package metrics

import "github.com/arloliu/backsync/types"

// NopMetrics is a no-op metrics collector that discards all metrics.
//
// This is used as the default metrics collector when no collector is configured,
// avoiding nil checks throughout the codebase.
type NopMetrics struct{}

// Compile-time assertion that NopMetrics implements types.MetricsCollector.
var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNopMetrics creates a new no-op metrics collector.
//
// Returns:
//   - *NopMetrics: A collector that discards all metrics
func NewNopMetrics() *NopMetrics {
	return &NopMetrics{}
}

// ----------------------
// Enqueue
// ----------------------

// IncEnqueued discards the metric.
func (m *NopMetrics) IncEnqueued(_ string) {}

// IncEnqueueFailed discards the metric.
func (m *NopMetrics) IncEnqueueFailed(_ string) {}

// SetQueueDepth discards the metric.
func (m *NopMetrics) SetQueueDepth(_ string, _ int) {}

// ----------------------
// Replay
// ----------------------

// IncReplaySuccess discards the metric.
func (m *NopMetrics) IncReplaySuccess(_ string) {}

// IncReplayError discards the metric.
func (m *NopMetrics) IncReplayError(_ string) {}

// IncReplaySkipped discards the metric.
func (m *NopMetrics) IncReplaySkipped(_ string) {}

// ObserveReplayDuration discards the metric.
func (m *NopMetrics) ObserveReplayDuration(_ string, _ float64) {}

// ----------------------
// Retention
// ----------------------

// AddExpired discards the metric.
func (m *NopMetrics) AddExpired(_ string, _ int) {}
