package testutil

import (
	"sync"
	"sync/atomic"

	"github.com/arloliu/backsync/types"
)

// TestMetricsCollector is a test implementation of types.MetricsCollector
// that tracks method calls per queue for assertions.
type TestMetricsCollector struct {
	mu sync.RWMutex

	// Enqueue
	Enqueued      map[string]int64
	EnqueueFailed map[string]int64
	QueueDepth    map[string]int

	// Replay
	ReplaySuccess  map[string]int64
	ReplayErrors   map[string]int64
	ReplaySkipped  map[string]int64
	ReplayDuration map[string][]float64

	// Retention
	Expired map[string]int64

	// Atomic counters for quick access
	totalEnqueued      atomic.Int64
	totalReplaySuccess atomic.Int64
}

// Compile-time assertion that TestMetricsCollector implements types.MetricsCollector.
var _ types.MetricsCollector = (*TestMetricsCollector)(nil)

// NewTestMetricsCollector creates a new test metrics collector.
func NewTestMetricsCollector() *TestMetricsCollector {
	return &TestMetricsCollector{
		Enqueued:       make(map[string]int64),
		EnqueueFailed:  make(map[string]int64),
		QueueDepth:     make(map[string]int),
		ReplaySuccess:  make(map[string]int64),
		ReplayErrors:   make(map[string]int64),
		ReplaySkipped:  make(map[string]int64),
		ReplayDuration: make(map[string][]float64),
		Expired:        make(map[string]int64),
	}
}

// ----------------------
// Enqueue
// ----------------------

func (m *TestMetricsCollector) IncEnqueued(queue string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Enqueued[queue]++
	m.totalEnqueued.Add(1)
}

func (m *TestMetricsCollector) IncEnqueueFailed(queue string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EnqueueFailed[queue]++
}

func (m *TestMetricsCollector) SetQueueDepth(queue string, depth int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.QueueDepth[queue] = depth
}

// ----------------------
// Replay
// ----------------------

func (m *TestMetricsCollector) IncReplaySuccess(queue string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReplaySuccess[queue]++
	m.totalReplaySuccess.Add(1)
}

func (m *TestMetricsCollector) IncReplayError(queue string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReplayErrors[queue]++
}

func (m *TestMetricsCollector) IncReplaySkipped(queue string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReplaySkipped[queue]++
}

func (m *TestMetricsCollector) ObserveReplayDuration(queue string, seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReplayDuration[queue] = append(m.ReplayDuration[queue], seconds)
}

// ----------------------
// Retention
// ----------------------

func (m *TestMetricsCollector) AddExpired(queue string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Expired[queue] += int64(n)
}

// ----------------------
// Accessors
// ----------------------

// TotalEnqueued returns the number of enqueued requests across all queues.
func (m *TestMetricsCollector) TotalEnqueued() int64 {
	return m.totalEnqueued.Load()
}

// TotalReplaySuccess returns the number of successful replays across all queues.
func (m *TestMetricsCollector) TotalReplaySuccess() int64 {
	return m.totalReplaySuccess.Load()
}

// GetEnqueued returns the enqueue count of a queue.
func (m *TestMetricsCollector) GetEnqueued(queue string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.Enqueued[queue]
}

// GetEnqueueFailed returns the enqueue failure count of a queue.
func (m *TestMetricsCollector) GetEnqueueFailed(queue string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.EnqueueFailed[queue]
}

// GetQueueDepth returns the last reported depth of a queue.
func (m *TestMetricsCollector) GetQueueDepth(queue string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.QueueDepth[queue]
}

// GetReplaySuccess returns the replay success count of a queue.
func (m *TestMetricsCollector) GetReplaySuccess(queue string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.ReplaySuccess[queue]
}

// GetReplayErrors returns the replay error count of a queue.
func (m *TestMetricsCollector) GetReplayErrors(queue string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.ReplayErrors[queue]
}

// GetReplaySkipped returns the skipped-entry count of a queue.
func (m *TestMetricsCollector) GetReplaySkipped(queue string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.ReplaySkipped[queue]
}

// GetExpired returns the number of expired entries reclaimed from a queue.
func (m *TestMetricsCollector) GetExpired(queue string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.Expired[queue]
}

// Reset clears all collected metrics.
func (m *TestMetricsCollector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	clear(m.Enqueued)
	clear(m.EnqueueFailed)
	clear(m.QueueDepth)
	clear(m.ReplaySuccess)
	clear(m.ReplayErrors)
	clear(m.ReplaySkipped)
	clear(m.ReplayDuration)
	clear(m.Expired)
	m.totalEnqueued.Store(0)
	m.totalReplaySuccess.Store(0)
}
