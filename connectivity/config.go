package connectivity

import (
	"net/http"
	"time"
)

// Status is the connectivity document stored in the NATS KV key.
//
// Operators PUT it to force a process offline during an upstream outage:
//
//	nats kv put backsync-config backsync.connectivity '{"online":false,"reason":"upstream maintenance"}'
type Status struct {
	Online bool   `json:"online"`
	Reason string `json:"reason,omitempty"`
}

// WatcherConfig holds configuration for the NATS watcher.
type WatcherConfig struct {
	// Key is the NATS KV key holding the Status document.
	// Default: "backsync.connectivity"
	Key string

	// PollInterval is the fallback polling interval if watch fails.
	// Default: 5 seconds
	PollInterval time.Duration

	// InitialFetchTimeout is the timeout for the initial KV fetch.
	// Default: 10 seconds
	InitialFetchTimeout time.Duration
}

// DefaultWatcherConfig returns a WatcherConfig with sensible defaults.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		Key:                 "backsync.connectivity",
		PollInterval:        5 * time.Second,
		InitialFetchTimeout: 10 * time.Second,
	}
}

// WatcherOption configures the NATS watcher.
type WatcherOption func(*WatcherConfig)

// WithKey sets the NATS KV key to watch.
//
// Parameters:
//   - key: The key name (e.g., "edge.gateway.connectivity")
//
// Returns:
//   - WatcherOption: Configuration option
func WithKey(key string) WatcherOption {
	return func(c *WatcherConfig) {
		c.Key = key
	}
}

// WithPollInterval sets the fallback polling interval.
//
// If the NATS watch fails or disconnects, the watcher falls back to
// polling at this interval.
func WithPollInterval(d time.Duration) WatcherOption {
	return func(c *WatcherConfig) {
		c.PollInterval = d
	}
}

// WithInitialFetchTimeout sets the timeout for the initial KV fetch.
func WithInitialFetchTimeout(d time.Duration) WatcherOption {
	return func(c *WatcherConfig) {
		c.InitialFetchTimeout = d
	}
}

// ProbeConfig holds configuration for the HTTP probe.
type ProbeConfig struct {
	// Method is the HTTP method of probe requests.
	// Default: HEAD
	Method string

	// Interval is the time between probes.
	// Default: 10 seconds
	Interval time.Duration

	// Timeout bounds a single probe request.
	// Default: 5 seconds
	Timeout time.Duration

	// FailureThreshold is the number of consecutive failed probes before the
	// watcher reports offline.
	// Default: 3
	FailureThreshold int

	// Client sends the probe requests.
	// Default: a dedicated client without keep-alives
	Client *http.Client
}

// DefaultProbeConfig returns a ProbeConfig with sensible defaults.
func DefaultProbeConfig() ProbeConfig {
	return ProbeConfig{
		Method:           http.MethodHead,
		Interval:         10 * time.Second,
		Timeout:          5 * time.Second,
		FailureThreshold: 3,
	}
}

// ProbeOption configures a Probe.
type ProbeOption func(*ProbeConfig)

// WithProbeMethod sets the HTTP method of probe requests.
func WithProbeMethod(method string) ProbeOption {
	return func(c *ProbeConfig) {
		c.Method = method
	}
}

// WithProbeInterval sets the time between probes.
func WithProbeInterval(d time.Duration) ProbeOption {
	return func(c *ProbeConfig) {
		c.Interval = d
	}
}

// WithProbeTimeout bounds a single probe request.
func WithProbeTimeout(d time.Duration) ProbeOption {
	return func(c *ProbeConfig) {
		c.Timeout = d
	}
}

// WithFailureThreshold sets the number of consecutive failed probes before
// the watcher reports offline.
//
// Parameters:
//   - n: Number of failures required (values below 1 are treated as 1)
//
// Returns:
//   - ProbeOption: Configuration option
func WithFailureThreshold(n int) ProbeOption {
	return func(c *ProbeConfig) {
		c.FailureThreshold = n
	}
}

// WithProbeClient sets the HTTP client used for probes.
func WithProbeClient(client *http.Client) ProbeOption {
	return func(c *ProbeConfig) {
		c.Client = client
	}
}
