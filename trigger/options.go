package trigger

import (
	"time"

	"github.com/arloliu/backsync/internal/logging"
	"github.com/arloliu/backsync/types"
)

// Config holds configuration shared by the trigger implementations.
type Config struct {
	// Bucket is the JetStream KV bucket holding armed tags (NATS only).
	// Default: "backsync-triggers"
	Bucket string

	// Subject is the core NATS subject fire signals are published on
	// (NATS only).
	// Default: "backsync.trigger.fire"
	Subject string

	// QueueGroup is the subscription queue group; one member handles each
	// fire signal (NATS only).
	// Default: "backsync-replay"
	QueueGroup string

	// OpTimeout bounds the flush of a fire signal when the caller's context
	// has no deadline, and every re-arm write (NATS only).
	// Default: 5 seconds
	OpTimeout time.Duration

	// Logger is the structured logger.
	// If nil, no logs are emitted.
	Logger types.Logger
}

// DefaultConfig returns the default trigger configuration.
func DefaultConfig() Config {
	return Config{
		Bucket:     "backsync-triggers",
		Subject:    "backsync.trigger.fire",
		QueueGroup: "backsync-replay",
		OpTimeout:  5 * time.Second,
	}
}

// Option configures a trigger.
type Option func(*Config)

// WithBucket sets the KV bucket holding armed tags.
func WithBucket(bucket string) Option {
	return func(c *Config) {
		c.Bucket = bucket
	}
}

// WithSubject sets the subject of fire signals.
func WithSubject(subject string) Option {
	return func(c *Config) {
		c.Subject = subject
	}
}

// WithQueueGroup sets the queue group of the fire subscription.
func WithQueueGroup(group string) Option {
	return func(c *Config) {
		c.QueueGroup = group
	}
}

// WithOpTimeout sets the timeout of signal flushes and re-arm writes.
// Non-positive values keep the default.
func WithOpTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.OpTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l types.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

func newConfig(opts []Option) Config {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	config.Logger = logging.OrNop(config.Logger)

	return config
}
