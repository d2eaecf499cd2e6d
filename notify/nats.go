package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/arloliu/backsync"
	"github.com/arloliu/backsync/types"
)

// NATSConfig configures the NATS notifier.
type NATSConfig struct {
	// SubjectPrefix prefixes event subjects; events are published on
	// "<prefix>.added" and "<prefix>.failed".
	// Default: "backsync.events"
	SubjectPrefix string

	// Origin identifies this process in published events.
	// Default: a random UUID
	Origin string
}

// DefaultNATSConfig returns the default configuration with a fresh origin.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		SubjectPrefix: "backsync.events",
		Origin:        uuid.NewString(),
	}
}

// NATSOption configures the NATS notifier.
type NATSOption func(*NATSConfig)

// WithSubjectPrefix sets the subject prefix.
func WithSubjectPrefix(prefix string) NATSOption {
	return func(c *NATSConfig) {
		c.SubjectPrefix = prefix
	}
}

// WithOrigin sets the origin stamped on published events.
func WithOrigin(origin string) NATSOption {
	return func(c *NATSConfig) {
		c.Origin = origin
	}
}

// NATS publishes events as JSON on core NATS subjects.
//
// Publishing is fire-and-forget: messages are buffered by the connection
// and lost if no subscriber is listening.
type NATS struct {
	nc     *nats.Conn
	config NATSConfig
}

var _ backsync.Notifier = (*NATS)(nil)

// NewNATS creates a NATS notifier.
//
// Parameters:
//   - nc: NATS connection
//   - opts: Optional configuration options
//
// Returns:
//   - *NATS: A new notifier
//   - error: Error if nc is nil
func NewNATS(nc *nats.Conn, opts ...NATSOption) (*NATS, error) {
	if nc == nil {
		return nil, errors.New("backsync/notify: nats connection is nil")
	}

	config := DefaultNATSConfig()
	for _, opt := range opts {
		opt(&config)
	}

	return &NATS{nc: nc, config: config}, nil
}

// Origin returns the origin stamped on published events.
func (n *NATS) Origin() string {
	return n.config.Origin
}

// Subject returns the subject events of type typ are published on.
func (n *NATS) Subject(typ types.EventType) string {
	return n.config.SubjectPrefix + "." + string(typ)
}

// Notify publishes event. An empty Origin is set to the notifier's origin.
func (n *NATS) Notify(_ context.Context, event types.Event) error {
	if event.Origin == "" {
		event.Origin = n.config.Origin
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("backsync/notify: encode event: %w", err)
	}
	if err := n.nc.Publish(n.Subject(event.Type), data); err != nil {
		return fmt.Errorf("backsync/notify: publish: %w", err)
	}

	return nil
}

// Subscribe delivers every event published under the prefix to fn.
// Undecodable messages are skipped. fn runs on the subscription's goroutine.
//
// Returns:
//   - *nats.Subscription: The subscription; Unsubscribe it when done
//   - error: Subscription failure
func (n *NATS) Subscribe(fn func(types.Event)) (*nats.Subscription, error) {
	sub, err := n.nc.Subscribe(n.config.SubjectPrefix+".>", func(msg *nats.Msg) {
		var event types.Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			return
		}
		fn(event)
	})
	if err != nil {
		return nil, fmt.Errorf("backsync/notify: subscribe: %w", err)
	}

	return sub, nil
}
