package connectivity

import (
	"context"

	"github.com/arloliu/backsync"
	"github.com/arloliu/backsync/types"
)

// Local provides an in-memory connectivity watcher and operator.
//
// Unlike NATS and Probe, this implementation is driven programmatically
// through SetOnline, which makes it the natural choice for unit tests and
// for hosts that already know their reachability (e.g. from an OS hook).
type Local struct {
	st *state
}

var (
	_ backsync.ConnectivityWatcher  = (*Local)(nil)
	_ backsync.ConnectivityOperator = (*Local)(nil)
)

// NewLocal creates a new in-memory watcher in the online state.
func NewLocal() *Local {
	return &Local{st: newState()}
}

// Watch returns a channel that receives connectivity changes.
//
// Updates are emitted when SetOnline changes the state. The channel is
// closed when Close is called or the context of the first call ends.
// Multiple calls to Watch return the same channel.
func (l *Local) Watch(ctx context.Context) <-chan types.ConnectivityUpdate {
	if l.st.startWatch() {
		go l.st.waitForClose(ctx)
	}

	return l.st.updates
}

// SetOnline sets the connectivity state and emits an update if it changed.
//
// Parameters:
//   - ctx: Unused; accepted for interface compliance
//   - online: true when the network is reachable
//   - reason: Human-readable explanation
//
// Returns:
//   - error: Always nil for the local implementation
func (l *Local) SetOnline(_ context.Context, online bool, reason string) error {
	l.st.set(online, reason)

	return nil
}

// IsOnline returns the current state.
func (l *Local) IsOnline() bool {
	return l.st.isOnline()
}

// Reason returns the reason given with the last change.
func (l *Local) Reason() string {
	return l.st.getReason()
}

// Close stops the watcher. It is safe to call multiple times.
func (l *Local) Close() error {
	l.st.close()

	return nil
}
