package trigger

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/arloliu/backsync"
)

// ErrClosed is returned when registering on a closed trigger.
var ErrClosed = errors.New("backsync/trigger: trigger is closed")

// Local is an in-process trigger.
//
// Armed tags live in memory, so they do not survive a restart; pair it with
// replay.Coordinator.ReplayAll at startup when that matters.
type Local struct {
	d *dispatcher

	mu     sync.Mutex
	armed  map[string]struct{}
	closed bool
}

var _ backsync.Trigger = (*Local)(nil)

// NewLocal creates an in-process trigger.
func NewLocal(opts ...Option) *Local {
	config := newConfig(opts)

	return &Local{
		d:     newDispatcher(config.Logger),
		armed: make(map[string]struct{}),
	}
}

// Register arms tag. Arming an armed tag is a no-op.
func (l *Local) Register(_ context.Context, tag string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	l.armed[tag] = struct{}{}

	return nil
}

// OnTrigger installs the handler. A nil handler stops dispatching; armed
// tags then stay armed.
func (l *Local) OnTrigger(h backsync.TriggerHandler) {
	l.d.setHandler(h)
}

// Fire disarms every armed tag and dispatches each once, in tag order.
//
// Returns:
//   - int: Number of tags dispatched (0 without a handler)
func (l *Local) Fire(_ context.Context) int {
	h := l.d.getHandler()
	if h == nil {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0
	}
	tags := make([]string, 0, len(l.armed))
	for tag := range l.armed {
		tags = append(tags, tag)
	}
	clear(l.armed)

	slices.Sort(tags)
	for _, tag := range tags {
		l.d.dispatch(h, tag, l.rearm)
	}

	return len(tags)
}

// FireTag dispatches tag if it is armed.
//
// Returns:
//   - bool: true if the tag was armed and dispatched
func (l *Local) FireTag(_ context.Context, tag string) bool {
	h := l.d.getHandler()
	if h == nil {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.armed[tag]; !ok || l.closed {
		return false
	}
	delete(l.armed, tag)
	l.d.dispatch(h, tag, l.rearm)

	return true
}

// Armed returns the armed tags in sorted order.
func (l *Local) Armed() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	tags := make([]string, 0, len(l.armed))
	for tag := range l.armed {
		tags = append(tags, tag)
	}
	slices.Sort(tags)

	return tags
}

// Wait blocks until every dispatched handler has returned.
func (l *Local) Wait() {
	l.d.wait()
}

// Close stops accepting registrations, cancels running handlers and waits
// for them. It is safe to call multiple times.
func (l *Local) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	l.d.shutdown()

	return nil
}

func (l *Local) rearm(tag string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.closed {
		l.armed[tag] = struct{}{}
	}
}
