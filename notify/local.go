package notify

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/arloliu/backsync"
	"github.com/arloliu/backsync/types"
)

// Local fans events out to in-process subscribers.
//
// Each subscriber owns a buffered channel. Notify never blocks: an event
// for a subscriber whose buffer is full is dropped and counted.
type Local struct {
	mu      sync.RWMutex
	subs    map[uint64]chan types.Event
	nextID  uint64
	closed  bool
	dropped atomic.Int64
}

var _ backsync.Notifier = (*Local)(nil)

// NewLocal creates an in-process notifier.
func NewLocal() *Local {
	return &Local{subs: make(map[uint64]chan types.Event)}
}

// Subscribe registers a subscriber with the given buffer size.
//
// Returns:
//   - <-chan types.Event: Events broadcast after the call
//   - func(): Cancels the subscription and closes the channel
func (l *Local) Subscribe(buffer int) (<-chan types.Event, func()) {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan types.Event, buffer)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		close(ch)
		return ch, func() {}
	}

	id := l.nextID
	l.nextID++
	l.subs[id] = ch

	var once sync.Once

	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if c, ok := l.subs[id]; ok {
				delete(l.subs, id)
				close(c)
			}
		})
	}
}

// Notify delivers event to every subscriber without blocking.
func (l *Local) Notify(_ context.Context, event types.Event) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, ch := range l.subs {
		select {
		case ch <- event:
		default:
			l.dropped.Add(1)
		}
	}

	return nil
}

// Dropped returns the number of events dropped because a subscriber's
// buffer was full.
func (l *Local) Dropped() int64 {
	return l.dropped.Load()
}

// Close closes every subscriber channel. It is safe to call multiple times.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	for id, ch := range l.subs {
		delete(l.subs, id)
		close(ch)
	}

	return nil
}
