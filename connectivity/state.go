package connectivity

import (
	"context"
	"sync"

	"github.com/arloliu/backsync/types"
)

// state tracks the current reachability and fans changes out to a single
// buffered channel. It is shared by every watcher in this package.
type state struct {
	mu            sync.RWMutex
	online        bool
	reason        string
	updates       chan types.ConnectivityUpdate
	done          chan struct{}
	closed        bool
	watchStarted  bool
	updatesClosed bool
}

func newState() *state {
	return &state{
		online:  true,
		updates: make(chan types.ConnectivityUpdate, 10),
		done:    make(chan struct{}),
	}
}

// set records the new state and emits an update if it changed.
func (s *state) set(online bool, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.updatesClosed || s.online == online {
		return false
	}
	s.online = online
	s.reason = reason

	// Non-blocking; a slow reader only misses intermediate flips.
	select {
	case s.updates <- types.ConnectivityUpdate{Online: online, Reason: reason}:
	default:
	}

	return true
}

func (s *state) isOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.online
}

func (s *state) getReason() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.reason
}

// startWatch reports whether this is the first Watch call.
func (s *state) startWatch() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.watchStarted {
		return false
	}
	s.watchStarted = true

	return true
}

func (s *state) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}

func (s *state) closeUpdates() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.updatesClosed {
		s.updatesClosed = true
		close(s.updates)
	}
}

// waitForClose closes the updates channel once ctx ends or close is called.
func (s *state) waitForClose(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-s.done:
	}
	s.closeUpdates()
}
