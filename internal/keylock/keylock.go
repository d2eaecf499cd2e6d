// Package keylock provides in-process mutexes keyed by string.
package keylock

import "sync"

// Table hands out one mutex per key. Entries are reference counted and
// removed once no goroutine holds or waits for them, so the table does not
// grow with the number of distinct keys ever seen.
//
// The zero value is ready to use.
type Table struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// Lock acquires the mutex for key and returns its unlock function.
func (t *Table) Lock(key string) (unlock func()) {
	t.mu.Lock()
	if t.locks == nil {
		t.locks = make(map[string]*entry)
	}
	e, ok := t.locks[key]
	if !ok {
		e = &entry{}
		t.locks[key] = e
	}
	e.refs++
	t.mu.Unlock()

	e.mu.Lock()

	var once sync.Once

	return func() {
		once.Do(func() {
			e.mu.Unlock()

			t.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(t.locks, key)
			}
			t.mu.Unlock()
		})
	}
}

// Len returns the number of keys currently held or awaited.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.locks)
}
