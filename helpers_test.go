package backsync_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/backsync"
)

var errBoom = errors.New("boom")

// fakeClock is a settable clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingTrigger records registered tags and can be made to fail.
type recordingTrigger struct {
	mu      sync.Mutex
	tags    []string
	err     error
	handler backsync.TriggerHandler
}

var _ backsync.Trigger = (*recordingTrigger)(nil)

func (r *recordingTrigger) Register(_ context.Context, tag string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.tags = append(r.tags, tag)

	return nil
}

func (r *recordingTrigger) OnTrigger(h backsync.TriggerHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = h
}

func (r *recordingTrigger) Tags() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.tags...)
}

func newRequest(t *testing.T, method, url, body string) *http.Request {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)

	return req
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()

	u, err := url.Parse(raw)
	require.NoError(t, err)

	return u
}
