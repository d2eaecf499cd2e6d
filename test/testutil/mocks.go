package testutil

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/arloliu/backsync"
	"github.com/arloliu/backsync/types"
)

// ----------------------
// Store
// ----------------------

// FaultyStore wraps a Store and injects errors per operation and key.
//
// An error registered for key "" applies to every key.
type FaultyStore struct {
	backsync.Store

	mu        sync.Mutex
	getErrs   map[string]error
	putErrs   map[string]error
	delErrs   map[string]error
	keysErr   error
	putCalls  int
	failCount map[string]int
}

// Compile-time assertion that FaultyStore implements backsync.Store.
var _ backsync.Store = (*FaultyStore)(nil)

// NewFaultyStore wraps inner.
func NewFaultyStore(inner backsync.Store) *FaultyStore {
	return &FaultyStore{
		Store:     inner,
		getErrs:   make(map[string]error),
		putErrs:   make(map[string]error),
		delErrs:   make(map[string]error),
		failCount: make(map[string]int),
	}
}

// SetGetError makes Get of key fail with err. A nil err clears it.
func (s *FaultyStore) SetGetError(key string, err error) {
	s.set(s.getErrs, key, err)
}

// SetPutError makes Put of key fail with err. A nil err clears it.
func (s *FaultyStore) SetPutError(key string, err error) {
	s.set(s.putErrs, key, err)
}

// SetDeleteError makes Delete of key fail with err. A nil err clears it.
func (s *FaultyStore) SetDeleteError(key string, err error) {
	s.set(s.delErrs, key, err)
}

// SetKeysError makes Keys fail with err. A nil err clears it.
func (s *FaultyStore) SetKeysError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keysErr = err
}

// PutCalls returns the number of Put calls, failed or not.
func (s *FaultyStore) PutCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.putCalls
}

// Failures returns how many injected errors were returned for op
// ("get", "put", "delete" or "keys").
func (s *FaultyStore) Failures(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.failCount[op]
}

func (s *FaultyStore) set(m map[string]error, key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err == nil {
		delete(m, key)
		return
	}
	m[key] = err
}

func (s *FaultyStore) lookup(op string, m map[string]error, key string) error {
	err, ok := m[key]
	if !ok {
		err, ok = m[""]
	}
	if ok {
		s.failCount[op]++
	}

	return err
}

func (s *FaultyStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	err := s.lookup("get", s.getErrs, key)
	s.mu.Unlock()
	if err != nil {
		return nil, false, err
	}

	return s.Store.Get(ctx, key)
}

func (s *FaultyStore) Put(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	s.putCalls++
	err := s.lookup("put", s.putErrs, key)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	return s.Store.Put(ctx, key, value)
}

func (s *FaultyStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	err := s.lookup("delete", s.delErrs, key)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	return s.Store.Delete(ctx, key)
}

func (s *FaultyStore) Keys(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	err := s.keysErr
	if err != nil {
		s.failCount["keys"]++
	}
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	return s.Store.Keys(ctx)
}

// ----------------------
// Fetcher
// ----------------------

// MockResponse is a scripted fetch outcome.
type MockResponse struct {
	Status int
	Body   string
	Header http.Header
	Err    error
}

// MockFetcher is a scripted backsync.Fetcher that records every call.
//
// Unscripted URLs answer 200 "ok".
type MockFetcher struct {
	mu        sync.Mutex
	responses map[string]MockResponse
	calls     []string
	bodies    []string
	gate      <-chan struct{}
	started   chan string
}

// Compile-time assertion that MockFetcher implements backsync.Fetcher.
var _ backsync.Fetcher = (*MockFetcher)(nil)

// NewMockFetcher creates a fetcher that answers 200 "ok" to everything.
func NewMockFetcher() *MockFetcher {
	return &MockFetcher{
		responses: make(map[string]MockResponse),
		started:   make(chan string, 1024),
	}
}

// Respond scripts the response for url.
func (f *MockFetcher) Respond(url string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[url] = MockResponse{Status: status, Body: body}
}

// Fail scripts a network error for url.
func (f *MockFetcher) Fail(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[url] = MockResponse{Err: err}
}

// Reset removes the script for url, restoring the 200 "ok" default.
func (f *MockFetcher) Reset(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.responses, url)
}

// SetGate makes every fetch block until gate is closed or the request
// context ends.
func (f *MockFetcher) SetGate(gate <-chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = gate
}

// Started receives the URL of every fetch as it begins.
func (f *MockFetcher) Started() <-chan string {
	return f.started
}

// Calls returns the URLs fetched so far, in call order.
func (f *MockFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.calls...)
}

// Bodies returns the request bodies sent so far, in call order.
func (f *MockFetcher) Bodies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.bodies...)
}

// CallCount returns the number of fetches of url.
func (f *MockFetcher) CallCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, c := range f.calls {
		if c == url {
			n++
		}
	}

	return n
}

// Fetch records the call and returns the scripted outcome.
func (f *MockFetcher) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	url := req.URL.String()

	var body string
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		_ = req.Body.Close()
		body = string(b)
	}

	f.mu.Lock()
	f.calls = append(f.calls, url)
	f.bodies = append(f.bodies, body)
	resp, scripted := f.responses[url]
	gate := f.gate
	f.mu.Unlock()

	select {
	case f.started <- url:
	default:
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if !scripted {
		resp = MockResponse{Status: http.StatusOK, Body: "ok"}
	}
	if resp.Err != nil {
		return nil, resp.Err
	}

	header := resp.Header
	if header == nil {
		header = http.Header{"Content-Type": {"text/plain"}}
	}

	return &http.Response{
		StatusCode: resp.Status,
		Header:     header.Clone(),
		Body:       io.NopCloser(strings.NewReader(resp.Body)),
		Request:    req,
	}, nil
}

// ----------------------
// Notifier
// ----------------------

// RecordingNotifier records every broadcast event.
type RecordingNotifier struct {
	mu     sync.Mutex
	events []types.Event
	err    error
}

// Compile-time assertion that RecordingNotifier implements backsync.Notifier.
var _ backsync.Notifier = (*RecordingNotifier)(nil)

// NewRecordingNotifier creates an empty recorder.
func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{}
}

// SetError makes Notify return err after recording the event.
func (n *RecordingNotifier) SetError(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
}

// Notify records event.
func (n *RecordingNotifier) Notify(_ context.Context, event types.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)

	return n.err
}

// Events returns the recorded events in order.
func (n *RecordingNotifier) Events() []types.Event {
	n.mu.Lock()
	defer n.mu.Unlock()

	return append([]types.Event(nil), n.events...)
}

// EventsOfType returns the recorded events of type typ.
func (n *RecordingNotifier) EventsOfType(typ types.EventType) []types.Event {
	n.mu.Lock()
	defer n.mu.Unlock()

	var out []types.Event
	for _, e := range n.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}

	return out
}
