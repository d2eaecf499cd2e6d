package integration_test

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocql/gocql"

	"github.com/arloliu/backsync/test/testutil"
)

// sharedCassandra is started once for all CQL tests.
var sharedCassandra *testutil.CassandraContainer

// TestMain starts the shared Cassandra container unless integration tests
// are disabled, then runs every test. Tests needing Cassandra skip
// themselves when it is unavailable.
func TestMain(m *testing.M) {
	flag.Parse()

	if !testing.Short() && os.Getenv("SKIP_INTEGRATION_TESTS") != "1" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		fmt.Println("Starting shared Cassandra container for integration tests...")

		c, err := testutil.StartSharedCassandra(ctx, nil)
		cancel()
		if err != nil {
			fmt.Printf("Cassandra unavailable, CQL tests will be skipped: %v\n", err)
		} else {
			sharedCassandra = c
		}
	}

	code := m.Run()

	if sharedCassandra != nil {
		_ = sharedCassandra.Terminate(context.Background())
	}

	os.Exit(code)
}

func skipIfShort(t *testing.T) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if os.Getenv("SKIP_INTEGRATION_TESTS") == "1" {
		t.Skip("skipping integration test (SKIP_INTEGRATION_TESTS=1)")
	}
}

// getSharedSession returns the shared gocql session.
// Do not close it; TestMain does.
func getSharedSession(t *testing.T) *gocql.Session {
	t.Helper()
	skipIfShort(t)

	if sharedCassandra == nil {
		t.Skip("shared Cassandra not available (run with Docker)")
	}

	return sharedCassandra.Session
}

// uniqueName returns a table or bucket name unique to this run.
func uniqueName(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}

// flakyUpstream is an HTTP backend that drops connections while down.
type flakyUpstream struct {
	*httptest.Server
	down atomic.Bool

	mu       sync.Mutex
	received []string
}

func newFlakyUpstream(t *testing.T) *flakyUpstream {
	t.Helper()

	u := &flakyUpstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u.down.Load() {
			if hj, ok := w.(http.Hijacker); ok {
				if conn, _, err := hj.Hijack(); err == nil {
					_ = conn.Close()
				}
			}

			return
		}

		body, _ := io.ReadAll(r.Body)
		u.mu.Lock()
		u.received = append(u.received, r.Method+" "+r.URL.Path+" "+string(body))
		u.mu.Unlock()

		_, _ = w.Write([]byte("ack " + strings.TrimPrefix(r.URL.Path, "/")))
	}))
	t.Cleanup(u.Close)

	return u
}

func (u *flakyUpstream) calls() []string {
	u.mu.Lock()
	defer u.mu.Unlock()

	return append([]string(nil), u.received...)
}
