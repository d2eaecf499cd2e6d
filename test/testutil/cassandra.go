package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gocql/gocql"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/cassandra"
)

// CassandraContainer wraps a Cassandra test container.
type CassandraContainer struct {
	Container *cassandra.CassandraContainer
	Host      string
	Keyspace  string
	Session   *gocql.Session
}

// CassandraOptions configures the Cassandra container.
type CassandraOptions struct {
	// Image is the Cassandra image to use. Defaults to "cassandra:4.1".
	Image string
	// Keyspace is the keyspace to create. Defaults to "backsync_test".
	Keyspace string
}

// DefaultCassandraOptions returns default options for Cassandra container.
func DefaultCassandraOptions() CassandraOptions {
	return CassandraOptions{
		Image:    "cassandra:4.1",
		Keyspace: "backsync_test",
	}
}

// StartCassandra starts a Cassandra container for a single test.
//
// The container is automatically terminated when the test completes.
//
// Parameters:
//   - ctx: Context for container operations
//   - t: Testing context for cleanup registration
//   - opts: Optional configuration (nil uses defaults)
//
// Returns:
//   - *CassandraContainer: Container with connection details and session
//   - error: Error if container fails to start
func StartCassandra(ctx context.Context, t *testing.T, opts *CassandraOptions) (*CassandraContainer, error) {
	t.Helper()

	c, err := StartSharedCassandra(ctx, opts)
	if err != nil {
		return nil, err
	}

	t.Cleanup(func() {
		if err := c.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate Cassandra container: %v", err)
		}
	})

	return c, nil
}

// StartSharedCassandra starts a Cassandra container outside of a test, for
// use from TestMain. The caller must call Terminate.
func StartSharedCassandra(ctx context.Context, opts *CassandraOptions) (*CassandraContainer, error) {
	if opts == nil {
		defaultOpts := DefaultCassandraOptions()
		opts = &defaultOpts
	}

	container, err := cassandra.Run(ctx, opts.Image,
		testcontainers.WithEnv(map[string]string{
			"HEAP_NEWSIZE":     "128M",
			"MAX_HEAP_SIZE":    "512M",
			"CASSANDRA_SNITCH": "SimpleSnitch",
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start Cassandra container: %w", err)
	}

	c := &CassandraContainer{Container: container, Keyspace: opts.Keyspace}
	if err := c.connect(ctx); err != nil {
		_ = container.Terminate(context.Background())
		return nil, err
	}

	return c, nil
}

func (c *CassandraContainer) connect(ctx context.Context) error {
	host, err := c.Container.ConnectionHost(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection host: %w", err)
	}
	c.Host = host

	cluster := gocql.NewCluster(host)
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = 60 * time.Second
	cluster.ConnectTimeout = 60 * time.Second

	// Wait for Cassandra to be ready on the system keyspace.
	cluster.Keyspace = "system"
	var session *gocql.Session
	for i := 0; i < 10; i++ {
		session, err = cluster.CreateSession()
		if err == nil {
			break
		}
		time.Sleep(3 * time.Second)
	}
	if err != nil {
		return fmt.Errorf("failed to create session after retries: %w", err)
	}

	createKeyspaceQuery := fmt.Sprintf(`
		CREATE KEYSPACE IF NOT EXISTS %s
		WITH replication = {'class': 'SimpleStrategy', 'replication_factor': 1}
	`, c.Keyspace)

	err = session.Query(createKeyspaceQuery).WithContext(ctx).Exec()
	session.Close()
	if err != nil {
		return fmt.Errorf("failed to create keyspace: %w", err)
	}

	cluster.Keyspace = c.Keyspace
	session, err = cluster.CreateSession()
	if err != nil {
		return fmt.Errorf("failed to create session for keyspace %s: %w", c.Keyspace, err)
	}
	c.Session = session

	return nil
}

// Terminate closes the session and stops the container.
func (c *CassandraContainer) Terminate(ctx context.Context) error {
	if c.Session != nil {
		c.Session.Close()
	}

	return c.Container.Terminate(ctx)
}
