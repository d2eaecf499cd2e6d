package testutil

import (
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"
)

// EmbeddedNATS is a running in-process NATS server with a client connection.
type EmbeddedNATS struct {
	Server *server.Server
	Conn   *nats.Conn
	JS     jetstream.JetStream
}

// StartNATSServer starts an embedded NATS server with JetStream enabled and
// connects a client to it.
//
// The server listens on a random available port and uses t.TempDir() for
// JetStream storage. The connection and server are shut down when the test
// completes.
//
// Parameters:
//   - t: The testing context
//
// Returns:
//   - *EmbeddedNATS: Server, connection and JetStream context
func StartNATSServer(t *testing.T) *EmbeddedNATS {
	t.Helper()

	opts := &server.Options{
		Host:      "127.0.0.1",
		Port:      -1, // Random available port
		JetStream: true,
		StoreDir:  t.TempDir(),
	}

	ns, err := server.NewServer(opts)
	require.NoError(t, err, "failed to create NATS server")

	ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready for connections")
	}

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err, "failed to connect to NATS server")

	js, err := jetstream.New(nc)
	require.NoError(t, err, "failed to create JetStream context")

	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
	})

	return &EmbeddedNATS{Server: ns, Conn: nc, JS: js}
}

// StartEmbeddedNATS starts an embedded NATS server and returns only the
// JetStream context. See StartNATSServer.
func StartEmbeddedNATS(t *testing.T) jetstream.JetStream {
	t.Helper()

	return StartNATSServer(t).JS
}

// Connect opens an additional client connection to the embedded server,
// closed when the test completes. Use it to simulate a second process.
func (e *EmbeddedNATS) Connect(t *testing.T) (*nats.Conn, jetstream.JetStream) {
	t.Helper()

	nc, err := nats.Connect(e.Server.ClientURL())
	require.NoError(t, err, "failed to connect to NATS server")

	js, err := jetstream.New(nc)
	require.NoError(t, err, "failed to create JetStream context")

	t.Cleanup(nc.Close)

	return nc, js
}
