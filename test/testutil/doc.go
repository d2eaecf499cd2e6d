// Package testutil provides test utilities and mock implementations for backsync testing.
//
// # Mock Implementations
//
//   - [FaultyStore]: wraps a backsync.Store and injects errors per operation and key
//   - [MockFetcher]: scripted backsync.Fetcher recording every call in order
//   - [RecordingNotifier]: backsync.Notifier recording every broadcast event
//   - [TestMetricsCollector]: types.MetricsCollector with per-queue counters
//
// # Usage
//
//	fetcher := testutil.NewMockFetcher()
//	fetcher.Fail("https://api.example.com/b", errors.New("connection refused"))
//
//	coord, _ := replay.New(store, fetcher)
//	err := coord.ReplayQueue(ctx, "orders")
//	// fetcher.Calls() lists the URLs in replay order
//
// # Integration Test Helpers
//
//   - StartNATSServer / StartEmbeddedNATS: embedded NATS server with JetStream
//   - StartCassandra: Cassandra test container (requires Docker)
package testutil
