// Package integration_test provides end-to-end tests for backsync with real
// backends.
//
// # Running Integration Tests
//
// Integration tests are skipped with the -short flag:
//
//	go test -short ./...           # Skips integration tests
//	go test ./test/integration/... # Runs integration tests
//
// NATS and SQLite tests run in-process (embedded nats-server, a temporary
// database file). CQL tests need Docker and use testcontainers to start a
// Cassandra instance; set SKIP_INTEGRATION_TESTS=1 to skip the container.
package integration_test
