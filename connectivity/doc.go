// Package connectivity provides network reachability signals for backsync.
//
// A replay pass is only worth running when the upstream is reachable. The
// watchers in this package emit a types.ConnectivityUpdate whenever
// reachability changes; callers typically fire their trigger on every
// offline-to-online transition.
//
// # Implementations
//
//   - [NATS]: Watches a NATS KV key written by operators or other processes
//   - [Local]: In-memory watcher and operator for tests and demos
//   - [Probe]: Periodically sends an HTTP request to a probe URL
//
// Every watcher starts in the online state and only emits changes.
package connectivity
