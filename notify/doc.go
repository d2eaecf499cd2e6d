// Package notify provides broadcast notifiers announcing enqueue outcomes.
//
// Every Queue.Push broadcasts exactly one event: "added" when the request
// was durably queued, "failed" when it could not be. Broadcasts are
// fire-and-forget; a notifier error is logged by the queue and otherwise
// ignored.
//
// # Implementations
//
//   - [NATS]: Publishes JSON events on "<prefix>.<type>" subjects
//   - [Local]: Fans events out to in-process subscriber channels
package notify
