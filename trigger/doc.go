// Package trigger provides one-shot replay triggers for backsync queues.
//
// A queue registers (arms) its tag on every successful push. When the
// trigger fires, every armed tag is disarmed and dispatched once to the
// installed handler, usually replay.Coordinator.HandleTrigger. A handler
// error re-arms the tag so the next signal retries it.
//
// # Implementations
//
//   - [Local]: In-process armed set; fired explicitly with Fire
//   - [NATS]: Armed tags persisted in a JetStream KV bucket, fired through a
//     core NATS subject so any process can signal and exactly one process
//     of the queue group claims each tag
//
// Handler invocations run in tracked goroutines; Close waits for them.
package trigger
