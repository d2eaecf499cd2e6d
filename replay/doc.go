// Package replay provides the replay coordinator for backsync queues.
//
// The [Coordinator] reacts to trigger tags: a queue tag ("backsync:<name>")
// replays that queue and the reserved [backsync.ReplayAllTag] replays every
// queue listed in the registry.
//
// # Replay Pass
//
// A pass snapshots the queue's order list and walks it in order:
//
//   - Entries that already carry a response are skipped
//   - Other entries are rebuilt and fetched
//   - A 2xx response is captured and attached to the entry
//   - Anything else is a failure; the pass continues with the next entry
//
// Failures are returned together as *types.ReplayError, so a trigger can
// re-arm the tag for the next connectivity signal.
//
// # Usage
//
//	trig := trigger.NewLocal()
//	coord, _ := replay.New(st, backsync.NewHTTPFetcher(nil),
//	    replay.WithTrigger(trig),
//	    replay.WithFetchTimeout(30*time.Second),
//	)
//	_ = coord.Start(ctx)
//	defer coord.Stop()
//
//	q, _ := coord.Queue("orders")
//	_, _ = q.Push(ctx, req) // arms "backsync:orders"
//
//	// Later, when connectivity returns:
//	trig.Fire(ctx)
//
// # Lifecycle
//
// Start installs the coordinator as the trigger's handler and starts a
// periodic cleanup loop reclaiming expired entries. Stop detaches the
// handler and waits for the loop.
package replay
