// Package backsync provides a persistent request-replay queue for clients
// with intermittent connectivity.
//
// Outgoing HTTP requests that fail because the network is unreachable are
// captured, persisted in a durable key/value store and replayed in FIFO
// order once connectivity returns. Delivery is at-least-once per queue.
//
// # Key Features
//
//   - Named Queues: Independent FIFO order lists sharing one store
//   - Durable Snapshots: Requests are stored as ordered headers plus raw body
//   - Pluggable Stores: NATS JetStream KV, SQLite, Cassandra/ScyllaDB, DynamoDB
//   - Trigger-Driven Replay: Pushing arms a per-queue tag; the replay
//     coordinator runs a pass when the tag fires
//   - Broadcast Events: "added" and "failed" events for every push
//
// # Basic Usage
//
//	js, _ := jetstream.New(nc)
//	st, err := store.NewNATS(ctx, js)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	queue, err := backsync.NewQueue("orders", st,
//	    backsync.WithMaxAge(24*time.Hour),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	resp, err := http.DefaultClient.Do(req)
//	if err != nil {
//	    // Network failure: keep the request for later.
//	    id, _ := queue.Push(ctx, req)
//	    log.Printf("queued %s", id)
//	}
//
// Replay is driven by a replay.Coordinator:
//
//	coord, _ := replay.New(st, backsync.NewHTTPFetcher(nil),
//	    replay.WithResponseStore(backsync.NewResponseStore(st)),
//	)
//	coord.AddQueue(queue)
//	err = coord.ReplayQueue(ctx, "orders")
//
// # Error Handling
//
// Push reports persistence failures through the notifier and the failure
// callback rather than its error result, because the caller has usually
// already lost the original response. It returns an error only for:
//
//   - types.ErrInvalidRequest: nil request or a URL that is not absolute
//   - *types.StoreOpenError: the store cannot be opened at all
//
// Replay passes aggregate entry failures into *types.ReplayError:
//
//	err := coord.ReplayQueue(ctx, "orders")
//	var replayErr *types.ReplayError
//	if errors.As(err, &replayErr) {
//	    for _, id := range replayErr.IDs() {
//	        log.Printf("still pending: %s", id)
//	    }
//	}
//
// # Retention
//
// Entries are kept until acknowledged with Queue.Remove or until their
// MaxAge elapses and Queue.Cleanup reclaims them. A successful replay
// attaches the response to the entry, and later passes skip it.
//
// # Thread Safety
//
// All exported types are safe for concurrent use. Mutations of one queue's
// order list are serialized within the process, so concurrent pushes never
// lose an append.
package backsync
