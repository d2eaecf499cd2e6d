// Package store provides backsync.Store implementations.
//
// # Backends
//
//   - Memory: in-process map, lost on restart. For tests and development.
//   - NATS: JetStream key/value bucket. Recommended for production.
//   - SQLite: single-file database through modernc.org/sqlite (no cgo).
//   - CQL: Cassandra/ScyllaDB table through gocql.
//   - DynamoDB: AWS DynamoDB table through aws-sdk-go-v2.
//
// Every backend accepts arbitrary string keys. Backends with a restricted key
// alphabet (NATS) encode keys transparently.
//
// # Lazy opening
//
// Opener caches one store per (namespace, version, name) and opens it on first
// use. A store that cannot be opened surfaces *types.StoreOpenError from every
// operation, which backsync.Queue.Push propagates to its caller:
//
//	opener := store.NewOpener(func(ctx context.Context, loc store.Location) (backsync.Store, error) {
//	    return store.OpenSQLite(ctx, filepath.Join(dir, loc.String()+".db"))
//	})
//	s := opener.Store(store.Location{Namespace: "backsync", Version: 1, Name: "requests"})
package store
