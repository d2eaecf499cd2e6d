// Package types provides shared types and error definitions for the backsync library.
//
// This is a leaf package with zero backsync imports to prevent import cycles.
// All packages in backsync can safely import this package.
//
// # Entries
//
// A queued request is persisted as an EntryRecord keyed by its EntryID:
//
//	type EntryRecord struct {
//	    Request  RequestSnapshot
//	    Config   EntryConfig   // MaxAge
//	    Metadata EntryMetadata // CreatedAt
//	    Response *ResponseSnapshot
//	}
//
// Headers on both snapshots are ordered []HeaderPair values, never maps.
//
// # Errors
//
// Sentinel errors are provided for common failure scenarios:
//
//   - ErrInvalidRequest: Push was given a nil or malformed request
//   - ErrInvalidQueue: A queue was built with an empty name or nil store
//   - ErrStoreClosed: The durable store has been closed
//   - ErrReplayInProgress: A replay pass is already running for the queue
//   - ErrUnknownTag: A trigger tag matched no queue
//
// Structured errors carry context and support errors.As:
//
//   - StoreOpenError: The store could not be opened (fatal)
//   - StatusError: A replay got a non-2xx response
//   - EntryError: One entry failed during a pass
//   - ReplayError: Aggregate of all entry failures of one pass
package types
