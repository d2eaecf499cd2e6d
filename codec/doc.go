// Package codec converts between live net/http values and the storage-safe
// snapshot types, and encodes persisted values with MessagePack.
//
// # Snapshots
//
// ToSnapshot and FromSnapshot translate an *http.Request to and from a
// types.RequestSnapshot. Request attributes that net/http has no field for
// (mode and redirect policy) travel on the request context as FetchOptions:
//
//	ctx := codec.WithFetchOptions(ctx, codec.FetchOptions{Redirect: types.RedirectManual})
//	snap, err := codec.ToSnapshot(req.WithContext(ctx))
//
// CaptureResponse converts a replay response into a types.ResponseSnapshot.
//
// # Persisted values
//
// MarshalRecord, MarshalQueueState and MarshalNames produce MessagePack maps
// whose first field is a format version. Decoders skip unknown fields and
// report malformed input as types.ErrCorruptRecord.
package codec
