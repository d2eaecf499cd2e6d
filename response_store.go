package backsync

import (
	"context"
	"fmt"
	"net/http"

	"github.com/arloliu/backsync/codec"
	"github.com/arloliu/backsync/types"
)

// ResponseStore attaches replay responses to entry records and reads them back.
//
// The response lives inside the entry record, so attaching it is a single
// Store.Put of the rewritten record.
type ResponseStore struct {
	store     Store
	bodyLimit int64
}

// ResponseStoreOption configures a ResponseStore.
type ResponseStoreOption func(*ResponseStore)

// WithResponseBodyLimit caps the size of captured response bodies.
// Larger responses fail with types.ErrBodyTooLarge. Default: unlimited.
func WithResponseBodyLimit(limit int64) ResponseStoreOption {
	return func(s *ResponseStore) {
		s.bodyLimit = limit
	}
}

// NewResponseStore creates a response store on store.
func NewResponseStore(store Store, opts ...ResponseStoreOption) *ResponseStore {
	s := &ResponseStore{store: store}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Put captures resp, attaches it to rec and persists the record under id.
//
// rec is not modified; the stored record is a copy with Response set.
// Put consumes and closes resp.Body. It does not check that id is still
// queued; the replay coordinator goes through Queue.AttachResponse instead.
//
// Parameters:
//   - ctx: Context for cancellation
//   - id: The entry id
//   - rec: The record loaded for the replay
//   - resp: The successful replay response
//
// Returns:
//   - *types.ResponseSnapshot: The captured response
//   - error: Capture or store failure
func (s *ResponseStore) Put(ctx context.Context, id types.EntryID, rec *types.EntryRecord, resp *http.Response) (*types.ResponseSnapshot, error) {
	snap, err := s.Capture(resp)
	if err != nil {
		return nil, err
	}
	if err := s.Attach(ctx, id, rec, snap); err != nil {
		return nil, err
	}

	return snap, nil
}

// Capture reads resp into a snapshot, honoring the body limit. It consumes
// and closes resp.Body.
func (s *ResponseStore) Capture(resp *http.Response) (*types.ResponseSnapshot, error) {
	snap, err := codec.CaptureResponseLimit(resp, s.bodyLimit)
	if err != nil {
		return nil, err
	}

	return &snap, nil
}

// Attach persists a copy of rec with snap as its response under id.
func (s *ResponseStore) Attach(ctx context.Context, id types.EntryID, rec *types.EntryRecord, snap *types.ResponseSnapshot) error {
	updated := *rec
	updated.Response = snap

	data, err := codec.MarshalRecord(&updated)
	if err != nil {
		return err
	}
	if err := s.store.Put(ctx, string(id), data); err != nil {
		return fmt.Errorf("backsync: save response %s: %w", id, err)
	}

	return nil
}

// Get returns the stored response of id.
//
// Returns:
//   - *types.ResponseSnapshot: The response (nil when absent)
//   - bool: false if the record does not exist or has no response yet
//   - error: Store or decode failure
func (s *ResponseStore) Get(ctx context.Context, id types.EntryID) (*types.ResponseSnapshot, bool, error) {
	data, ok, err := s.store.Get(ctx, string(id))
	if err != nil {
		return nil, false, fmt.Errorf("backsync: load response %s: %w", id, err)
	}
	if !ok {
		return nil, false, nil
	}

	rec, err := codec.UnmarshalRecord(data)
	if err != nil {
		return nil, false, err
	}
	if rec.Response == nil {
		return nil, false, nil
	}

	return rec.Response, true, nil
}
