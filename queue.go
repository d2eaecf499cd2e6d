package backsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/arloliu/backsync/codec"
	"github.com/arloliu/backsync/internal/logging"
	"github.com/arloliu/backsync/internal/metrics"
	"github.com/arloliu/backsync/types"
)

// Queue is a named FIFO of failed requests persisted in a Store.
//
// The order list is stored under the queue name and each entry record under
// its EntryID. The store is the source of truth: Queue keeps no entry list in
// memory, so several Queue values (or processes) sharing a store see the same
// entries. Mutations of one queue are serialized in-process by queue name.
//
// Queue is safe for concurrent use from multiple goroutines.
type Queue struct {
	name     string
	store    Store
	cfg      *QueueConfig
	registry *Registry

	// seq is the highest sequence number minted by this value. It guards
	// against reuse when the persisted state could not be read.
	seq atomic.Uint64
}

// NewQueue creates a queue backed by store.
//
// Construction performs no I/O; the queue is registered on its first
// successful Push.
//
// Parameters:
//   - name: Queue name. Must be non-empty, must not contain '!' and must not
//     equal RegistryKey.
//   - store: Durable store for the order list and entry records
//   - opts: Optional configuration
//
// Returns:
//   - *Queue: A new queue
//   - error: types.ErrInvalidQueue for an invalid name or nil store
func NewQueue(name string, store Store, opts ...QueueOption) (*Queue, error) {
	if err := ValidateQueueName(name); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", types.ErrInvalidQueue)
	}

	cfg := DefaultQueueConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	cfg.Logger = logging.OrNop(cfg.Logger)
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNopMetrics()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry(store)
	}

	return &Queue{
		name:     name,
		store:    store,
		cfg:      cfg,
		registry: registry,
	}, nil
}

// ValidateQueueName reports whether name can be used as a queue name.
func ValidateQueueName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty name", types.ErrInvalidQueue)
	case name == RegistryKey:
		return fmt.Errorf("%w: name %q is reserved", types.ErrInvalidQueue, name)
	case strings.Contains(name, "!"):
		return fmt.Errorf("%w: name %q contains '!'", types.ErrInvalidQueue, name)
	}

	return nil
}

// Name returns the queue name.
func (q *Queue) Name() string {
	return q.name
}

// Tag returns the trigger tag that replays this queue.
func (q *Queue) Tag() string {
	return QueueTag(q.name)
}

// MaxAge returns the default retention window of new entries.
func (q *Queue) MaxAge() time.Duration {
	return q.cfg.MaxAge
}

// Push durably queues req for a later replay.
//
// The steps run in order under the queue's lock: mint an id, snapshot the
// request, persist the order list with the id appended, persist the entry
// record, register the queue, arm the queue's trigger and broadcast an
// "added" event. If any step after minting fails, the partial state is
// rolled back, a "failed" event is broadcast and the failure callback runs;
// the id is still returned but the request is not queued.
//
// Push consumes req.Body.
//
// Parameters:
//   - ctx: Context for cancellation
//   - req: The request to queue. Its URL must be absolute.
//   - opts: Per-entry overrides
//
// Returns:
//   - types.EntryID: The minted id (empty only on validation errors)
//   - error: types.ErrInvalidRequest, a before-enqueue hook error, or
//     *types.StoreOpenError when the store cannot be opened. Every other
//     failure is reported through the notifier, the failure callback and
//     WithPushFailure.
func (q *Queue) Push(ctx context.Context, req *http.Request, opts ...PushOption) (types.EntryID, error) {
	if req == nil || req.URL == nil {
		return "", fmt.Errorf("%w: nil request", types.ErrInvalidRequest)
	}

	pc := pushConfig{maxAge: q.cfg.MaxAge}
	for _, opt := range opts {
		opt(&pc)
	}

	if q.cfg.BeforeEnqueue != nil {
		hooked, err := q.cfg.BeforeEnqueue(ctx, req)
		if err != nil {
			return "", fmt.Errorf("backsync: before-enqueue hook: %w", err)
		}
		if hooked != nil {
			req = hooked
		}
	}

	snap, snapErr := codec.ToSnapshot(req)
	if errors.Is(snapErr, types.ErrInvalidRequest) {
		return "", snapErr
	}
	url := req.URL.String()

	unlock := locks.Lock(queueLockPrefix + q.name)
	defer unlock()

	now := q.cfg.Clock()
	state, err := q.loadState(ctx)
	id := q.mintID(url, now, state)
	if err != nil {
		return q.failPush(ctx, &pc, id, url, err)
	}
	if snapErr != nil {
		return q.failPush(ctx, &pc, id, url, snapErr)
	}

	rec := &types.EntryRecord{
		Request:  snap,
		Config:   types.EntryConfig{MaxAge: pc.maxAge},
		Metadata: types.EntryMetadata{CreatedAt: now.UTC()},
	}
	if err := q.persistEntry(ctx, id, state, rec); err != nil {
		return q.failPush(ctx, &pc, id, url, err)
	}

	q.cfg.Metrics.IncEnqueued(q.name)
	q.cfg.Metrics.SetQueueDepth(q.name, len(state.IDs)+1)
	q.cfg.Logger.Debug("request queued", "queue", q.name, "id", id.String(), "url", url)
	q.notify(ctx, types.EventAdded, id, url)
	if q.cfg.OnEnqueueSuccess != nil {
		q.cfg.OnEnqueueSuccess(id, url)
	}

	return id, nil
}

// mintID builds a fresh id. state may be nil when it could not be loaded.
func (q *Queue) mintID(url string, now time.Time, state *types.QueueState) types.EntryID {
	seq := q.seq.Load()
	if state != nil && state.Seq > seq {
		seq = state.Seq
	}
	seq++
	q.seq.Store(seq)
	if state != nil {
		state.Seq = seq
	}

	return types.EntryID(url + "!" + strconv.FormatInt(now.UnixNano(), 10) + "!" + strconv.FormatUint(seq, 10))
}

// persistEntry writes the order list, the record, the registry entry and the
// trigger registration, undoing earlier writes when a later one fails.
// state.Seq already holds the minted sequence number.
func (q *Queue) persistEntry(ctx context.Context, id types.EntryID, state *types.QueueState, rec *types.EntryRecord) error {
	prev := &types.QueueState{IDs: state.IDs, Seq: state.Seq}
	next := &types.QueueState{IDs: append(slices.Clone(state.IDs), id), Seq: state.Seq}

	if err := q.saveState(ctx, next); err != nil {
		return err
	}

	data, err := codec.MarshalRecord(rec)
	if err == nil {
		err = q.store.Put(ctx, string(id), data)
	}
	if err != nil {
		q.rollback(ctx, id, prev, false)
		return fmt.Errorf("backsync: save entry %s: %w", id, err)
	}

	if err := q.registry.Register(ctx, q.name); err != nil {
		q.rollback(ctx, id, prev, true)
		return fmt.Errorf("backsync: register queue %s: %w", q.name, err)
	}

	if q.cfg.Trigger != nil {
		if err := q.cfg.Trigger.Register(ctx, q.Tag()); err != nil {
			q.rollback(ctx, id, prev, true)
			return fmt.Errorf("backsync: arm trigger %s: %w", q.Tag(), err)
		}
	}

	return nil
}

// rollback restores the order list (keeping the advanced sequence) and
// optionally deletes the record. Failures are logged; the id may then linger
// until Cleanup finds its record missing.
func (q *Queue) rollback(ctx context.Context, id types.EntryID, prev *types.QueueState, deleteRecord bool) {
	if deleteRecord {
		if err := q.store.Delete(ctx, string(id)); err != nil {
			q.cfg.Logger.Warn("rollback: delete entry failed", "queue", q.name, "id", id.String(), "error", err.Error())
		}
	}
	if err := q.saveState(ctx, prev); err != nil {
		q.cfg.Logger.Warn("rollback: restore order list failed", "queue", q.name, "id", id.String(), "error", err.Error())
	}
}

func (q *Queue) failPush(ctx context.Context, pc *pushConfig, id types.EntryID, url string, cause error) (types.EntryID, error) {
	q.cfg.Logger.Warn("enqueue failed", "queue", q.name, "id", id.String(), "url", url, "error", cause.Error())
	q.cfg.Metrics.IncEnqueueFailed(q.name)
	q.notify(ctx, types.EventFailed, id, url)
	if q.cfg.OnEnqueueFailure != nil {
		q.cfg.OnEnqueueFailure(id, url)
	}
	if pc.onFailure != nil {
		pc.onFailure(id, cause)
	}

	var openErr *types.StoreOpenError
	if errors.As(cause, &openErr) {
		return id, openErr
	}

	return id, nil
}

func (q *Queue) notify(ctx context.Context, typ types.EventType, id types.EntryID, url string) {
	if q.cfg.Notifier == nil {
		return
	}

	event := types.Event{Type: typ, ID: id, URL: url, Queue: q.name}
	if err := q.cfg.Notifier.Notify(ctx, event); err != nil {
		q.cfg.Logger.Debug("broadcast failed", "queue", q.name, "id", id.String(), "error", err.Error())
	}
}

// GetRequestFromQueue loads the record of id if id is listed in this queue.
//
// Ids that are not in the order list return absent without loading the
// record, so stale or foreign ids can never resurrect an entry.
//
// Returns:
//   - *types.EntryRecord: The record (nil when absent)
//   - bool: true if the id is listed and its record exists
//   - error: Store or decode failure
func (q *Queue) GetRequestFromQueue(ctx context.Context, id types.EntryID) (*types.EntryRecord, bool, error) {
	state, err := q.loadState(ctx)
	if err != nil {
		return nil, false, err
	}
	if !slices.Contains(state.IDs, id) {
		return nil, false, nil
	}

	return q.loadRecord(ctx, id)
}

// RequestForReplay rebuilds a dispatchable request from rec and applies the
// before-replay hook.
func (q *Queue) RequestForReplay(ctx context.Context, rec *types.EntryRecord) (*http.Request, error) {
	req, err := codec.FromSnapshot(ctx, &rec.Request)
	if err != nil {
		return nil, err
	}

	if q.cfg.BeforeReplay != nil {
		hooked, err := q.cfg.BeforeReplay(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("backsync: before-replay hook: %w", err)
		}
		if hooked != nil {
			req = hooked
		}
	}

	return req, nil
}

// Cleanup reclaims expired entries and drops ids whose record is missing.
//
// For every listed id: a missing or undecodable record drops the id; an
// expired record (CreatedAt + MaxAge <= now) is deleted and its id dropped;
// anything else is kept. The filtered order list is persisted once at the
// end. Cleanup holds the queue's lock, so it never races a Push.
//
// Returns:
//   - int: Number of ids dropped from the order list
//   - error: Store failure while reading or writing the order list
func (q *Queue) Cleanup(ctx context.Context) (int, error) {
	unlock := locks.Lock(queueLockPrefix + q.name)
	defer unlock()

	state, err := q.loadState(ctx)
	if err != nil {
		return 0, err
	}

	now := q.cfg.Clock()
	kept := make([]types.EntryID, 0, len(state.IDs))
	var expired []types.EntryID

	for _, id := range state.IDs {
		rec, ok, err := q.loadRecord(ctx, id)
		switch {
		case errors.Is(err, types.ErrCorruptRecord):
			q.cfg.Logger.Warn("dropping corrupt entry", "queue", q.name, "id", id.String(), "error", err.Error())
			if err := q.store.Delete(ctx, string(id)); err != nil {
				kept = append(kept, id)
			}
		case err != nil:
			q.cfg.Logger.Warn("cleanup: load entry failed", "queue", q.name, "id", id.String(), "error", err.Error())
			kept = append(kept, id)
		case !ok:
			q.cfg.Logger.Debug("dropping id without record", "queue", q.name, "id", id.String())
		case rec.Expired(now):
			if err := q.store.Delete(ctx, string(id)); err != nil {
				q.cfg.Logger.Warn("cleanup: delete entry failed", "queue", q.name, "id", id.String(), "error", err.Error())
				kept = append(kept, id)

				continue
			}
			expired = append(expired, id)
		default:
			kept = append(kept, id)
		}
	}

	dropped := len(state.IDs) - len(kept)
	if dropped == 0 {
		return 0, nil
	}

	state.IDs = kept
	if err := q.saveState(ctx, state); err != nil {
		return 0, err
	}

	q.cfg.Metrics.AddExpired(q.name, len(expired))
	q.cfg.Metrics.SetQueueDepth(q.name, len(kept))
	if q.cfg.OnExpire != nil {
		for _, id := range expired {
			q.cfg.OnExpire(id)
		}
	}
	q.cfg.Logger.Info("queue cleaned up", "queue", q.name, "dropped", dropped, "expired", len(expired), "remaining", len(kept))

	return dropped, nil
}

// AttachResponse stores snap as the response of id, but only while id is
// still listed in this queue. It holds the queue's lock, so an entry removed
// or reclaimed during its replay is never written back.
//
// Returns:
//   - bool: false if id is no longer listed; nothing was written
//   - error: Store failure
func (q *Queue) AttachResponse(ctx context.Context, responses *ResponseStore, id types.EntryID, rec *types.EntryRecord, snap *types.ResponseSnapshot) (bool, error) {
	unlock := locks.Lock(queueLockPrefix + q.name)
	defer unlock()

	state, err := q.loadState(ctx)
	if err != nil {
		return false, err
	}
	if !slices.Contains(state.IDs, id) {
		return false, nil
	}
	if err := responses.Attach(ctx, id, rec, snap); err != nil {
		return false, err
	}

	return true, nil
}

// Remove acknowledges id: it is dropped from the order list and its record
// (including any stored response) is deleted.
//
// Returns:
//   - bool: false if id was not listed in this queue
//   - error: Store failure
func (q *Queue) Remove(ctx context.Context, id types.EntryID) (bool, error) {
	unlock := locks.Lock(queueLockPrefix + q.name)
	defer unlock()

	state, err := q.loadState(ctx)
	if err != nil {
		return false, err
	}

	idx := slices.Index(state.IDs, id)
	if idx < 0 {
		return false, nil
	}

	state.IDs = slices.Delete(state.IDs, idx, idx+1)
	if err := q.saveState(ctx, state); err != nil {
		return false, err
	}
	if err := q.store.Delete(ctx, string(id)); err != nil {
		return true, fmt.Errorf("backsync: delete entry %s: %w", id, err)
	}
	q.cfg.Metrics.SetQueueDepth(q.name, len(state.IDs))

	return true, nil
}

// EntryIDs returns a copy of the current order list.
func (q *Queue) EntryIDs(ctx context.Context) ([]types.EntryID, error) {
	state, err := q.loadState(ctx)
	if err != nil {
		return nil, err
	}

	return state.IDs, nil
}

// Len returns the number of ids in the order list.
func (q *Queue) Len(ctx context.Context) (int, error) {
	state, err := q.loadState(ctx)
	if err != nil {
		return 0, err
	}

	return len(state.IDs), nil
}

// loadState reads the persisted order list. The returned state is freshly
// decoded, so callers may modify it.
func (q *Queue) loadState(ctx context.Context) (*types.QueueState, error) {
	data, ok, err := q.store.Get(ctx, q.name)
	if err != nil {
		return nil, fmt.Errorf("backsync: load queue %s: %w", q.name, err)
	}
	if !ok {
		return &types.QueueState{IDs: []types.EntryID{}}, nil
	}

	return codec.UnmarshalQueueState(data)
}

func (q *Queue) saveState(ctx context.Context, state *types.QueueState) error {
	data, err := codec.MarshalQueueState(state)
	if err != nil {
		return err
	}
	if err := q.store.Put(ctx, q.name, data); err != nil {
		return fmt.Errorf("backsync: save queue %s: %w", q.name, err)
	}

	return nil
}

func (q *Queue) loadRecord(ctx context.Context, id types.EntryID) (*types.EntryRecord, bool, error) {
	data, ok, err := q.store.Get(ctx, string(id))
	if err != nil {
		return nil, false, fmt.Errorf("backsync: load entry %s: %w", id, err)
	}
	if !ok {
		return nil, false, nil
	}

	rec, err := codec.UnmarshalRecord(data)
	if err != nil {
		return nil, false, err
	}

	return rec, true, nil
}
