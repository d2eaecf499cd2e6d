package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arloliu/backsync"
	"github.com/arloliu/backsync/internal/logging"
	"github.com/arloliu/backsync/internal/metrics"
	"github.com/arloliu/backsync/types"
)

// Coordinator replays queued requests when a trigger fires.
//
// A pass over one queue snapshots the order list, then replays each entry
// strictly in order: entries that already carry a response are skipped,
// the rest are rebuilt, fetched and, on a 2xx response, have the response
// attached. A failed entry never aborts the pass. At most one pass per queue
// runs at a time; passes over different queues run concurrently under
// ReplayAll.
//
// Queues must share the coordinator's store, since responses are written
// through it.
type Coordinator struct {
	store     backsync.Store
	fetcher   backsync.Fetcher
	config    CoordinatorConfig
	registry  *backsync.Registry
	responses *backsync.ResponseStore
	logger    types.Logger
	metrics   types.MetricsCollector

	mu     sync.Mutex
	queues map[string]*backsync.Queue
	active map[string]struct{}

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool
}

// New creates a coordinator.
//
// Parameters:
//   - store: Store holding the queues, the registry and the responses
//   - fetcher: Sends the rebuilt requests (e.g., backsync.NewHTTPFetcher(nil))
//   - opts: Optional configuration options
//
// Returns:
//   - *Coordinator: A new coordinator
//   - error: Error if store or fetcher is nil
func New(store backsync.Store, fetcher backsync.Fetcher, opts ...Option) (*Coordinator, error) {
	if store == nil {
		return nil, errors.New("backsync/replay: store is nil")
	}
	if fetcher == nil {
		return nil, errors.New("backsync/replay: fetcher is nil")
	}

	config := DefaultCoordinatorConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}

	c := &Coordinator{
		store:     store,
		fetcher:   fetcher,
		config:    config,
		registry:  config.Registry,
		responses: config.ResponseStore,
		logger:    config.Logger,
		metrics:   config.Metrics,
		queues:    make(map[string]*backsync.Queue),
		active:    make(map[string]struct{}),
	}
	if c.registry == nil {
		c.registry = backsync.NewRegistry(store)
	}
	if c.responses == nil {
		c.responses = backsync.NewResponseStore(store)
	}
	c.logger = logging.OrNop(c.logger)
	if c.metrics == nil {
		c.metrics = metrics.NewNopMetrics()
	}

	return c, nil
}

// Registry returns the registry used by ReplayAll.
func (c *Coordinator) Registry() *backsync.Registry {
	return c.registry
}

// Responses returns the response store.
func (c *Coordinator) Responses() *backsync.ResponseStore {
	return c.responses
}

// AddQueue makes q the queue used for its name, replacing any earlier one.
// Use it for queues built with their own hooks or callbacks.
func (c *Coordinator) AddQueue(q *backsync.Queue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queues[q.Name()] = q
}

// Queue returns the queue named name, creating it on first use with the
// coordinator's registry, trigger, logger and metrics plus the configured
// queue options.
func (c *Coordinator) Queue(name string) (*backsync.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if q, ok := c.queues[name]; ok {
		return q, nil
	}

	opts := []backsync.QueueOption{
		backsync.WithRegistry(c.registry),
		backsync.WithLogger(c.logger),
		backsync.WithMetrics(c.metrics),
	}
	if c.config.Trigger != nil {
		opts = append(opts, backsync.WithTrigger(c.config.Trigger))
	}
	opts = append(opts, c.config.QueueOptions...)

	q, err := backsync.NewQueue(name, c.store, opts...)
	if err != nil {
		return nil, err
	}
	c.queues[name] = q

	return q, nil
}

// ReplayQueue runs one replay pass over the named queue.
//
// Entries pushed while the pass runs are left for the next pass.
//
// Parameters:
//   - ctx: Context for cancellation; checked between entries
//   - name: The queue name
//
// Returns:
//   - error: nil if every entry succeeded or was already replayed,
//     *types.ReplayError listing the failed entries,
//     types.ErrReplayInProgress if a pass over the queue is already running,
//     or a store/context error that stopped the pass
func (c *Coordinator) ReplayQueue(ctx context.Context, name string) error {
	q, err := c.Queue(name)
	if err != nil {
		return err
	}

	if !c.beginPass(name) {
		return fmt.Errorf("%w: queue %s", types.ErrReplayInProgress, name)
	}
	defer c.endPass(name)

	ids, err := q.EntryIDs(ctx)
	if err != nil {
		return fmt.Errorf("backsync: replay %s: %w", name, err)
	}

	var failures []*types.EntryError
	replayed, skipped := 0, 0

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("backsync: replay %s interrupted: %w", name, err)
		}

		rec, ok, err := q.GetRequestFromQueue(ctx, id)
		switch {
		case err != nil:
			failures = append(failures, c.fail(name, id, err))
			continue
		case !ok:
			// Removed or expired since the snapshot.
			continue
		case rec.Replayed():
			skipped++
			c.metrics.IncReplaySkipped(name)
			continue
		}

		if err := c.replayEntry(ctx, q, id, rec); err != nil {
			if errors.Is(err, errEntryGone) {
				c.logger.Debug("entry removed during replay", "queue", name, "id", id.String())
				continue
			}
			failures = append(failures, c.fail(name, id, err))
			continue
		}
		replayed++
	}

	c.logger.Info("replay pass finished",
		"queue", name,
		"entries", len(ids),
		"replayed", replayed,
		"skipped", skipped,
		"failed", len(failures),
	)

	if len(failures) > 0 {
		return &types.ReplayError{Queue: name, Failures: failures}
	}

	return nil
}

// errEntryGone reports an entry acknowledged or reclaimed while its fetch
// was in flight. The response is discarded.
var errEntryGone = errors.New("backsync: entry removed during replay")

func (c *Coordinator) replayEntry(ctx context.Context, q *backsync.Queue, id types.EntryID, rec *types.EntryRecord) error {
	fetchCtx := ctx
	if c.config.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, c.config.FetchTimeout)
		defer cancel()
	}

	req, err := q.RequestForReplay(fetchCtx, rec)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.fetcher.Fetch(fetchCtx, req)
	c.metrics.ObserveReplayDuration(q.Name(), time.Since(start).Seconds())
	if err != nil {
		return err
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()

		return &types.StatusError{Status: resp.StatusCode, URL: rec.Request.URL}
	}

	snap, err := c.responses.Capture(resp)
	if err != nil {
		return err
	}
	attached, err := q.AttachResponse(ctx, c.responses, id, rec, snap)
	if err != nil {
		return err
	}
	if !attached {
		return errEntryGone
	}

	c.metrics.IncReplaySuccess(q.Name())
	c.logger.Debug("entry replayed", "queue", q.Name(), "id", id.String(), "status", snap.Status)
	if c.config.OnSuccess != nil {
		c.config.OnSuccess(q.Name(), id, snap)
	}

	return nil
}

func (c *Coordinator) fail(queue string, id types.EntryID, err error) *types.EntryError {
	c.metrics.IncReplayError(queue)
	c.logger.Warn("entry replay failed", "queue", queue, "id", id.String(), "error", err.Error())
	if c.config.OnFailure != nil {
		c.config.OnFailure(queue, id, err)
	}

	return &types.EntryError{ID: id, Cause: err}
}

func (c *Coordinator) beginPass(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, busy := c.active[name]; busy {
		return false
	}
	c.active[name] = struct{}{}

	return true
}

func (c *Coordinator) endPass(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, name)
}

// ReplayAll replays every registered queue, up to Concurrency at a time.
//
// Queues with a pass already in progress are skipped. The errors of the
// individual passes are joined.
func (c *Coordinator) ReplayAll(ctx context.Context) error {
	names, err := c.registry.ListAll(ctx)
	if err != nil {
		return err
	}

	var (
		mu   sync.Mutex
		errs []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.Concurrency)

	for _, name := range names {
		g.Go(func() error {
			err := c.ReplayQueue(gctx, name)
			if errors.Is(err, types.ErrReplayInProgress) {
				c.logger.Debug("replay pass already running", "queue", name)
				return nil
			}
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}

			// Entry failures must not cancel the other queues.
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

// HandleTrigger routes a trigger tag: a queue tag replays that queue and
// backsync.ReplayAllTag replays every registered queue.
//
// It has the backsync.TriggerHandler signature; a non-nil result makes the
// trigger re-arm the tag.
//
// Returns:
//   - error: The replay error, or types.ErrUnknownTag for any other tag
func (c *Coordinator) HandleTrigger(ctx context.Context, tag string) error {
	if tag == backsync.ReplayAllTag {
		return c.ReplayAll(ctx)
	}

	name, ok := backsync.QueueNameFromTag(tag)
	if !ok {
		return fmt.Errorf("%w: %q", types.ErrUnknownTag, tag)
	}
	if err := backsync.ValidateQueueName(name); err != nil {
		return fmt.Errorf("%w: %q", types.ErrUnknownTag, tag)
	}

	return c.ReplayQueue(ctx, name)
}

// Cleanup runs Queue.Cleanup on every registered or added queue.
//
// Returns:
//   - int: Total number of ids dropped
//   - error: Joined cleanup errors
func (c *Coordinator) Cleanup(ctx context.Context) (int, error) {
	names, err := c.registry.ListAll(ctx)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	for name := range c.queues {
		names = append(names, name)
	}
	c.mu.Unlock()
	sort.Strings(names)

	var (
		total int
		errs  []error
		prev  string
	)
	for _, name := range names {
		if name == prev {
			continue
		}
		prev = name

		q, err := c.Queue(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		n, err := q.Cleanup(ctx)
		total += n
		if err != nil {
			errs = append(errs, fmt.Errorf("backsync: cleanup %s: %w", name, err))
		}
	}

	return total, errors.Join(errs...)
}

// Start installs HandleTrigger on the configured trigger and starts the
// background cleanup loop.
//
// Parameters:
//   - ctx: Context for the cleanup loop; the loop also ends on Stop
//
// Returns:
//   - error: types.ErrCoordinatorRunning if already started
func (c *Coordinator) Start(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return types.ErrCoordinatorRunning
	}

	c.stopCh = make(chan struct{})

	if c.config.Trigger != nil {
		c.config.Trigger.OnTrigger(c.HandleTrigger)
	}

	if c.config.CleanupInterval > 0 {
		c.wg.Add(1)
		go c.cleanupLoop(ctx, c.stopCh)
	}

	c.logger.Info("replay coordinator started", "cleanup_interval", c.config.CleanupInterval.String())

	return nil
}

// Stop stops the cleanup loop and waits for it to finish. Trigger-dispatched
// passes are tracked by the trigger; close it to wait for them.
func (c *Coordinator) Stop() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}

	if c.config.Trigger != nil {
		c.config.Trigger.OnTrigger(nil)
	}
	close(c.stopCh)
	c.wg.Wait()
}

// IsRunning returns whether the coordinator is started.
func (c *Coordinator) IsRunning() bool {
	return c.running.Load()
}

func (c *Coordinator) cleanupLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			n, err := c.Cleanup(ctx)
			if err != nil {
				c.logger.Warn("cleanup failed", "error", err.Error())
			}
			if n > 0 {
				c.logger.Debug("cleanup reclaimed entries", "dropped", n)
			}
		}
	}
}
