package trigger

import (
	"context"
	"sync"

	"github.com/arloliu/backsync"
	"github.com/arloliu/backsync/types"
)

// dispatcher runs handler invocations in tracked goroutines.
type dispatcher struct {
	logger types.Logger

	mu      sync.RWMutex
	handler backsync.TriggerHandler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newDispatcher(logger types.Logger) *dispatcher {
	ctx, cancel := context.WithCancel(context.Background())

	return &dispatcher{logger: logger, ctx: ctx, cancel: cancel}
}

func (d *dispatcher) setHandler(h backsync.TriggerHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = h
}

func (d *dispatcher) getHandler() backsync.TriggerHandler {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.handler
}

// dispatch runs h for tag in the background; rearm is called when h fails.
func (d *dispatcher) dispatch(h backsync.TriggerHandler, tag string, rearm func(tag string)) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		if err := h(d.ctx, tag); err != nil {
			d.logger.Warn("trigger handler failed, re-arming", "tag", tag, "error", err.Error())
			rearm(tag)

			return
		}
		d.logger.Debug("trigger handled", "tag", tag)
	}()
}

// wait blocks until every dispatched handler has returned.
func (d *dispatcher) wait() {
	d.wg.Wait()
}

// shutdown cancels running handlers and waits for them.
func (d *dispatcher) shutdown() {
	d.cancel()
	d.wg.Wait()
}
