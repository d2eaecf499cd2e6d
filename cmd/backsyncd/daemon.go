package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	vmetrics "github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sirupsen/logrus"

	"github.com/arloliu/backsync"
	lrlog "github.com/arloliu/backsync/contrib/logging/logrus"
	"github.com/arloliu/backsync/contrib/metrics/vm"
	"github.com/arloliu/backsync/connectivity"
	"github.com/arloliu/backsync/notify"
	"github.com/arloliu/backsync/replay"
	"github.com/arloliu/backsync/store"
	"github.com/arloliu/backsync/trigger"
	"github.com/arloliu/backsync/types"
)

// daemonTrigger is the trigger used by the coordinator and fired by the
// daemon.
type daemonTrigger interface {
	backsync.Trigger
	firer
	Wait()
	Close() error
}

type localTrigger struct {
	*trigger.Local
}

func (t localTrigger) fireAll(ctx context.Context) error {
	t.Fire(ctx)
	return nil
}

func (t localTrigger) fireTag(ctx context.Context, tag string) error {
	if err := t.Register(ctx, tag); err != nil {
		return err
	}
	t.FireTag(ctx, tag)

	return nil
}

type natsTrigger struct {
	*trigger.NATS
}

func (t natsTrigger) fireAll(ctx context.Context) error {
	return t.Fire(ctx)
}

func (t natsTrigger) fireTag(ctx context.Context, tag string) error {
	if err := t.Register(ctx, tag); err != nil {
		return err
	}

	return t.FireTag(ctx, tag)
}

// watcher is a connectivity watcher the daemon owns.
type watcher interface {
	backsync.ConnectivityWatcher
	Close() error
}

// daemon wires the library components together.
type daemon struct {
	cfg        *Config
	log        *logrus.Logger
	instanceID string

	nc       *nats.Conn
	backends *backends
	opener   *store.Opener
	store    backsync.Store
	coord    *replay.Coordinator
	trigger  daemonTrigger
	watcher  watcher
	metrics  *vm.Collector
	srv      *server

	online atomic.Bool
	wg     sync.WaitGroup
}

// newDaemon connects to NATS when configured and builds every component.
// No store I/O happens until the first request or replay.
func newDaemon(ctx context.Context, cfg *Config, log *logrus.Logger) (*daemon, error) {
	d := &daemon{
		cfg:        cfg,
		log:        log,
		instanceID: uuid.NewString(),
	}
	d.online.Store(true)

	if err := d.init(ctx); err != nil {
		d.close()
		return nil, err
	}

	return d, nil
}

func (d *daemon) init(ctx context.Context) error {
	var js jetstream.JetStream
	if d.cfg.NATSURL != "" {
		nc, err := nats.Connect(d.cfg.NATSURL, nats.Name("backsyncd-"+d.instanceID))
		if err != nil {
			return fmt.Errorf("connect to nats: %w", err)
		}
		d.nc = nc

		js, err = jetstream.New(nc)
		if err != nil {
			return fmt.Errorf("create jetstream context: %w", err)
		}
	}

	d.backends = newBackends(d.cfg.Store, js)
	d.opener = store.NewOpener(d.backends.open)
	d.store = d.opener.Store(d.backends.location())

	libLog := lrlog.New(d.log)
	d.metrics = vm.New(vm.WithMetricsSet(vmetrics.NewSet()))

	if d.nc != nil {
		t, err := trigger.NewNATS(ctx, d.nc, js, trigger.WithLogger(libLog.With("component", "trigger")))
		if err != nil {
			return err
		}
		d.trigger = natsTrigger{t}
	} else {
		d.trigger = localTrigger{trigger.NewLocal(trigger.WithLogger(libLog.With("component", "trigger")))}
	}

	queueOpts := []backsync.QueueOption{backsync.WithMaxAge(d.cfg.Replay.MaxAge)}
	if d.nc != nil {
		n, err := notify.NewNATS(d.nc, notify.WithOrigin(d.instanceID))
		if err != nil {
			return err
		}
		queueOpts = append(queueOpts, backsync.WithNotifier(n))
	}

	coordOpts := []replay.Option{
		replay.WithTrigger(d.trigger),
		replay.WithConcurrency(d.cfg.Replay.Concurrency),
		replay.WithFetchTimeout(d.cfg.Replay.FetchTimeout),
		replay.WithCleanupInterval(d.cfg.Replay.CleanupInterval),
		replay.WithQueueOptions(queueOpts...),
		replay.WithLogger(libLog.With("component", "replay")),
		replay.WithMetrics(d.metrics),
		replay.WithOnSuccess(func(queue string, id types.EntryID, resp *types.ResponseSnapshot) {
			d.log.WithFields(logrus.Fields{"queue": queue, "id": id.String(), "status": resp.Status}).Info("request replayed")
		}),
	}
	if d.cfg.Replay.ResponseLimit > 0 {
		coordOpts = append(coordOpts, replay.WithResponseStore(
			backsync.NewResponseStore(d.store, backsync.WithResponseBodyLimit(d.cfg.Replay.ResponseLimit)),
		))
	}

	fetcher := backsync.NewHTTPFetcher(&http.Client{Timeout: d.cfg.UpstreamTimeout})
	coord, err := replay.New(d.store, fetcher, coordOpts...)
	if err != nil {
		return err
	}
	d.coord = coord

	w, err := d.newWatcher(ctx, js)
	if err != nil {
		return err
	}
	d.watcher = w

	proxyClient := &http.Client{
		Timeout: d.cfg.UpstreamTimeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	srv, err := newServer(coord, d.cfg.Routes, d.trigger, proxyClient, d.log)
	if err != nil {
		return err
	}
	if d.cfg.MaxBodyBytes > 0 {
		srv.maxBodyBytes = d.cfg.MaxBodyBytes
	}
	srv.metrics = d.metrics.Handler
	srv.online = d.online.Load
	d.srv = srv

	return nil
}

func (d *daemon) newWatcher(ctx context.Context, js jetstream.JetStream) (watcher, error) {
	c := d.cfg.Connectivity

	switch c.Mode {
	case connectivityProbe:
		return connectivity.NewProbe(c.ProbeURL,
			connectivity.WithProbeInterval(c.ProbeInterval),
			connectivity.WithProbeTimeout(c.ProbeTimeout),
			connectivity.WithFailureThreshold(c.FailureThreshold),
		)

	case connectivityNATS:
		if js == nil {
			return nil, errors.New("nats connectivity requires a NATS connection")
		}
		kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: c.Bucket, History: 1})
		if err != nil {
			return nil, fmt.Errorf("create connectivity bucket: %w", err)
		}

		return connectivity.NewNATS(kv)
	}

	return nil, nil
}

// run starts the coordinator and the connectivity loop, arms queues left
// over from a previous run and serves HTTP until ctx ends.
func (d *daemon) run(ctx context.Context) error {
	if err := d.coord.Start(ctx); err != nil {
		return err
	}
	defer d.coord.Stop()

	if n, err := d.rearmPending(ctx); err != nil {
		d.log.WithError(err).Warn("rearm pending queues failed")
	} else if n > 0 {
		d.log.WithField("queues", n).Info("pending queues armed")
		if err := d.trigger.fireAll(ctx); err != nil {
			d.log.WithError(err).Warn("initial replay signal failed")
		}
	}

	if d.watcher != nil {
		d.wg.Add(1)
		go d.watchConnectivity(ctx)
	}

	httpSrv := &http.Server{
		Addr:              d.cfg.ListenAddress,
		Handler:           d.srv.handler(),
		ReadHeaderTimeout: d.cfg.UpstreamTimeout,
	}
	err := serve(ctx, httpSrv, d.log)

	d.wg.Wait()
	d.trigger.Wait()

	return err
}

// rearmPending arms the tag of every registered queue that still holds
// entries. In-process triggers lose armed tags on restart.
func (d *daemon) rearmPending(ctx context.Context) (int, error) {
	names, err := d.coord.Registry().ListAll(ctx)
	if err != nil {
		return 0, err
	}

	armed := 0
	for _, name := range names {
		q, err := d.coord.Queue(name)
		if err != nil {
			continue
		}
		n, err := q.Len(ctx)
		if err != nil {
			return armed, err
		}
		if n == 0 {
			continue
		}
		if err := d.trigger.Register(ctx, q.Tag()); err != nil {
			return armed, err
		}
		armed++
	}

	return armed, nil
}

func (d *daemon) watchConnectivity(ctx context.Context) {
	defer d.wg.Done()

	updates := d.watcher.Watch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			d.online.Store(u.Online)

			if !u.Online {
				d.log.WithField("reason", u.Reason).Warn("connectivity lost")
				continue
			}

			d.log.WithField("reason", u.Reason).Info("connectivity restored, firing replay")
			if err := d.trigger.fireAll(ctx); err != nil {
				d.log.WithError(err).Warn("fire replay failed")
			}
		}
	}
}

// close releases every component in reverse dependency order.
func (d *daemon) close() {
	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			d.log.WithError(err).Warn("close connectivity watcher")
		}
	}
	if d.trigger != nil {
		if err := d.trigger.Close(); err != nil {
			d.log.WithError(err).Warn("close trigger")
		}
	}
	if d.opener != nil {
		if err := d.opener.Close(); err != nil {
			d.log.WithError(err).Warn("close store")
		}
	}
	if d.backends != nil {
		d.backends.close()
	}
	if d.nc != nil {
		if err := d.nc.Drain(); err != nil {
			d.nc.Close()
		}
	}
}
