package connectivity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/arloliu/backsync"
	"github.com/arloliu/backsync/types"
)

// Probe reports connectivity by periodically requesting a probe URL.
//
// Any HTTP response, whatever its status, proves the network path works and
// counts as a success. Transport errors and timeouts count as failures;
// after FailureThreshold consecutive failures the probe reports offline,
// and the first success afterwards reports online again.
type Probe struct {
	url    string
	config ProbeConfig
	client *http.Client
	st     *state

	mu       sync.Mutex
	failures int
	wg       sync.WaitGroup
}

var _ backsync.ConnectivityWatcher = (*Probe)(nil)

// NewProbe creates a probe for target.
//
// Parameters:
//   - target: Absolute http(s) URL to probe
//   - opts: Optional configuration options
//
// Returns:
//   - *Probe: A new probe
//   - error: Error if target is not an absolute http(s) URL
func NewProbe(target string, opts ...ProbeOption) (*Probe, error) {
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("backsync/connectivity: invalid probe url %q", target)
	}

	config := DefaultProbeConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.FailureThreshold < 1 {
		config.FailureThreshold = 1
	}
	if config.Interval <= 0 {
		config.Interval = DefaultProbeConfig().Interval
	}

	client := config.Client
	if client == nil {
		client = &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	}

	return &Probe{
		url:    target,
		config: config,
		client: client,
		st:     newState(),
	}, nil
}

// Watch starts probing and returns the channel of connectivity changes.
//
// The first probe runs immediately. The channel is closed when Close is
// called or the context of the first call ends. Multiple calls to Watch
// return the same channel.
func (p *Probe) Watch(ctx context.Context) <-chan types.ConnectivityUpdate {
	if p.st.startWatch() {
		p.wg.Add(1)
		go p.loop(ctx)
	}

	return p.st.updates
}

// Check runs a single probe and updates the state.
//
// Returns:
//   - error: The probe failure, nil if the URL answered
func (p *Probe) Check(ctx context.Context) error {
	err := p.probe(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()

	if err == nil {
		p.failures = 0
		p.st.set(true, "")

		return nil
	}

	p.failures++
	if p.failures >= p.config.FailureThreshold {
		p.st.set(false, err.Error())
	}

	return err
}

// IsOnline returns the current state.
func (p *Probe) IsOnline() bool {
	return p.st.isOnline()
}

// Config returns the probe configuration.
func (p *Probe) Config() ProbeConfig {
	return p.config
}

// Close stops probing and waits for an in-flight probe to finish.
func (p *Probe) Close() error {
	p.st.close()
	p.wg.Wait()

	return nil
}

func (p *Probe) loop(ctx context.Context) {
	defer p.wg.Done()
	defer p.st.closeUpdates()

	_ = p.Check(ctx)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.st.done:
			return
		case <-ticker.C:
			_ = p.Check(ctx)
		}
	}
}

func (p *Probe) probe(ctx context.Context) error {
	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, p.config.Method, p.url, nil)
	if err != nil {
		return fmt.Errorf("backsync/connectivity: build probe: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return urlErr.Err
		}

		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	return nil
}
