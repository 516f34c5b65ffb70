// Package poller watches server-side discovery jobs and nudges the server
// to flush their staged results until no job is active.
package poller

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/affiliate-outreach/internal/metrics"
	"github.com/sells-group/affiliate-outreach/pkg/dashapi"
)

// StatusClient is the subset of dashapi.Client the poller needs.
type StatusClient interface {
	EnrichmentStatus(ctx context.Context) (*dashapi.EnrichmentStatus, error)
	JobStatus(ctx context.Context, jobID string) (*dashapi.JobStatus, error)
}

// Tick describes one poll that found active jobs.
type Tick struct {
	Status  dashapi.EnrichmentStatus
	Jobs    []dashapi.JobStatus
	Flushed int
}

// Poller polls enrichment status on an interval.
type Poller struct {
	client      StatusClient
	interval    time.Duration
	concurrency int
	onTick      func(Tick)
	onDone      func()

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Poller.
type Option func(*Poller)

// WithInterval sets the time between polls.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// OnTick sets the callback run after each poll that found active jobs.
func OnTick(fn func(Tick)) Option {
	return func(p *Poller) { p.onTick = fn }
}

// OnDone sets the callback run when no active jobs remain.
func OnDone(fn func()) Option {
	return func(p *Poller) { p.onDone = fn }
}

// New creates a Poller.
func New(client StatusClient, opts ...Option) *Poller {
	p := &Poller{
		client:      client,
		interval:    5 * time.Second,
		concurrency: 4,
		onTick:      func(Tick) {},
		onDone:      func() {},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Poll queries enrichment status and, when jobs are active, each job's
// status, which makes the server flush that job's staged results. A failing
// job status is logged and does not fail the poll.
func (p *Poller) Poll(ctx context.Context) (bool, error) {
	status, err := p.client.EnrichmentStatus(ctx)
	if err != nil {
		metrics.PollerTicks.WithLabelValues("error").Inc()
		return false, err
	}
	if !status.HasActiveJobs {
		metrics.PollerTicks.WithLabelValues("idle").Inc()
		return false, nil
	}

	tick := Tick{Status: *status}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, job := range status.Jobs {
		jobID := job.JobID
		g.Go(func() error {
			js, err := p.client.JobStatus(gctx, jobID)
			if err != nil {
				zap.L().Warn("poller: job status failed", zap.String("job_id", jobID), zap.Error(err))
				return nil
			}
			mu.Lock()
			tick.Jobs = append(tick.Jobs, *js)
			tick.Flushed += js.Flushed
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	metrics.PollerTicks.WithLabelValues("active").Inc()
	p.onTick(tick)
	return true, nil
}

// Start polls immediately and then every interval until no job is active,
// ctx is cancelled or Stop is called. Calling Start while running is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel, p.done = cancel, done

	go p.loop(loopCtx, done)
}

// Stop ends the loop and blocks until it has exited.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Wait blocks until the current loop exits. It returns at once when idle.
func (p *Poller) Wait() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		p.mu.Lock()
		if p.done == done {
			p.cancel()
			p.cancel, p.done = nil, nil
		}
		p.mu.Unlock()
		close(done)
	}()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		active, err := p.Poll(ctx)
		if ctx.Err() != nil {
			return
		}
		switch {
		case err != nil:
			zap.L().Warn("poller: enrichment status failed", zap.Error(err))
		case !active:
			zap.L().Debug("poller: no active jobs, stopping")
			p.onDone()
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
