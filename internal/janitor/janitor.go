// Package janitor runs periodic backend housekeeping. It never removes
// committed records: there is no expiry. It only clears what a backend
// reports as debris (abandoned partial writes, reclaimable log space).
package janitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Maintainer is the single store operation the Janitor needs.
// store.Store satisfies it.
type Maintainer interface {
	// Maintain performs one housekeeping pass and returns the number of
	// items reclaimed.
	Maintain(ctx context.Context, now time.Time) (int, error)
}

// Recorder receives counters emitted after each cycle. Optional.
type Recorder interface {
	Inc(name string, delta int64)
	Observe(name string, value int64)
}

// External metric names.
const (
	CounterReclaimed = "janitor_reclaimed_total"
	CounterErrors    = "janitor_errors_total"
	SummaryPerCycle  = "janitor_reclaimed_per_cycle"
)

// Config holds tunables for the Janitor.
type Config struct {
	Interval time.Duration // how often a cycle begins
	Logger   *slog.Logger  // optional logger (defaults to slog.Default())
}

// MetricsView is a read-only snapshot safe to copy.
type MetricsView struct {
	Cycles              uint64
	Reclaimed           uint64
	Errors              uint64
	CycleLastDurationMS int64
}

// Janitor encapsulates the background maintenance loop.
type Janitor struct {
	store    Maintainer
	recorder Recorder
	cfg      Config

	mu      sync.Mutex
	metrics MetricsView

	ticker *time.Ticker
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// New constructs but does not start a Janitor. rec may be nil.
func New(store Maintainer, rec Recorder, cfg Config) *Janitor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Janitor{
		store:    store,
		recorder: rec,
		cfg:      cfg,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the loop in a new goroutine. Calling it twice is a no-op.
func (j *Janitor) Start(ctx context.Context) {
	if j.ticker != nil {
		return
	}
	j.ticker = time.NewTicker(j.cfg.Interval)
	go j.loop(ctx)
}

// Stop signals the loop to exit and waits for completion. Safe to call
// on a Janitor that was never started.
func (j *Janitor) Stop() {
	j.once.Do(func() { close(j.stopCh) })
	if j.ticker == nil {
		return
	}
	<-j.doneCh
}

// MetricsSnapshot returns a copy of current metrics.
func (j *Janitor) MetricsSnapshot() MetricsView {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.metrics
}

func (j *Janitor) loop(ctx context.Context) {
	log := j.cfg.Logger.With("domain", "janitor")
	defer func() {
		j.ticker.Stop()
		close(j.doneCh)
	}()
	for {
		select {
		case <-ctx.Done():
			log.Info("janitor stop", "reason", "context_cancel")
			return
		case <-j.stopCh:
			log.Info("janitor stop", "reason", "stop_signal")
			return
		case <-j.ticker.C:
			j.runCycle(ctx)
		}
	}
}

// runCycle performs one maintenance pass.
func (j *Janitor) runCycle(ctx context.Context) {
	start := time.Now()
	log := j.cfg.Logger.With("domain", "janitor", "action", "cycle")
	n, err := j.store.Maintain(ctx, start.UTC())
	failed := err != nil && !errors.Is(err, context.Canceled)
	if failed {
		log.Error("maintain", "error", err)
	}
	if n < 0 {
		n = 0
	}
	elapsed := time.Since(start)

	j.mu.Lock()
	j.metrics.Cycles++
	j.metrics.Reclaimed += uint64(n)
	if failed {
		j.metrics.Errors++
	}
	j.metrics.CycleLastDurationMS = elapsed.Milliseconds()
	j.mu.Unlock()

	if j.recorder != nil {
		if n > 0 {
			j.recorder.Inc(CounterReclaimed, int64(n))
		}
		if failed {
			j.recorder.Inc(CounterErrors, 1)
		}
		j.recorder.Observe(SummaryPerCycle, int64(n))
	}
	if n > 0 {
		log.Info("cycle complete", "reclaimed", n, "ms", elapsed.Milliseconds())
	} else {
		log.Debug("cycle complete", "reclaimed", 0, "ms", elapsed.Milliseconds())
	}
}
