// Package metrics keeps operational counters and simple summaries. Events are
// queued without blocking the request path, aggregated in memory by a
// background loop, and periodically flushed into SQLite so totals survive
// restarts. Only monotonic counters and (count, sum, min, max) summaries are
// supported.
package metrics

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// CounterDropped counts events discarded because the queue was full.
const CounterDropped = "metrics_dropped_total"

// Config controls flush cadence and logging.
type Config struct {
	FlushInterval time.Duration
	QueueSize     int
	Logger        *slog.Logger
}

// Summary aggregates observations of one named value.
type Summary struct {
	Count int64 `json:"count"`
	Sum   int64 `json:"sum"`
	Min   int64 `json:"min"`
	Max   int64 `json:"max"`
}

func (s *Summary) merge(o Summary) {
	if o.Count == 0 {
		return
	}
	if s.Count == 0 {
		*s = o
		return
	}
	s.Count += o.Count
	s.Sum += o.Sum
	s.Min = min(s.Min, o.Min)
	s.Max = max(s.Max, o.Max)
}

type eventKind int

const (
	eventInc eventKind = iota + 1
	eventObserve
)

type event struct {
	kind  eventKind
	name  string
	value int64
}

// Manager aggregates metric events and flushes them.
type Manager struct {
	cfg     Config
	db      *sql.DB
	events  chan event
	stop    chan struct{}
	done    chan struct{}
	start   sync.Once
	dropped atomic.Int64

	mu        sync.Mutex // guards the unflushed deltas below
	counters  map[string]int64
	summaries map[string]Summary
}

// New creates a Manager. Call InitSchema once and Start to begin flushing.
func New(db *sql.DB, cfg Config) *Manager {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		cfg:       cfg,
		db:        db,
		events:    make(chan event, cfg.QueueSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		counters:  make(map[string]int64),
		summaries: make(map[string]Summary),
	}
}

// InitSchema ensures metrics tables exist.
func (m *Manager) InitSchema(ctx context.Context) error {
	const ddl = `CREATE TABLE IF NOT EXISTS metrics_counters (
	name TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS metrics_summaries (
	name TEXT PRIMARY KEY,
	count INTEGER NOT NULL,
	sum INTEGER NOT NULL,
	min INTEGER NOT NULL,
	max INTEGER NOT NULL
);`
	_, err := m.db.ExecContext(ctx, ddl)
	return err
}

// Start launches the background aggregation and flush loop. Subsequent
// calls are no-ops.
func (m *Manager) Start(ctx context.Context) {
	m.start.Do(func() { go m.loop(ctx) })
}

// Stop ends the loop, drains queued events and performs a final flush.
func (m *Manager) Stop(ctx context.Context) error {
	started := true
	m.start.Do(func() { started = false })
	if started {
		select {
		case <-m.stop:
		default:
			close(m.stop)
		}
		<-m.done
	}
	m.drain()
	return m.flush(ctx)
}

// Inc increments a counter by delta (>=1). It never blocks.
func (m *Manager) Inc(name string, delta int64) {
	if delta <= 0 {
		return
	}
	m.enqueue(event{kind: eventInc, name: name, value: delta})
}

// Observe records a summary observation. It never blocks.
func (m *Manager) Observe(name string, value int64) {
	m.enqueue(event{kind: eventObserve, name: name, value: value})
}

func (m *Manager) enqueue(ev event) {
	select {
	case m.events <- ev:
	default:
		m.dropped.Add(1)
	}
}

func (m *Manager) loop(ctx context.Context) {
	log := m.cfg.Logger.With("domain", "metrics")
	ticker := time.NewTicker(m.cfg.FlushInterval)
	defer func() {
		ticker.Stop()
		close(m.done)
	}()
	for {
		select {
		case <-ctx.Done():
			log.Info("metrics stop", "reason", "context_cancel")
			return
		case <-m.stop:
			log.Info("metrics stop", "reason", "stop_signal")
			return
		case ev := <-m.events:
			m.apply(ev)
		case <-ticker.C:
			if err := m.flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("flush", "error", err)
			}
		}
	}
}

// drain applies whatever is still queued.
func (m *Manager) drain() {
	for {
		select {
		case ev := <-m.events:
			m.apply(ev)
		default:
			return
		}
	}
}

func (m *Manager) apply(ev event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch ev.kind {
	case eventInc:
		m.counters[ev.name] += ev.value
	case eventObserve:
		s := m.summaries[ev.name]
		s.merge(Summary{Count: 1, Sum: ev.value, Min: ev.value, Max: ev.value})
		m.summaries[ev.name] = s
	}
}

// Snapshot returns persisted totals with unflushed deltas layered on top.
func (m *Manager) Snapshot(ctx context.Context) (map[string]int64, map[string]Summary, error) {
	counters := make(map[string]int64)
	summaries := make(map[string]Summary)

	rows, err := m.db.QueryContext(ctx, `SELECT name, value FROM metrics_counters`)
	if err != nil {
		return nil, nil, err
	}
	for rows.Next() {
		var n string
		var v int64
		if err := rows.Scan(&n, &v); err != nil {
			rows.Close()
			return nil, nil, err
		}
		counters[n] = v
	}
	if err := errors.Join(rows.Err(), rows.Close()); err != nil {
		return nil, nil, err
	}

	srows, err := m.db.QueryContext(ctx, `SELECT name, count, sum, min, max FROM metrics_summaries`)
	if err != nil {
		return nil, nil, err
	}
	for srows.Next() {
		var n string
		var s Summary
		if err := srows.Scan(&n, &s.Count, &s.Sum, &s.Min, &s.Max); err != nil {
			srows.Close()
			return nil, nil, err
		}
		summaries[n] = s
	}
	if err := errors.Join(srows.Err(), srows.Close()); err != nil {
		return nil, nil, err
	}

	m.mu.Lock()
	for n, v := range m.counters {
		counters[n] += v
	}
	for n, s := range m.summaries {
		cur := summaries[n]
		cur.merge(s)
		summaries[n] = cur
	}
	m.mu.Unlock()
	if d := m.dropped.Load(); d > 0 {
		counters[CounterDropped] += d
	}
	return counters, summaries, nil
}

// flush writes in-memory deltas to SQLite in a single transaction. Deltas
// are put back if the transaction fails so nothing is lost.
func (m *Manager) flush(ctx context.Context) error {
	m.mu.Lock()
	if len(m.counters) == 0 && len(m.summaries) == 0 {
		m.mu.Unlock()
		return nil
	}
	counters, summaries := m.counters, m.summaries
	m.counters = make(map[string]int64)
	m.summaries = make(map[string]Summary)
	m.mu.Unlock()

	if err := m.write(ctx, counters, summaries); err != nil {
		m.mu.Lock()
		for n, v := range counters {
			m.counters[n] += v
		}
		for n, s := range summaries {
			cur := m.summaries[n]
			cur.merge(s)
			m.summaries[n] = cur
		}
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *Manager) write(ctx context.Context, counters map[string]int64, summaries map[string]Summary) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	const upCounter = `INSERT INTO metrics_counters(name,value) VALUES(?,?)
ON CONFLICT(name) DO UPDATE SET value = value + excluded.value`
	for name, delta := range counters {
		if _, err := tx.ExecContext(ctx, upCounter, name, delta); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	const upSummary = `INSERT INTO metrics_summaries(name,count,sum,min,max) VALUES(?,?,?,?,?)
ON CONFLICT(name) DO UPDATE SET
	count = metrics_summaries.count + excluded.count,
	sum = metrics_summaries.sum + excluded.sum,
	min = MIN(metrics_summaries.min, excluded.min),
	max = MAX(metrics_summaries.max, excluded.max)`
	for name, s := range summaries {
		if _, err := tx.ExecContext(ctx, upSummary, name, s.Count, s.Sum, s.Min, s.Max); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}
