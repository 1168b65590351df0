package resync

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/DispatchBox/internal/gateway"
	"github.com/pkg/errors"
)

type RefreshFunc func(ctx context.Context) error

// Resyncer periodically rebuilds every registered view from a full fetch so a
// missed change event never leaves a mirror stale for longer than one interval.
type Resyncer struct {
	refreshers map[gateway.Table]RefreshFunc
	interval   time.Duration
	timeout    time.Duration
	onError    func(table gateway.Table, err error)

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalCycles         atomic.Int64
	totalRefreshed      atomic.Int64
	totalErrors         atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(refreshers map[gateway.Table]func(context.Context) error) *Resyncer {
	r := &Resyncer{
		refreshers:        make(map[gateway.Table]RefreshFunc, len(refreshers)),
		interval:          5 * time.Minute,
		timeout:           30 * time.Second,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
	for t, fn := range refreshers {
		r.refreshers[t] = fn
	}
	return r
}

func (r *Resyncer) WithSettings(interval, timeout time.Duration) *Resyncer {
	if interval > 0 {
		r.interval = interval
	}
	if timeout > 0 {
		r.timeout = timeout
	}
	return r
}

// WithErrorHandler is called for every failed view refresh.
func (r *Resyncer) WithErrorHandler(fn func(table gateway.Table, err error)) *Resyncer {
	r.onError = fn
	return r
}

// Trigger forces an immediate resync cycle (best-effort, non-blocking).
func (r *Resyncer) Trigger() {
	r.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case r.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	IntervalSec    float64    `json:"intervalSec"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	TotalCycles    int64      `json:"totalCycles"`
	TotalRefreshed int64      `json:"totalRefreshed"`
	TotalErrors    int64      `json:"totalErrors"`
	LastError      string     `json:"lastError,omitempty"`
}

func (r *Resyncer) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, r.startedAtUnixNano).UTC(),
		IntervalSec:    r.interval.Seconds(),
		TotalCycles:    r.totalCycles.Load(),
		TotalRefreshed: r.totalRefreshed.Load(),
		TotalErrors:    r.totalErrors.Load(),
	}
	if n := r.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := r.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	r.lastErrorMu.Lock()
	st.LastError = r.lastError
	r.lastErrorMu.Unlock()
	return st
}

func (r *Resyncer) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			r.RunOnce(ctx)
		case <-r.triggerCh:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce refreshes every view in table order. A failing view does not stop
// the others.
func (r *Resyncer) RunOnce(ctx context.Context) {
	r.lastCycleUnixNano.Store(time.Now().UTC().UnixNano())
	r.totalCycles.Add(1)

	tables := make([]gateway.Table, 0, len(r.refreshers))
	for t := range r.refreshers {
		tables = append(tables, t)
	}
	sort.Slice(tables, func(i, j int) bool { return tableRank(tables[i]) < tableRank(tables[j]) })

	for _, table := range tables {
		if ctx.Err() != nil {
			return
		}
		if err := r.refreshOne(ctx, table); err != nil {
			r.totalErrors.Add(1)
			r.lastErrorMu.Lock()
			r.lastError = err.Error()
			r.lastErrorMu.Unlock()
			slog.Error("resync view", "table", table, "error", err.Error())
			if r.onError != nil {
				r.onError(table, err)
			}
			continue
		}
		r.totalRefreshed.Add(1)
	}
}

func (r *Resyncer) refreshOne(ctx context.Context, table gateway.Table) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.refreshers[table](ctx); err != nil {
		return errors.Wrapf(err, "refresh %s", table)
	}
	return nil
}

// drivers first so the other views find names cached.
func tableRank(t gateway.Table) int {
	for i, x := range gateway.Tables {
		if x == t {
			return i
		}
	}
	return len(gateway.Tables)
}
