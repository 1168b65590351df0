package relay

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/DispatchBox/internal/changefeed"
	"github.com/BearBump/DispatchBox/internal/gateway"
)

type Publisher interface {
	PublishChange(ctx context.Context, ev changefeed.Event) error
}

// Relay forwards every hub event to a Publisher. Each table has its own
// subscription, so per-table order survives; an event is retried with backoff
// and dropped after maxAttempts.
type Relay struct {
	hub     *changefeed.Hub
	pub     Publisher
	backoff changefeed.Backoff

	maxAttempts int
	timeout     time.Duration

	forwarded atomic.Int64
	retried   atomic.Int64
	dropped   atomic.Int64

	lastErrorMu sync.Mutex
	lastError   string
}

type Stats struct {
	Forwarded int64  `json:"forwarded"`
	Retried   int64  `json:"retried"`
	Dropped   int64  `json:"dropped"`
	LastError string `json:"lastError,omitempty"`
}

func New(hub *changefeed.Hub, pub Publisher, backoff changefeed.Backoff) *Relay {
	return &Relay{
		hub:         hub,
		pub:         pub,
		backoff:     backoff,
		maxAttempts: 5,
		timeout:     10 * time.Second,
	}
}

func (r *Relay) WithSettings(maxAttempts int, timeout time.Duration) *Relay {
	if maxAttempts > 0 {
		r.maxAttempts = maxAttempts
	}
	if timeout > 0 {
		r.timeout = timeout
	}
	return r
}

// Run subscribes to every table and blocks until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	subs := make([]*changefeed.Subscription, 0, len(gateway.Tables))
	for _, t := range gateway.Tables {
		subs = append(subs, r.hub.Subscribe(t, func(ev changefeed.Event) {
			r.forward(ctx, ev)
		}))
	}
	<-ctx.Done()
	for _, s := range subs {
		s.Close()
	}
	return ctx.Err()
}

func (r *Relay) forward(ctx context.Context, ev changefeed.Event) {
	for attempt := 1; ; attempt++ {
		pctx, cancel := context.WithTimeout(ctx, r.timeout)
		err := r.pub.PublishChange(pctx, ev)
		cancel()
		if err == nil {
			r.forwarded.Add(1)
			return
		}
		r.setLastError(err)
		if ctx.Err() != nil {
			return
		}
		if attempt >= r.maxAttempts {
			r.dropped.Add(1)
			slog.Error("relay: drop change", "table", ev.Table, "kind", ev.Kind, "attempts", attempt, "err", err)
			return
		}

		r.retried.Add(1)
		delay := time.Second
		if r.backoff != nil {
			delay = r.backoff.Delay(attempt)
		}
		slog.Warn("relay: publish failed", "table", ev.Table, "attempt", attempt, "retry_in", delay, "err", err)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (r *Relay) setLastError(err error) {
	r.lastErrorMu.Lock()
	r.lastError = err.Error()
	r.lastErrorMu.Unlock()
}

func (r *Relay) Stats() Stats {
	r.lastErrorMu.Lock()
	last := r.lastError
	r.lastErrorMu.Unlock()
	return Stats{
		Forwarded: r.forwarded.Load(),
		Retried:   r.retried.Load(),
		Dropped:   r.dropped.Load(),
		LastError: last,
	}
}
