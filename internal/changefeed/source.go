package changefeed

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Source produces change events until ctx is cancelled or the connection drops.
type Source interface {
	Run(ctx context.Context, publish func(Event)) error
}

type SourceFunc func(ctx context.Context, publish func(Event)) error

func (f SourceFunc) Run(ctx context.Context, publish func(Event)) error { return f(ctx, publish) }

type Backoff interface {
	Delay(attempt int) time.Duration
}

// A run that lasted this long counts as healthy and resets the backoff.
const healthyRun = time.Minute

type PumpStats struct {
	Running    bool      `json:"running"`
	Reconnects int64     `json:"reconnects"`
	LastError  string    `json:"last_error,omitempty"`
	LastErrAt  time.Time `json:"last_error_at,omitempty"`
}

type Pump struct {
	src     Source
	hub     *Hub
	backoff Backoff
	onErr   func(error)

	running    atomic.Bool
	reconnects atomic.Int64
	mu         sync.Mutex
	lastErr    string
	lastErrAt  time.Time
}

func NewPump(src Source, hub *Hub, backoff Backoff, onErr func(error)) *Pump {
	return &Pump{src: src, hub: hub, backoff: backoff, onErr: onErr}
}

// Run keeps the source attached to the hub, reconnecting with backoff. Source
// errors are never fatal; Run returns only when ctx is done.
func (p *Pump) Run(ctx context.Context) {
	attempt := 0
	for {
		p.running.Store(true)
		started := time.Now()
		err := p.src.Run(ctx, p.hub.Publish)
		p.running.Store(false)
		if ctx.Err() != nil {
			return
		}

		if time.Since(started) >= healthyRun {
			attempt = 0
		}
		attempt++
		p.reconnects.Add(1)
		p.record(err)

		delay := time.Second
		if p.backoff != nil {
			delay = p.backoff.Delay(attempt)
		}
		slog.Warn("changefeed: source disconnected", "err", err, "attempt", attempt, "retry_in", delay)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (p *Pump) record(err error) {
	if err == nil {
		return
	}
	p.mu.Lock()
	p.lastErr = err.Error()
	p.lastErrAt = time.Now()
	p.mu.Unlock()
	if p.onErr != nil {
		p.onErr(err)
	}
}

func (p *Pump) Stats() PumpStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PumpStats{
		Running:    p.running.Load(),
		Reconnects: p.reconnects.Load(),
		LastError:  p.lastErr,
		LastErrAt:  p.lastErrAt,
	}
}
