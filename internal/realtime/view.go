package realtime

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/BearBump/DispatchBox/internal/changefeed"
	"github.com/BearBump/DispatchBox/internal/gateway"
	"github.com/pkg/errors"
)

var ErrUnmounted = errors.New("view is not mounted")

// Change is a mirror mutation as pushed to live consoles.
type Change struct {
	Table gateway.Table   `json:"table"`
	Kind  changefeed.Kind `json:"kind"`
	Key   string          `json:"key"`
	Row   any             `json:"row,omitempty"`
}

// ViewHooks customise a View for one table. All hooks are optional.
type ViewHooks[T any] struct {
	// Enrich fills embedded data an event row does not carry.
	Enrich func(ctx context.Context, row *T)
	// Loaded sees every full fetch, e.g. to prime the name cache.
	Loaded func(rows []T)
	// Applied runs after an insert or update reached the mirror.
	Applied func(ctx context.Context, row T)
	// Deleted runs after a delete; prev is the mirrored row if there was one.
	Deleted func(ctx context.Context, key string, prev T, had bool)
	// Enrichment feeds Decide.
	Enrichment func(ctx context.Context, ev changefeed.Event, prev T, had bool) Enrichment
}

// View keeps one table mirrored: a full fetch on mount, then changefeed events.
type View[T any] struct {
	table    gateway.Table
	query    gateway.Query
	gw       gateway.Gateway
	hub      *changefeed.Hub
	notifier *Notifier
	rec      Recorder
	hooks    ViewHooks[T]
	mirror   *Mirror[T]

	mu      sync.Mutex
	mounted bool
	gen     uint64
	sub     *changefeed.Subscription

	// keys changed by events while a full fetch is in flight
	fetching int
	touched  map[string]struct{}

	lmu       sync.RWMutex
	listeners []func(Change)
}

func NewView[T any](table gateway.Table, q gateway.Query, gw gateway.Gateway, hub *changefeed.Hub,
	notifier *Notifier, rec Recorder, mirror *Mirror[T], hooks ViewHooks[T]) *View[T] {
	if rec == nil {
		rec = nopRecorder{}
	}
	return &View[T]{
		table:    table,
		query:    q,
		gw:       gw,
		hub:      hub,
		notifier: notifier,
		rec:      rec,
		hooks:    hooks,
		mirror:   mirror,
	}
}

func (v *View[T]) Table() gateway.Table { return v.table }
func (v *View[T]) Mirror() *Mirror[T]   { return v.mirror }

func (v *View[T]) Mounted() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mounted
}

// OnChange registers fn for every applied change. fn runs on the event goroutine.
func (v *View[T]) OnChange(fn func(Change)) {
	v.lmu.Lock()
	v.listeners = append(v.listeners, fn)
	v.lmu.Unlock()
}

// Mount fetches the table and then subscribes. Mounting twice is a no-op.
func (v *View[T]) Mount(ctx context.Context) error {
	v.mu.Lock()
	if v.mounted {
		v.mu.Unlock()
		return nil
	}
	v.mounted = true
	v.gen++
	gen := v.gen
	v.mu.Unlock()

	if err := v.Refresh(ctx); err != nil {
		v.mu.Lock()
		// a Dispose or a newer Mount owns the view now
		if v.gen == gen {
			v.mounted = false
		}
		v.mu.Unlock()
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.mounted || v.gen != gen {
		return ErrUnmounted
	}
	if v.sub == nil {
		v.sub = v.hub.Subscribe(v.table, v.handle)
	}
	return nil
}

// Refresh rebuilds the mirror from a full fetch. Rows changed by events while
// the fetch was in flight keep their mirrored state. A result that arrives
// after Dispose (or after a newer mount) is dropped.
func (v *View[T]) Refresh(ctx context.Context) error {
	v.mu.Lock()
	if !v.mounted {
		v.mu.Unlock()
		return ErrUnmounted
	}
	gen := v.gen
	if v.fetching == 0 {
		v.touched = make(map[string]struct{})
	}
	v.fetching++
	v.mu.Unlock()

	rows, err := v.gw.List(ctx, v.table, v.query)

	v.mu.Lock()
	defer v.mu.Unlock()
	touched := v.touched
	v.fetching--
	if v.fetching == 0 {
		v.touched = nil
	}

	if err != nil {
		return errors.Wrapf(err, "fetch %s", v.table)
	}
	items, err := gateway.DecodeAll[T](rows)
	if err != nil {
		return err
	}
	if !v.mounted || v.gen != gen {
		return ErrUnmounted
	}
	if v.hooks.Loaded != nil {
		v.hooks.Loaded(items)
	}
	v.mirror.Reconcile(items, func(key string) bool {
		_, ok := touched[key]
		return ok
	})
	return nil
}

func (v *View[T]) touch(key string) {
	v.mu.Lock()
	if v.touched != nil {
		v.touched[key] = struct{}{}
	}
	v.mu.Unlock()
}

// Dispose closes the subscription exactly once. It must not be called from an OnChange listener.
func (v *View[T]) Dispose() {
	v.mu.Lock()
	if !v.mounted {
		v.mu.Unlock()
		return
	}
	v.mounted = false
	v.gen++
	sub := v.sub
	v.sub = nil
	v.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
}

func (v *View[T]) handle(ev changefeed.Event) {
	ctx := context.Background()

	key, err := ev.Key()
	if err != nil {
		slog.Warn("view: skip event", "table", v.table, "kind", ev.Kind, "err", err)
		return
	}
	v.touch(key)
	prev, had := v.mirror.Get(key)

	var row any
	switch ev.Kind {
	case changefeed.KindInsert, changefeed.KindUpdate:
		next, err := decodeImage[T](ev)
		if err != nil {
			slog.Warn("view: decode row", "table", v.table, "key", key, "err", err)
			return
		}
		if v.hooks.Enrich != nil {
			v.hooks.Enrich(ctx, &next)
		}
		var applied bool
		if ev.Kind == changefeed.KindInsert {
			applied = v.mirror.ApplyInsert(next)
		} else {
			applied = v.mirror.ApplyUpdate(next)
		}
		if !applied {
			// stale write, nothing to show
			return
		}
		if cur, ok := v.mirror.Get(key); ok {
			next = cur
		}
		if v.hooks.Applied != nil {
			v.hooks.Applied(ctx, next)
		}
		row = next
	case changefeed.KindDelete:
		v.mirror.ApplyDelete(key)
		if v.hooks.Deleted != nil {
			v.hooks.Deleted(ctx, key, prev, had)
		}
	}
	v.rec.ChangeApplied(string(v.table), string(ev.Kind))

	var en Enrichment
	if v.hooks.Enrichment != nil {
		en = v.hooks.Enrichment(ctx, ev, prev, had)
	}
	v.notifier.Notify(ctx, Decide(v.table, ev, en))

	ch := Change{Table: v.table, Kind: ev.Kind, Key: key, Row: row}
	v.lmu.RLock()
	listeners := slices.Clone(v.listeners)
	v.lmu.RUnlock()
	for _, fn := range listeners {
		fn(ch)
	}
}

func decodeImage[T any](ev changefeed.Event) (T, error) {
	r, err := ev.NewRow()
	if err != nil {
		var zero T
		return zero, err
	}
	return gateway.Decode[T](r)
}
