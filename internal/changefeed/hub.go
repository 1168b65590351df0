package changefeed

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/BearBump/DispatchBox/internal/gateway"
)

type Handler func(Event)

const defaultBuffer = 64

// Hub fans change events out to per-table subscribers. Every subscription owns
// a goroutine, so events of one table reach a handler in publish order.
type Hub struct {
	mu     sync.RWMutex
	subs   map[gateway.Table][]*Subscription
	buffer int
	closed bool

	published atomic.Int64
	rejected  atomic.Int64
}

type HubStats struct {
	Published     int64 `json:"published"`
	Rejected      int64 `json:"rejected"`
	Subscriptions int   `json:"subscriptions"`
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{subs: make(map[gateway.Table][]*Subscription), buffer: buffer}
}

// Subscribe opens one logical channel for table. The handler runs on the
// subscription's own goroutine and must not call Close on its own subscription.
func (h *Hub) Subscribe(table gateway.Table, handler Handler) *Subscription {
	s := &Subscription{
		hub:      h,
		table:    table,
		handler:  handler,
		ch:       make(chan Event, h.buffer),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		s.once.Do(func() { close(s.done) })
		close(s.finished)
		return s
	}
	h.subs[table] = append(h.subs[table], s)
	h.mu.Unlock()

	go s.loop()
	return s
}

// Publish blocks while a subscriber's buffer is full.
func (h *Hub) Publish(ev Event) {
	if err := ev.Validate(); err != nil {
		h.rejected.Add(1)
		slog.Warn("changefeed: drop event", "table", ev.Table, "kind", ev.Kind, "err", err)
		return
	}
	h.mu.RLock()
	subs := append([]*Subscription(nil), h.subs[ev.Table]...)
	h.mu.RUnlock()

	h.published.Add(1)
	for _, s := range subs {
		select {
		case s.ch <- ev:
		case <-s.done:
		}
	}
}

// Close releases every subscription. Later Subscribe calls get a closed subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*Subscription
	for _, list := range h.subs {
		all = append(all, list...)
	}
	h.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
}

func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	n := 0
	for _, list := range h.subs {
		n += len(list)
	}
	h.mu.RUnlock()
	return HubStats{
		Published:     h.published.Load(),
		Rejected:      h.rejected.Load(),
		Subscriptions: n,
	}
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.subs[s.table]
	for i, v := range list {
		if v == s {
			h.subs[s.table] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(h.subs[s.table]) == 0 {
		delete(h.subs, s.table)
	}
}

type Subscription struct {
	hub     *Hub
	table   gateway.Table
	handler Handler

	ch       chan Event
	done     chan struct{}
	finished chan struct{}
	once     sync.Once
}

func (s *Subscription) Table() gateway.Table { return s.table }

// Close stops delivery. It is safe to call more than once; when it returns the
// handler is not running and will not be called again.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
		close(s.done)
	})
	<-s.finished
}

func (s *Subscription) loop() {
	defer close(s.finished)
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.ch:
			select {
			case <-s.done:
				return
			default:
			}
			s.dispatch(ev)
		}
	}
}

func (s *Subscription) dispatch(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("changefeed: handler panic", "table", s.table, "kind", ev.Kind, "panic", r)
		}
	}()
	s.handler(ev)
}
