package realtime

import (
	"sync"
	"time"
)

// Mirror is an ordered in-memory copy of one table, kept in sync by applying
// change events. Keys are unique; order is first-seen order, and Reset
// replaces it with the fetch order.
type Mirror[T any] struct {
	mu    sync.RWMutex
	items []T
	index map[string]int

	key     func(T) string
	version func(T) (time.Time, bool)
	merge   func(prev, next T) T
}

type MirrorOption[T any] func(*Mirror[T])

// WithVersion enables last-write-wins: a row older than the mirrored one is dropped.
func WithVersion[T any](fn func(T) (time.Time, bool)) MirrorOption[T] {
	return func(m *Mirror[T]) { m.version = fn }
}

// WithMerge lets an update carry over enrichment the incoming row lacks.
func WithMerge[T any](fn func(prev, next T) T) MirrorOption[T] {
	return func(m *Mirror[T]) { m.merge = fn }
}

func NewMirror[T any](key func(T) string, opts ...MirrorOption[T]) *Mirror[T] {
	m := &Mirror[T]{key: key, index: make(map[string]int)}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Reset rebuilds the mirror from a full fetch. Duplicate keys keep the last
// occurrence at the position of the first.
func (m *Mirror[T]) Reset(rows []T) {
	items := make([]T, 0, len(rows))
	index := make(map[string]int, len(rows))
	for _, r := range rows {
		k := m.key(r)
		if i, ok := index[k]; ok {
			items[i] = r
			continue
		}
		index[k] = len(items)
		items = append(items, r)
	}

	m.mu.Lock()
	m.items = items
	m.index = index
	m.mu.Unlock()
}

// Reconcile rebuilds the mirror from a full fetch without losing changes the
// fetch may predate. Keys for which keep reports true stay as currently
// mirrored (present or absent), and a fetched row older than the mirrored one
// is ignored. Kept rows the fetch lacks are appended in mirror order.
func (m *Mirror[T]) Reconcile(rows []T, keep func(key string) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := make([]T, 0, len(rows))
	index := make(map[string]int, len(rows))
	put := func(k string, r T) {
		if i, ok := index[k]; ok {
			items[i] = r
			return
		}
		index[k] = len(items)
		items = append(items, r)
	}

	for _, r := range rows {
		k := m.key(r)
		i, had := m.index[k]
		switch {
		case keep != nil && keep(k):
			if had {
				put(k, m.items[i])
			}
		case had && m.stale(m.items[i], r):
			put(k, m.items[i])
		default:
			put(k, r)
		}
	}
	if keep != nil {
		for _, r := range m.items {
			k := m.key(r)
			if _, ok := index[k]; !ok && keep(k) {
				put(k, r)
			}
		}
	}

	m.items = items
	m.index = index
}

// ApplyInsert replaces the row in place when its key is known, otherwise appends.
// It reports whether the mirror changed.
func (m *Mirror[T]) ApplyInsert(row T) bool {
	return m.upsert(row, false)
}

// ApplyUpdate replaces the full value, inserting when the key is absent.
func (m *Mirror[T]) ApplyUpdate(row T) bool {
	return m.upsert(row, true)
}

func (m *Mirror[T]) upsert(row T, merge bool) bool {
	k := m.key(row)

	m.mu.Lock()
	defer m.mu.Unlock()

	i, ok := m.index[k]
	if !ok {
		m.index[k] = len(m.items)
		m.items = append(m.items, row)
		return true
	}
	prev := m.items[i]
	if m.stale(prev, row) {
		return false
	}
	if merge && m.merge != nil {
		row = m.merge(prev, row)
	}
	m.items[i] = row
	return true
}

func (m *Mirror[T]) stale(prev, next T) bool {
	if m.version == nil {
		return false
	}
	pv, ok := m.version(prev)
	if !ok {
		return false
	}
	nv, ok := m.version(next)
	if !ok {
		return false
	}
	return nv.Before(pv)
}

// ApplyDelete removes key. A missing key is not an error.
func (m *Mirror[T]) ApplyDelete(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	i, ok := m.index[key]
	if !ok {
		return false
	}
	copy(m.items[i:], m.items[i+1:])
	var zero T
	m.items[len(m.items)-1] = zero
	m.items = m.items[:len(m.items)-1]
	delete(m.index, key)
	for j := i; j < len(m.items); j++ {
		m.index[m.key(m.items[j])] = j
	}
	return true
}

func (m *Mirror[T]) Get(key string) (T, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.index[key]
	if !ok {
		var zero T
		return zero, false
	}
	return m.items[i], true
}

// Snapshot returns a copy in collection order.
func (m *Mirror[T]) Snapshot() []T {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]T, len(m.items))
	copy(out, m.items)
	return out
}

func (m *Mirror[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// Update rewrites every row in place, e.g. to patch enrichment after a name change.
func (m *Mirror[T]) Update(fn func(T) (T, bool)) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for i, r := range m.items {
		if next, ok := fn(r); ok {
			m.items[i] = next
			n++
		}
	}
	return n
}
