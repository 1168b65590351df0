package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BearBump/DispatchBox/internal/cache/rediscache"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLookup struct {
	mu    sync.Mutex
	names map[string]string
	err   error
	calls atomic.Int32
	delay time.Duration
}

func (f *fakeLookup) LookupDriverName(ctx context.Context, id string) (string, bool, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", false, f.err
	}
	n, ok := f.names[id]
	return n, ok, nil
}

func TestNameCache_ConcurrentResolveLooksUpOnce(t *testing.T) {
	lk := &fakeLookup{names: map[string]string{"d1": "Ann Lee"}, delay: 20 * time.Millisecond}
	c := NewNameCache(lk)
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name, ok := c.Resolve(context.Background(), "d1")
			assert.True(t, ok)
			assert.Equal(t, "Ann Lee", name)
		}()
	}
	wg.Wait()

	_, _ = c.Resolve(context.Background(), "d1")
	require.Equal(t, int32(1), lk.calls.Load())
	require.Equal(t, int64(1), c.Lookups())
}

func TestNameCache_NegativeResultsAreCached(t *testing.T) {
	lk := &fakeLookup{names: map[string]string{}}
	c := NewNameCache(lk)
	defer c.Close()

	_, ok := c.Resolve(context.Background(), "ghost")
	require.False(t, ok)
	_, ok = c.Resolve(context.Background(), "ghost")
	require.False(t, ok)
	require.Equal(t, int32(1), lk.calls.Load())
}

func TestNameCache_ErrorsAreNotCached(t *testing.T) {
	lk := &fakeLookup{names: map[string]string{"d1": "Ann"}, err: errors.New("timeout")}
	c := NewNameCache(lk)
	defer c.Close()

	_, ok := c.Resolve(context.Background(), "d1")
	require.False(t, ok)

	lk.mu.Lock()
	lk.err = nil
	lk.mu.Unlock()

	name, ok := c.Resolve(context.Background(), "d1")
	require.True(t, ok)
	require.Equal(t, "Ann", name)
	require.Equal(t, int32(2), lk.calls.Load())
}

func TestNameCache_PrimePutForget(t *testing.T) {
	lk := &fakeLookup{names: map[string]string{"d2": "Remote"}}
	c := NewNameCache(lk)
	defer c.Close()

	c.Prime(map[string]string{"d1": "Ann", "d2": "Bob", "": "nobody"})
	name, ok := c.Resolve(context.Background(), "d2")
	require.True(t, ok)
	require.Equal(t, "Bob", name)
	require.Equal(t, int32(0), lk.calls.Load())
	require.Equal(t, 2, c.Len())

	c.Forget(context.Background(), "d2")
	_, ok = c.Cached("d2")
	require.False(t, ok)
	name, _ = c.Resolve(context.Background(), "d2")
	require.Equal(t, "Remote", name)
	require.Equal(t, int32(1), lk.calls.Load())
}

func TestNameCache_EmptyIDAndClosed(t *testing.T) {
	lk := &fakeLookup{names: map[string]string{"d1": "Ann"}}
	c := NewNameCache(lk)

	_, ok := c.Resolve(context.Background(), "")
	require.False(t, ok)

	c.Close()
	c.Close()
	_, ok = c.Resolve(context.Background(), "d1")
	require.False(t, ok)
	require.Equal(t, int32(0), lk.calls.Load())
}

func TestNameCache_SharedStore(t *testing.T) {
	mr := miniredis.RunT(t)
	store := rediscache.New(mr.Addr(), 0)
	defer store.Close()

	lk := &fakeLookup{names: map[string]string{"d1": "Ann"}}
	first := NewNameCache(lk, WithNameStore(store))
	defer first.Close()
	name, ok := first.Resolve(context.Background(), "d1")
	require.True(t, ok)
	require.Equal(t, "Ann", name)

	// a second instance is served from redis
	second := NewNameCache(lk, WithNameStore(store))
	defer second.Close()
	name, ok = second.Resolve(context.Background(), "d1")
	require.True(t, ok)
	require.Equal(t, "Ann", name)
	require.Equal(t, int32(1), lk.calls.Load())

	second.Forget(context.Background(), "d1")
	require.False(t, mr.Exists("dispatch:driver:name:d1"))
}

func TestNameCache_SharedStoreDownFallsBack(t *testing.T) {
	mr := miniredis.RunT(t)
	store := rediscache.New(mr.Addr(), 0)
	defer store.Close()
	mr.Close()

	lk := &fakeLookup{names: map[string]string{"d1": "Ann"}}
	c := NewNameCache(lk, WithNameStore(store))
	defer c.Close()

	name, ok := c.Resolve(context.Background(), "d1")
	require.True(t, ok)
	require.Equal(t, "Ann", name)
}

func TestNameCache_EvictKeepsSharedEntry(t *testing.T) {
	mr := miniredis.RunT(t)
	store := rediscache.New(mr.Addr(), 0)
	defer store.Close()

	lk := &fakeLookup{names: map[string]string{"d1": "Ann"}}
	c := NewNameCache(lk, WithNameStore(store))
	defer c.Close()
	_, ok := c.Resolve(context.Background(), "d1")
	require.True(t, ok)

	c.Evict("d1")
	_, ok = c.Cached("d1")
	require.False(t, ok)
	require.True(t, mr.Exists("dispatch:driver:name:d1"))

	name, ok := c.Resolve(context.Background(), "d1")
	require.True(t, ok)
	require.Equal(t, "Ann", name)
	require.Equal(t, int32(1), lk.calls.Load())
}
