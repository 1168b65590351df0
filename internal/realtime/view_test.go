package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/DispatchBox/internal/cache/rediscache"
	"github.com/BearBump/DispatchBox/internal/changefeed"
	"github.com/BearBump/DispatchBox/internal/gateway"
	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/BearBump/DispatchBox/internal/storage/memstore"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

// gatedGateway holds selected List calls (1-based) after the rows were read,
// so the caller sees a snapshot older than the store.
type gatedGateway struct {
	gateway.Gateway

	mu      sync.Mutex
	calls   int
	gates   map[int]chan struct{}
	entered chan int
}

func newGatedGateway(gw gateway.Gateway, gated ...int) *gatedGateway {
	g := &gatedGateway{Gateway: gw, gates: make(map[int]chan struct{}), entered: make(chan int, 8)}
	for _, n := range gated {
		g.gates[n] = make(chan struct{})
	}
	return g
}

func (g *gatedGateway) List(ctx context.Context, t gateway.Table, q gateway.Query) ([]gateway.Row, error) {
	g.mu.Lock()
	g.calls++
	n := g.calls
	gate := g.gates[n]
	g.mu.Unlock()

	rows, err := g.Gateway.List(ctx, t, q)
	if gate != nil {
		g.entered <- n
		<-gate
	}
	return rows, err
}

func (g *gatedGateway) release(n int) { close(g.gates[n]) }

func newDriversView(gw gateway.Gateway, hub *changefeed.Hub) *View[models.Driver] {
	return NewView(gateway.TableDrivers, gateway.Query{}, gw, hub, nil, nil,
		NewMirror(func(d models.Driver) string { return d.ID }), ViewHooks[models.Driver]{})
}

func hasDriver(v *View[models.Driver], id string) bool {
	_, ok := v.Mirror().Get(id)
	return ok
}

func TestView_RemountWhileFirstFetchInFlight(t *testing.T) {
	ctx := context.Background()
	hub := changefeed.NewHub(0)
	defer hub.Close()
	store := memstore.New(hub.Publish)
	gw := newGatedGateway(store, 1)
	v := newDriversView(gw, hub)

	first := make(chan error, 1)
	go func() { first <- v.Mount(ctx) }()
	require.Equal(t, 1, <-gw.entered)

	v.Dispose()
	require.NoError(t, v.Mount(ctx))
	gw.release(1)

	require.ErrorIs(t, <-first, ErrUnmounted)
	require.True(t, v.Mounted())
	require.Equal(t, 1, hub.Stats().Subscriptions)

	_, err := store.Insert(ctx, gateway.TableDrivers, gateway.Row{"id": "d1", "full_name": "Ann Lee"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hasDriver(v, "d1") }, time.Second, time.Millisecond)
	v.Dispose()
}

func TestView_OverlappingMountsSubscribeOnce(t *testing.T) {
	ctx := context.Background()
	hub := changefeed.NewHub(0)
	defer hub.Close()
	store := memstore.New(hub.Publish)
	gw := newGatedGateway(store, 1, 2)
	v := newDriversView(gw, hub)

	first := make(chan error, 1)
	go func() { first <- v.Mount(ctx) }()
	require.Equal(t, 1, <-gw.entered)
	v.Dispose()

	second := make(chan error, 1)
	go func() { second <- v.Mount(ctx) }()
	require.Equal(t, 2, <-gw.entered)

	gw.release(1)
	require.ErrorIs(t, <-first, ErrUnmounted)
	gw.release(2)
	require.NoError(t, <-second)

	require.True(t, v.Mounted())
	require.Equal(t, 1, hub.Stats().Subscriptions)
	v.Dispose()
	require.Equal(t, 0, hub.Stats().Subscriptions)
}

func TestView_RefreshKeepsEventsAppliedDuringFetch(t *testing.T) {
	ctx := context.Background()
	hub := changefeed.NewHub(0)
	defer hub.Close()
	store := memstore.New(hub.Publish)
	_, err := store.Insert(ctx, gateway.TableDrivers, gateway.Row{"id": "d1", "full_name": "Ann Lee"})
	require.NoError(t, err)
	_, err = store.Insert(ctx, gateway.TableDrivers, gateway.Row{"id": "d2", "full_name": "Bo Diaz"})
	require.NoError(t, err)

	gw := newGatedGateway(store, 2)
	v := newDriversView(gw, hub)
	require.NoError(t, v.Mount(ctx))
	defer v.Dispose()

	refreshed := make(chan error, 1)
	go func() { refreshed <- v.Refresh(ctx) }()
	require.Equal(t, 2, <-gw.entered)

	// the in-flight snapshot predates all three writes
	_, err = store.Insert(ctx, gateway.TableDrivers, gateway.Row{"id": "d9", "full_name": "Cy Moss"})
	require.NoError(t, err)
	_, err = store.Update(ctx, gateway.TableDrivers, "d1", gateway.Row{"full_name": "Ann Park"})
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, gateway.TableDrivers, "d2"))
	require.Eventually(t, func() bool {
		return hasDriver(v, "d9") && !hasDriver(v, "d2")
	}, time.Second, time.Millisecond)

	gw.release(2)
	require.NoError(t, <-refreshed)

	require.True(t, hasDriver(v, "d9"))
	require.False(t, hasDriver(v, "d2"))
	d1, ok := v.Mirror().Get("d1")
	require.True(t, ok)
	require.Equal(t, "Ann Park", d1.FullName)
	require.Equal(t, 2, v.Mirror().Len())

	// with no fetch in flight the next refresh takes the remote as is
	require.NoError(t, v.Refresh(ctx))
	require.Equal(t, 2, v.Mirror().Len())
}

func TestConsole_LocationDeleteKeepsSharedName(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rc := rediscache.New(mr.Addr(), 0)
	defer rc.Close()

	hub := changefeed.NewHub(0)
	defer hub.Close()
	store := memstore.New(hub.Publish)
	_, err := store.Insert(ctx, gateway.TableDrivers, gateway.Row{"id": "d1", "full_name": "Ann Lee"})
	require.NoError(t, err)
	require.NoError(t, rc.SetDriverName(ctx, "d1", "Ann Lee"))

	names := NewNameCache(GatewayDriverLookup{GW: store}, WithNameStore(rc))
	c := NewConsole(ConsoleDeps{Gateway: store, Hub: hub, Names: names})
	require.NoError(t, c.Mount(ctx))
	defer c.Dispose()

	_, err = store.Insert(ctx, gateway.TableLocations, gateway.Row{"driver_id": "d1", "latitude": 1.0, "longitude": 2.0})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return c.Locations.Mirror().Len() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, store.Delete(ctx, gateway.TableLocations, "d1"))
	require.Eventually(t, func() bool { return c.Locations.Mirror().Len() == 0 }, time.Second, time.Millisecond)

	_, local := names.Cached("d1")
	require.False(t, local)
	require.True(t, mr.Exists("dispatch:driver:name:d1"))
}
