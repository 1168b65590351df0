package realtime

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/BearBump/DispatchBox/internal/gateway"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

// DriverLookup fetches a single driver's full name from the backend.
type DriverLookup interface {
	LookupDriverName(ctx context.Context, driverID string) (name string, found bool, err error)
}

// NameStore is a shared second-level cache, usually Redis.
type NameStore interface {
	GetDriverName(ctx context.Context, driverID string) (string, bool, error)
	SetDriverName(ctx context.Context, driverID, name string) error
	DeleteDriverName(ctx context.Context, driverID string) error
}

type nameEntry struct {
	name  string
	found bool
}

// NameCache resolves driver id -> full name. Each id is looked up remotely at
// most once for the lifetime of the cache, concurrent callers included.
// Misses are cached too; lookup errors are not.
type NameCache struct {
	lookup DriverLookup
	l2     NameStore
	local  *cache.Cache
	group  singleflight.Group

	lookups atomic.Int64
	closed  atomic.Bool
}

type NameCacheOption func(*NameCache)

func WithNameStore(s NameStore) NameCacheOption {
	return func(c *NameCache) { c.l2 = s }
}

// WithNameTTL expires local entries; by default they live until Forget or Close.
func WithNameTTL(ttl time.Duration) NameCacheOption {
	return func(c *NameCache) {
		if ttl > 0 {
			c.local = cache.New(ttl, 2*ttl)
		}
	}
}

func NewNameCache(lookup DriverLookup, opts ...NameCacheOption) *NameCache {
	c := &NameCache{
		lookup: lookup,
		local:  cache.New(cache.NoExpiration, 0),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *NameCache) Resolve(ctx context.Context, driverID string) (string, bool) {
	if driverID == "" || c.closed.Load() {
		return "", false
	}
	if e, ok := c.cached(driverID); ok {
		return e.name, e.found
	}

	v, err, _ := c.group.Do(driverID, func() (any, error) {
		if e, ok := c.cached(driverID); ok {
			return e, nil
		}
		if c.l2 != nil {
			name, ok, err := c.l2.GetDriverName(ctx, driverID)
			if err != nil {
				slog.Warn("names: shared cache read failed", "driver_id", driverID, "err", err)
			} else if ok {
				e := nameEntry{name: name, found: true}
				c.local.SetDefault(driverID, e)
				return e, nil
			}
		}
		if c.lookup == nil {
			return nameEntry{}, nil
		}

		c.lookups.Add(1)
		name, found, err := c.lookup.LookupDriverName(ctx, driverID)
		if err != nil {
			return nil, err
		}
		e := nameEntry{name: name, found: found && name != ""}
		c.local.SetDefault(driverID, e)
		if e.found && c.l2 != nil {
			if err := c.l2.SetDriverName(ctx, driverID, name); err != nil {
				slog.Warn("names: shared cache write failed", "driver_id", driverID, "err", err)
			}
		}
		return e, nil
	})
	if err != nil {
		slog.Warn("names: lookup failed", "driver_id", driverID, "err", err)
		return "", false
	}
	e := v.(nameEntry)
	return e.name, e.found
}

// Cached reports a name without ever going remote.
func (c *NameCache) Cached(driverID string) (string, bool) {
	e, ok := c.cached(driverID)
	if !ok {
		return "", false
	}
	return e.name, e.found
}

func (c *NameCache) cached(driverID string) (nameEntry, bool) {
	v, ok := c.local.Get(driverID)
	if !ok {
		return nameEntry{}, false
	}
	return v.(nameEntry), true
}

// Prime bulk-fills from an already fetched join.
func (c *NameCache) Prime(names map[string]string) {
	for id, name := range names {
		c.Put(id, name)
	}
}

func (c *NameCache) Put(driverID, name string) {
	if driverID == "" || name == "" || c.closed.Load() {
		return
	}
	c.local.SetDefault(driverID, nameEntry{name: name, found: true})
}

// Evict drops the local entry only; the shared store keeps serving other instances.
func (c *NameCache) Evict(driverID string) {
	c.local.Delete(driverID)
}

// Forget drops the name everywhere, for drivers that no longer exist.
func (c *NameCache) Forget(ctx context.Context, driverID string) {
	c.local.Delete(driverID)
	if c.l2 != nil {
		if err := c.l2.DeleteDriverName(ctx, driverID); err != nil {
			slog.Warn("names: shared cache delete failed", "driver_id", driverID, "err", err)
		}
	}
}

func (c *NameCache) Lookups() int64 { return c.lookups.Load() }

func (c *NameCache) Len() int { return c.local.ItemCount() }

func (c *NameCache) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.local.Flush()
}

// GatewayDriverLookup resolves names with a point query on drivers.
type GatewayDriverLookup struct {
	GW gateway.Gateway
}

func (l GatewayDriverLookup) LookupDriverName(ctx context.Context, driverID string) (string, bool, error) {
	rows, err := l.GW.List(ctx, gateway.TableDrivers, gateway.Query{
		Columns: []string{"id", "full_name"},
		Eq:      map[string]any{"id": driverID},
		Limit:   1,
	})
	if err != nil {
		return "", false, errors.Wrap(err, "lookup driver name")
	}
	if len(rows) == 0 {
		return "", false, nil
	}
	name := gateway.StringValue(rows[0]["full_name"])
	return name, name != "", nil
}
