package realtime

import (
	"context"
	"strings"
	"time"

	"github.com/BearBump/DispatchBox/internal/changefeed"
	"github.com/BearBump/DispatchBox/internal/gateway"
	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/pkg/errors"
)

var ErrUnknownView = errors.New("unknown view")

var (
	loadSummaryColumns = []string{"id", "load_number", "pickup_location", "delivery_location", "status"}

	driversQuery = gateway.Query{Order: "full_name"}
	loadsQuery   = gateway.Query{
		Order:  "created_at",
		Desc:   true,
		Embeds: []gateway.Embed{{Relation: gateway.TableDrivers, Columns: []string{"id", "full_name"}}},
	}
	locationsQuery = gateway.Query{
		Embeds: []gateway.Embed{
			{Relation: gateway.TableDrivers, Columns: []string{"id", "full_name"}},
			{Relation: gateway.TableLoads, Columns: loadSummaryColumns},
		},
	}
	stopRequestsQuery = gateway.Query{
		Order: "requested_at",
		Desc:  true,
		Embeds: []gateway.Embed{
			{Relation: gateway.TableDrivers, Columns: []string{"id", "full_name", "phone"}},
			{Relation: gateway.TableLoads, Columns: loadSummaryColumns},
		},
	}
)

// Console is the set of live views behind the admin UI. Views enrich each
// other: loads and locations borrow driver names, locations and stop requests
// borrow load summaries.
type Console struct {
	Names        *NameCache
	Drivers      *View[models.Driver]
	Loads        *View[models.Load]
	Locations    *View[models.Location]
	StopRequests *View[models.TrackingStopRequest]
}

type ConsoleDeps struct {
	Gateway  gateway.Gateway
	Hub      *changefeed.Hub
	Notifier *Notifier
	Names    *NameCache
	Recorder Recorder
}

func NewConsole(d ConsoleDeps) *Console {
	c := &Console{Names: d.Names}
	if c.Names == nil {
		c.Names = NewNameCache(GatewayDriverLookup{GW: d.Gateway})
	}

	c.Drivers = NewView(gateway.TableDrivers, driversQuery, d.Gateway, d.Hub, d.Notifier, d.Recorder,
		NewMirror(func(x models.Driver) string { return x.ID }),
		ViewHooks[models.Driver]{
			Loaded: func(rows []models.Driver) {
				names := make(map[string]string, len(rows))
				for _, r := range rows {
					names[r.ID] = r.FullName
				}
				c.Names.Prime(names)
			},
			Applied: func(ctx context.Context, r models.Driver) {
				c.Names.Put(r.ID, r.FullName)
				c.renameDriver(r.ID, r.FullName)
			},
			Deleted: func(ctx context.Context, key string, _ models.Driver, _ bool) {
				c.Names.Forget(ctx, key)
			},
		})

	c.Loads = NewView(gateway.TableLoads, loadsQuery, d.Gateway, d.Hub, d.Notifier, d.Recorder,
		NewMirror(func(x models.Load) string { return x.ID }, WithMerge(mergeLoad)),
		ViewHooks[models.Load]{
			Loaded: func(rows []models.Load) {
				names := make(map[string]string)
				for _, r := range rows {
					if r.DriverID != nil && r.Driver != nil {
						names[*r.DriverID] = r.Driver.FullName
					}
				}
				c.Names.Prime(names)
			},
			Enrich: func(ctx context.Context, r *models.Load) {
				r.Driver = c.driverRef(ctx, r.DriverID, r.Driver)
			},
			Enrichment: func(ctx context.Context, ev changefeed.Event, prev models.Load, had bool) Enrichment {
				if !had {
					return Enrichment{}
				}
				st := prev.Status
				return Enrichment{PrevStatus: &st}
			},
		})

	c.Locations = NewView(gateway.TableLocations, locationsQuery, d.Gateway, d.Hub, d.Notifier, d.Recorder,
		NewMirror(func(x models.Location) string { return x.DriverID },
			WithVersion(func(x models.Location) (time.Time, bool) { return x.UpdatedAt, !x.UpdatedAt.IsZero() })),
		ViewHooks[models.Location]{
			Loaded: func(rows []models.Location) {
				names := make(map[string]string)
				for _, r := range rows {
					if r.Driver != nil {
						names[r.DriverID] = r.Driver.FullName
					}
				}
				c.Names.Prime(names)
			},
			Enrich: func(ctx context.Context, r *models.Location) {
				id := r.DriverID
				r.Driver = c.driverRef(ctx, &id, r.Driver)
				r.Load = c.loadSummary(r.LoadID, r.Load)
			},
			Deleted: func(ctx context.Context, key string, _ models.Location, _ bool) {
				c.Names.Evict(key)
			},
			Enrichment: func(ctx context.Context, ev changefeed.Event, _ models.Location, _ bool) Enrichment {
				if ev.Kind != changefeed.KindInsert {
					return Enrichment{}
				}
				key, _ := ev.Key()
				if cur, ok := c.Locations.Mirror().Get(key); ok && cur.Driver != nil {
					return Enrichment{DriverName: cur.Driver.FullName}
				}
				name, _ := c.Names.Resolve(ctx, key)
				return Enrichment{DriverName: name}
			},
		})

	c.StopRequests = NewView(gateway.TableStopRequests, stopRequestsQuery, d.Gateway, d.Hub, d.Notifier, d.Recorder,
		NewMirror(func(x models.TrackingStopRequest) string { return x.ID }),
		ViewHooks[models.TrackingStopRequest]{
			Enrich: func(ctx context.Context, r *models.TrackingStopRequest) {
				if r.DriverID != nil {
					if drv, ok := c.Drivers.Mirror().Get(*r.DriverID); ok {
						r.Driver = &models.DriverRef{ID: drv.ID, FullName: drv.FullName, Phone: drv.Phone}
					} else {
						r.Driver = c.driverRef(ctx, r.DriverID, r.Driver)
					}
				}
				r.Load = c.loadSummary(r.LoadID, r.Load)
			},
		})

	return c
}

// Mount brings every view up. Drivers go first so the others find names cached.
func (c *Console) Mount(ctx context.Context) error {
	if err := c.Drivers.Mount(ctx); err != nil {
		return err
	}
	if err := c.Loads.Mount(ctx); err != nil {
		return err
	}
	if err := c.Locations.Mount(ctx); err != nil {
		return err
	}
	return c.StopRequests.Mount(ctx)
}

func (c *Console) Dispose() {
	c.StopRequests.Dispose()
	c.Locations.Dispose()
	c.Loads.Dispose()
	c.Drivers.Dispose()
	c.Names.Close()
}

// Refreshers lists the views for periodic resync.
func (c *Console) Refreshers() map[gateway.Table]func(context.Context) error {
	return map[gateway.Table]func(context.Context) error{
		gateway.TableDrivers:      c.Drivers.Refresh,
		gateway.TableLoads:        c.Loads.Refresh,
		gateway.TableLocations:    c.Locations.Refresh,
		gateway.TableStopRequests: c.StopRequests.Refresh,
	}
}

func (c *Console) OnChange(fn func(Change)) {
	c.Drivers.OnChange(fn)
	c.Loads.OnChange(fn)
	c.Locations.OnChange(fn)
	c.StopRequests.OnChange(fn)
}

// Snapshot returns the mirrored rows of table.
func (c *Console) Snapshot(table gateway.Table) (any, error) {
	switch table {
	case gateway.TableDrivers:
		return c.Drivers.Mirror().Snapshot(), nil
	case gateway.TableLoads:
		return c.Loads.Mirror().Snapshot(), nil
	case gateway.TableLocations:
		return c.Locations.Mirror().Snapshot(), nil
	case gateway.TableStopRequests:
		return c.StopRequests.Mirror().Snapshot(), nil
	}
	return nil, errors.Wrapf(ErrUnknownView, "%q", table)
}

func (c *Console) LoadMetrics() models.LoadMetrics {
	var m models.LoadMetrics
	for _, l := range c.Loads.Mirror().Snapshot() {
		m.Total++
		switch l.Status {
		case models.LoadStatusPending:
			m.Pending++
		case models.LoadStatusAssigned, models.LoadStatusInTransit:
			m.Ongoing++
		case models.LoadStatusDelivered:
			m.Delivered++
		case models.LoadStatusCancelled:
			m.Cancelled++
		}
	}
	return m
}

// SearchLoads filters the loads mirror. term matches load number, pickup,
// delivery or driver name case-insensitively; status is "all", empty or exact.
func (c *Console) SearchLoads(term, status string) []models.Load {
	term = strings.ToLower(strings.TrimSpace(term))
	all := c.Loads.Mirror().Snapshot()
	out := make([]models.Load, 0, len(all))
	for _, l := range all {
		if status != "" && status != "all" && string(l.Status) != status {
			continue
		}
		if term != "" && !loadMatches(l, term) {
			continue
		}
		out = append(out, l)
	}
	return out
}

func loadMatches(l models.Load, term string) bool {
	fields := []string{l.LoadNumber, l.PickupLocation, l.DeliveryLocation}
	if l.Driver != nil {
		fields = append(fields, l.Driver.FullName)
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), term) {
			return true
		}
	}
	return false
}

func (c *Console) driverRef(ctx context.Context, driverID *string, have *models.DriverRef) *models.DriverRef {
	if driverID == nil || *driverID == "" {
		return nil
	}
	if have != nil && have.FullName != "" {
		return have
	}
	name, ok := c.Names.Resolve(ctx, *driverID)
	if !ok {
		return have
	}
	return &models.DriverRef{ID: *driverID, FullName: name}
}

func (c *Console) loadSummary(loadID *string, have *models.LoadSummary) *models.LoadSummary {
	if loadID == nil || *loadID == "" {
		return nil
	}
	if l, ok := c.Loads.Mirror().Get(*loadID); ok {
		s := l.Summary()
		return &s
	}
	return have
}

func (c *Console) renameDriver(driverID, name string) {
	c.Loads.Mirror().Update(func(l models.Load) (models.Load, bool) {
		if l.DriverID == nil || *l.DriverID != driverID || l.Driver == nil || l.Driver.FullName == name {
			return l, false
		}
		d := *l.Driver
		d.FullName = name
		l.Driver = &d
		return l, true
	})
}

// mergeLoad keeps the resolved driver when an update leaves the driver unchanged
// but arrives without the embed.
func mergeLoad(prev, next models.Load) models.Load {
	if next.Driver == nil && prev.Driver != nil && next.DriverID != nil && prev.DriverID != nil &&
		*next.DriverID == *prev.DriverID {
		next.Driver = prev.Driver
	}
	return next
}
