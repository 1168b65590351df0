package realtime

import (
	"fmt"
	"time"

	"github.com/BearBump/DispatchBox/internal/changefeed"
	"github.com/BearBump/DispatchBox/internal/gateway"
	"github.com/BearBump/DispatchBox/internal/models"
)

type Style string

const (
	StyleInfo    Style = "info"
	StyleSuccess Style = "success"
)

type Cue string

const (
	CueNotify    Cue = "notify"
	CueDelivered Cue = "delivered"
)

type Notice struct {
	Table    gateway.Table   `json:"table"`
	Kind     changefeed.Kind `json:"kind"`
	Title    string          `json:"title"`
	Message  string          `json:"message"`
	Style    Style           `json:"style"`
	Cue      Cue             `json:"cue"`
	Duration time.Duration   `json:"duration,omitempty"`
}

// Enrichment is what the caller already knows about the row: the cached driver
// name and, when the event lacks an old image, the previously mirrored status.
type Enrichment struct {
	DriverName string
	PrevStatus *models.LoadStatus
}

const stopRequestToastDuration = 10 * time.Second

// Decide maps a change event to the notice the console shows, or nil.
// It has no side effects.
func Decide(table gateway.Table, ev changefeed.Event, en Enrichment) *Notice {
	switch table {
	case gateway.TableLoads:
		return decideLoad(ev, en)
	case gateway.TableLocations:
		if ev.Kind != changefeed.KindInsert {
			return nil
		}
		name := en.DriverName
		if name == "" {
			name = "A driver"
		}
		return info(table, ev.Kind, "📍 Driver is being tracked", name+" started sharing location.")
	case gateway.TableStopRequests:
		if ev.Kind != changefeed.KindInsert {
			return nil
		}
		n := info(table, ev.Kind, "Tracking stop requested", "Please confirm before ending location tracking.")
		n.Duration = stopRequestToastDuration
		return n
	}
	return nil
}

func decideLoad(ev changefeed.Event, en Enrichment) *Notice {
	t := gateway.TableLoads
	switch ev.Kind {
	case changefeed.KindInsert:
		row, _ := ev.NewRow()
		return info(t, ev.Kind, "📦 New Load Created",
			fmt.Sprintf("Load: %s has been successfully added to the system", loadNumber(row)))

	case changefeed.KindDelete:
		row, _ := ev.OldRow()
		return info(t, ev.Kind, "🗑️ Load Deleted",
			fmt.Sprintf("Load: %s has been removed from the system.", loadNumber(row)))

	case changefeed.KindUpdate:
		row, _ := ev.NewRow()
		next := models.LoadStatus(gateway.StringValue(row["status"]))
		if prev, ok := previousStatus(ev, en); ok && prev == next {
			return nil
		}
		n := loadNumber(row)
		switch next {
		case models.LoadStatusPending:
			return info(t, ev.Kind, "👨🏻‍✈️ Driver Unassigned",
				fmt.Sprintf("Load %s is now pending. No driver is assigned or the Assigned driver rejected the load.", n))
		case models.LoadStatusAssigned:
			return info(t, ev.Kind, "👳🏻‍♂️ Driver Assigned",
				fmt.Sprintf("Driver has accepted load %s. It's ready to move.", n))
		case models.LoadStatusInTransit:
			return info(t, ev.Kind, "🚚 Load In Transit",
				fmt.Sprintf("Load: %s is currently on the move. Keep tracking for updates.", n))
		case models.LoadStatusDelivered:
			return &Notice{
				Table:   t,
				Kind:    ev.Kind,
				Title:   "📦 Load Delivered",
				Message: fmt.Sprintf("Load: %s has been successfully delivered to its destination.", n),
				Style:   StyleSuccess,
				Cue:     CueDelivered,
			}
		case models.LoadStatusCancelled:
			return info(t, ev.Kind, "❌ Load Cancelled",
				fmt.Sprintf("Load: %s has been cancelled.", n))
		}
	}
	return nil
}

// previousStatus prefers the old image; backends that only ship the key in it
// fall back to the mirrored row.
func previousStatus(ev changefeed.Event, en Enrichment) (models.LoadStatus, bool) {
	if old, err := ev.OldRow(); err == nil && old != nil {
		if v, ok := old["status"]; ok && v != nil {
			return models.LoadStatus(gateway.StringValue(v)), true
		}
	}
	if en.PrevStatus != nil {
		return *en.PrevStatus, true
	}
	return "", false
}

func loadNumber(row gateway.Row) string {
	if row == nil {
		return ""
	}
	return gateway.StringValue(row["load_number"])
}

func info(t gateway.Table, k changefeed.Kind, title, msg string) *Notice {
	return &Notice{Table: t, Kind: k, Title: title, Message: msg, Style: StyleInfo, Cue: CueNotify}
}
