package models

import "time"

// Location is the live position of a driver; DriverID is the primary key.
type Location struct {
	DriverID  string    `json:"driver_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	UpdatedAt time.Time `json:"updated_at"`
	LoadID    *string   `json:"load_id"`

	Driver *DriverRef   `json:"drivers,omitempty"`
	Load   *LoadSummary `json:"loads,omitempty"`
}

type TrackingStopRequest struct {
	ID          string    `json:"id"`
	Approved    bool      `json:"approved"`
	RequestedAt time.Time `json:"requested_at"`
	DriverID    *string   `json:"driver_id"`
	LoadID      *string   `json:"load_id"`

	Driver *DriverRef   `json:"drivers,omitempty"`
	Load   *LoadSummary `json:"loads,omitempty"`
}
