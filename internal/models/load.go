package models

import "time"

type Load struct {
	ID               string     `json:"id"`
	LoadNumber       string     `json:"load_number"`
	Commodity        *string    `json:"commodity"`
	Pallets          *int64     `json:"pallets"`
	Weights          *float64   `json:"weights"`
	PickupLocation   string     `json:"pickup_location"`
	DeliveryLocation string     `json:"delivery_location"`
	PickupDatetime   time.Time  `json:"pickup_datetime"`
	DeliveryDatetime time.Time  `json:"delivery_datetime"`
	Status           LoadStatus `json:"status"`
	DriverID         *string    `json:"driver_id"`
	CreatedAt        time.Time  `json:"created_at"`

	Driver *DriverRef `json:"drivers,omitempty"`
}

// LoadSummary is the embedded load shape used by locations and stop requests.
type LoadSummary struct {
	ID               string     `json:"id,omitempty"`
	LoadNumber       string     `json:"load_number"`
	PickupLocation   string     `json:"pickup_location"`
	DeliveryLocation string     `json:"delivery_location"`
	Status           LoadStatus `json:"status"`
}

func (l Load) Summary() LoadSummary {
	return LoadSummary{
		ID:               l.ID,
		LoadNumber:       l.LoadNumber,
		PickupLocation:   l.PickupLocation,
		DeliveryLocation: l.DeliveryLocation,
		Status:           l.Status,
	}
}

// LoadCreateInput is the create-load request body. Pallets and Weights keep
// whatever JSON the client sent; the admin service coerces them.
type LoadCreateInput struct {
	LoadNumber       string  `json:"load_number"`
	PickupLocation   string  `json:"pickup_location"`
	PickupDatetime   string  `json:"pickup_datetime"`
	DeliveryLocation string  `json:"delivery_location"`
	DeliveryDatetime string  `json:"delivery_datetime"`
	Commodity        *string `json:"commodity"`
	Pallets          any     `json:"pallets"`
	Weights          any     `json:"weights"`
	DriverID         *string `json:"driver_id"`
}

// LoadPatch is a partial edit; nil fields are left alone.
type LoadPatch struct {
	LoadNumber       *string `json:"load_number"`
	PickupLocation   *string `json:"pickup_location"`
	DeliveryLocation *string `json:"delivery_location"`
	PickupDatetime   *string `json:"pickup_datetime"`
	DeliveryDatetime *string `json:"delivery_datetime"`
	Commodity        *string `json:"commodity"`
	Pallets          any     `json:"pallets"`
	Weights          any     `json:"weights"`
}

// LoadMetrics are the dashboard counters.
type LoadMetrics struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Ongoing   int `json:"ongoing"`
	Delivered int `json:"delivered"`
	Cancelled int `json:"cancel"`
}
