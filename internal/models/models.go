package models

import "time"

// SegmentType distinguishes riding a route from changing routes
type SegmentType string

const (
	SegmentRide     SegmentType = "RIDE"
	SegmentTransfer SegmentType = "TRANSFER"
)

// ItineraryStatus is the discriminant of an itinerary result
type ItineraryStatus string

const (
	StatusNoOriginStop      ItineraryStatus = "no_origin_stop"
	StatusNoDestinationStop ItineraryStatus = "no_destination_stop"
	StatusDisconnected      ItineraryStatus = "disconnected"
	StatusNotFound          ItineraryStatus = "not_found"
	StatusFound             ItineraryStatus = "found"
)

// BusStatusActive is the only status a persisted virtual bus carries.
// BusStatusInactive marks the final snapshot of a retired bus.
const (
	BusStatusActive   = "active"
	BusStatusInactive = "inactive"
)

// Stop represents a physical transit stop location
type Stop struct {
	ID   int64   `json:"id" yaml:"id"`
	Name string  `json:"name" yaml:"name"`
	Lat  float64 `json:"lat" yaml:"lat"`
	Lon  float64 `json:"lon" yaml:"lon"`
}

// Route represents a transit line
type Route struct {
	ID   int64  `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// RouteStop places a stop on a route. Order is unique per route.
type RouteStop struct {
	RouteID int64 `json:"route_id" yaml:"route_id"`
	StopID  int64 `json:"stop_id" yaml:"stop_id"`
	Order   int   `json:"order" yaml:"order"`
}

// Network is the full reference data set the graph is built from
type Network struct {
	Stops      []Stop      `json:"stops" yaml:"stops"`
	Routes     []Route     `json:"routes" yaml:"routes"`
	RouteStops []RouteStop `json:"route_stops" yaml:"route_stops"`
}

// OrderedStop is a stop as listed in a route detail
type OrderedStop struct {
	Stop
	Order int `json:"order"`
}

// RouteDetail is a route with its stops in traversal order
type RouteDetail struct {
	Route
	Stops []OrderedStop `json:"stops"`
}

// Edge is a directed hop between consecutive stops of a route
type Edge struct {
	FromStopID int64   `json:"from_stop_id"`
	ToStopID   int64   `json:"to_stop_id"`
	RouteID    int64   `json:"route_id"`
	Cost       float64 `json:"cost_seconds"`
}

// UserLiveLocation is the latest reported position of a user
type UserLiveLocation struct {
	UserID    int64     `json:"user_id"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserRouteState records whether a user is riding a route's virtual bus
type UserRouteState struct {
	UserID    int64     `json:"user_id"`
	RouteID   int64     `json:"route_id"`
	Onboard   bool      `json:"onboard"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserActiveSelection tracks a user's trip intent
type UserActiveSelection struct {
	UserID     int64      `json:"user_id"`
	RouteID    *int64     `json:"route_id,omitempty"`
	NextStopID *int64     `json:"next_stop_id,omitempty"`
	AtStop     bool       `json:"at_stop"`
	ArrivedAt  *time.Time `json:"arrived_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// OnboardPosition is an onboard user joined with their live location
type OnboardPosition struct {
	UserID  int64
	RouteID int64
	Lat     float64
	Lon     float64
}

// VirtualBus is a route's inferred vehicle position (centroid of onboard users)
type VirtualBus struct {
	ID        string    `json:"id"`
	RouteID   int64     `json:"route_id"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Speed     float64   `json:"speed"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusReport is the outcome of a proximity evaluation
type StatusReport struct {
	UserID             int64  `json:"user_id"`
	RouteID            *int64 `json:"route_id,omitempty"`
	Onboard            bool   `json:"onboard"`
	AtStation          bool   `json:"at_station"`
	CurrentStationID   *int64 `json:"current_station_id,omitempty"`
	CurrentStationName string `json:"current_station_name,omitempty"`
	BusID              string `json:"bus_id,omitempty"`
	Message            string `json:"message"`
}

// StopMatch is a resolved stop plus its distance from the queried point
type StopMatch struct {
	Stop
	DistanceM float64 `json:"distance_meters"`
}

// Segment is one leg of an itinerary
type Segment struct {
	Type          SegmentType `json:"type"`
	RouteID       *int64      `json:"route_id,omitempty"`
	RouteName     string      `json:"route_name,omitempty"`
	FromStop      Stop        `json:"from_stop"`
	ToStop        *Stop       `json:"to_stop,omitempty"`
	NumStops      int         `json:"num_stops,omitempty"`
	CostSeconds   float64     `json:"cost_seconds"`
	CostFormatted string      `json:"cost_formatted"`
	Description   string      `json:"description"`
}

// ItineraryResult is the discriminated result of planning
type ItineraryResult struct {
	Status          ItineraryStatus `json:"status"`
	Message         string          `json:"message"`
	OriginStop      *StopMatch      `json:"origin_stop,omitempty"`
	DestinationStop *StopMatch      `json:"destination_stop,omitempty"`
	TotalSeconds    float64         `json:"total_seconds,omitempty"`
	TotalFormatted  string          `json:"total_formatted,omitempty"`
	Transfers       int             `json:"transfers"`
	Segments        []Segment       `json:"segments,omitempty"`
}

// CycleResult summarises one aggregation cycle
type CycleResult struct {
	Created int          `json:"created"`
	Updated int          `json:"updated"`
	Removed int          `json:"removed"`
	Buses   []VirtualBus `json:"buses"`
	Retired []VirtualBus `json:"retired"` // last known position, status inactive
}
