// Package gtfs turns external network descriptions (GTFS static feeds or
// YAML network files) into the stops, routes and route stops the planner
// and the tracker work with.
package gtfs

import (
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/OneBusAway/go-gtfs"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/transitlive/transitlive_core/internal/models"
)

// LoadStaticFile parses a GTFS static zip from disk
func LoadStaticFile(path string) (*gtfs.Static, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read GTFS file: %w", err)
	}
	static, err := gtfs.ParseStatic(b, gtfs.ParseStaticOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to parse GTFS file: %w", err)
	}
	return static, nil
}

// FromStatic converts a parsed feed into a network. GTFS string ids are
// mapped to numeric ids in sorted id order. A route's stop order is taken
// from its trip with the most stop times (lowest trip id on ties); routes
// without trips are kept with no stops.
func FromStatic(static *gtfs.Static, logger *slog.Logger) models.Network {
	if logger == nil {
		logger = slog.Default()
	}

	stopIDs := make(map[string]int64)
	var stopKeys []string
	stopsByKey := make(map[string]gtfs.Stop)
	for _, s := range static.Stops {
		if s.Latitude == nil || s.Longitude == nil {
			continue
		}
		stopKeys = append(stopKeys, s.Id)
		stopsByKey[s.Id] = s
	}
	sort.Strings(stopKeys)

	network := models.Network{
		Stops:      make([]models.Stop, 0, len(stopKeys)),
		Routes:     make([]models.Route, 0, len(static.Routes)),
		RouteStops: []models.RouteStop{},
	}
	for i, key := range stopKeys {
		id := int64(i + 1)
		stopIDs[key] = id
		s := stopsByKey[key]
		network.Stops = append(network.Stops, models.Stop{
			ID:   id,
			Name: s.Name,
			Lat:  *s.Latitude,
			Lon:  *s.Longitude,
		})
	}

	routes := append([]gtfs.Route(nil), static.Routes...)
	sort.Slice(routes, func(i, j int) bool { return routes[i].Id < routes[j].Id })
	routeIDs := make(map[string]int64, len(routes))
	for i, r := range routes {
		id := int64(i + 1)
		routeIDs[r.Id] = id
		network.Routes = append(network.Routes, models.Route{ID: id, Name: routeName(r)})
	}

	longest := make(map[string]*gtfs.ScheduledTrip)
	for i := range static.Trips {
		trip := &static.Trips[i]
		if trip.Route == nil {
			continue
		}
		best, ok := longest[trip.Route.Id]
		if !ok || len(trip.StopTimes) > len(best.StopTimes) ||
			(len(trip.StopTimes) == len(best.StopTimes) && trip.ID < best.ID) {
			longest[trip.Route.Id] = trip
		}
	}

	for _, r := range routes {
		trip, ok := longest[r.Id]
		if !ok {
			logger.Warn("route has no trips", slog.String("gtfs_route_id", r.Id))
			continue
		}

		stopTimes := append([]gtfs.ScheduledStopTime(nil), trip.StopTimes...)
		sort.Slice(stopTimes, func(i, j int) bool { return stopTimes[i].StopSequence < stopTimes[j].StopSequence })

		order := 0
		for _, st := range stopTimes {
			if st.Stop == nil {
				continue
			}
			stopID, ok := stopIDs[st.Stop.Id]
			if !ok {
				logger.Warn("trip references unknown stop",
					slog.String("trip_id", trip.ID),
					slog.String("gtfs_stop_id", st.Stop.Id))
				continue
			}
			order++
			network.RouteStops = append(network.RouteStops, models.RouteStop{
				RouteID: routeIDs[r.Id],
				StopID:  stopID,
				Order:   order,
			})
		}
	}

	logger.Info("converted GTFS feed",
		slog.Int("stops", len(network.Stops)),
		slog.Int("routes", len(network.Routes)),
		slog.Int("route_stops", len(network.RouteStops)))

	return network
}

func routeName(r gtfs.Route) string {
	switch {
	case r.ShortName != "":
		return r.ShortName
	case r.LongName != "":
		return r.LongName
	default:
		return r.Id
	}
}

// networkFile is the YAML layout accepted by LoadNetworkFile
type networkFile struct {
	Stops []struct {
		ID   int64    `yaml:"id" validate:"gt=0"`
		Name string   `yaml:"name" validate:"required"`
		Lat  *float64 `yaml:"lat" validate:"required,gte=-90,lte=90"`
		Lon  *float64 `yaml:"lon" validate:"required,gte=-180,lte=180"`
	} `yaml:"stops" validate:"dive"`
	Routes []struct {
		ID    int64   `yaml:"id" validate:"gt=0"`
		Name  string  `yaml:"name" validate:"required"`
		Stops []int64 `yaml:"stops" validate:"dive,gt=0"`
	} `yaml:"routes" validate:"dive"`
}

// ParseNetwork reads a YAML network description. Each route lists its stop
// ids in traversal order; orders are assigned from 1.
func ParseNetwork(data []byte) (models.Network, error) {
	var file networkFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return models.Network{}, fmt.Errorf("failed to parse network file: %w", err)
	}
	if err := validator.New().Struct(file); err != nil {
		return models.Network{}, fmt.Errorf("invalid network file: %w", err)
	}

	network := models.Network{RouteStops: []models.RouteStop{}}
	known := make(map[int64]bool, len(file.Stops))
	for _, s := range file.Stops {
		if known[s.ID] {
			return models.Network{}, fmt.Errorf("duplicate stop id %d", s.ID)
		}
		known[s.ID] = true
		network.Stops = append(network.Stops, models.Stop{ID: s.ID, Name: s.Name, Lat: *s.Lat, Lon: *s.Lon})
	}

	seenRoutes := make(map[int64]bool, len(file.Routes))
	for _, r := range file.Routes {
		if seenRoutes[r.ID] {
			return models.Network{}, fmt.Errorf("duplicate route id %d", r.ID)
		}
		seenRoutes[r.ID] = true
		network.Routes = append(network.Routes, models.Route{ID: r.ID, Name: r.Name})

		for i, stopID := range r.Stops {
			if !known[stopID] {
				return models.Network{}, fmt.Errorf("route %d references unknown stop %d", r.ID, stopID)
			}
			network.RouteStops = append(network.RouteStops, models.RouteStop{RouteID: r.ID, StopID: stopID, Order: i + 1})
		}
	}

	return network, nil
}

// LoadNetworkFile reads and parses a YAML network file from disk
func LoadNetworkFile(path string) (models.Network, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Network{}, fmt.Errorf("failed to read network file: %w", err)
	}
	return ParseNetwork(data)
}
