package gtfs

import (
	"log/slog"
	"sort"

	"github.com/transitlive/transitlive_core/internal/geo"
	"github.com/transitlive/transitlive_core/internal/models"
)

// ValidateAndCleanStops removes stops with invalid coordinates
func ValidateAndCleanStops(stops []models.Stop, logger *slog.Logger) []models.Stop {
	cleaned := []models.Stop{}

	for _, stop := range stops {
		if stop.Lat < -90 || stop.Lat > 90 {
			logger.Warn("invalid latitude, skipping stop", slog.Int64("stop_id", stop.ID), slog.Float64("lat", stop.Lat))
			continue
		}
		if stop.Lon < -180 || stop.Lon > 180 {
			logger.Warn("invalid longitude, skipping stop", slog.Int64("stop_id", stop.ID), slog.Float64("lon", stop.Lon))
			continue
		}
		if stop.Lat == 0 && stop.Lon == 0 {
			logger.Warn("null island coordinates, skipping stop", slog.Int64("stop_id", stop.ID))
			continue
		}

		cleaned = append(cleaned, stop)
	}

	if len(cleaned) < len(stops) {
		logger.Info("cleaned stops", slog.Int("removed", len(stops)-len(cleaned)))
	}

	return cleaned
}

// DeduplicateStops merges stops closer than thresholdMeters into the first
// one seen. Returns the kept stops and a mapping from every input stop id to
// the id it was merged into (itself when kept).
func DeduplicateStops(stops []models.Stop, thresholdMeters float64, logger *slog.Logger) ([]models.Stop, map[int64]int64) {
	mapping := make(map[int64]int64, len(stops))
	if len(stops) == 0 || thresholdMeters <= 0 {
		for _, s := range stops {
			mapping[s.ID] = s.ID
		}
		return stops, mapping
	}

	deduplicated := []models.Stop{}
	skip := make(map[int]bool)

	for i := 0; i < len(stops); i++ {
		if skip[i] {
			continue
		}

		current := stops[i]
		deduplicated = append(deduplicated, current)
		mapping[current.ID] = current.ID

		for j := i + 1; j < len(stops); j++ {
			if skip[j] {
				continue
			}

			distance := geo.Distance(current.Lat, current.Lon, stops[j].Lat, stops[j].Lon)
			if distance < thresholdMeters {
				logger.Debug("deduplicating stop",
					slog.Int64("stop_id", stops[j].ID),
					slog.Int64("kept_id", current.ID),
					slog.Float64("distance_m", distance))
				skip[j] = true
				mapping[stops[j].ID] = current.ID
			}
		}
	}

	logger.Info("deduplicated stops",
		slog.Int("input", len(stops)),
		slog.Int("kept", len(deduplicated)),
		slog.Int("removed", len(stops)-len(deduplicated)))

	return deduplicated, mapping
}

// Normalize cleans stop coordinates, optionally merges near-duplicate stops,
// and rewrites route stops accordingly. Route stops pointing at a dropped stop
// are removed, and a merged stop repeated back to back on a route is kept once.
func Normalize(network models.Network, dedupeMeters float64, logger *slog.Logger) models.Network {
	if logger == nil {
		logger = slog.Default()
	}

	stops := ValidateAndCleanStops(network.Stops, logger)
	stops, mapping := DeduplicateStops(stops, dedupeMeters, logger)

	byRoute := make(map[int64][]models.RouteStop)
	for _, rs := range network.RouteStops {
		byRoute[rs.RouteID] = append(byRoute[rs.RouteID], rs)
	}

	routeStops := make([]models.RouteStop, 0, len(network.RouteStops))
	for _, route := range network.Routes {
		seq := byRoute[route.ID]
		sort.Slice(seq, func(i, j int) bool { return seq[i].Order < seq[j].Order })

		var prev int64
		for _, rs := range seq {
			kept, ok := mapping[rs.StopID]
			if !ok {
				continue
			}
			if kept == prev {
				continue
			}
			prev = kept
			rs.StopID = kept
			routeStops = append(routeStops, rs)
		}
	}

	return models.Network{
		Stops:      stops,
		Routes:     network.Routes,
		RouteStops: routeStops,
	}
}
