package graph

import (
	"log/slog"
	"math"
	"sort"

	"github.com/transitlive/transitlive_core/internal/geo"
	"github.com/transitlive/transitlive_core/internal/models"
)

const (
	DefaultBusSpeedKPH = 20.0 // km/h
	DefaultMinEdgeCost = 1.0  // seconds
)

// Options parameterise graph construction
type Options struct {
	BusSpeedKPH float64
	MinEdgeCost float64
}

// DefaultOptions returns the standard bus speed and cost floor
func DefaultOptions() Options {
	return Options{BusSpeedKPH: DefaultBusSpeedKPH, MinEdgeCost: DefaultMinEdgeCost}
}

// Builder constructs the routing graph from the network reference data
type Builder struct {
	opts   Options
	logger *slog.Logger
}

// NewBuilder creates a new graph builder
func NewBuilder(opts Options, logger *slog.Logger) *Builder {
	if opts.BusSpeedKPH <= 0 {
		opts.BusSpeedKPH = DefaultBusSpeedKPH
	}
	if opts.MinEdgeCost <= 0 {
		opts.MinEdgeCost = DefaultMinEdgeCost
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{opts: opts, logger: logger}
}

// Build turns ordered route stops into a directed graph.
// One edge per consecutive stop pair per route; every referenced stop is a node.
func (b *Builder) Build(network models.Network) *Graph {
	g := newGraph()
	g.Index = geo.NewStopIndex(network.Stops)

	stops := make(map[int64]models.Stop, len(network.Stops))
	for _, s := range network.Stops {
		stops[s.ID] = s
	}
	for _, r := range network.Routes {
		g.Routes[r.ID] = r
	}

	byRoute := make(map[int64][]models.RouteStop)
	for _, rs := range network.RouteStops {
		byRoute[rs.RouteID] = append(byRoute[rs.RouteID], rs)
	}

	routeIDs := make([]int64, 0, len(byRoute))
	for id := range byRoute {
		routeIDs = append(routeIDs, id)
	}
	sort.Slice(routeIDs, func(i, j int) bool { return routeIDs[i] < routeIDs[j] })

	speedMps := b.opts.BusSpeedKPH * 1000 / 3600
	skipped := 0

	for _, routeID := range routeIDs {
		seq := byRoute[routeID]
		sort.Slice(seq, func(i, j int) bool { return seq[i].Order < seq[j].Order })

		for _, rs := range seq {
			stop, ok := stops[rs.StopID]
			if !ok {
				skipped++
				continue
			}
			g.Nodes[stop.ID] = stop
		}

		for i := 0; i+1 < len(seq); i++ {
			from, okFrom := stops[seq[i].StopID]
			to, okTo := stops[seq[i+1].StopID]
			if !okFrom || !okTo {
				continue
			}

			dist := geo.Distance(from.Lat, from.Lon, to.Lat, to.Lon)
			g.addEdge(models.Edge{
				FromStopID: from.ID,
				ToStopID:   to.ID,
				RouteID:    routeID,
				Cost:       EdgeCost(dist, speedMps, b.opts.MinEdgeCost),
			})
		}
	}

	if skipped > 0 {
		b.logger.Warn("route stops reference unknown stops", slog.Int("skipped", skipped))
	}
	b.logger.Debug("graph built",
		slog.Int("nodes", len(g.Nodes)),
		slog.Int("edges", g.edgeCount),
		slog.Int("routes", len(routeIDs)))

	return g
}

// EdgeCost converts a distance into seconds of travel, floored at minCost
// for coincident stops and degenerate distances.
func EdgeCost(distMeters, speedMps, minCost float64) float64 {
	if speedMps <= 0 || math.IsNaN(distMeters) || math.IsInf(distMeters, 0) {
		return minCost
	}
	cost := distMeters / speedMps
	if math.IsNaN(cost) || cost < minCost {
		return minCost
	}
	return cost
}
