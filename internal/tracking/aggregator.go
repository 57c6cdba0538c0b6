package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/transitlive/transitlive_core/internal/clock"
	"github.com/transitlive/transitlive_core/internal/geo"
	"github.com/transitlive/transitlive_core/internal/models"
	"github.com/transitlive/transitlive_core/internal/store"
)

// Aggregator turns onboard users into one virtual bus per route.
// The bus position is the plain centroid of its riders, which is a modelling
// assumption and not a vehicle fix.
type Aggregator struct {
	clock  clock.Clock
	newID  func() string
	logger *slog.Logger
}

// NewAggregator creates an aggregator stamping buses with clk
func NewAggregator(clk clock.Clock, logger *slog.Logger) *Aggregator {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{clock: clk, newID: uuid.NewString, logger: logger}
}

// Run executes one aggregation pass inside tx. After it returns without error
// the set of routes with a bus equals the set of routes with an onboard user.
func (a *Aggregator) Run(ctx context.Context, tx store.Tx) (models.CycleResult, error) {
	result := models.CycleResult{Buses: []models.VirtualBus{}, Retired: []models.VirtualBus{}}

	positions, err := tx.ListOnboardPositions(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to list onboard positions: %w", err)
	}

	groups := make(map[int64][]geo.Point)
	for _, p := range positions {
		groups[p.RouteID] = append(groups[p.RouteID], geo.Point{Lat: p.Lat, Lon: p.Lon})
	}

	existing, err := tx.ListVirtualBuses(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to list virtual buses: %w", err)
	}
	current := make(map[int64]models.VirtualBus, len(existing))
	for _, b := range existing {
		current[b.RouteID] = b
	}

	routeIDs := make([]int64, 0, len(groups))
	for id := range groups {
		routeIDs = append(routeIDs, id)
	}
	sort.Slice(routeIDs, func(i, j int) bool { return routeIDs[i] < routeIDs[j] })

	now := a.clock.Now()
	for _, routeID := range routeIDs {
		lat, lon, ok := geo.Centroid(groups[routeID])
		if !ok {
			continue
		}

		bus, found := current[routeID]
		if found {
			result.Updated++
		} else {
			bus = models.VirtualBus{ID: a.newID(), RouteID: routeID}
			result.Created++
		}
		bus.Lat = lat
		bus.Lon = lon
		bus.Speed = 0
		bus.Status = models.BusStatusActive
		bus.UpdatedAt = now

		if err := tx.UpsertVirtualBus(ctx, bus); err != nil {
			return result, fmt.Errorf("failed to save bus for route %d: %w", routeID, err)
		}
		result.Buses = append(result.Buses, bus)
	}

	for _, b := range existing {
		if _, active := groups[b.RouteID]; active {
			continue
		}
		if err := tx.DeleteVirtualBus(ctx, b.RouteID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return result, fmt.Errorf("failed to retire bus for route %d: %w", b.RouteID, err)
		}
		result.Removed++

		b.Status = models.BusStatusInactive
		b.UpdatedAt = now
		result.Retired = append(result.Retired, b)
	}

	a.logger.Debug("aggregation pass",
		slog.Int("onboard", len(positions)),
		slog.Int("created", result.Created),
		slog.Int("updated", result.Updated),
		slog.Int("removed", result.Removed))

	return result, nil
}
