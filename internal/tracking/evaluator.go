package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/transitlive/transitlive_core/internal/clock"
	"github.com/transitlive/transitlive_core/internal/geo"
	"github.com/transitlive/transitlive_core/internal/models"
	"github.com/transitlive/transitlive_core/internal/store"
)

const (
	DefaultStopProximity = 50.0  // meters
	DefaultBusProximity  = 100.0 // meters
)

// EvaluatorOptions holds the proximity thresholds
type EvaluatorOptions struct {
	StopProximity float64
	BusProximity  float64
	// SeedOnStopDeparture marks a user onboard when they leave a stop on a
	// route that has no virtual bus yet, so the first bus can appear. This is
	// the one case where onboard is set without a nearby bus.
	SeedOnStopDeparture bool
}

// DefaultEvaluatorOptions returns 50 m / 100 m with departure seeding on
func DefaultEvaluatorOptions() EvaluatorOptions {
	return EvaluatorOptions{
		StopProximity:       DefaultStopProximity,
		BusProximity:        DefaultBusProximity,
		SeedOnStopDeparture: true,
	}
}

// Evaluator decides at-station and onboard state from a single location fix
type Evaluator struct {
	clock  clock.Clock
	opts   EvaluatorOptions
	logger *slog.Logger
}

func NewEvaluator(clk clock.Clock, opts EvaluatorOptions, logger *slog.Logger) *Evaluator {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if opts.StopProximity <= 0 {
		opts.StopProximity = DefaultStopProximity
	}
	if opts.BusProximity <= 0 {
		opts.BusProximity = DefaultBusProximity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{clock: clk, opts: opts, logger: logger}
}

// Evaluate records the location and updates the user's station and onboard
// flags. Every write happens in tx.
func (e *Evaluator) Evaluate(ctx context.Context, tx store.Tx, userID int64, lat, lon float64) (models.StatusReport, error) {
	now := e.clock.Now()
	report := models.StatusReport{UserID: userID}

	err := tx.UpsertLiveLocation(ctx, models.UserLiveLocation{UserID: userID, Lat: lat, Lon: lon, UpdatedAt: now})
	if err != nil {
		return report, err
	}

	sel, err := tx.GetSelection(ctx, userID)
	selExists := err == nil
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return report, err
	}
	if !selExists {
		sel = models.UserActiveSelection{UserID: userID}
	}

	station, atStation, err := e.nearestStop(ctx, tx, lat, lon)
	if err != nil {
		return report, err
	}

	wasAtStop := sel.AtStop
	if atStation != wasAtStop {
		sel.AtStop = atStation
		if atStation {
			arrived := now
			sel.ArrivedAt = &arrived
		} else {
			sel.ArrivedAt = nil
		}
		sel.UpdatedAt = now
		if err := tx.UpsertSelection(ctx, sel); err != nil {
			return report, err
		}
	}

	report.AtStation = atStation
	if atStation {
		id := station.ID
		report.CurrentStationID = &id
		report.CurrentStationName = station.Name
		report.Message = fmt.Sprintf("at station %s (%.0f m)", station.Name, station.DistanceM)
	}

	if sel.RouteID == nil {
		if report.Message == "" {
			report.Message = "location updated; no route selected"
		}
		return report, nil
	}

	routeID := *sel.RouteID
	report.RouteID = &routeID

	state, err := tx.GetRouteState(ctx, userID, routeID)
	if errors.Is(err, store.ErrNotFound) {
		state = models.UserRouteState{UserID: userID, RouteID: routeID}
	} else if err != nil {
		return report, err
	}

	setOnboard := func(onboard bool) error {
		state.Onboard = onboard
		state.UpdatedAt = now
		return tx.UpsertRouteState(ctx, state)
	}

	bus, err := tx.GetVirtualBus(ctx, routeID)
	switch {
	case err == nil:
		d := geo.Distance(lat, lon, bus.Lat, bus.Lon)
		switch {
		case d <= e.opts.BusProximity:
			if !state.Onboard {
				if err := setOnboard(true); err != nil {
					return report, err
				}
			}
			report.BusID = bus.ID
			report.Message = fmt.Sprintf("onboard virtual bus on route %d", routeID)
		case state.Onboard:
			if err := setOnboard(false); err != nil {
				return report, err
			}
			e.logger.Info("user left virtual bus",
				slog.Int64("user_id", userID),
				slog.Int64("route_id", routeID),
				slog.Float64("distance_m", d))
			report.Message = fmt.Sprintf("left the virtual bus on route %d", routeID)
		default:
			if report.Message == "" {
				report.Message = fmt.Sprintf("virtual bus on route %d is %.0f m away", routeID, d)
			}
		}

	case errors.Is(err, store.ErrNotFound):
		departed := wasAtStop && !atStation
		if departed && e.opts.SeedOnStopDeparture && !state.Onboard {
			if err := setOnboard(true); err != nil {
				return report, err
			}
		}
		if state.Onboard {
			report.Message = fmt.Sprintf("onboard route %d; virtual bus position pending", routeID)
		} else if report.Message == "" {
			report.Message = fmt.Sprintf("no virtual bus on route %d yet", routeID)
		}

	default:
		return report, err
	}

	report.Onboard = state.Onboard
	return report, nil
}

func (e *Evaluator) nearestStop(ctx context.Context, tx store.Tx, lat, lon float64) (models.StopMatch, bool, error) {
	stops, err := tx.ListStops(ctx)
	if err != nil {
		return models.StopMatch{}, false, err
	}

	var best models.StopMatch
	found := false
	for _, s := range stops {
		d := geo.Distance(lat, lon, s.Lat, s.Lon)
		if d > e.opts.StopProximity {
			continue
		}
		if !found || d < best.DistanceM {
			best = models.StopMatch{Stop: s, DistanceM: d}
			found = true
		}
	}
	return best, found, nil
}
