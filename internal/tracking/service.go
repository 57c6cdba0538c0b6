package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/transitlive/transitlive_core/internal/clock"
	"github.com/transitlive/transitlive_core/internal/models"
	"github.com/transitlive/transitlive_core/internal/store"
)

// Service exposes the tracking operations. Each call is one store transaction.
type Service struct {
	store     store.Store
	evaluator *Evaluator
	clock     clock.Clock
	logger    *slog.Logger
}

func NewService(st store.Store, evaluator *Evaluator, clk clock.Clock, logger *slog.Logger) *Service {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, evaluator: evaluator, clock: clk, logger: logger}
}

// UpdateUserLocation makes routeID the user's selected route, ensures a route
// state row exists, then evaluates the new position.
func (s *Service) UpdateUserLocation(ctx context.Context, userID, routeID int64, lat, lon float64) (models.StatusReport, error) {
	var report models.StatusReport
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		if err := requireRoute(ctx, tx, routeID); err != nil {
			return err
		}
		now := s.clock.Now()

		_, err := tx.GetRouteState(ctx, userID, routeID)
		if errors.Is(err, store.ErrNotFound) {
			err = tx.UpsertRouteState(ctx, models.UserRouteState{UserID: userID, RouteID: routeID, UpdatedAt: now})
		}
		if err != nil {
			return err
		}

		sel, err := getOrNewSelection(ctx, tx, userID)
		if err != nil {
			return err
		}
		if sel.RouteID == nil || *sel.RouteID != routeID {
			if err := leaveRoute(ctx, tx, userID, sel.RouteID, now); err != nil {
				return err
			}
			sel.RouteID = &routeID
			sel.NextStopID = nil
			sel.UpdatedAt = now
			if err := tx.UpsertSelection(ctx, sel); err != nil {
				return err
			}
		}

		report, err = s.evaluator.Evaluate(ctx, tx, userID, lat, lon)
		return err
	})
	if err != nil {
		return models.StatusReport{}, fmt.Errorf("failed to update location for user %d: %w", userID, err)
	}
	return report, nil
}

// CheckStatus evaluates a position against the user's current selection
// without changing which route is selected.
func (s *Service) CheckStatus(ctx context.Context, userID int64, lat, lon float64) (models.StatusReport, error) {
	var report models.StatusReport
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		report, err = s.evaluator.Evaluate(ctx, tx, userID, lat, lon)
		return err
	})
	if err != nil {
		return models.StatusReport{}, fmt.Errorf("failed to check status for user %d: %w", userID, err)
	}
	return report, nil
}

// SelectRoute sets the user's active route and clears their next stop
func (s *Service) SelectRoute(ctx context.Context, userID, routeID int64) (models.UserActiveSelection, error) {
	var sel models.UserActiveSelection
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		if err := requireRoute(ctx, tx, routeID); err != nil {
			return err
		}
		var err error
		sel, err = getOrNewSelection(ctx, tx, userID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		if sel.RouteID != nil && *sel.RouteID != routeID {
			if err := leaveRoute(ctx, tx, userID, sel.RouteID, now); err != nil {
				return err
			}
		}
		sel.RouteID = &routeID
		sel.NextStopID = nil
		sel.UpdatedAt = now
		return tx.UpsertSelection(ctx, sel)
	})
	if err != nil {
		return models.UserActiveSelection{}, fmt.Errorf("failed to select route: %w", err)
	}
	return sel, nil
}

// SetNextStop records the stop the user is heading to. The user must have a selection.
func (s *Service) SetNextStop(ctx context.Context, userID, stopID int64) (models.UserActiveSelection, error) {
	var sel models.UserActiveSelection
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		sel, err = tx.GetSelection(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no active selection for user %d: %w", userID, store.ErrNotFound)
		}
		if err != nil {
			return err
		}

		ok, err := tx.StopExists(ctx, stopID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("stop %d: %w", stopID, store.ErrNotFound)
		}

		sel.NextStopID = &stopID
		sel.UpdatedAt = s.clock.Now()
		return tx.UpsertSelection(ctx, sel)
	})
	if err != nil {
		return models.UserActiveSelection{}, fmt.Errorf("failed to set next stop: %w", err)
	}
	return sel, nil
}

// VirtualBuses lists the buses of a route. A route has at most one.
func (s *Service) VirtualBuses(ctx context.Context, routeID int64) ([]models.VirtualBus, error) {
	buses := []models.VirtualBus{}
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		if err := requireRoute(ctx, tx, routeID); err != nil {
			return err
		}
		bus, err := tx.GetVirtualBus(ctx, routeID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		buses = append(buses, bus)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get virtual buses: %w", err)
	}
	return buses, nil
}

func requireRoute(ctx context.Context, tx store.Tx, routeID int64) error {
	ok, err := tx.RouteExists(ctx, routeID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("route %d: %w", routeID, store.ErrNotFound)
	}
	return nil
}

// leaveRoute clears the onboard flag on the route the user is switching away
// from, so they stop feeding that route's bus position.
func leaveRoute(ctx context.Context, tx store.Tx, userID int64, previous *int64, now time.Time) error {
	if previous == nil {
		return nil
	}
	state, err := tx.GetRouteState(ctx, userID, *previous)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !state.Onboard {
		return nil
	}
	state.Onboard = false
	state.UpdatedAt = now
	return tx.UpsertRouteState(ctx, state)
}

func getOrNewSelection(ctx context.Context, tx store.Tx, userID int64) (models.UserActiveSelection, error) {
	sel, err := tx.GetSelection(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return models.UserActiveSelection{UserID: userID}, nil
	}
	return sel, err
}
