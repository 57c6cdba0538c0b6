package tracking

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/transitlive/transitlive_core/internal/clock"
	"github.com/transitlive/transitlive_core/internal/logging"
	"github.com/transitlive/transitlive_core/internal/models"
	"github.com/transitlive/transitlive_core/internal/store"
)

var epoch = time.Date(2024, 3, 1, 7, 30, 0, 0, time.UTC)

// one degree of latitude in meters on the haversine sphere
const metersPerDegLat = 111194.93

func latOffset(meters float64) float64 {
	return meters / metersPerDegLat
}

func trackingNetwork() models.Network {
	return models.Network{
		Stops: []models.Stop{
			{ID: 100, Name: "Plaza", Lat: 10.0, Lon: -75.0},
			{ID: 101, Name: "Terminal", Lat: 10.05, Lon: -75.0},
		},
		Routes: []models.Route{{ID: 1, Name: "R1"}, {ID: 2, Name: "R2"}},
		RouteStops: []models.RouteStop{
			{RouteID: 1, StopID: 100, Order: 1},
			{RouteID: 1, StopID: 101, Order: 2},
			{RouteID: 2, StopID: 101, Order: 1},
			{RouteID: 2, StopID: 100, Order: 2},
		},
	}
}

type fixture struct {
	store   *store.MemoryStore
	clock   *clock.MockClock
	service *Service
}

func newFixture(t *testing.T, opts EvaluatorOptions) *fixture {
	t.Helper()
	st := store.NewMemoryStore(trackingNetwork())
	clk := clock.NewMockClock(epoch)
	ev := NewEvaluator(clk, opts, logging.Discard())
	return &fixture{
		store:   st,
		clock:   clk,
		service: NewService(st, ev, clk, logging.Discard()),
	}
}

func (f *fixture) tx(t *testing.T, fn func(tx store.Tx)) {
	t.Helper()
	require.NoError(t, f.store.InTx(context.Background(), func(tx store.Tx) error {
		fn(tx)
		return nil
	}))
}

func (f *fixture) putBus(t *testing.T, routeID int64, lat, lon float64) {
	t.Helper()
	f.tx(t, func(tx store.Tx) {
		require.NoError(t, tx.UpsertVirtualBus(context.Background(), models.VirtualBus{
			ID: fmt.Sprintf("bus-%d", routeID), RouteID: routeID, Lat: lat, Lon: lon,
			Status: models.BusStatusActive, UpdatedAt: epoch,
		}))
	})
}

func (f *fixture) putOnboard(t *testing.T, userID, routeID int64, onboard bool, lat, lon float64) {
	t.Helper()
	ctx := context.Background()
	f.tx(t, func(tx store.Tx) {
		require.NoError(t, tx.UpsertLiveLocation(ctx, models.UserLiveLocation{UserID: userID, Lat: lat, Lon: lon, UpdatedAt: epoch}))
		require.NoError(t, tx.UpsertRouteState(ctx, models.UserRouteState{UserID: userID, RouteID: routeID, Onboard: onboard, UpdatedAt: epoch}))
	})
}

func (f *fixture) selection(t *testing.T, userID int64) models.UserActiveSelection {
	t.Helper()
	var sel models.UserActiveSelection
	f.tx(t, func(tx store.Tx) {
		var err error
		sel, err = tx.GetSelection(context.Background(), userID)
		require.NoError(t, err)
	})
	return sel
}

func (f *fixture) buses(t *testing.T) []models.VirtualBus {
	t.Helper()
	var buses []models.VirtualBus
	f.tx(t, func(tx store.Tx) {
		var err error
		buses, err = tx.ListVirtualBuses(context.Background())
		require.NoError(t, err)
	})
	return buses
}
