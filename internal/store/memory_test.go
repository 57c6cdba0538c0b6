package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transitlive/transitlive_core/internal/models"
)

func testNetwork() models.Network {
	return models.Network{
		Stops: []models.Stop{
			{ID: 1, Name: "Central", Lat: 10, Lon: -75},
			{ID: 2, Name: "Market", Lat: 10.01, Lon: -75},
			{ID: 3, Name: "Harbour", Lat: 10.02, Lon: -75},
		},
		Routes: []models.Route{{ID: 2, Name: "Coastal"}, {ID: 1, Name: "Crosstown"}},
		RouteStops: []models.RouteStop{
			{RouteID: 1, StopID: 3, Order: 30},
			{RouteID: 1, StopID: 1, Order: 10},
			{RouteID: 1, StopID: 2, Order: 20},
		},
	}
}

func TestMemoryStoreRoutes(t *testing.T) {
	s := NewMemoryStore(testNetwork())
	ctx := context.Background()

	routes, err := s.ListRoutes(ctx)
	require.NoError(t, err)
	require.Len(t, routes, 2)
	assert.Equal(t, int64(1), routes[0].ID)

	detail, err := s.GetRoute(ctx, 1)
	require.NoError(t, err)
	require.Len(t, detail.Stops, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{detail.Stops[0].ID, detail.Stops[1].ID, detail.Stops[2].ID})

	detail, err = s.GetRoute(ctx, 2)
	require.NoError(t, err)
	assert.NotNil(t, detail.Stops)
	assert.Empty(t, detail.Stops)

	_, err = s.GetRoute(ctx, 99)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryStoreReplaceNetworkBumpsVersion(t *testing.T) {
	s := NewMemoryStore(models.Network{})
	ctx := context.Background()

	v, err := s.NetworkVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = s.ReplaceNetwork(ctx, testNetwork())
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	network, err := s.LoadNetwork(ctx)
	require.NoError(t, err)
	assert.Len(t, network.Stops, 3)
	assert.Len(t, network.RouteStops, 3)
}

func TestMemoryStoreTransactions(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

	t.Run("commit on success", func(t *testing.T) {
		s := NewMemoryStore(testNetwork())
		err := s.InTx(ctx, func(tx Tx) error {
			return tx.UpsertRouteState(ctx, models.UserRouteState{UserID: 7, RouteID: 1, Onboard: true, UpdatedAt: now})
		})
		require.NoError(t, err)

		err = s.InTx(ctx, func(tx Tx) error {
			state, err := tx.GetRouteState(ctx, 7, 1)
			require.NoError(t, err)
			assert.True(t, state.Onboard)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("rollback on error", func(t *testing.T) {
		s := NewMemoryStore(testNetwork())
		boom := errors.New("boom")
		err := s.InTx(ctx, func(tx Tx) error {
			require.NoError(t, tx.UpsertVirtualBus(ctx, models.VirtualBus{ID: "b", RouteID: 1}))
			return boom
		})
		assert.ErrorIs(t, err, boom)

		err = s.InTx(ctx, func(tx Tx) error {
			_, err := tx.GetVirtualBus(ctx, 1)
			assert.ErrorIs(t, err, ErrNotFound)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("selection pointers are not shared with callers", func(t *testing.T) {
		s := NewMemoryStore(testNetwork())
		route := int64(1)
		require.NoError(t, s.InTx(ctx, func(tx Tx) error {
			return tx.UpsertSelection(ctx, models.UserActiveSelection{UserID: 7, RouteID: &route})
		}))
		route = 2

		require.NoError(t, s.InTx(ctx, func(tx Tx) error {
			sel, err := tx.GetSelection(ctx, 7)
			require.NoError(t, err)
			assert.Equal(t, int64(1), *sel.RouteID)
			return nil
		}))
	})
}

func TestMemoryStoreOnboardPositions(t *testing.T) {
	s := NewMemoryStore(testNetwork())
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		require.NoError(t, tx.UpsertLiveLocation(ctx, models.UserLiveLocation{UserID: 1, Lat: 10, Lon: -75, UpdatedAt: now}))
		require.NoError(t, tx.UpsertLiveLocation(ctx, models.UserLiveLocation{UserID: 2, Lat: 11, Lon: -76, UpdatedAt: now}))
		require.NoError(t, tx.UpsertRouteState(ctx, models.UserRouteState{UserID: 1, RouteID: 1, Onboard: true}))
		require.NoError(t, tx.UpsertRouteState(ctx, models.UserRouteState{UserID: 2, RouteID: 1, Onboard: false}))
		// onboard without a live location is not a position
		return tx.UpsertRouteState(ctx, models.UserRouteState{UserID: 3, RouteID: 2, Onboard: true})
	}))

	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		positions, err := tx.ListOnboardPositions(ctx)
		require.NoError(t, err)
		assert.Equal(t, []models.OnboardPosition{{UserID: 1, RouteID: 1, Lat: 10, Lon: -75}}, positions)
		return nil
	}))
}

func TestMemoryStoreSessions(t *testing.T) {
	s := NewMemoryStore(testNetwork())
	ctx := context.Background()

	sess, err := s.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, s.OpenSessions())

	require.NoError(t, sess.InTx(ctx, func(tx Tx) error {
		ok, err := tx.RouteExists(ctx, 2)
		assert.True(t, ok)
		return err
	}))

	sess.Release()
	sess.Release()
	assert.Equal(t, 0, s.OpenSessions())
	assert.Error(t, sess.InTx(ctx, func(tx Tx) error { return nil }))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.Acquire(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
}
