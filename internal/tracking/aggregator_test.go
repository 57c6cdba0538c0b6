package tracking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transitlive/transitlive_core/internal/logging"
	"github.com/transitlive/transitlive_core/internal/models"
	"github.com/transitlive/transitlive_core/internal/store"
)

func runAggregator(t *testing.T, f *fixture, agg *Aggregator) models.CycleResult {
	t.Helper()
	var result models.CycleResult
	require.NoError(t, f.store.InTx(context.Background(), func(tx store.Tx) error {
		var err error
		result, err = agg.Run(context.Background(), tx)
		return err
	}))
	return result
}

func TestAggregatorCentroidAndRetirement(t *testing.T) {
	f := newFixture(t, DefaultEvaluatorOptions())
	agg := NewAggregator(f.clock, logging.Discard())

	f.putOnboard(t, 1, 1, true, 10.0, -75.0)
	f.putOnboard(t, 2, 1, true, 10.002, -75.002)
	f.putOnboard(t, 3, 2, true, 10.05, -75.0)

	result := runAggregator(t, f, agg)
	assert.Equal(t, 2, result.Created)
	assert.Zero(t, result.Updated)
	assert.Zero(t, result.Removed)

	buses := f.buses(t)
	require.Len(t, buses, 2)
	assert.Equal(t, int64(1), buses[0].RouteID)
	assert.InDelta(t, 10.001, buses[0].Lat, 1e-9)
	assert.InDelta(t, -75.001, buses[0].Lon, 1e-9)
	assert.Equal(t, models.BusStatusActive, buses[0].Status)
	assert.Zero(t, buses[0].Speed)
	assert.Equal(t, epoch, buses[0].UpdatedAt)
	assert.NotEmpty(t, buses[0].ID)
	assert.NotEqual(t, buses[0].ID, buses[1].ID)

	// the only R2 rider gets off
	f.putOnboard(t, 3, 2, false, 10.05, -75.0)

	result = runAggregator(t, f, agg)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 1, result.Removed)

	buses = f.buses(t)
	require.Len(t, buses, 1)
	assert.Equal(t, int64(1), buses[0].RouteID)
}

func TestAggregatorIdempotent(t *testing.T) {
	f := newFixture(t, DefaultEvaluatorOptions())
	agg := NewAggregator(f.clock, logging.Discard())

	f.putOnboard(t, 1, 1, true, 10.0, -75.0)
	f.putOnboard(t, 2, 2, true, 10.05, -75.0)

	runAggregator(t, f, agg)
	first := f.buses(t)

	result := runAggregator(t, f, agg)
	assert.Zero(t, result.Created)
	assert.Equal(t, 2, result.Updated)
	assert.Equal(t, first, f.buses(t))
}

func TestAggregatorKeepsBusIDAcrossCycles(t *testing.T) {
	f := newFixture(t, DefaultEvaluatorOptions())
	agg := NewAggregator(f.clock, logging.Discard())

	f.putOnboard(t, 1, 1, true, 10.0, -75.0)
	runAggregator(t, f, agg)
	id := f.buses(t)[0].ID

	f.putOnboard(t, 1, 1, true, 10.01, -75.0)
	f.clock.Advance(30 * time.Second)
	runAggregator(t, f, agg)

	bus := f.buses(t)[0]
	assert.Equal(t, id, bus.ID)
	assert.InDelta(t, 10.01, bus.Lat, 1e-9)
	assert.Equal(t, f.clock.Now(), bus.UpdatedAt)
}

func TestAggregatorNoRiders(t *testing.T) {
	f := newFixture(t, DefaultEvaluatorOptions())
	agg := NewAggregator(f.clock, logging.Discard())
	f.putBus(t, 2, 10.0, -75.0)

	f.clock.Advance(time.Minute)

	result := runAggregator(t, f, agg)
	assert.Equal(t, 1, result.Removed)
	assert.NotNil(t, result.Buses)
	assert.Empty(t, result.Buses)
	assert.Empty(t, f.buses(t))

	require.Len(t, result.Retired, 1)
	assert.Equal(t, "bus-2", result.Retired[0].ID)
	assert.Equal(t, int64(2), result.Retired[0].RouteID)
	assert.Equal(t, models.BusStatusInactive, result.Retired[0].Status)
	assert.Equal(t, epoch.Add(time.Minute), result.Retired[0].UpdatedAt)
}
