package gtfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transitlive/transitlive_core/internal/logging"
	"github.com/transitlive/transitlive_core/internal/models"
)

func TestValidateAndCleanStops(t *testing.T) {
	tests := []struct {
		name     string
		stops    []models.Stop
		expected int
	}{
		{
			name: "All valid stops",
			stops: []models.Stop{
				{ID: 1, Lat: 14.7, Lon: -17.4},
				{ID: 2, Lat: 14.8, Lon: -17.5},
			},
			expected: 2,
		},
		{
			name: "Filter invalid latitude",
			stops: []models.Stop{
				{ID: 1, Lat: 14.7, Lon: -17.4},
				{ID: 2, Lat: 95.0, Lon: -17.5},
			},
			expected: 1,
		},
		{
			name: "Filter null island",
			stops: []models.Stop{
				{ID: 1, Lat: 14.7, Lon: -17.4},
				{ID: 2, Lat: 0.0, Lon: 0.0},
			},
			expected: 1,
		},
		{
			name: "Filter invalid longitude",
			stops: []models.Stop{
				{ID: 1, Lat: 14.7, Lon: -17.4},
				{ID: 2, Lat: 14.8, Lon: 200.0},
			},
			expected: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateAndCleanStops(tt.stops, logging.Discard())
			assert.Equal(t, tt.expected, len(result))
		})
	}
}

func TestDeduplicateStops(t *testing.T) {
	stops := []models.Stop{
		{ID: 1, Name: "Market", Lat: 14.7167, Lon: -17.4677},
		{ID: 2, Name: "Market (north side)", Lat: 14.7168, Lon: -17.4677},
		{ID: 3, Name: "Harbour", Lat: 14.7257, Lon: -17.4677},
	}

	kept, mapping := DeduplicateStops(stops, 20, logging.Discard())
	require.Len(t, kept, 2)
	assert.Equal(t, int64(1), kept[0].ID)
	assert.Equal(t, int64(3), kept[1].ID)
	assert.Equal(t, map[int64]int64{1: 1, 2: 1, 3: 3}, mapping)

	t.Run("zero threshold keeps everything", func(t *testing.T) {
		kept, mapping := DeduplicateStops(stops, 0, logging.Discard())
		assert.Len(t, kept, 3)
		assert.Equal(t, int64(2), mapping[2])
	})
}

func TestNormalize(t *testing.T) {
	network := models.Network{
		Stops: []models.Stop{
			{ID: 1, Name: "Market", Lat: 14.7167, Lon: -17.4677},
			{ID: 2, Name: "Market (north side)", Lat: 14.7168, Lon: -17.4677},
			{ID: 3, Name: "Harbour", Lat: 14.7257, Lon: -17.4677},
			{ID: 4, Name: "Broken", Lat: 0, Lon: 0},
		},
		Routes: []models.Route{{ID: 10, Name: "Coastal"}},
		RouteStops: []models.RouteStop{
			{RouteID: 10, StopID: 3, Order: 4},
			{RouteID: 10, StopID: 1, Order: 1},
			{RouteID: 10, StopID: 2, Order: 2},
			{RouteID: 10, StopID: 4, Order: 3},
		},
	}

	out := Normalize(network, 20, logging.Discard())

	assert.Len(t, out.Stops, 2)
	assert.Equal(t, []models.RouteStop{
		{RouteID: 10, StopID: 1, Order: 1},
		{RouteID: 10, StopID: 3, Order: 4},
	}, out.RouteStops)
}
