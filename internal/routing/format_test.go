package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transitlive/transitlive_core/internal/models"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		seconds  float64
		expected string
	}{
		{0, "0:00:00"},
		{59.4, "0:00:59"},
		{199.6, "0:03:20"},
		{900, "0:15:00"},
		{3725, "1:02:05"},
		{36000, "10:00:00"},
		{-5, "0:00:00"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatDuration(tt.seconds))
		})
	}
}

func TestBuildSegments(t *testing.T) {
	g := handGraph(
		edge(1, 2, 10, 100),
		edge(2, 3, 10, 50),
		edge(3, 4, 20, 70),
	)
	g.Routes[10] = models.Route{ID: 10, Name: "T101"}
	g.Routes[20] = models.Route{ID: 20, Name: "X104"}
	for id, name := range map[int64]string{1: "Portal", 2: "Bazurto", 3: "Centro", 4: "Bocagrande"} {
		g.Nodes[id] = models.Stop{ID: id, Name: name}
	}

	path := &Path{
		Hops: []Hop{
			{Edge: edge(1, 2, 10, 100)},
			{Edge: edge(2, 3, 10, 50)},
			{Edge: edge(3, 4, 20, 70), Transfer: true},
		},
		Total:     1120,
		Transfers: 1,
	}

	segments := buildSegments(g, path, 900)
	require.Len(t, segments, 3)

	ride := segments[0]
	assert.Equal(t, models.SegmentRide, ride.Type)
	assert.Equal(t, int64(10), *ride.RouteID)
	assert.Equal(t, "Portal", ride.FromStop.Name)
	assert.Equal(t, "Centro", ride.ToStop.Name)
	assert.Equal(t, 2, ride.NumStops)
	assert.Equal(t, 150.0, ride.CostSeconds)
	assert.Equal(t, "Ride route T101 from Portal to Centro (2 stops, 0:02:30)", ride.Description)

	transfer := segments[1]
	assert.Equal(t, models.SegmentTransfer, transfer.Type)
	assert.Equal(t, int64(20), *transfer.RouteID)
	assert.Equal(t, transfer.FromStop.ID, transfer.ToStop.ID)
	assert.Equal(t, int64(3), transfer.FromStop.ID)
	assert.Equal(t, 900.0, transfer.CostSeconds)
	assert.Equal(t, "Transfer at Centro to route X104 (15 min penalty)", transfer.Description)

	last := segments[2]
	assert.Equal(t, models.SegmentRide, last.Type)
	assert.Equal(t, "X104", last.RouteName)
	assert.Equal(t, 1, last.NumStops)

	sum := 0.0
	for _, s := range segments {
		sum += s.CostSeconds
	}
	assert.Equal(t, path.Total, sum)
}

func TestBuildSegmentsEmptyPath(t *testing.T) {
	assert.Empty(t, buildSegments(handGraph(), &Path{}, 900))
	assert.Empty(t, buildSegments(handGraph(), nil, 900))
}
