package gtfs

import (
	"testing"

	"github.com/OneBusAway/go-gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transitlive/transitlive_core/internal/logging"
	"github.com/transitlive/transitlive_core/internal/models"
)

func ptr(f float64) *float64 { return &f }

func TestFromStatic(t *testing.T) {
	market := gtfs.Stop{Id: "market", Name: "Market", Latitude: ptr(14.71), Longitude: ptr(-17.46)}
	harbour := gtfs.Stop{Id: "harbour", Name: "Harbour", Latitude: ptr(14.72), Longitude: ptr(-17.46)}
	station := gtfs.Stop{Id: "station", Name: "Station", Latitude: ptr(14.73), Longitude: ptr(-17.46)}
	node := gtfs.Stop{Id: "node", Name: "Pathway node"}

	coastal := gtfs.Route{Id: "R-B", ShortName: "7"}
	express := gtfs.Route{Id: "R-A", LongName: "Airport Express"}
	empty := gtfs.Route{Id: "R-C"}

	static := &gtfs.Static{
		Stops:  []gtfs.Stop{station, market, harbour, node},
		Routes: []gtfs.Route{coastal, express, empty},
		Trips: []gtfs.ScheduledTrip{
			{ID: "t1", Route: &coastal, StopTimes: []gtfs.ScheduledStopTime{
				{Stop: &market, StopSequence: 1},
				{Stop: &harbour, StopSequence: 2},
			}},
			{ID: "t2", Route: &coastal, StopTimes: []gtfs.ScheduledStopTime{
				{Stop: &station, StopSequence: 30},
				{Stop: &market, StopSequence: 10},
				{Stop: &harbour, StopSequence: 20},
			}},
			{ID: "t3", Route: &express, StopTimes: []gtfs.ScheduledStopTime{
				{Stop: &station, StopSequence: 1},
				{Stop: &node, StopSequence: 2},
				{Stop: &market, StopSequence: 3},
			}},
		},
	}

	network := FromStatic(static, logging.Discard())

	// harbour, market, station in sorted id order; node has no coordinates
	require.Len(t, network.Stops, 3)
	assert.Equal(t, models.Stop{ID: 1, Name: "Harbour", Lat: 14.72, Lon: -17.46}, network.Stops[0])
	assert.Equal(t, "Market", network.Stops[1].Name)
	assert.Equal(t, "Station", network.Stops[2].Name)

	assert.Equal(t, []models.Route{
		{ID: 1, Name: "Airport Express"},
		{ID: 2, Name: "7"},
		{ID: 3, Name: "R-C"},
	}, network.Routes)

	assert.Equal(t, []models.RouteStop{
		{RouteID: 1, StopID: 3, Order: 1},
		{RouteID: 1, StopID: 2, Order: 2},
		{RouteID: 2, StopID: 2, Order: 1},
		{RouteID: 2, StopID: 1, Order: 2},
		{RouteID: 2, StopID: 3, Order: 3},
	}, network.RouteStops)
}

func TestParseNetwork(t *testing.T) {
	valid := `
stops:
  - {id: 1, name: Plaza, lat: 10.0, lon: -75.0}
  - {id: 2, name: Terminal, lat: 10.05, lon: -75.0}
routes:
  - id: 5
    name: Troncal
    stops: [2, 1]
`

	network, err := ParseNetwork([]byte(valid))
	require.NoError(t, err)
	assert.Len(t, network.Stops, 2)
	assert.Equal(t, []models.Route{{ID: 5, Name: "Troncal"}}, network.Routes)
	assert.Equal(t, []models.RouteStop{
		{RouteID: 5, StopID: 2, Order: 1},
		{RouteID: 5, StopID: 1, Order: 2},
	}, network.RouteStops)

	tests := []struct {
		name string
		data string
	}{
		{"malformed", "stops: [\n"},
		{"missing latitude", "stops:\n  - {id: 1, name: A, lon: 0}\n"},
		{"latitude out of range", "stops:\n  - {id: 1, name: A, lat: 100, lon: 0}\n"},
		{"duplicate stop", "stops:\n  - {id: 1, name: A, lat: 1, lon: 1}\n  - {id: 1, name: B, lat: 2, lon: 2}\n"},
		{"unknown stop on route", "stops:\n  - {id: 1, name: A, lat: 1, lon: 1}\nroutes:\n  - {id: 1, name: R, stops: [1, 9]}\n"},
		{"duplicate route", "routes:\n  - {id: 1, name: R}\n  - {id: 1, name: S}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseNetwork([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}
