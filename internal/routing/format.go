package routing

import (
	"fmt"
	"math"

	"github.com/transitlive/transitlive_core/internal/graph"
	"github.com/transitlive/transitlive_core/internal/models"
)

// FormatDuration renders seconds as H:MM:SS
func FormatDuration(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	total := int64(math.Round(seconds))
	return fmt.Sprintf("%d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

// buildSegments turns a path into ride and transfer segments.
// Consecutive hops on the same route are consolidated into a single ride.
func buildSegments(g *graph.Graph, path *Path, penalty float64) []models.Segment {
	if path == nil || len(path.Hops) == 0 {
		return []models.Segment{}
	}

	segments := []models.Segment{}
	var current *models.Segment

	flush := func() {
		if current == nil {
			return
		}
		current.CostFormatted = FormatDuration(current.CostSeconds)
		current.Description = describeRide(*current)
		segments = append(segments, *current)
		current = nil
	}

	for _, hop := range path.Hops {
		from := g.Nodes[hop.Edge.FromStopID]
		to := g.Nodes[hop.Edge.ToStopID]
		routeID := hop.Edge.RouteID
		routeName := g.RouteName(routeID)

		if hop.Transfer {
			flush()
			segments = append(segments, models.Segment{
				Type:          models.SegmentTransfer,
				RouteID:       &routeID,
				RouteName:     routeName,
				FromStop:      from,
				ToStop:        &from,
				CostSeconds:   penalty,
				CostFormatted: FormatDuration(penalty),
				Description:   describeTransfer(from, routeName, penalty),
			})
		}

		if current != nil && *current.RouteID == routeID {
			toStop := to
			current.ToStop = &toStop
			current.CostSeconds += hop.Edge.Cost
			current.NumStops++
			continue
		}

		flush()
		toStop := to
		current = &models.Segment{
			Type:        models.SegmentRide,
			RouteID:     &routeID,
			RouteName:   routeName,
			FromStop:    from,
			ToStop:      &toStop,
			NumStops:    1,
			CostSeconds: hop.Edge.Cost,
		}
	}
	flush()

	return segments
}

func describeRide(s models.Segment) string {
	stops := "stops"
	if s.NumStops == 1 {
		stops = "stop"
	}
	return fmt.Sprintf("Ride route %s from %s to %s (%d %s, %s)",
		s.RouteName, s.FromStop.Name, s.ToStop.Name, s.NumStops, stops, FormatDuration(s.CostSeconds))
}

func describeTransfer(at models.Stop, routeName string, penalty float64) string {
	return fmt.Sprintf("Transfer at %s to route %s (%d min penalty)", at.Name, routeName, int(math.Round(penalty/60)))
}
