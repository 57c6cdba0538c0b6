package geo

import (
	"sort"

	"github.com/tidwall/rtree"
	"github.com/transitlive/transitlive_core/internal/models"
)

// StopIndex answers nearest-stop queries over an immutable stop set
type StopIndex struct {
	tree  rtree.RTreeG[int]
	stops []models.Stop
}

// NewStopIndex indexes stops. The slice is copied.
func NewStopIndex(stops []models.Stop) *StopIndex {
	idx := &StopIndex{stops: append([]models.Stop(nil), stops...)}
	for i, s := range idx.stops {
		pt := [2]float64{s.Lat, s.Lon}
		idx.tree.Insert(pt, pt, i)
	}
	return idx
}

// Len returns the number of indexed stops
func (idx *StopIndex) Len() int {
	return len(idx.stops)
}

// Nearest returns the closest stop within maxRadius meters of (lat, lon).
// The bool is false when no stop lies within the radius.
func (idx *StopIndex) Nearest(lat, lon, maxRadius float64) (models.StopMatch, bool) {
	var (
		best  models.StopMatch
		found bool
	)
	if len(idx.stops) == 0 || maxRadius < 0 {
		return best, false
	}

	idx.search(lat, lon, maxRadius, func(i int, dist float64) {
		if !found || dist < best.DistanceM {
			best = models.StopMatch{Stop: idx.stops[i], DistanceM: dist}
			found = true
		}
	})
	return best, found
}

// Within returns every stop within radius meters, closest first
func (idx *StopIndex) Within(lat, lon, radius float64) []models.StopMatch {
	var matches []models.StopMatch
	idx.search(lat, lon, radius, func(i int, dist float64) {
		matches = append(matches, models.StopMatch{Stop: idx.stops[i], DistanceM: dist})
	})
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].DistanceM < matches[j].DistanceM
	})
	return matches
}

func (idx *StopIndex) search(lat, lon, radius float64, visit func(i int, dist float64)) {
	b := CalculateBounds(lat, lon, radius)
	for _, lons := range lonRanges(b) {
		idx.tree.Search(
			[2]float64{b.MinLat, lons[0]},
			[2]float64{b.MaxLat, lons[1]},
			func(_, _ [2]float64, i int) bool {
				s := idx.stops[i]
				if d := Distance(lat, lon, s.Lat, s.Lon); d <= radius {
					visit(i, d)
				}
				return true
			},
		)
	}
}

// lonRanges splits a box crossing the antimeridian into disjoint ranges
// inside [-180, 180].
func lonRanges(b Bounds) [][2]float64 {
	switch {
	case b.MaxLon-b.MinLon >= 360:
		return [][2]float64{{-180, 180}}
	case b.MinLon < -180:
		return [][2]float64{{-180, b.MaxLon}, {b.MinLon + 360, 180}}
	case b.MaxLon > 180:
		return [][2]float64{{b.MinLon, 180}, {-180, b.MaxLon - 360}}
	default:
		return [][2]float64{{b.MinLon, b.MaxLon}}
	}
}
