// Package geo holds the pure geometry used across the planner and the
// tracking pipeline: great-circle distance, bounding boxes, centroids and a
// spatial index over stops.
package geo

import "math"

// EarthRadiusMeters is the mean Earth radius used by Distance.
const EarthRadiusMeters = 6371000.0

// Bounds is a latitude/longitude bounding box
type Bounds struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

// Point is a decimal-degree coordinate
type Point struct {
	Lat float64
	Lon float64
}

// Distance calculates the haversine distance between two coordinates in meters
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	if lat1 == lat2 && lon1 == lon2 {
		return 0
	}

	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	if a > 1 {
		a = 1
	}

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMeters * c
}

// CalculateBounds returns the box enclosing a circle of radius meters.
// Longitudes are not wrapped, so MinLon may be below -180 or MaxLon above 180.
func CalculateBounds(lat, lon, meters float64) Bounds {
	latRad := lat * math.Pi / 180

	latOffset := meters / EarthRadiusMeters * 180 / math.Pi
	lonRadius := math.Cos(latRad) * EarthRadiusMeters
	lonOffset := 180.0
	if lonRadius > 1e-9 {
		lonOffset = math.Min(meters/lonRadius*180/math.Pi, 180)
	}

	return Bounds{
		MinLat: math.Max(lat-latOffset, -90),
		MaxLat: math.Min(lat+latOffset, 90),
		MinLon: lon - lonOffset,
		MaxLon: lon + lonOffset,
	}
}

// Centroid is the arithmetic mean of latitudes and longitudes, computed
// independently. Adequate at city-block scale only.
func Centroid(points []Point) (lat, lon float64, ok bool) {
	if len(points) == 0 {
		return 0, 0, false
	}
	for _, p := range points {
		lat += p.Lat
		lon += p.Lon
	}
	n := float64(len(points))
	return lat / n, lon / n, true
}
