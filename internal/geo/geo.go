// Package geo holds the great-circle and elevation math used to summarize tracks.
package geo

import "math"

// EarthRadius is the mean Earth radius in meters used by Haversine.
const EarthRadius = 6371000.0

// Haversine returns the great-circle distance in meters between two
// latitude/longitude pairs given in degrees.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadius * c
}

// ElevationDelta splits the change from prev to next into gain and loss.
// Both are zero when either elevation is missing.
func ElevationDelta(prev, next *float64) (gain, loss float64) {
	if prev == nil || next == nil {
		return 0, 0
	}
	d := *next - *prev
	if d > 0 {
		return d, 0
	}
	return 0, -d
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
