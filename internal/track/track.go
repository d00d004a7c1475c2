// Package track converts Strava telemetry into point sequences and GPX documents.
package track

import (
	"errors"
	"time"

	"vintagemap/internal/geo"
	"vintagemap/internal/strava"
)

var (
	// ErrEmptyTrack is returned when telemetry has no usable position samples
	ErrEmptyTrack = errors.New("activity has no GPS data")
	// ErrInvalidDocument is returned when a GPX document cannot be consumed
	ErrInvalidDocument = errors.New("invalid GPX document")
)

// Point is a single position sample
type Point struct {
	Lat       float64
	Lon       float64
	Elevation *float64
	Time      *time.Time
}

// Stats summarizes a point sequence
type Stats struct {
	DistanceKm     float64
	ElevationGainM float64
	ElevationLossM float64
	MinElevationM  *float64
	MaxElevationM  *float64
	PointCount     int
}

// Track is a converted activity ready for a map sink
type Track struct {
	ID        int64
	Name      string
	Type      string
	StartDate time.Time
	Points    []Point
	Stats     Stats
}

// ToPointSequence builds one Point per latlng sample, in order.
// Elevation and time come from the aligned altitude and time streams when they reach index i.
func ToPointSequence(detail strava.Activity, streams strava.Streams) (*Track, error) {
	n := streams.Len()
	if n == 0 {
		return nil, ErrEmptyTrack
	}

	points := make([]Point, n)
	for i, ll := range streams.LatLng.Data {
		p := Point{Lat: ll[0], Lon: ll[1]}
		if alt, ok := streams.AltitudeAt(i); ok {
			p.Elevation = &alt
		}
		if secs, ok := streams.TimeAt(i); ok {
			ts := detail.StartDate.Add(time.Duration(secs) * time.Second)
			p.Time = &ts
		}
		points[i] = p
	}

	return &Track{
		ID:        detail.ID,
		Name:      detail.Name,
		Type:      detail.Type,
		StartDate: detail.StartDate,
		Points:    points,
		Stats:     ComputeStats(points),
	}, nil
}

// ComputeStats makes a single forward pass over points.
// A point without elevation contributes no delta to either neighbour.
func ComputeStats(points []Point) Stats {
	var (
		s      Stats
		meters float64
	)
	s.PointCount = len(points)

	for i := range points {
		p := points[i]
		if p.Elevation != nil {
			ele := *p.Elevation
			if s.MinElevationM == nil || ele < *s.MinElevationM {
				s.MinElevationM = &ele
			}
			if s.MaxElevationM == nil || ele > *s.MaxElevationM {
				v := ele
				s.MaxElevationM = &v
			}
		}
		if i == 0 {
			continue
		}
		prev := points[i-1]
		meters += geo.Haversine(prev.Lat, prev.Lon, p.Lat, p.Lon)
		gain, loss := geo.ElevationDelta(prev.Elevation, p.Elevation)
		s.ElevationGainM += gain
		s.ElevationLossM += loss
	}

	s.DistanceKm = meters / 1000
	return s
}

// Elevations returns the elevation profile, skipping points without elevation
func (t *Track) Elevations() []float64 {
	out := make([]float64, 0, len(t.Points))
	for _, p := range t.Points {
		if p.Elevation != nil {
			out = append(out, *p.Elevation)
		}
	}
	return out
}
