package geo

import (
	"math"
	"testing"
)

func TestHaversine(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64
		tolerance              float64
	}{
		{"same point", 45, 7, 45, 7, 0, 1e-9},
		{"small step on equator", 0, 0, 0, 0.0001, 11.119, 0.01},
		{"one degree of latitude", 0, 0, 1, 0, 111194.9, 1},
		{"london to paris", 51.5074, -0.1278, 48.8566, 2.3522, 343556, 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Haversine(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			if math.Abs(got-tt.want) > tt.tolerance {
				t.Errorf("Haversine() = %v, want %v ± %v", got, tt.want, tt.tolerance)
			}
		})
	}
}

func TestHaversineSymmetric(t *testing.T) {
	a := Haversine(40.7128, -74.0060, 34.0522, -118.2437)
	b := Haversine(34.0522, -118.2437, 40.7128, -74.0060)
	if math.Abs(a-b) > 1e-6 {
		t.Errorf("distance not symmetric: %v vs %v", a, b)
	}
}

func TestElevationDelta(t *testing.T) {
	f := func(v float64) *float64 { return &v }

	tests := []struct {
		name       string
		prev, next *float64
		gain, loss float64
	}{
		{"climb", f(10), f(12), 2, 0},
		{"descent", f(100), f(95.5), 0, 4.5},
		{"flat", f(7), f(7), 0, 0},
		{"missing prev", nil, f(12), 0, 0},
		{"missing next", f(10), nil, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gain, loss := ElevationDelta(tt.prev, tt.next)
			if gain != tt.gain || loss != tt.loss {
				t.Errorf("ElevationDelta() = (%v, %v), want (%v, %v)", gain, loss, tt.gain, tt.loss)
			}
		})
	}
}
