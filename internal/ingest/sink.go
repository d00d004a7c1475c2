package ingest

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"vintagemap/internal/track"
)

// Sink renders converted tracks
type Sink interface {
	AddTrack(t *track.Track) error
	// FitBounds recomputes the viewport so every track is visible
	FitBounds()
	Clear()
}

// Palette is the sepia line colour cycle for successive tracks
var Palette = []string{"#8b4513", "#2d5016", "#8b0000", "#4a5d23", "#704214"}

// Layer is one track as drawn on the map
type Layer struct {
	ID     int64
	Name   string
	Type   string
	Color  string
	Popup  string
	Stats  track.Stats
	Line   orb.LineString
	Bounds orb.Bound
}

// MemorySink keeps layers in memory and exports them as GeoJSON
type MemorySink struct {
	mu       sync.RWMutex
	layers   []Layer
	added    int
	viewport orb.Bound
	fitted   bool
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// AddTrack appends t as a new layer
func (s *MemorySink) AddTrack(t *track.Track) error {
	if t == nil || len(t.Points) == 0 {
		return errors.New("track has no points")
	}

	line := make(orb.LineString, len(t.Points))
	for i, p := range t.Points {
		line[i] = orb.Point{p.Lon, p.Lat}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.layers = append(s.layers, Layer{
		ID:     t.ID,
		Name:   t.Name,
		Type:   t.Type,
		Color:  Palette[s.added%len(Palette)],
		Popup:  PopupText(t),
		Stats:  t.Stats,
		Line:   line,
		Bounds: line.Bound(),
	})
	s.added++
	return nil
}

func (s *MemorySink) FitBounds() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.layers) == 0 {
		s.fitted = false
		return
	}
	b := s.layers[0].Bounds
	for _, l := range s.layers[1:] {
		b = b.Union(l.Bounds)
	}
	s.viewport = b
	s.fitted = true
}

func (s *MemorySink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layers = nil
	s.added = 0
	s.viewport = orb.Bound{}
	s.fitted = false
}

// Viewport returns the bound from the last FitBounds
func (s *MemorySink) Viewport() (orb.Bound, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewport, s.fitted
}

// Layers returns the layers in insertion order
func (s *MemorySink) Layers() []Layer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Layer(nil), s.layers...)
}

// FeatureCollection exports every layer as a LineString feature
func (s *MemorySink) FeatureCollection() *geojson.FeatureCollection {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fc := geojson.NewFeatureCollection()
	for _, l := range s.layers {
		f := geojson.NewFeature(l.Line)
		if l.ID != 0 {
			f.ID = l.ID
		}
		f.Properties["name"] = l.Name
		f.Properties["type"] = l.Type
		f.Properties["color"] = l.Color
		f.Properties["popup"] = l.Popup
		f.Properties["distance_km"] = round2(l.Stats.DistanceKm)
		f.Properties["elevation_gain_m"] = math.Round(l.Stats.ElevationGainM)
		f.Properties["elevation_loss_m"] = math.Round(l.Stats.ElevationLossM)
		f.Properties["point_count"] = l.Stats.PointCount
		fc.Append(f)
	}
	if s.fitted {
		fc.BBox = geojson.NewBBox(s.viewport)
	}
	return fc
}

// PopupText is the summary shown when a track is clicked
func PopupText(t *track.Track) string {
	return fmt.Sprintf("%s\nDistance: %.2f km\nElevation: %.0f m gain\nPoints: %d",
		t.Name, t.Stats.DistanceKm, math.Round(t.Stats.ElevationGainM), t.Stats.PointCount)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
