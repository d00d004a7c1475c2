package ingest

import (
	"encoding/json"
	"strings"
	"testing"

	"vintagemap/internal/track"
)

func lineTrack(id int64, pts ...[2]float64) *track.Track {
	t := &track.Track{ID: id, Name: "Track", Type: "Run"}
	for _, p := range pts {
		t.Points = append(t.Points, track.Point{Lat: p[0], Lon: p[1]})
	}
	t.Stats = track.ComputeStats(t.Points)
	return t
}

func TestMemorySinkColorsCycle(t *testing.T) {
	s := NewMemorySink()
	for i := 0; i < len(Palette)+1; i++ {
		if err := s.AddTrack(lineTrack(int64(i+1), [2]float64{0, 0}, [2]float64{1, 1})); err != nil {
			t.Fatal(err)
		}
	}

	layers := s.Layers()
	for i, l := range layers {
		if want := Palette[i%len(Palette)]; l.Color != want {
			t.Errorf("layer %d color = %s, want %s", i, l.Color, want)
		}
	}
}

func TestMemorySinkFitBounds(t *testing.T) {
	s := NewMemorySink()
	s.AddTrack(lineTrack(1, [2]float64{10, 20}, [2]float64{11, 21}))
	s.AddTrack(lineTrack(2, [2]float64{-5, 30}, [2]float64{-4, 31}))

	if _, ok := s.Viewport(); ok {
		t.Fatal("viewport set before FitBounds")
	}
	s.FitBounds()

	b, ok := s.Viewport()
	if !ok {
		t.Fatal("viewport missing after FitBounds")
	}
	// orb points are lon, lat
	if b.Min[0] != 20 || b.Min[1] != -5 || b.Max[0] != 31 || b.Max[1] != 11 {
		t.Errorf("viewport = %v", b)
	}

	s.Clear()
	if len(s.Layers()) != 0 {
		t.Error("layers remain after Clear")
	}
	if _, ok := s.Viewport(); ok {
		t.Error("viewport remains after Clear")
	}
}

func TestMemorySinkRejectsEmptyTrack(t *testing.T) {
	if err := NewMemorySink().AddTrack(&track.Track{}); err == nil {
		t.Error("AddTrack accepted a track without points")
	}
}

func TestFeatureCollectionJSON(t *testing.T) {
	s := NewMemorySink()
	s.AddTrack(lineTrack(7, [2]float64{0, 0}, [2]float64{0, 0.0001}))
	s.FitBounds()

	data, err := json.Marshal(s.FeatureCollection())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out := string(data)
	for _, want := range []string{`"FeatureCollection"`, `"LineString"`, `"bbox"`, `"color":"#8b4513"`, `"point_count":2`, `"distance_km":0.01`} {
		if !strings.Contains(out, want) {
			t.Errorf("feature collection missing %s: %s", want, out)
		}
	}
}

func TestPopupText(t *testing.T) {
	tr := lineTrack(1, [2]float64{0, 0}, [2]float64{0, 0.0001})
	tr.Name = "Evening Ride"
	got := PopupText(tr)
	if !strings.HasPrefix(got, "Evening Ride\nDistance: 0.01 km") || !strings.HasSuffix(got, "Points: 2") {
		t.Errorf("PopupText() = %q", got)
	}
}
