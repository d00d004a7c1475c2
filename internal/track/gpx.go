package track

import (
	"fmt"
	"regexp"

	"github.com/tkrajina/gpxgo/gpx"

	"vintagemap/internal/strava"
)

// Creator is written to the creator attribute of generated documents
const Creator = "Vintage Strava Maps"

// ContentType is the media type of generated documents
const ContentType = "application/gpx+xml"

// gpxgo always opens metadata>author, even with no author set
var emptyAuthor = regexp.MustCompile(`\n[ \t]*<author></author>|<author></author>`)

// ToInterchangeDocument serializes an activity as GPX 1.1.
// The metadata time is the activity start, so equal input gives byte-identical output.
func ToInterchangeDocument(detail strava.Activity, streams strava.Streams) ([]byte, error) {
	t, err := ToPointSequence(detail, streams)
	if err != nil {
		return nil, err
	}
	return encode(t)
}

func encode(t *Track) ([]byte, error) {
	start := t.StartDate.UTC()
	doc := gpx.GPX{
		Version: "1.1",
		Creator: Creator,
		Name:    t.Name,
		Time:    &start,
	}

	seg := gpx.GPXTrackSegment{Points: make([]gpx.GPXPoint, 0, len(t.Points))}
	for _, p := range t.Points {
		gp := gpx.GPXPoint{
			Point: gpx.Point{Latitude: p.Lat, Longitude: p.Lon},
		}
		if p.Elevation != nil {
			gp.Elevation.SetValue(*p.Elevation)
		}
		if p.Time != nil {
			gp.Timestamp = p.Time.UTC()
		}
		seg.Points = append(seg.Points, gp)
	}

	doc.Tracks = []gpx.GPXTrack{{
		Name:     t.Name,
		Type:     t.Type,
		Segments: []gpx.GPXTrackSegment{seg},
	}}

	data, err := doc.ToXml(gpx.ToXmlParams{Version: "1.1", Indent: true})
	if err != nil {
		return nil, fmt.Errorf("encoding gpx: %w", err)
	}
	return emptyAuthor.ReplaceAll(data, nil), nil
}

// ParseDocument reads a GPX document back into a Track.
// Every segment of every track is flattened in document order.
func ParseDocument(data []byte) (*Track, error) {
	doc, err := gpx.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	t := &Track{Name: doc.Name}
	if doc.Time != nil {
		t.StartDate = *doc.Time
	}

	for _, trk := range doc.Tracks {
		if t.Name == "" {
			t.Name = trk.Name
		}
		if t.Type == "" {
			t.Type = trk.Type
		}
		for _, seg := range trk.Segments {
			for _, gp := range seg.Points {
				p := Point{Lat: gp.Latitude, Lon: gp.Longitude}
				if gp.Elevation.NotNull() {
					ele := gp.Elevation.Value()
					p.Elevation = &ele
				}
				if !gp.Timestamp.IsZero() {
					ts := gp.Timestamp
					p.Time = &ts
				}
				t.Points = append(t.Points, p)
			}
		}
	}

	if len(t.Points) == 0 {
		return nil, fmt.Errorf("%w: no track points", ErrInvalidDocument)
	}
	if t.StartDate.IsZero() && t.Points[0].Time != nil {
		t.StartDate = *t.Points[0].Time
	}

	t.Stats = ComputeStats(t.Points)
	return t, nil
}

// Filename is the download name used for an activity's document
func Filename(activityID int64) string {
	return fmt.Sprintf("activity_%d.gpx", activityID)
}
