package strava

import "time"

// Activity is the detailed representation returned by /activities/{id}
type Activity struct {
	ID                 int64     `json:"id"`
	Athlete            Athlete   `json:"athlete"`
	Name               string    `json:"name"`
	Type               string    `json:"type"`
	SportType          string    `json:"sport_type"`
	StartDate          time.Time `json:"start_date"`
	StartDateLocal     time.Time `json:"start_date_local"`
	Timezone           string    `json:"timezone"`
	Distance           float64   `json:"distance"`             // meters
	MovingTime         int       `json:"moving_time"`          // seconds
	ElapsedTime        int       `json:"elapsed_time"`         // seconds
	TotalElevationGain float64   `json:"total_elevation_gain"` // meters
}

// Athlete represents a Strava athlete (minimal info in activity response)
type Athlete struct {
	ID int64 `json:"id"`
}

// ActivitySummary is the subset of a listing entry the terminal client shows.
// Listings are otherwise passed through undecoded.
type ActivitySummary struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	StartDate time.Time `json:"start_date"`
	Distance  float64   `json:"distance"`
}

// StreamKeys are the stream types requested for a telemetry fetch
const StreamKeys = "latlng,altitude,time,distance"

// Streams represents activity stream data from the API
// Strava returns streams keyed by type when key_by_type=true
type Streams struct {
	LatLng   *StreamData[[2]float64] `json:"latlng"`
	Altitude *StreamData[float64]    `json:"altitude"`
	Time     *StreamData[int]        `json:"time"`
	Distance *StreamData[float64]    `json:"distance"`
}

// StreamData represents a single stream type
type StreamData[T any] struct {
	Data         []T    `json:"data"`
	SeriesType   string `json:"series_type"`
	OriginalSize int    `json:"original_size"`
	Resolution   string `json:"resolution"`
}

// At returns the sample at i. A nil stream, or one shorter than i, has no value there.
func (s *StreamData[T]) At(i int) (T, bool) {
	var zero T
	if s == nil || i < 0 || i >= len(s.Data) {
		return zero, false
	}
	return s.Data[i], true
}

// Len returns the number of position samples, or 0 if there are none
func (s *Streams) Len() int {
	if s == nil || s.LatLng == nil {
		return 0
	}
	return len(s.LatLng.Data)
}

// AltitudeAt returns the altitude sample aligned with position i
func (s *Streams) AltitudeAt(i int) (float64, bool) {
	if s == nil {
		return 0, false
	}
	return s.Altitude.At(i)
}

// TimeAt returns the elapsed-seconds sample aligned with position i
func (s *Streams) TimeAt(i int) (int, bool) {
	if s == nil {
		return 0, false
	}
	return s.Time.At(i)
}

// Telemetry is an activity detail together with its streams
type Telemetry struct {
	Detail  Activity
	Streams Streams
}
