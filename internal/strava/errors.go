package strava

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an activity detail comes back without a body
var ErrNotFound = errors.New("activity not found")

// UpstreamError carries a non-2xx status from the Strava API
type UpstreamError struct {
	Code int
	Body string
}

func (e *UpstreamError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("API error %d", e.Code)
	}
	return fmt.Sprintf("API error %d: %s", e.Code, e.Body)
}

// StatusCode returns the upstream status of err, or 0 if err is not an UpstreamError
func StatusCode(err error) int {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Code
	}
	return 0
}
