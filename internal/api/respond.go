package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"vintagemap/internal/auth"
	"vintagemap/internal/ingest"
	"vintagemap/internal/logging"
	"vintagemap/internal/strava"
	"vintagemap/internal/track"
)

type errorBody struct {
	Error     string `json:"error"`
	Code      int    `json:"code,omitempty"`
	Reconnect bool   `json:"reconnect,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		logging.Error().Err(err).Msg("encoding response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeError maps domain errors onto status codes
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var upstream *strava.UpstreamError
	switch {
	case errors.Is(err, auth.ErrSessionExpired):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "Session expired", Reconnect: true})
	case errors.As(err, &upstream):
		writeJSON(w, upstream.Code, errorBody{Error: "Strava API error", Code: upstream.Code})
	case errors.Is(err, strava.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "Activity not found")
	case errors.Is(err, track.ErrEmptyTrack):
		writeMessage(w, http.StatusUnprocessableEntity, "Activity has no GPS data")
	case errors.Is(err, track.ErrInvalidDocument):
		writeMessage(w, http.StatusUnprocessableEntity, "Invalid GPX document")
	case errors.Is(err, ingest.ErrBusy):
		writeMessage(w, http.StatusConflict, "Already loading activities")
	case errors.Is(err, ingest.ErrNoActivities):
		writeMessage(w, http.StatusBadRequest, "No activities selected")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeMessage(w, http.StatusGatewayTimeout, "Request timed out")
	default:
		logging.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
	}
}
