package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"vintagemap/internal/strava"
	"vintagemap/internal/track"
)

func (s *Server) gateway(r *http.Request) *strava.Gateway {
	return s.strava.ForSession(tokensFrom(r.Context()))
}

// listActivities passes a page of the athlete's activities through unmodified
func (s *Server) listActivities(w http.ResponseWriter, r *http.Request) {
	p, err := parseListParams(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	body, err := s.gateway(r).ListActivities(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

func parseListParams(r *http.Request) (strava.ListParams, error) {
	var p strava.ListParams
	q := r.URL.Query()
	fields := []struct {
		name string
		dst  *int64
	}{
		{"after", &p.After},
		{"before", &p.Before},
	}
	for _, f := range fields {
		v := q.Get(f.name)
		if v == "" {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return p, fmt.Errorf("invalid %s", f.name)
		}
		*f.dst = n
	}
	for name, dst := range map[string]*int{"page": &p.Page, "per_page": &p.PerPage} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return p, fmt.Errorf("invalid %s", name)
		}
		*dst = n
	}
	return p, nil
}

// activityGPX serves one activity as a GPX download
func (s *Server) activityGPX(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeMessage(w, http.StatusBadRequest, "Invalid activity id")
		return
	}

	tel, err := s.gateway(r).FetchTelemetry(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	doc, err := track.ToInterchangeDocument(tel.Detail, tel.Streams)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", track.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="%s"`, track.Filename(id)))
	w.Write(doc)
}
