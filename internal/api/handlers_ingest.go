package api

import (
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"vintagemap/internal/logging"
	"vintagemap/internal/track"
)

const (
	maxIngestBody = 1 << 20
	maxImportBody = 10 << 20
	wsWriteWait   = 10 * time.Second
	wsPingPeriod  = 30 * time.Second
)

type ingestRequest struct {
	ActivityIDs []int64 `json:"activity_ids" validate:"required,min=1,dive,gt=0"`
	Confirm     bool    `json:"confirm"`
}

type confirmBody struct {
	Error            string `json:"error"`
	Count            int    `json:"count"`
	EstimatedSeconds int    `json:"estimated_seconds"`
	Message          string `json:"message"`
}

func (s *Server) sessionQueue(r *http.Request) *sessionQueue {
	ctx := r.Context()
	return s.queues.get(sessionFrom(ctx).ID, tokensFrom(ctx), s.strava)
}

// startIngest admits a batch and drains it in the background
func (s *Server) startIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIngestBody)).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.ActivityIDs) == 0 {
		writeMessage(w, http.StatusBadRequest, "No activities selected")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Activity ids must be positive")
		return
	}

	sq := s.sessionQueue(r)
	n := len(req.ActivityIDs)
	if sq.queue.NeedsConfirmation(n) && !req.Confirm {
		writeJSON(w, http.StatusPreconditionRequired, confirmBody{
			Error:            "Confirmation required",
			Count:            n,
			EstimatedSeconds: sq.queue.EstimatedSeconds(n),
			Message:          sq.queue.ConfirmPrompt(n),
		})
		return
	}

	// the run outlives this request, so it hangs off the server context
	ctx := logging.ContextWithSessionID(s.baseCtx, sessionFrom(r.Context()).ID)
	if _, err := sq.queue.Start(ctx, req.ActivityIDs, nil); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sq.queue.Status())
}

func (s *Server) ingestStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessionQueue(r).queue.Status())
}

// abortIngest drops pending items; the activity in flight still lands
func (s *Server) abortIngest(w http.ResponseWriter, r *http.Request) {
	q := s.sessionQueue(r).queue
	q.Abort()
	writeJSON(w, http.StatusOK, q.Status())
}

// ingestEvents streams progress and summary events over a websocket
func (s *Server) ingestEvents(w http.ResponseWriter, r *http.Request) {
	q := s.sessionQueue(r).queue
	log := logging.Ctx(r.Context())

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	events, cancel := q.Subscribe()
	defer cancel()

	// the client never sends anything; reading surfaces its close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	if err := writeWS(conn, map[string]interface{}{"type": "status", "status": q.Status()}); err != nil {
		return
	}
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeWS(conn, ev); err != nil {
				log.Debug().Err(err).Msg("websocket write failed")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-closed:
			return
		case <-s.baseCtx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(wsWriteWait))
			return
		}
	}
}

func writeWS(conn *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// tracks returns the session's map as a GeoJSON FeatureCollection
func (s *Server) tracks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessionQueue(r).sink.FeatureCollection())
}

func (s *Server) clearTracks(w http.ResponseWriter, r *http.Request) {
	sq := s.sessionQueue(r)
	sq.queue.Clear()
	writeJSON(w, http.StatusOK, map[string]int{"loaded": 0})
}

// importTrack adds an uploaded GPX document to the map
func (s *Server) importTrack(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBody))
	if err != nil {
		writeMessage(w, http.StatusRequestEntityTooLarge, "Document too large")
		return
	}
	t, err := track.ParseDocument(data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.sessionQueue(r).queue.Import(t); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":          t.ID,
		"name":        t.Name,
		"points":      len(t.Points),
		"distance_km": t.Stats.DistanceKm,
	})
}
