// Package api serves the map page's JSON API: Strava sign-in, activity listing,
// GPX export, and per-session ingestion onto the map.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vintagemap/internal/auth"
	"vintagemap/internal/config"
	"vintagemap/internal/ingest"
	"vintagemap/internal/logging"
	"vintagemap/internal/store"
	"vintagemap/internal/strava"
)

// Deps are the collaborators a Server is built from
type Deps struct {
	Config *config.Config
	Store  *store.Store
	Auth   *auth.Manager
	Strava *strava.Client
	// BaseContext bounds background ingestion runs; cancelling it stops them
	BaseContext context.Context
}

// Server holds the HTTP handlers and per-session state
type Server struct {
	cfg      *config.Config
	store    *store.Store
	auth     *auth.Manager
	strava   *strava.Client
	queues   *queueRegistry
	validate *validator.Validate
	upgrader websocket.Upgrader
	baseCtx  context.Context
}

// NewServer wires a Server from d
func NewServer(d Deps) *Server {
	ctx := d.BaseContext
	if ctx == nil {
		ctx = context.Background()
	}
	s := &Server{
		cfg:      d.Config,
		store:    d.Store,
		auth:     d.Auth,
		strava:   d.Strava,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		baseCtx:  ctx,
	}
	s.queues = newQueueRegistry(ingest.Config{
		Pause:            d.Config.Ingest.Pause,
		ConfirmThreshold: d.Config.Ingest.ConfirmThreshold,
	})
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      s.checkOrigin,
	}
	return s
}

// Handler builds the router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(requestContext)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{s.cfg.Server.BaseURL},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", csrfHeader},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/auth/strava", func(r chi.Router) {
		r.Use(s.withSession)
		r.Get("/", s.authStart)
		r.Get("/callback", s.authCallback)
	})

	r.Route("/api", func(r chi.Router) {
		if s.cfg.Server.RateLimit > 0 {
			r.Use(httprate.LimitByIP(s.cfg.Server.RateLimit, s.cfg.Server.RateLimitWindow))
		}
		r.Use(s.withSession)

		// answers 405 to any other method, so it sits outside the CSRF check
		r.HandleFunc("/session", s.session)

		r.Group(func(r chi.Router) {
			r.Use(s.requireCSRF)
			r.Post("/disconnect", s.disconnect)

			r.Group(func(r chi.Router) {
				r.Use(s.requireAuth)

				r.Get("/activities", s.listActivities)
				r.Get("/activities/{id}/gpx", s.activityGPX)

				r.Post("/ingest", s.startIngest)
				r.Get("/ingest", s.ingestStatus)
				r.Delete("/ingest", s.abortIngest)
				r.Get("/ingest/events", s.ingestEvents)

				r.Get("/tracks", s.tracks)
				r.Delete("/tracks", s.clearTracks)
				r.Post("/tracks/import", s.importTrack)
			})
		})
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	short, daily := s.strava.RateLimitStatus()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"strava_rate_limit": map[string]int{
			"short_remaining": short,
			"daily_remaining": daily,
		},
	})
}

// PurgeSessions ends sessions idle longer than the configured TTL
func (s *Server) PurgeSessions(ctx context.Context) (int, error) {
	ids, err := s.store.PurgeSessions(ctx, time.Now().Add(-s.cfg.Server.SessionTTL))
	if err != nil {
		return 0, fmt.Errorf("purging sessions: %w", err)
	}
	for _, id := range ids {
		s.auth.Forget(id)
		s.queues.drop(id)
	}
	if len(ids) > 0 {
		logging.Info().Int("count", len(ids)).Msg("purged idle sessions")
	}
	return len(ids), nil
}

// endSession forgets everything held for id and deletes its row
func (s *Server) endSession(ctx context.Context, id string) {
	s.queues.drop(id)
	s.auth.Forget(id)
	if err := s.store.DeleteSession(ctx, id); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("deleting session")
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == s.cfg.Server.BaseURL {
		return true
	}
	logging.Ctx(r.Context()).Warn().Str("origin", origin).Msg("websocket rejected from foreign origin")
	return false
}
