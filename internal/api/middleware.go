package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"vintagemap/internal/auth"
	"vintagemap/internal/logging"
	"vintagemap/internal/metrics"
	"vintagemap/internal/store"
)

const (
	requestIDHeader = "X-Request-ID"
	csrfHeader      = "X-CSRF-Token"
)

type ctxKey int

const (
	sessionKey ctxKey = iota
	tokensKey
)

// requestContext tags each request with an ID, then logs and counts it
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		id := r.Header.Get(requestIDHeader)
		if id == "" || len(id) > 64 {
			id = logging.NewRequestID()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := logging.ContextWithRequestID(r.Context(), id)

		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		d := time.Since(start)
		metrics.RecordHTTP(r.Method, route, status, d)

		logging.Ctx(ctx).Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", d).
			Msg("request")
	})
}

// withSession loads the session named by the cookie, starting a new one when
// the cookie is missing or stale
func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var sess *store.Session
		if c, err := r.Cookie(s.cfg.Server.CookieName); err == nil && c.Value != "" {
			sess, err = s.store.GetSession(ctx, c.Value)
			if err != nil && !errors.Is(err, store.ErrNoSession) {
				logging.Ctx(ctx).Error().Err(err).Msg("loading session")
				writeError(w, r, err)
				return
			}
		}

		if sess == nil {
			var err error
			sess, err = s.store.CreateSession(ctx)
			if err != nil {
				logging.Ctx(ctx).Error().Err(err).Msg("creating session")
				writeError(w, r, err)
				return
			}
			s.setSessionCookie(w, sess.ID)
		} else if err := s.store.TouchSession(ctx, sess.ID); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("touching session")
		}

		tokens, err := s.auth.ForSession(ctx, sess.ID)
		if err != nil {
			logging.Ctx(ctx).Error().Err(err).Msg("loading token store")
			writeError(w, r, err)
			return
		}

		ctx = logging.ContextWithSessionID(ctx, sess.ID)
		ctx = context.WithValue(ctx, sessionKey, sess)
		ctx = context.WithValue(ctx, tokensKey, tokens)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireCSRF rejects state-changing requests without the session's token.
// Sessions with no credential have nothing to protect, which keeps a repeated
// disconnect from a stale page working.
func (s *Server) requireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		if tokensFrom(r.Context()).State() == auth.Unauthenticated {
			next.ServeHTTP(w, r)
			return
		}
		sess := sessionFrom(r.Context())
		got := r.Header.Get(csrfHeader)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(sess.CSRFToken)) != 1 {
			writeMessage(w, http.StatusForbidden, "Invalid CSRF token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAuth answers 401 for sessions with no linked account
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tokensFrom(r.Context()).State() == auth.Unauthenticated {
			writeMessage(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) setSessionCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.Server.CookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(s.cfg.Server.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.cfg.Server.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.Server.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.Server.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func sessionFrom(ctx context.Context) *store.Session {
	sess, _ := ctx.Value(sessionKey).(*store.Session)
	return sess
}

func tokensFrom(ctx context.Context) *auth.TokenStore {
	ts, _ := ctx.Value(tokensKey).(*auth.TokenStore)
	return ts
}
