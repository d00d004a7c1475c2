package api

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"vintagemap/internal/auth"
	"vintagemap/internal/logging"
)

type athleteBody struct {
	ID        int64  `json:"id"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
}

type sessionBody struct {
	Status    string       `json:"status"`
	Refreshed bool         `json:"refreshed,omitempty"`
	ExpiresAt int64        `json:"expires_at"`
	Athlete   *athleteBody `json:"athlete,omitempty"`
	CSRFToken string       `json:"csrf_token,omitempty"`
}

// authStart redirects to Strava's consent page. The session's CSRF token doubles as OAuth state.
func (s *Server) authStart(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	http.Redirect(w, r, s.auth.AuthCodeURL(sess.CSRFToken), http.StatusFound)
}

func (s *Server) authCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.Ctx(ctx)
	sess := sessionFrom(ctx)
	q := r.URL.Query()

	fail := func(reason string, err error) {
		log.Warn().Err(err).Str("reason", reason).Msg("strava authorization failed")
		http.Redirect(w, r, s.cfg.AppURL("error=auth_failed"), http.StatusFound)
	}

	if e := q.Get("error"); e != "" {
		fail("denied", errors.New(e))
		return
	}
	state := q.Get("state")
	if subtle.ConstantTimeCompare([]byte(state), []byte(sess.CSRFToken)) != 1 {
		fail("state", errors.New("state mismatch"))
		return
	}
	code := q.Get("code")
	if code == "" {
		fail("code", errors.New("no code in callback"))
		return
	}

	cred, err := s.auth.Exchange(ctx, code)
	if err != nil {
		fail("exchange", err)
		return
	}
	if err := tokensFrom(ctx).Grant(ctx, cred); err != nil {
		fail("grant", err)
		return
	}

	log.Info().Int64("athlete_id", cred.Athlete.ID).Msg("strava account connected")
	http.Redirect(w, r, s.cfg.AppURL("connected=true"), http.StatusFound)
}

// session reports whether the session holds a usable credential, refreshing it on the way.
// A refresh that fails ends the session.
func (s *Server) session(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	ctx := r.Context()
	sess := sessionFrom(ctx)
	tokens := tokensFrom(ctx)

	switch tokens.State() {
	case auth.Unauthenticated:
		writeMessage(w, http.StatusUnauthorized, "Not authenticated")
		return
	case auth.Valid:
		cred, ok := tokens.Credential()
		if !ok {
			writeMessage(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		writeJSON(w, http.StatusOK, sessionBody{
			Status:    "ok",
			ExpiresAt: cred.ExpiresAt.Unix(),
			Athlete: &athleteBody{
				ID:        cred.Athlete.ID,
				FirstName: cred.Athlete.FirstName,
				LastName:  cred.Athlete.LastName,
			},
			CSRFToken: sess.CSRFToken,
		})
		return
	}

	if _, err := tokens.Acquire(ctx); err != nil {
		if ctx.Err() != nil {
			writeError(w, r, err)
			return
		}
		msg := "Token refresh failed"
		// bare sentinel means no refresh was attempted
		if err == auth.ErrSessionExpired {
			msg = "Session expired"
		}
		s.endSession(ctx, sess.ID)
		s.clearSessionCookie(w)
		writeMessage(w, http.StatusUnauthorized, msg)
		return
	}

	cred, _ := tokens.Credential()
	writeJSON(w, http.StatusOK, sessionBody{
		Status:    "ok",
		Refreshed: true,
		ExpiresAt: cred.ExpiresAt.Unix(),
		CSRFToken: sess.CSRFToken,
	})
}

// disconnect revokes the credential and ends the session. Calling it twice is fine.
func (s *Server) disconnect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := sessionFrom(ctx)

	if err := tokensFrom(ctx).Revoke(ctx); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("revoking credential")
	}
	s.endSession(ctx, sess.ID)
	s.clearSessionCookie(w)

	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}
