package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"vintagemap/internal/logging"
	"vintagemap/internal/metrics"
)

// DefaultRefreshTimeout bounds one call to the token endpoint
const DefaultRefreshTimeout = 30 * time.Second

// Persister stores the credential of one session
type Persister interface {
	SaveCredential(ctx context.Context, c Credential) error
	ClearCredential(ctx context.Context) error
}

// TokenStore owns the credential of one session.
// At most one refresh runs at a time; concurrent Acquire calls share its result.
type TokenStore struct {
	config  *oauth2.Config
	persist Persister
	log     zerolog.Logger
	now     func() time.Time
	timeout time.Duration

	mu         sync.Mutex
	cred       *Credential
	refreshing bool

	flight singleflight.Group
}

// NewTokenStore creates a store holding cred, which may be nil
func NewTokenStore(cfg *oauth2.Config, cred *Credential, persist Persister) *TokenStore {
	s := &TokenStore{
		config:  cfg,
		persist: persist,
		log:     logging.With("tokens"),
		now:     time.Now,
		timeout: DefaultRefreshTimeout,
	}
	if cred != nil {
		c := *cred
		s.cred = &c
	}
	return s
}

// State reports where the store is in its lifecycle
func (s *TokenStore) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *TokenStore) stateLocked() State {
	switch {
	case s.cred == nil:
		return Unauthenticated
	case s.refreshing:
		return Refreshing
	case s.now().Before(s.cred.ExpiresAt):
		return Valid
	default:
		return Expired
	}
}

// Credential returns a copy of the held credential
func (s *TokenStore) Credential() (Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cred == nil {
		return Credential{}, false
	}
	return *s.cred, true
}

// Acquire returns a usable access token, refreshing an expired one first.
// Cancelling ctx abandons the wait but not a refresh already under way.
func (s *TokenStore) Acquire(ctx context.Context) (string, error) {
	s.mu.Lock()
	switch s.stateLocked() {
	case Unauthenticated:
		s.mu.Unlock()
		return "", ErrSessionExpired
	case Valid:
		tok := s.cred.AccessToken
		s.mu.Unlock()
		return tok, nil
	}
	s.mu.Unlock()

	ch := s.flight.DoChan("refresh", func() (interface{}, error) {
		return s.refresh(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *TokenStore) refresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	cur := s.cred
	switch {
	case cur == nil:
		s.mu.Unlock()
		return "", ErrSessionExpired
	case s.now().Before(cur.ExpiresAt):
		// another flight finished between our check and this one starting
		tok := cur.AccessToken
		s.mu.Unlock()
		return tok, nil
	case cur.RefreshToken == "":
		s.cred = nil
		s.mu.Unlock()
		metrics.TokenRefreshes.WithLabelValues("no_refresh_token").Inc()
		s.clear(ctx)
		return "", ErrSessionExpired
	}
	s.refreshing = true
	s.mu.Unlock()

	next, err := s.exchangeRefresh(ctx, cur)

	s.mu.Lock()
	s.refreshing = false
	if s.cred != cur {
		// revoked or re-granted while the refresh was outstanding
		latest := s.cred
		s.mu.Unlock()
		if latest == nil {
			return "", ErrSessionExpired
		}
		return latest.AccessToken, nil
	}
	if err != nil {
		s.cred = nil
		s.mu.Unlock()
		metrics.TokenRefreshes.WithLabelValues("failed").Inc()
		s.log.Warn().Err(err).Int64("athlete_id", cur.Athlete.ID).Msg("token refresh failed")
		s.clear(ctx)
		return "", fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}
	s.cred = &next
	s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.SaveCredential(ctx, next); err != nil {
			s.mu.Lock()
			if s.cred == &next {
				s.cred = nil
			}
			s.mu.Unlock()
			metrics.TokenRefreshes.WithLabelValues("failed").Inc()
			s.log.Error().Err(err).Msg("persisting refreshed token")
			s.clear(ctx)
			return "", fmt.Errorf("%w: saving refreshed token: %v", ErrSessionExpired, err)
		}
	}

	metrics.TokenRefreshes.WithLabelValues("ok").Inc()
	s.log.Debug().Int64("athlete_id", next.Athlete.ID).Time("expires_at", next.ExpiresAt).Msg("token refreshed")
	return next.AccessToken, nil
}

// exchangeRefresh calls the token endpoint, bounded by the refresh timeout
// since ctx carries no deadline of its own
func (s *TokenStore) exchangeRefresh(ctx context.Context, cur *Credential) (Credential, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	src := s.config.TokenSource(ctx, &oauth2.Token{RefreshToken: cur.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return Credential{}, err
	}

	next, err := CredentialFromToken(tok)
	if err != nil {
		return Credential{}, err
	}
	// the refresh response carries no athlete
	next.Athlete = cur.Athlete
	if next.RefreshToken == "" {
		next.RefreshToken = cur.RefreshToken
	}
	return next, nil
}

// Grant installs a credential obtained from the authorization-code exchange
func (s *TokenStore) Grant(ctx context.Context, c Credential) error {
	if c.AccessToken == "" {
		return errors.New("credential has no access token")
	}
	if s.persist != nil {
		if err := s.persist.SaveCredential(ctx, c); err != nil {
			return fmt.Errorf("saving credential: %w", err)
		}
	}

	s.mu.Lock()
	s.cred = &c
	s.mu.Unlock()
	return nil
}

// Revoke drops the credential. Revoking an empty store is not an error.
func (s *TokenStore) Revoke(ctx context.Context) error {
	s.mu.Lock()
	s.cred = nil
	s.mu.Unlock()

	if s.persist == nil {
		return nil
	}
	if err := s.persist.ClearCredential(ctx); err != nil {
		return fmt.Errorf("clearing credential: %w", err)
	}
	return nil
}

// Invalidate marks token expired when the API rejected it, so the next Acquire refreshes.
// A token that was already replaced is ignored.
func (s *TokenStore) Invalidate(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cred == nil || s.cred.AccessToken != token {
		return
	}
	c := *s.cred
	c.ExpiresAt = time.Time{}
	s.cred = &c
}

func (s *TokenStore) clear(ctx context.Context) {
	if s.persist == nil {
		return
	}
	if err := s.persist.ClearCredential(ctx); err != nil {
		s.log.Error().Err(err).Msg("clearing credential")
	}
}
