package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type memPersister struct {
	mu      sync.Mutex
	saved   []Credential
	clears  int
	saveErr error
}

func (p *memPersister) SaveCredential(_ context.Context, c Credential) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.saveErr != nil {
		return p.saveErr
	}
	p.saved = append(p.saved, c)
	return nil
}

func (p *memPersister) ClearCredential(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clears++
	return nil
}

type tokenServer struct {
	*httptest.Server
	calls atomic.Int32
}

func newTokenServer(t *testing.T, handler http.HandlerFunc) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func refreshOK(access, refresh string, expiresAt time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.Form.Get("grant_type") != "refresh_token" {
			http.Error(w, "bad grant", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"token_type":"Bearer","access_token":%q,"refresh_token":%q,"expires_at":%d,"expires_in":21600}`,
			access, refresh, expiresAt.Unix())
	}
}

func newStore(ts *tokenServer, cred *Credential, p Persister) *TokenStore {
	cfg := NewOAuthConfig(Config{ClientID: "id", ClientSecret: "secret", TokenURL: ts.URL})
	return NewTokenStore(cfg, cred, p)
}

func expiredCred(refresh string) *Credential {
	return &Credential{
		AccessToken:  "old-access",
		RefreshToken: refresh,
		ExpiresAt:    time.Now().Add(-time.Hour),
		Athlete:      Athlete{ID: 7, FirstName: "Ada", LastName: "Lovelace"},
	}
}

func TestAcquireValidTokenNoNetwork(t *testing.T) {
	ts := newTokenServer(t, refreshOK("x", "y", time.Now()))
	s := newStore(ts, &Credential{AccessToken: "live", RefreshToken: "r", ExpiresAt: time.Now().Add(time.Hour)}, nil)

	tok, err := s.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if tok != "live" {
		t.Errorf("token = %q, want live", tok)
	}
	if n := ts.calls.Load(); n != 0 {
		t.Errorf("token endpoint called %d times, want 0", n)
	}
	if s.State() != Valid {
		t.Errorf("State() = %v, want valid", s.State())
	}
}

func TestAcquireExpiredWithoutRefreshToken(t *testing.T) {
	ts := newTokenServer(t, refreshOK("x", "y", time.Now()))
	p := &memPersister{}
	s := newStore(ts, expiredCred(""), p)

	_, err := s.Acquire(context.Background())
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("error = %v, want ErrSessionExpired", err)
	}
	if n := ts.calls.Load(); n != 0 {
		t.Errorf("token endpoint called %d times, want 0", n)
	}
	if s.State() != Unauthenticated {
		t.Errorf("State() = %v, want unauthenticated", s.State())
	}
	if p.clears != 1 {
		t.Errorf("clears = %d, want 1", p.clears)
	}
}

func TestAcquireRefreshesExpiredToken(t *testing.T) {
	exp := time.Now().Add(6 * time.Hour).Truncate(time.Second)
	ts := newTokenServer(t, refreshOK("new-access", "rotated", exp))
	p := &memPersister{}
	s := newStore(ts, expiredCred("old-refresh"), p)

	tok, err := s.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if tok != "new-access" {
		t.Errorf("token = %q, want new-access", tok)
	}

	cred, ok := s.Credential()
	if !ok {
		t.Fatal("credential missing after refresh")
	}
	if cred.RefreshToken != "rotated" {
		t.Errorf("RefreshToken = %q, want rotated", cred.RefreshToken)
	}
	if !cred.ExpiresAt.Equal(exp) {
		t.Errorf("ExpiresAt = %v, want %v", cred.ExpiresAt, exp)
	}
	if cred.Athlete.ID != 7 {
		t.Errorf("athlete lost across refresh: %+v", cred.Athlete)
	}
	if len(p.saved) != 1 || p.saved[0].AccessToken != "new-access" {
		t.Errorf("persisted = %+v, want one save of new-access", p.saved)
	}
}

func TestAcquireRefreshFailure(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "rejected grant",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprint(w, `{"error":"invalid_grant"}`)
			},
		},
		{
			name: "missing access token",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprint(w, `{"refresh_token":"r2","expires_at":4102444800}`)
			},
		},
		{
			name: "missing expiry",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprint(w, `{"access_token":"a2","refresh_token":"r2"}`)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTokenServer(t, tt.handler)
			p := &memPersister{}
			s := newStore(ts, expiredCred("old-refresh"), p)

			_, err := s.Acquire(context.Background())
			if !errors.Is(err, ErrSessionExpired) {
				t.Fatalf("error = %v, want ErrSessionExpired", err)
			}
			if s.State() != Unauthenticated {
				t.Errorf("State() = %v, want unauthenticated", s.State())
			}
			if p.clears != 1 {
				t.Errorf("clears = %d, want 1", p.clears)
			}
		})
	}
}

func TestAcquirePersistFailureForcesReauth(t *testing.T) {
	ts := newTokenServer(t, refreshOK("new-access", "rotated", time.Now().Add(time.Hour)))
	p := &memPersister{saveErr: errors.New("disk full")}
	s := newStore(ts, expiredCred("old-refresh"), p)

	_, err := s.Acquire(context.Background())
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("error = %v, want ErrSessionExpired", err)
	}
	if s.State() != Unauthenticated {
		t.Errorf("State() = %v, want unauthenticated", s.State())
	}
}

func TestAcquireCoalescesConcurrentRefresh(t *testing.T) {
	release := make(chan struct{})
	ok := refreshOK("shared", "rotated", time.Now().Add(time.Hour))
	ts := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		ok(w, r)
	})
	s := newStore(ts, expiredCred("old-refresh"), &memPersister{})

	const callers = 8
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = s.Acquire(context.Background())
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := range tokens {
		if errs[i] != nil {
			t.Errorf("caller %d error = %v", i, errs[i])
		}
		if tokens[i] != "shared" {
			t.Errorf("caller %d token = %q, want shared", i, tokens[i])
		}
	}
	if n := ts.calls.Load(); n != 1 {
		t.Errorf("token endpoint called %d times, want 1", n)
	}
}

func TestAcquireCancelledCallerDoesNotAbortRefresh(t *testing.T) {
	release := make(chan struct{})
	ok := refreshOK("late", "rotated", time.Now().Add(time.Hour))
	ts := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		ok(w, r)
	})
	s := newStore(ts, expiredCred("old-refresh"), &memPersister{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.Acquire(ctx)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}

	close(release)
	deadline := time.Now().Add(2 * time.Second)
	for s.State() != Valid && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.State() != Valid {
		t.Fatalf("State() = %v, want valid once the refresh completes", s.State())
	}
}

func TestInvalidateTriggersRefresh(t *testing.T) {
	ts := newTokenServer(t, refreshOK("fresh", "rotated", time.Now().Add(time.Hour)))
	s := newStore(ts, &Credential{AccessToken: "stale", RefreshToken: "r", ExpiresAt: time.Now().Add(time.Hour)}, &memPersister{})

	s.Invalidate("someone-elses-token")
	if s.State() != Valid {
		t.Fatalf("unrelated token invalidated the credential")
	}

	s.Invalidate("stale")
	if s.State() != Expired {
		t.Fatalf("State() = %v, want expired", s.State())
	}

	tok, err := s.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if tok != "fresh" {
		t.Errorf("token = %q, want fresh", tok)
	}
}

func TestGrantAndRevoke(t *testing.T) {
	p := &memPersister{}
	s := NewTokenStore(NewOAuthConfig(Config{}), nil, p)

	if s.State() != Unauthenticated {
		t.Fatalf("new store State() = %v", s.State())
	}
	if _, err := s.Acquire(context.Background()); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("Acquire on empty store error = %v, want ErrSessionExpired", err)
	}

	if err := s.Grant(context.Background(), Credential{}); err == nil {
		t.Error("Grant accepted a credential without an access token")
	}

	err := s.Grant(context.Background(), Credential{AccessToken: "a", RefreshToken: "r", ExpiresAt: time.Now().Add(time.Hour)})
	if err != nil {
		t.Fatalf("Grant() error = %v", err)
	}
	if s.State() != Valid {
		t.Errorf("State() after grant = %v, want valid", s.State())
	}

	for i := 0; i < 2; i++ {
		if err := s.Revoke(context.Background()); err != nil {
			t.Fatalf("Revoke() #%d error = %v", i+1, err)
		}
	}
	if s.State() != Unauthenticated {
		t.Errorf("State() after revoke = %v, want unauthenticated", s.State())
	}
	if p.clears != 2 {
		t.Errorf("clears = %d, want 2", p.clears)
	}
}

func TestAcquireHungTokenEndpointExpiresSession(t *testing.T) {
	release := make(chan struct{})
	ts := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	t.Cleanup(func() { close(release) })

	p := &memPersister{}
	s := newStore(ts, expiredCred("refresh-1"), p)
	s.timeout = 100 * time.Millisecond

	// callers that give up early must not leave the refresh running forever
	for i := 0; i < 2; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		_, err := s.Acquire(ctx)
		cancel()
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("Acquire() #%d error = %v, want deadline exceeded", i, err)
		}
	}

	start := time.Now()
	_, err := s.Acquire(context.Background())
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("Acquire() error = %v, want ErrSessionExpired", err)
	}
	if d := time.Since(start); d > 2*time.Second {
		t.Errorf("Acquire() took %v, want it bounded by the refresh timeout", d)
	}
	if s.State() != Unauthenticated {
		t.Errorf("State() = %v, want unauthenticated", s.State())
	}
	if p.clears != 1 {
		t.Errorf("clears = %d, want 1", p.clears)
	}
	if n := ts.calls.Load(); n != 1 {
		t.Errorf("token endpoint called %d times, want 1", n)
	}
}
