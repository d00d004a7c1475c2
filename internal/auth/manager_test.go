package auth

import (
	"context"
	"sync"
	"testing"
	"time"
)

type memRepo struct {
	mu    sync.Mutex
	creds map[string]Credential
	loads int
}

func newMemRepo() *memRepo {
	return &memRepo{creds: make(map[string]Credential)}
}

func (r *memRepo) LoadCredential(_ context.Context, id string) (*Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads++
	c, ok := r.creds[id]
	if !ok {
		return nil, ErrNoCredential
	}
	return &c, nil
}

func (r *memRepo) SaveCredential(_ context.Context, id string, c Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creds[id] = c
	return nil
}

func (r *memRepo) ClearCredential(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.creds, id)
	return nil
}

func TestManagerForSession(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	repo.creds["known"] = Credential{AccessToken: "a", ExpiresAt: time.Now().Add(time.Hour)}
	m := NewManager(NewOAuthConfig(Config{}), repo)

	s1, err := m.ForSession(ctx, "known")
	if err != nil {
		t.Fatalf("ForSession() error = %v", err)
	}
	if s1.State() != Valid {
		t.Errorf("hydrated State() = %v, want valid", s1.State())
	}

	s2, _ := m.ForSession(ctx, "known")
	if s1 != s2 {
		t.Error("ForSession returned a different store for the same session")
	}
	if repo.loads != 1 {
		t.Errorf("loads = %d, want 1", repo.loads)
	}

	fresh, err := m.ForSession(ctx, "new")
	if err != nil {
		t.Fatalf("ForSession(new) error = %v", err)
	}
	if fresh.State() != Unauthenticated {
		t.Errorf("new session State() = %v, want unauthenticated", fresh.State())
	}

	if err := fresh.Grant(ctx, Credential{AccessToken: "b", ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}
	if _, ok := repo.creds["new"]; !ok {
		t.Error("grant was not persisted under the session id")
	}

	if err := fresh.Revoke(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok := repo.creds["new"]; ok {
		t.Error("revoke did not clear the persisted credential")
	}

	m.Forget("known")
	s3, _ := m.ForSession(ctx, "known")
	if s3 == s1 {
		t.Error("Forget did not drop the cached store")
	}
}
