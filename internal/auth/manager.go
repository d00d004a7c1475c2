package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
)

// CredentialRepository persists credentials keyed by session ID
type CredentialRepository interface {
	LoadCredential(ctx context.Context, sessionID string) (*Credential, error)
	SaveCredential(ctx context.Context, sessionID string, c Credential) error
	ClearCredential(ctx context.Context, sessionID string) error
}

// Manager hands out one TokenStore per session
type Manager struct {
	config *oauth2.Config
	repo   CredentialRepository

	mu     sync.Mutex
	stores map[string]*TokenStore
}

// NewManager creates a Manager backed by repo
func NewManager(cfg *oauth2.Config, repo CredentialRepository) *Manager {
	return &Manager{
		config: cfg,
		repo:   repo,
		stores: make(map[string]*TokenStore),
	}
}

// OAuthConfig returns the client configuration used for exchanges and refreshes
func (m *Manager) OAuthConfig() *oauth2.Config {
	return m.config
}

// ForSession returns the session's store, loading any saved credential on first use
func (m *Manager) ForSession(ctx context.Context, sessionID string) (*TokenStore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.stores[sessionID]; ok {
		return s, nil
	}

	cred, err := m.repo.LoadCredential(ctx, sessionID)
	if errors.Is(err, ErrNoCredential) {
		cred, err = nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading credential: %w", err)
	}

	s := NewTokenStore(m.config, cred, sessionPersister{repo: m.repo, id: sessionID})
	m.stores[sessionID] = s
	return s, nil
}

// Forget drops the cached store for a session that has ended
func (m *Manager) Forget(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stores, sessionID)
}

// AuthCodeURL returns the authorize redirect for state
func (m *Manager) AuthCodeURL(state string) string {
	return AuthCodeURL(m.config, state)
}

// Exchange trades an authorization code for a credential
func (m *Manager) Exchange(ctx context.Context, code string) (Credential, error) {
	tok, err := m.config.Exchange(ctx, code)
	if err != nil {
		return Credential{}, fmt.Errorf("exchanging code for token: %w", err)
	}
	return CredentialFromToken(tok)
}

type sessionPersister struct {
	repo CredentialRepository
	id   string
}

func (p sessionPersister) SaveCredential(ctx context.Context, c Credential) error {
	return p.repo.SaveCredential(ctx, p.id, c)
}

func (p sessionPersister) ClearCredential(ctx context.Context) error {
	return p.repo.ClearCredential(ctx, p.id)
}
