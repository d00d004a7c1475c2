package auth

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

const (
	// Strava OAuth endpoints
	AuthURL  = "https://www.strava.com/oauth/authorize"
	TokenURL = "https://www.strava.com/oauth/token"
)

// Scopes required for reading private activity tracks
var Scopes = []string{"activity:read_all"}

// Config holds the OAuth client credentials
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string // e.g., "http://localhost:8089/callback"
	TokenURL     string // overrides TokenURL when set
}

// NewOAuthConfig creates an oauth2.Config from our Config
func NewOAuthConfig(cfg Config) *oauth2.Config {
	tokenURL := TokenURL
	if cfg.TokenURL != "" {
		tokenURL = cfg.TokenURL
	}
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   AuthURL,
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: cfg.RedirectURL,
		Scopes:      Scopes,
	}
}

// AuthCodeURL builds the authorize redirect for state
func AuthCodeURL(cfg *oauth2.Config, state string) string {
	return cfg.AuthCodeURL(state, oauth2.SetAuthURLParam("approval_prompt", "auto"))
}

var errNoExpiry = errors.New("token response missing expiry")

// CredentialFromToken converts a Strava token response.
// Strava sends expires_at as epoch seconds; expires_in is only a fallback.
func CredentialFromToken(tok *oauth2.Token) (Credential, error) {
	if tok == nil || tok.AccessToken == "" {
		return Credential{}, errors.New("token response missing access_token")
	}

	c := Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Athlete:      ExtractAthlete(tok),
	}

	switch v := tok.Extra("expires_at").(type) {
	case float64:
		c.ExpiresAt = time.Unix(int64(v), 0)
	case int64:
		c.ExpiresAt = time.Unix(v, 0)
	}
	if c.ExpiresAt.IsZero() {
		c.ExpiresAt = tok.Expiry
	}
	if c.ExpiresAt.IsZero() {
		return Credential{}, errNoExpiry
	}
	return c, nil
}

// ExtractAthlete extracts the athlete from the token extras
// Strava includes athlete info in the initial exchange only
func ExtractAthlete(token *oauth2.Token) Athlete {
	var a Athlete
	m, ok := token.Extra("athlete").(map[string]interface{})
	if !ok {
		return a
	}
	if id, ok := m["id"].(float64); ok {
		a.ID = int64(id)
	}
	a.FirstName, _ = m["firstname"].(string)
	a.LastName, _ = m["lastname"].(string)
	return a
}

func (a Athlete) String() string {
	if a.FirstName == "" && a.LastName == "" {
		return fmt.Sprintf("athlete %d", a.ID)
	}
	return fmt.Sprintf("%s %s", a.FirstName, a.LastName)
}
