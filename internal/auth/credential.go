package auth

import (
	"errors"
	"time"
)

var (
	// ErrSessionExpired means no usable credential exists and the user must reconnect
	ErrSessionExpired = errors.New("session expired")
	// ErrNoCredential is returned by repositories holding nothing for a session
	ErrNoCredential = errors.New("no credential stored")
)

// Athlete identifies the linked Strava account
type Athlete struct {
	ID        int64  `json:"id"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
}

// Credential is the token pair for one linked account
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Athlete      Athlete
}

// State is the lifecycle position of a TokenStore
type State int

const (
	Unauthenticated State = iota
	Valid
	Expired
	Refreshing
)

func (s State) String() string {
	switch s {
	case Valid:
		return "valid"
	case Expired:
		return "expired"
	case Refreshing:
		return "refreshing"
	default:
		return "unauthenticated"
	}
}
