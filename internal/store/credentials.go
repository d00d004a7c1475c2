package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"vintagemap/internal/auth"
)

var _ auth.CredentialRepository = (*Store)(nil)

// LoadCredential retrieves the credential linked to a session
func (s *Store) LoadCredential(ctx context.Context, sessionID string) (*auth.Credential, error) {
	var (
		access, refresh, first, last sql.NullString
		expiresAt, athleteID         sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, expires_at, athlete_id, athlete_firstname, athlete_lastname
		FROM sessions
		WHERE id = ?
	`, sessionID).Scan(&access, &refresh, &expiresAt, &athleteID, &first, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNoCredential
	}
	if err != nil {
		return nil, err
	}
	if !access.Valid || access.String == "" {
		return nil, auth.ErrNoCredential
	}

	return &auth.Credential{
		AccessToken:  access.String,
		RefreshToken: refresh.String,
		ExpiresAt:    time.Unix(expiresAt.Int64, 0),
		Athlete: auth.Athlete{
			ID:        athleteID.Int64,
			FirstName: first.String,
			LastName:  last.String,
		},
	}, nil
}

// SaveCredential stores or replaces a session's credential
func (s *Store) SaveCredential(ctx context.Context, sessionID string, c auth.Credential) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
			access_token = ?,
			refresh_token = ?,
			expires_at = ?,
			athlete_id = ?,
			athlete_firstname = ?,
			athlete_lastname = ?,
			last_seen_at = ?
		WHERE id = ?
	`, c.AccessToken, c.RefreshToken, c.ExpiresAt.Unix(), c.Athlete.ID, c.Athlete.FirstName, c.Athlete.LastName,
		time.Now().Unix(), sessionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoSession
	}
	return nil
}

// ClearCredential nulls a session's credential columns
func (s *Store) ClearCredential(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
			access_token = NULL,
			refresh_token = NULL,
			expires_at = NULL,
			athlete_id = NULL,
			athlete_firstname = NULL,
			athlete_lastname = NULL
		WHERE id = ?
	`, sessionID)
	return err
}
