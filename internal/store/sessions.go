package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"vintagemap/internal/auth"
)

// Session is a browser session row
type Session struct {
	ID        string
	CSRFToken string
	CreatedAt time.Time
	LastSeen  time.Time
}

// CreateSession inserts a session with fresh random ID and CSRF token
func (s *Store) CreateSession(ctx context.Context) (*Session, error) {
	id, err := auth.GenerateState()
	if err != nil {
		return nil, fmt.Errorf("generating session id: %w", err)
	}
	return s.insertSession(ctx, id)
}

// EnsureSession returns session id, creating it if needed
func (s *Store) EnsureSession(ctx context.Context, id string) (*Session, error) {
	sess, err := s.GetSession(ctx, id)
	if errors.Is(err, ErrNoSession) {
		return s.insertSession(ctx, id)
	}
	return sess, err
}

func (s *Store) insertSession(ctx context.Context, id string) (*Session, error) {
	csrf, err := auth.GenerateState()
	if err != nil {
		return nil, fmt.Errorf("generating csrf token: %w", err)
	}

	now := time.Now().Truncate(time.Second)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, csrf_token, created_at, last_seen_at)
		VALUES (?, ?, ?, ?)
	`, id, csrf, now.Unix(), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("inserting session: %w", err)
	}

	return &Session{ID: id, CSRFToken: csrf, CreatedAt: now, LastSeen: now}, nil
}

// GetSession retrieves a session by ID
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	var (
		sess               Session
		created, lastSeen int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, csrf_token, created_at, last_seen_at
		FROM sessions
		WHERE id = ?
	`, id).Scan(&sess.ID, &sess.CSRFToken, &created, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, err
	}

	sess.CreatedAt = time.Unix(created, 0)
	sess.LastSeen = time.Unix(lastSeen, 0)
	return &sess, nil
}

// TouchSession records activity on a session
func (s *Store) TouchSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET last_seen_at = ? WHERE id = ?`, time.Now().Unix(), id)
	return err
}

// DeleteSession removes a session and its credential. Deleting a missing session is not an error.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// PurgeSessions deletes sessions idle since before cutoff and returns their IDs
func (s *Store) PurgeSessions(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions WHERE last_seen_at < ?`, cutoff.Unix())
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE last_seen_at < ?`, cutoff.Unix()); err != nil {
		return nil, err
	}
	return ids, nil
}
