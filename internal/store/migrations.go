package store

import "database/sql"

// migrate runs all database migrations
func migrate(db *sql.DB) error {
	migrations := []string{
		// One row per browser session. Credential columns are NULL until Strava is linked.
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			csrf_token TEXT NOT NULL,
			access_token TEXT,
			refresh_token TEXT,
			expires_at INTEGER,
			athlete_id INTEGER,
			athlete_firstname TEXT,
			athlete_lastname TEXT,
			created_at INTEGER NOT NULL,
			last_seen_at INTEGER NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_sessions_last_seen ON sessions(last_seen_at)`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}

	return nil
}
