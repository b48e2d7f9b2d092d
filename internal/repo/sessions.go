package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SessionStore persists dialogue context per session.
type SessionStore struct {
	DB  *sql.DB
	Now func() time.Time
}

// Load returns the stored flow for a session. A session with no row is idle.
func (s SessionStore) Load(ctx context.Context, sessionID string) (action, data string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT current_action,temp_data FROM sessions WHERE session_id=?`, sessionID).Scan(&action, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", nil
	}
	return action, data, err
}

func (s SessionStore) Save(ctx context.Context, sessionID, action, data string) error {
	if action == "" {
		return s.Clear(ctx, sessionID)
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	if data == "" {
		data = "{}"
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO sessions(session_id,current_action,temp_data,updated_at) VALUES (?,?,?,?)
ON CONFLICT(session_id) DO UPDATE SET current_action=excluded.current_action, temp_data=excluded.temp_data, updated_at=excluded.updated_at`,
		sessionID, action, data, now().UTC().Format(time.RFC3339))
	return err
}

func (s SessionStore) Clear(ctx context.Context, sessionID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM sessions WHERE session_id=?`, sessionID)
	return err
}
