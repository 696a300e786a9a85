package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/viva/internal/model"
)

// ErrDuplicateSession is returned when a session ID is already taken.
var ErrDuplicateSession = errors.New("session id already exists")

// CreateSession persists a new viva session.
func (s *Store) CreateSession(ctx context.Context, sess *model.Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO viva_sessions (id, subject_id, topic_id, status, last_activity, payload)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		sess.ID, sess.SubjectID, sess.TopicID, sess.Status, sess.LastActivity.Unix(), string(payload),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDuplicateSession
	}
	return nil
}

// GetSession loads a viva session. It returns sql.ErrNoRows when missing.
func (s *Store) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM viva_sessions WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		return nil, err
	}
	var sess model.Session
	if err := json.Unmarshal([]byte(payload), &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &sess, nil
}

// UpdateSession overwrites a stored session. It returns sql.ErrNoRows when missing.
func (s *Store) UpdateSession(ctx context.Context, sess *model.Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE viva_sessions SET status = ?, last_activity = ?, payload = ? WHERE id = ?`,
		sess.Status, sess.LastActivity.Unix(), string(payload), sess.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteSession removes a session.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM viva_sessions WHERE id = ?`, id)
	return err
}

// ListIdleSessions returns active sessions whose last activity is before the cutoff.
func (s *Store) ListIdleSessions(ctx context.Context, before time.Time) ([]*model.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM viva_sessions WHERE status = ? AND last_activity < ? ORDER BY last_activity`,
		model.SessionActive, before.Unix(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sessions []*model.Session
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var sess model.Session
		if err := json.Unmarshal([]byte(payload), &sess); err != nil {
			return nil, fmt.Errorf("decode session: %w", err)
		}
		sessions = append(sessions, &sess)
	}
	return sessions, rows.Err()
}

// PurgeFinishedSessions deletes terminal sessions last touched before the cutoff.
func (s *Store) PurgeFinishedSessions(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM viva_sessions WHERE status != ? AND last_activity < ?`,
		model.SessionActive, before.Unix(),
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
