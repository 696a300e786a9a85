package viva

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/pavelanni/viva/internal/model"
	"github.com/pavelanni/viva/internal/store"
)

// SessionStore keeps live session state keyed by session ID. Get returns a
// copy; changes are only visible after Update.
type SessionStore interface {
	Create(ctx context.Context, sess *model.Session) error
	Get(ctx context.Context, id string) (*model.Session, error)
	Update(ctx context.Context, sess *model.Session) error
	Delete(ctx context.Context, id string) error
	// ListIdle returns active sessions with no activity since before.
	ListIdle(ctx context.Context, before time.Time) ([]*model.Session, error)
	// Purge deletes terminal sessions last touched before the cutoff.
	Purge(ctx context.Context, before time.Time) (int, error)
}

// MemoryStore is a process-local SessionStore.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*model.Session)}
}

// Create stores a copy of sess. It returns ErrSessionExists when the ID is taken.
func (m *MemoryStore) Create(_ context.Context, sess *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sess.ID]; ok {
		return ErrSessionExists
	}
	m.sessions[sess.ID] = sess.Clone()
	return nil
}

// Get returns a copy of the session or ErrSessionNotFound.
func (m *MemoryStore) Get(_ context.Context, id string) (*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess.Clone(), nil
}

// Update replaces the stored session with a copy of sess, or returns
// ErrSessionNotFound.
func (m *MemoryStore) Update(_ context.Context, sess *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sess.ID]; !ok {
		return ErrSessionNotFound
	}
	m.sessions[sess.ID] = sess.Clone()
	return nil
}

// Delete removes the session. Unknown IDs are ignored.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// ListIdle returns copies of active sessions with no activity since before.
func (m *MemoryStore) ListIdle(_ context.Context, before time.Time) ([]*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Session
	for _, sess := range m.sessions {
		if sess.Status == model.SessionActive && sess.LastActivity.Before(before) {
			out = append(out, sess.Clone())
		}
	}
	return out, nil
}

// Purge drops finished sessions idle since before and reports how many went.
func (m *MemoryStore) Purge(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, sess := range m.sessions {
		if sess.Status.Terminal() && sess.LastActivity.Before(before) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

// Len reports the number of held sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// SQLStore persists sessions in SQLite so they survive restarts and can be
// shared by several server processes using the same database.
type SQLStore struct {
	db *store.Store
}

// NewSQLStore stores sessions in the viva_sessions table of db.
func NewSQLStore(db *store.Store) *SQLStore {
	return &SQLStore{db: db}
}

// Create inserts sess. A duplicate ID gives ErrSessionExists.
func (s *SQLStore) Create(ctx context.Context, sess *model.Session) error {
	err := s.db.CreateSession(ctx, sess)
	if errors.Is(err, store.ErrDuplicateSession) {
		return ErrSessionExists
	}
	return err
}

// Get loads the session or returns ErrSessionNotFound.
func (s *SQLStore) Get(ctx context.Context, id string) (*model.Session, error) {
	sess, err := s.db.GetSession(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	return sess, err
}

// Update overwrites the stored row for sess.ID.
func (s *SQLStore) Update(ctx context.Context, sess *model.Session) error {
	err := s.db.UpdateSession(ctx, sess)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrSessionNotFound
	}
	return err
}

// Delete removes the session row.
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	return s.db.DeleteSession(ctx, id)
}

// ListIdle loads active sessions whose last activity is before the cutoff.
func (s *SQLStore) ListIdle(ctx context.Context, before time.Time) ([]*model.Session, error) {
	return s.db.ListIdleSessions(ctx, before)
}

// Purge deletes finished session rows idle since before and reports how
// many were removed.
func (s *SQLStore) Purge(ctx context.Context, before time.Time) (int, error) {
	return s.db.PurgeFinishedSessions(ctx, before)
}
