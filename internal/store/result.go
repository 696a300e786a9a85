package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/pavelanni/viva/internal/model"
)

const recentResults = 5

// SaveResult upserts the result for a session and returns its row ID.
func (s *Store) SaveResult(ctx context.Context, r model.Result) (int64, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return 0, fmt.Errorf("encode result: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO viva_results (session_id, subject_id, topic_id, average_score, grade, passed, status, completed_at, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
			average_score = excluded.average_score,
			grade = excluded.grade,
			passed = excluded.passed,
			status = excluded.status,
			completed_at = excluded.completed_at,
			payload = excluded.payload`,
		r.SessionID, r.SubjectID, r.TopicID, r.AverageScore, r.Grade, r.Passed, r.Status,
		r.CompletedAt.Unix(), string(payload),
	)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.db.QueryRowContext(ctx, `SELECT id FROM viva_results WHERE session_id = ?`, r.SessionID).Scan(&id)
	return id, err
}

func decodeResult(id int64, payload string) (model.Result, error) {
	var r model.Result
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return r, fmt.Errorf("decode result %d: %w", id, err)
	}
	r.ID = id
	return r, nil
}

// GetResult returns the result for a session, or nil if none was saved.
func (s *Store) GetResult(ctx context.Context, sessionID string) (*model.Result, error) {
	var id int64
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, payload FROM viva_results WHERE session_id = ?`, sessionID,
	).Scan(&id, &payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r, err := decodeResult(id, payload)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListResults returns results newest first, narrowed by the filter.
func (s *Store) ListResults(ctx context.Context, f model.HistoryFilter) ([]model.Result, error) {
	query := `SELECT id, payload FROM viva_results`
	var where []string
	var args []any
	if f.SubjectID != "" {
		where = append(where, `subject_id = ?`)
		args = append(args, f.SubjectID)
	}
	if f.TopicID != 0 {
		where = append(where, `topic_id = ?`)
		args = append(args, f.TopicID)
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY completed_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []model.Result
	for rows.Next() {
		var id int64
		var payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		r, err := decodeResult(id, payload)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// ResultStats aggregates all persisted results for the dashboard.
func (s *Store) ResultStats(ctx context.Context) (model.Stats, error) {
	var st model.Stats
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN passed = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			AVG(average_score)
		 FROM viva_results`, model.SessionAbandoned,
	).Scan(&st.TotalSessions, &st.Passed, &st.Abandoned, &avg)
	if err != nil {
		return st, fmt.Errorf("totals: %w", err)
	}
	st.Failed = st.TotalSessions - st.Passed
	st.AverageScore = round1(avg.Float64)

	rows, err := s.db.QueryContext(ctx,
		`SELECT r.topic_id, COALESCE(t.name, ''), COUNT(*),
			SUM(CASE WHEN r.passed = 1 THEN 1 ELSE 0 END), AVG(r.average_score)
		 FROM viva_results r LEFT JOIN topics t ON t.id = r.topic_id
		 GROUP BY r.topic_id ORDER BY r.topic_id`)
	if err != nil {
		return st, fmt.Errorf("topic stats: %w", err)
	}
	st.Topics, err = scanTopicStats(rows)
	if err != nil {
		return st, fmt.Errorf("topic stats: %w", err)
	}

	recent, err := s.ListResults(ctx, model.HistoryFilter{Limit: recentResults})
	if err != nil {
		return st, fmt.Errorf("recent results: %w", err)
	}
	for i := range recent {
		recent[i].Answers = nil
	}
	st.Recent = recent
	return st, nil
}

// scanTopicStats drains and closes rows before the caller issues further queries.
func scanTopicStats(rows *sql.Rows) ([]model.TopicStats, error) {
	defer rows.Close()
	var out []model.TopicStats
	for rows.Next() {
		var ts model.TopicStats
		if err := rows.Scan(&ts.TopicID, &ts.TopicName, &ts.Sessions, &ts.Passed, &ts.AverageScore); err != nil {
			return nil, err
		}
		ts.AverageScore = round1(ts.AverageScore)
		out = append(out, ts)
	}
	return out, rows.Err()
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
