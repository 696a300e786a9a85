package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pavelanni/viva/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS topics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		topic_id INTEGER NOT NULL,
		text TEXT NOT NULL,
		expected_answer TEXT NOT NULL,
		level INTEGER NOT NULL,
		language TEXT NOT NULL,
		keywords TEXT NOT NULL DEFAULT '[]',
		category TEXT NOT NULL DEFAULT '',
		is_active INTEGER NOT NULL DEFAULT 1,
		times_asked INTEGER NOT NULL DEFAULT 0,
		times_correct INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (topic_id) REFERENCES topics(id)
	);

	CREATE INDEX IF NOT EXISTS idx_questions_draw
		ON questions (topic_id, level, language, is_active);

	CREATE TABLE IF NOT EXISTS viva_sessions (
		id TEXT PRIMARY KEY,
		subject_id TEXT NOT NULL,
		topic_id INTEGER NOT NULL,
		status TEXT NOT NULL,
		last_activity INTEGER NOT NULL,
		payload TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS viva_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL UNIQUE,
		subject_id TEXT NOT NULL,
		topic_id INTEGER NOT NULL,
		average_score REAL NOT NULL DEFAULT 0,
		grade TEXT NOT NULL DEFAULT '',
		passed INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		completed_at INTEGER NOT NULL,
		payload TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at INTEGER NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL,
		imported_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateTopic stores a topic and returns its ID.
func (s *Store) CreateTopic(ctx context.Context, t model.Topic) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO topics (name, description, created_at) VALUES (?, ?, ?)`,
		t.Name, t.Description, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetTopic returns a topic by ID, or nil if it does not exist.
func (s *Store) GetTopic(ctx context.Context, id int64) (*model.Topic, error) {
	var t model.Topic
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_at FROM topics WHERE id = ?`, id,
	).Scan(&t.ID, &t.Name, &t.Description, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTopicByName returns a topic by its unique name, or nil.
func (s *Store) GetTopicByName(ctx context.Context, name string) (*model.Topic, error) {
	var t model.Topic
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_at FROM topics WHERE name = ?`, name,
	).Scan(&t.ID, &t.Name, &t.Description, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTopics returns all topics ordered by name.
func (s *Store) ListTopics(ctx context.Context) ([]model.Topic, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, description, created_at FROM topics ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var topics []model.Topic
	for rows.Next() {
		var t model.Topic
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.CreatedAt); err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

const questionColumns = `id, topic_id, text, expected_answer, level, language, keywords, category,
	is_active, times_asked, times_correct, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuestion(r rowScanner) (model.Question, error) {
	var q model.Question
	var keywords string
	err := r.Scan(&q.ID, &q.TopicID, &q.Text, &q.ExpectedAnswer, &q.Level, &q.Language, &keywords,
		&q.Category, &q.Active, &q.TimesAsked, &q.TimesCorrect, &q.CreatedAt)
	if err != nil {
		return q, err
	}
	if keywords != "" {
		if err := json.Unmarshal([]byte(keywords), &q.Keywords); err != nil {
			return q, fmt.Errorf("decode keywords for question %d: %w", q.ID, err)
		}
	}
	return q, nil
}

func (s *Store) queryQuestions(ctx context.Context, query string, args ...any) ([]model.Question, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// InsertQuestion stores a question. New questions are always active.
func (s *Store) InsertQuestion(ctx context.Context, q model.Question) (int64, error) {
	return insertQuestion(ctx, s.db, q)
}

func insertQuestion(ctx context.Context, ex execer, q model.Question) (int64, error) {
	keywords, err := json.Marshal(q.Keywords)
	if err != nil {
		return 0, fmt.Errorf("encode keywords: %w", err)
	}
	if q.Keywords == nil {
		keywords = []byte("[]")
	}
	res, err := ex.ExecContext(ctx,
		`INSERT INTO questions (topic_id, text, expected_answer, level, language, keywords, category, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?)`,
		q.TopicID, q.Text, q.ExpectedAnswer, q.Level, q.Language, string(keywords), q.Category, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetQuestion returns a question by ID.
func (s *Store) GetQuestion(ctx context.Context, id int64) (model.Question, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+questionColumns+` FROM questions WHERE id = ?`, id)
	return scanQuestion(row)
}

// ListQuestions returns every question of a topic, active or not.
func (s *Store) ListQuestions(ctx context.Context, topicID int64) ([]model.Question, error) {
	return s.queryQuestions(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE topic_id = ? ORDER BY id`, topicID)
}

// ActiveQuestions returns the active questions of a topic at one level in one language.
func (s *Store) ActiveQuestions(ctx context.Context, topicID int64, level model.Level, lang model.Language) ([]model.Question, error) {
	return s.queryQuestions(ctx,
		`SELECT `+questionColumns+` FROM questions
		 WHERE topic_id = ? AND level = ? AND language = ? AND is_active = 1 ORDER BY id`,
		topicID, level, lang)
}

// TopicQuestions returns all active questions of a topic regardless of level and language.
func (s *Store) TopicQuestions(ctx context.Context, topicID int64) ([]model.Question, error) {
	return s.queryQuestions(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE topic_id = ? AND is_active = 1 ORDER BY id`, topicID)
}

// QuestionCount returns the total number of questions.
func (s *Store) QuestionCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions`).Scan(&count)
	return count, err
}

// SetQuestionActive soft-activates or deactivates a question.
func (s *Store) SetQuestionActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE questions SET is_active = ? WHERE id = ?`, active, id)
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

// RecordQuestionUsage bumps the asked counter and, when correct, the correct counter.
func (s *Store) RecordQuestionUsage(ctx context.Context, id int64, correct bool) error {
	inc := 0
	if correct {
		inc = 1
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE questions SET times_asked = times_asked + 1, times_correct = times_correct + ? WHERE id = ?`,
		inc, id,
	)
	return err
}

// QuestionStats reports usage counters for every question of a topic.
func (s *Store) QuestionStats(ctx context.Context, topicID int64) ([]model.QuestionStats, error) {
	questions, err := s.ListQuestions(ctx, topicID)
	if err != nil {
		return nil, err
	}
	stats := make([]model.QuestionStats, 0, len(questions))
	for _, q := range questions {
		st := model.QuestionStats{
			QuestionID:   q.ID,
			Text:         q.Text,
			Level:        q.Level,
			Language:     q.Language,
			Active:       q.Active,
			TimesAsked:   q.TimesAsked,
			TimesCorrect: q.TimesCorrect,
		}
		if q.TimesAsked > 0 {
			st.Accuracy = float64(q.TimesCorrect) / float64(q.TimesAsked) * 100
		}
		stats = append(stats, st)
	}
	return stats, nil
}
