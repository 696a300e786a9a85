package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pavelanni/viva/internal/model"
)

// GetImportedFileHash returns the content hash recorded for a question file.
// Returns empty string and nil error if the file was never imported.
func (s *Store) GetImportedFileHash(path string) (string, error) {
	var hash string
	err := s.db.QueryRow(`SELECT hash FROM imported_files WHERE path = ?`, path).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return hash, err
}

func setImportedFileHash(ctx context.Context, ex execer, path, hash string) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO imported_files (path, hash, imported_at) VALUES (?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET hash = excluded.hash, imported_at = excluded.imported_at`,
		path, hash, time.Now(),
	)
	return err
}

// ImportQuestions adds questions to the topic named by topic.Name, creating
// the topic if needed, and records path with hash. Either everything is
// written or nothing is. The TopicID of each question is ignored.
func (s *Store) ImportQuestions(ctx context.Context, path, hash string, topic model.Topic, questions []model.Question) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback()

	var topicID int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM topics WHERE name = ?`, topic.Name).Scan(&topicID)
	switch {
	case err == sql.ErrNoRows:
		res, err := tx.ExecContext(ctx,
			`INSERT INTO topics (name, description, created_at) VALUES (?, ?, ?)`,
			topic.Name, topic.Description, time.Now(),
		)
		if err != nil {
			return 0, fmt.Errorf("create topic %q: %w", topic.Name, err)
		}
		if topicID, err = res.LastInsertId(); err != nil {
			return 0, err
		}
	case err != nil:
		return 0, fmt.Errorf("look up topic %q: %w", topic.Name, err)
	}

	for i, q := range questions {
		q.TopicID = topicID
		if _, err := insertQuestion(ctx, tx, q); err != nil {
			return 0, fmt.Errorf("insert question %d: %w", i+1, err)
		}
	}
	if err := setImportedFileHash(ctx, tx, path, hash); err != nil {
		return 0, fmt.Errorf("record import: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit import: %w", err)
	}
	return topicID, nil
}
