// Package qbank imports question banks from JSON or TOML files.
package qbank

import (
	"bytes"
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/pavelanni/viva/internal/model"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "viva://question-file.json"

// ErrInvalidFile marks question files rejected by parsing or validation.
var ErrInvalidFile = errors.New("invalid question file")

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			schemaErr = fmt.Errorf("parse question schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			schemaErr = fmt.Errorf("add question schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

// Parse decodes a question file. The format is chosen by extension:
// .toml is TOML, anything else is JSON. Both are checked against the
// question file schema.
func Parse(name string, data []byte) (model.QuestionFile, error) {
	var qf model.QuestionFile
	raw := data

	if strings.EqualFold(filepath.Ext(name), ".toml") {
		if _, err := toml.Decode(string(data), &qf); err != nil {
			return qf, fmt.Errorf("decode TOML %s: %w", name, err)
		}
		var err error
		raw, err = json.Marshal(qf)
		if err != nil {
			return qf, fmt.Errorf("re-encode %s: %w", name, err)
		}
	}

	sch, err := compiledSchema()
	if err != nil {
		return qf, err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return qf, fmt.Errorf("decode JSON %s: %w", name, err)
	}
	if err := sch.Validate(inst); err != nil {
		return qf, fmt.Errorf("validate %s: %w", name, err)
	}

	if !strings.EqualFold(filepath.Ext(name), ".toml") {
		if err := json.Unmarshal(data, &qf); err != nil {
			return qf, fmt.Errorf("decode JSON %s: %w", name, err)
		}
	}
	return qf, nil
}

// Store is the persistence needed by Import.
type Store interface {
	GetImportedFileHash(path string) (string, error)
	ImportQuestions(ctx context.Context, path, hash string, topic model.Topic, questions []model.Question) (int64, error)
}

// Report describes the outcome of importing one file.
type Report struct {
	Path     string `json:"path"`
	Topic    string `json:"topic,omitempty"`
	TopicID  int64  `json:"topic_id,omitempty"`
	Imported int    `json:"imported"`
	Skipped  bool   `json:"skipped"`
	Reason   string `json:"reason,omitempty"`
}

// Skip reasons reported by Import and ImportUpload.
const (
	ReasonUnchanged = "unchanged"
	ReasonChanged   = "changed since last import"
	ReasonDuplicate = "duplicate upload"
)

// Import loads a question file from disk. Files are tracked by name and
// SHA-256: an unchanged file is skipped, and a changed file is also
// skipped with a warning so running sessions keep their questions.
// Question language falls back to the file language, then to defaultLang.
func Import(ctx context.Context, db Store, name string, data []byte, defaultLang model.Language) (Report, error) {
	rep := Report{Path: name}
	hash := sha256sum(data)

	stored, err := db.GetImportedFileHash(name)
	if err != nil {
		return rep, fmt.Errorf("check import status for %s: %w", name, err)
	}
	if stored == hash {
		slog.Info("questions file unchanged, skipping", "path", name)
		rep.Skipped, rep.Reason = true, ReasonUnchanged
		return rep, nil
	}
	if stored != "" {
		slog.Warn("questions file changed since last import, skipping to avoid breaking existing sessions", "path", name)
		rep.Skipped, rep.Reason = true, ReasonChanged
		return rep, nil
	}
	return load(ctx, db, name, name, hash, data, defaultLang)
}

// ImportUpload loads an uploaded question file. Uploads are tracked by
// content, so a new file reusing an earlier name is imported and only a
// byte-identical upload is skipped.
func ImportUpload(ctx context.Context, db Store, name string, data []byte, defaultLang model.Language) (Report, error) {
	rep := Report{Path: name}
	hash := sha256sum(data)
	key := "upload:" + hash

	stored, err := db.GetImportedFileHash(key)
	if err != nil {
		return rep, fmt.Errorf("check import status for %s: %w", name, err)
	}
	if stored != "" {
		slog.Info("question upload already imported, skipping", "filename", name)
		rep.Skipped, rep.Reason = true, ReasonDuplicate
		return rep, nil
	}
	return load(ctx, db, key, name, hash, data, defaultLang)
}

// load parses the whole file and resolves every question before writing
// anything, then stores the topic and questions in one transaction.
func load(ctx context.Context, db Store, key, name, hash string, data []byte, defaultLang model.Language) (Report, error) {
	rep := Report{Path: name}

	qf, err := Parse(name, data)
	if err != nil {
		return rep, fmt.Errorf("%w: %w", ErrInvalidFile, err)
	}

	fileLang := defaultLang
	if qf.Language != "" {
		if fileLang, err = model.ParseLanguage(qf.Language); err != nil {
			return rep, fmt.Errorf("%w: %s: %w", ErrInvalidFile, name, err)
		}
	}

	questions := make([]model.Question, 0, len(qf.Questions))
	for i, qi := range qf.Questions {
		lang := fileLang
		if qi.Language != "" {
			if lang, err = model.ParseLanguage(qi.Language); err != nil {
				return rep, fmt.Errorf("%w: %s question %d: %w", ErrInvalidFile, name, i+1, err)
			}
		}
		questions = append(questions, model.Question{
			Text:           qi.Text,
			ExpectedAnswer: qi.Answer,
			Level:          model.Level(qi.Level),
			Language:       lang,
			Keywords:       qi.Keywords,
			Category:       qi.Category,
		})
	}

	topicID, err := db.ImportQuestions(ctx, key, hash, model.Topic{Name: qf.Topic, Description: qf.Description}, questions)
	if err != nil {
		return rep, fmt.Errorf("import %s: %w", name, err)
	}
	rep.Topic, rep.TopicID, rep.Imported = qf.Topic, topicID, len(questions)
	slog.Info("imported questions", "path", name, "topic", qf.Topic, "count", rep.Imported)
	return rep, nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
