// Package evaluate scores a candidate's answer against the expected answer.
package evaluate

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/pavelanni/viva/internal/i18n"
	"github.com/pavelanni/viva/internal/llm"
	"github.com/pavelanni/viva/internal/model"
)

// Strategy names accepted by New.
const (
	KindKeyword   = "keyword"
	KindEmbedding = "embedding"
	KindLLM       = "llm"
)

// Input is one answer to be scored.
type Input struct {
	Question model.Question
	Answer   string
	Language model.Language
	// Context is optional study material handed to the LLM judge.
	Context string
}

// Evaluator scores one answer. Callers rely only on the 0..100 range and
// the classification bands, never on a strategy's wording.
type Evaluator interface {
	Evaluate(ctx context.Context, in Input) (model.Evaluation, error)
	Name() string
}

// Deps carries the collaborators a strategy may need.
type Deps struct {
	Embedder llm.Embedder
	Judge    *llm.Judge
}

// New returns the strategy named by kind.
func New(kind string, deps Deps) (Evaluator, error) {
	switch kind {
	case KindKeyword, "":
		return Keyword{}, nil
	case KindEmbedding:
		if deps.Embedder == nil {
			return nil, fmt.Errorf("embedding evaluator needs an embedder")
		}
		return &Embedding{embedder: deps.Embedder}, nil
	case KindLLM:
		if deps.Judge == nil {
			return nil, fmt.Errorf("llm evaluator needs a judge")
		}
		return &LLM{judge: deps.Judge}, nil
	default:
		return nil, fmt.Errorf("unknown evaluator %q", kind)
	}
}

// bandFeedback picks the localized feedback line for a score.
func bandFeedback(lang model.Language, score int) string {
	var id string
	switch {
	case score >= 80:
		id = "FeedbackExcellent"
	case score >= 60:
		id = "FeedbackGood"
	case score >= 50:
		id = "FeedbackAcceptable"
	case score >= 30:
		id = "FeedbackPartial"
	default:
		id = "FeedbackIncorrect"
	}
	return i18n.L(string(lang), id)
}

func clampScore(n int) int {
	return min(max(n, 0), 100)
}

// words splits text into lowercase words. Combining marks stay attached so
// Devanagari vowel signs are not treated as separators.
func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && !unicode.IsMark(r)
	})
}

func newEvaluation(score int, feedback, strategy string) model.Evaluation {
	score = clampScore(score)
	return model.Evaluation{
		Score:          score,
		Classification: model.Classify(score),
		Feedback:       feedback,
		Strategy:       strategy,
	}
}
