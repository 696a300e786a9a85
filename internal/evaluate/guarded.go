package evaluate

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pavelanni/viva/internal/i18n"
	"github.com/pavelanni/viva/internal/model"
)

const (
	minAnswerRunes = 3
	// Answers below this score are shown the expected answer.
	revealBelow = 70
	// Word overlap is scaled up because paraphrases rarely reuse every word.
	overlapBoost = 1.2
)

// Guarded is the single entry point the session core uses. It never
// fails: short answers score zero without reaching the strategy, and a
// failing or slow strategy is replaced by a word-overlap score marked as
// degraded.
type Guarded struct {
	primary Evaluator
	timeout time.Duration
	logger  *slog.Logger
}

// NewGuarded wraps primary. A zero timeout leaves the caller's deadline in
// charge.
func NewGuarded(primary Evaluator, timeout time.Duration, logger *slog.Logger) *Guarded {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guarded{primary: primary, timeout: timeout, logger: logger}
}

func (g *Guarded) Name() string { return g.primary.Name() }

// Evaluate always returns a well-formed evaluation.
func (g *Guarded) Evaluate(ctx context.Context, in Input) model.Evaluation {
	lang := string(in.Language)
	if utf8.RuneCountInString(strings.TrimSpace(in.Answer)) < minAnswerRunes {
		ev := newEvaluation(0, i18n.L(lang, "PleaseAnswer"), g.primary.Name())
		ev.CorrectAnswer = in.Question.ExpectedAnswer
		return ev
	}

	evalCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		evalCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	ev, err := g.primary.Evaluate(evalCtx, in)
	if err != nil {
		g.logger.Warn("evaluator failed, using overlap fallback",
			"strategy", g.primary.Name(),
			"question_id", in.Question.ID,
			"error", err,
		)
		ev = newEvaluation(OverlapScore(in.Answer, in.Question.ExpectedAnswer), i18n.L(lang, "LetsContinue"), g.primary.Name())
		ev.Degraded = true
	}

	if ev.Score < revealBelow {
		ev.CorrectAnswer = in.Question.ExpectedAnswer
	}
	return ev
}

// OverlapScore is the share of distinct expected-answer words that also
// appear in the answer, boosted by 1.2 and capped at 100.
func OverlapScore(answer, expected string) int {
	expectedWords := make(map[string]bool)
	for _, w := range words(expected) {
		expectedWords[w] = true
	}
	if len(expectedWords) == 0 {
		return 0
	}
	common := make(map[string]bool)
	for _, w := range words(answer) {
		if expectedWords[w] {
			common[w] = true
		}
	}
	pct := float64(len(common)) / float64(len(expectedWords)) * 100
	return clampScore(int(pct * overlapBoost))
}
