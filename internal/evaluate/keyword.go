package evaluate

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/pavelanni/viva/internal/i18n"
	"github.com/pavelanni/viva/internal/model"
)

const (
	pointsPerKeyword = 10
	minKeywordRunes  = 3
)

// Keyword awards ten points per expected keyword found in the answer.
type Keyword struct{}

func (Keyword) Name() string { return KindKeyword }

func (Keyword) Evaluate(_ context.Context, in Input) (model.Evaluation, error) {
	keywords := in.Question.Keywords
	if len(keywords) == 0 {
		keywords = deriveKeywords(in.Question.ExpectedAnswer)
	}

	answer := strings.ToLower(in.Answer)
	hits := 0
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(answer, kw) {
			hits++
		}
	}

	score := clampScore(hits * pointsPerKeyword)
	lang := string(in.Language)
	feedback := bandFeedback(in.Language, score) + " " + i18n.Lp(lang, "KeywordsMatched", hits, nil)
	return newEvaluation(score, feedback, KindKeyword), nil
}

// deriveKeywords returns the distinct words of at least three runes from
// the expected answer, in order of first appearance.
func deriveKeywords(expected string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range words(expected) {
		if utf8.RuneCountInString(w) < minKeywordRunes || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}
