package llm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pavelanni/viva/internal/llm/prompts"
	"github.com/pavelanni/viva/internal/model"
)

// ErrUnparsableVerdict is returned when a judge reply has neither a MATCH
// nor a SCORE line.
var ErrUnparsableVerdict = errors.New("judge reply has no MATCH or SCORE")

// Match is the judge's coarse opinion of an answer.
type Match string

const (
	MatchYes     Match = "YES"
	MatchPartial Match = "PARTIAL"
	MatchNo      Match = "NO"
)

// Scores assumed when the judge names a match but omits the score.
var matchScores = map[Match]int{
	MatchYes:     85,
	MatchPartial: 55,
	MatchNo:      25,
}

// Verdict is a parsed judge reply.
type Verdict struct {
	Match    Match
	Score    int
	Feedback string
}

var (
	verdictNoise = strings.NewReplacer("*", "", "#", "", "`", "", "[", "", "]", "")
	matchLine    = regexp.MustCompile(`(?im)^\s*MATCH\s*[:=\-]\s*(YES|PARTIAL|NO)\b`)
	scoreLine    = regexp.MustCompile(`(?im)^\s*SCORE\s*[:=\-]\s*(\d{1,3})`)
	feedbackLine = regexp.MustCompile(`(?im)^\s*FEEDBACK\s*[:=\-]\s*(.+)$`)
)

// ParseVerdict extracts MATCH, SCORE and FEEDBACK from a raw judge reply.
// Markdown emphasis, brackets and letter case are ignored. Scores are
// clamped to 0..100.
func ParseVerdict(raw string) (Verdict, error) {
	text := verdictNoise.Replace(raw)

	var v Verdict
	if m := matchLine.FindStringSubmatch(text); m != nil {
		v.Match = Match(strings.ToUpper(m[1]))
	}
	hasScore := false
	if m := scoreLine.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			v.Score = min(max(n, 0), 100)
			hasScore = true
		}
	}
	if m := feedbackLine.FindStringSubmatch(text); m != nil {
		v.Feedback = strings.TrimSpace(m[1])
	}

	switch {
	case !hasScore && v.Match == "":
		return Verdict{}, ErrUnparsableVerdict
	case !hasScore:
		v.Score = matchScores[v.Match]
	case v.Match == "":
		v.Match = matchFromScore(v.Score)
	}
	return v, nil
}

func matchFromScore(score int) Match {
	switch {
	case score >= 70:
		return MatchYes
	case score >= 40:
		return MatchPartial
	default:
		return MatchNo
	}
}

// JudgeInput is one answer to be judged.
type JudgeInput struct {
	Question string
	Expected string
	Answer   string
	Language model.Language
	Context  string
}

// Judge asks a Provider to compare an answer with the reference answer.
type Judge struct {
	provider Provider
	variant  prompts.PromptVariant
}

// NewJudge returns a Judge using the given prompt variant. An unknown
// variant falls back to the standard one.
func NewJudge(p Provider, variant prompts.PromptVariant) *Judge {
	if !prompts.IsValidVariant(string(variant)) {
		variant = prompts.PromptStandard
	}
	return &Judge{provider: p, variant: variant}
}

// Judge renders the prompt, calls the provider and parses the reply.
func (j *Judge) Judge(ctx context.Context, in JudgeInput) (Verdict, error) {
	prompt, err := prompts.BuildJudgePrompt(j.variant, prompts.JudgeData{
		Question:     in.Question,
		Expected:     in.Expected,
		Answer:       in.Answer,
		LanguageName: languageName(in.Language),
		Context:      in.Context,
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("build judge prompt: %w", err)
	}

	raw, err := j.provider.Complete(ctx, Request{
		Prompt:      prompt,
		Temperature: 0.2,
		MaxTokens:   100,
	})
	if err != nil {
		return Verdict{}, err
	}

	v, err := ParseVerdict(raw)
	if err != nil {
		return Verdict{}, fmt.Errorf("judge reply %q: %w", raw, err)
	}
	return v, nil
}

func languageName(lang model.Language) string {
	if lang == model.LangHindi {
		return "Hindi"
	}
	return "English"
}
