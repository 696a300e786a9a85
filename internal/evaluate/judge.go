package evaluate

import (
	"context"

	"github.com/pavelanni/viva/internal/llm"
	"github.com/pavelanni/viva/internal/model"
)

// LLM asks a remote model to judge semantic equivalence across languages.
type LLM struct {
	judge *llm.Judge
}

// NewLLM returns an LLM-judged evaluator.
func NewLLM(j *llm.Judge) *LLM {
	return &LLM{judge: j}
}

func (l *LLM) Name() string { return KindLLM }

func (l *LLM) Evaluate(ctx context.Context, in Input) (model.Evaluation, error) {
	v, err := l.judge.Judge(ctx, llm.JudgeInput{
		Question: in.Question.Text,
		Expected: in.Question.ExpectedAnswer,
		Answer:   in.Answer,
		Language: in.Language,
		Context:  in.Context,
	})
	if err != nil {
		return model.Evaluation{}, err
	}

	feedback := v.Feedback
	if feedback == "" {
		feedback = bandFeedback(in.Language, v.Score)
	}
	return newEvaluation(v.Score, feedback, KindLLM), nil
}
