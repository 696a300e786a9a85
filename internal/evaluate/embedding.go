package evaluate

import (
	"context"
	"fmt"
	"math"

	"github.com/pavelanni/viva/internal/llm"
	"github.com/pavelanni/viva/internal/model"
)

// Embedding scores by cosine similarity of answer and expected answer.
type Embedding struct {
	embedder llm.Embedder
}

// NewEmbedding returns an embedding-similarity evaluator.
func NewEmbedding(e llm.Embedder) *Embedding {
	return &Embedding{embedder: e}
}

func (e *Embedding) Name() string { return KindEmbedding }

func (e *Embedding) Evaluate(ctx context.Context, in Input) (model.Evaluation, error) {
	expected, err := e.embedder.Embed(ctx, in.Question.ExpectedAnswer)
	if err != nil {
		return model.Evaluation{}, fmt.Errorf("embed expected answer: %w", err)
	}
	answer, err := e.embedder.Embed(ctx, in.Answer)
	if err != nil {
		return model.Evaluation{}, fmt.Errorf("embed answer: %w", err)
	}

	score := int(math.Round(100 * llm.CosineSimilarity(answer, expected)))
	score = clampScore(score)
	return newEvaluation(score, bandFeedback(in.Language, score), KindEmbedding), nil
}
