package viva

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/pavelanni/viva/internal/model"
)

// QuestionBank is read access to active questions.
type QuestionBank interface {
	ActiveQuestions(ctx context.Context, topicID int64, level model.Level, lang model.Language) ([]model.Question, error)
	// TopicQuestions returns every active question of a topic in any level
	// and language.
	TopicQuestions(ctx context.Context, topicID int64) ([]model.Question, error)
}

// Sampler draws a leveled question list for a session.
type Sampler struct {
	bank    QuestionBank
	shuffle bool

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSampler returns a Sampler. A nil rng uses a randomly seeded source.
func NewSampler(bank QuestionBank, shuffle bool, rng *rand.Rand) *Sampler {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Sampler{bank: bank, shuffle: shuffle, rng: rng}
}

// LevelSplit divides count 40/35/25 over easy, medium and hard. Hard
// absorbs the rounding remainder, so the parts always sum to count.
func LevelSplit(count int) map[model.Level]int {
	easy := count * 40 / 100
	medium := count * 35 / 100
	return map[model.Level]int{
		model.LevelEasy:   easy,
		model.LevelMedium: medium,
		model.LevelHard:   count - easy - medium,
	}
}

// Sample returns up to count distinct questions and the language actually
// used. When the requested language has no eligible questions at any
// level, the whole draw switches to the other language. A short draw is
// backfilled from any active question of the topic.
func (s *Sampler) Sample(ctx context.Context, topicID int64, count int, lang model.Language) ([]model.Question, model.Language, error) {
	if count <= 0 {
		return nil, lang, fmt.Errorf("question count must be positive, got %d", count)
	}

	picked, eligible, err := s.drawLevels(ctx, topicID, count, lang)
	if err != nil {
		return nil, lang, err
	}
	if eligible == 0 {
		other := lang.Other()
		picked, eligible, err = s.drawLevels(ctx, topicID, count, other)
		if err != nil {
			return nil, lang, err
		}
		if eligible > 0 {
			lang = other
		}
	}

	if len(picked) < count {
		picked, err = s.backfill(ctx, topicID, count, picked)
		if err != nil {
			return nil, lang, err
		}
	}
	if len(picked) == 0 {
		return nil, lang, ErrNoQuestionsAvailable
	}

	if s.shuffle {
		s.mu.Lock()
		s.rng.Shuffle(len(picked), func(i, j int) { picked[i], picked[j] = picked[j], picked[i] })
		s.mu.Unlock()
	}
	return picked, lang, nil
}

// drawLevels draws per-level quotas in one language and reports how many
// questions were eligible across all levels.
func (s *Sampler) drawLevels(ctx context.Context, topicID int64, count int, lang model.Language) ([]model.Question, int, error) {
	split := LevelSplit(count)
	var picked []model.Question
	eligible := 0
	for _, level := range model.Levels {
		pool, err := s.bank.ActiveQuestions(ctx, topicID, level, lang)
		if err != nil {
			return nil, 0, fmt.Errorf("fetch level %s questions: %w", level, err)
		}
		eligible += len(pool)
		picked = append(picked, s.pick(pool, split[level])...)
	}
	return picked, eligible, nil
}

func (s *Sampler) backfill(ctx context.Context, topicID int64, count int, picked []model.Question) ([]model.Question, error) {
	all, err := s.bank.TopicQuestions(ctx, topicID)
	if err != nil {
		return nil, fmt.Errorf("fetch topic questions: %w", err)
	}
	taken := make(map[int64]bool, len(picked))
	for _, q := range picked {
		taken[q.ID] = true
	}
	var rest []model.Question
	for _, q := range all {
		if !taken[q.ID] {
			rest = append(rest, q)
		}
	}
	return append(picked, s.pick(rest, count-len(picked))...), nil
}

// pick returns n questions drawn uniformly without replacement.
func (s *Sampler) pick(pool []model.Question, n int) []model.Question {
	if n <= 0 || len(pool) == 0 {
		return nil
	}
	s.mu.Lock()
	perm := s.rng.Perm(len(pool))
	s.mu.Unlock()
	n = min(n, len(pool))
	out := make([]model.Question, n)
	for i := range n {
		out[i] = pool[perm[i]]
	}
	return out
}
