package viva

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/viva/internal/model"
)

type fakeBank struct {
	questions []model.Question
	err       error
}

func (b *fakeBank) ActiveQuestions(_ context.Context, topicID int64, level model.Level, lang model.Language) ([]model.Question, error) {
	if b.err != nil {
		return nil, b.err
	}
	var out []model.Question
	for _, q := range b.questions {
		if q.Active && q.TopicID == topicID && q.Level == level && q.Language == lang {
			out = append(out, q)
		}
	}
	return out, nil
}

func (b *fakeBank) TopicQuestions(_ context.Context, topicID int64) ([]model.Question, error) {
	if b.err != nil {
		return nil, b.err
	}
	var out []model.Question
	for _, q := range b.questions {
		if q.Active && q.TopicID == topicID {
			out = append(out, q)
		}
	}
	return out, nil
}

// add appends n active questions and returns the bank for chaining.
func (b *fakeBank) add(topicID int64, level model.Level, lang model.Language, n int) *fakeBank {
	for range n {
		id := int64(len(b.questions) + 1)
		b.questions = append(b.questions, model.Question{
			ID:             id,
			TopicID:        topicID,
			Text:           "question",
			ExpectedAnswer: "the valve releases excess pressure",
			Level:          level,
			Language:       lang,
			Active:         true,
		})
	}
	return b
}

func testRNG() *rand.Rand {
	return rand.New(rand.NewPCG(1, 2))
}

func countLevels(qs []model.Question) map[model.Level]int {
	out := make(map[model.Level]int)
	for _, q := range qs {
		out[q.Level]++
	}
	return out
}

func assertDistinct(t *testing.T, qs []model.Question) {
	t.Helper()
	seen := make(map[int64]bool)
	for _, q := range qs {
		assert.False(t, seen[q.ID], "duplicate question %d", q.ID)
		seen[q.ID] = true
	}
}

func TestLevelSplit(t *testing.T) {
	for count := 1; count <= 200; count++ {
		split := LevelSplit(count)
		assert.Equal(t, count, split[model.LevelEasy]+split[model.LevelMedium]+split[model.LevelHard], "count %d", count)
		assert.Equal(t, count*40/100, split[model.LevelEasy])
		assert.Equal(t, count*35/100, split[model.LevelMedium])
	}
	assert.Equal(t, map[model.Level]int{model.LevelEasy: 4, model.LevelMedium: 3, model.LevelHard: 3}, LevelSplit(10))
	assert.Equal(t, map[model.Level]int{model.LevelEasy: 8, model.LevelMedium: 7, model.LevelHard: 5}, LevelSplit(20))
}

func TestSampleLeveledDraw(t *testing.T) {
	bank := (&fakeBank{}).
		add(1, model.LevelEasy, model.LangHindi, 8).
		add(1, model.LevelMedium, model.LangHindi, 7).
		add(1, model.LevelHard, model.LangHindi, 5).
		add(1, model.LevelEasy, model.LangEnglish, 5)
	s := NewSampler(bank, true, testRNG())

	qs, lang, err := s.Sample(context.Background(), 1, 10, model.LangHindi)
	require.NoError(t, err)
	assert.Equal(t, model.LangHindi, lang)
	require.Len(t, qs, 10)
	assertDistinct(t, qs)
	assert.Equal(t, map[model.Level]int{model.LevelEasy: 4, model.LevelMedium: 3, model.LevelHard: 3}, countLevels(qs))
	for _, q := range qs {
		assert.Equal(t, model.LangHindi, q.Language)
	}
}

func TestSampleExactCountProperty(t *testing.T) {
	bank := (&fakeBank{}).
		add(1, model.LevelEasy, model.LangHindi, 30).
		add(1, model.LevelMedium, model.LangHindi, 30).
		add(1, model.LevelHard, model.LangHindi, 30)
	s := NewSampler(bank, true, testRNG())

	for count := 1; count <= 60; count++ {
		qs, _, err := s.Sample(context.Background(), 1, count, model.LangHindi)
		require.NoError(t, err)
		require.Len(t, qs, count)
		assertDistinct(t, qs)
		split := LevelSplit(count)
		levels := countLevels(qs)
		for _, l := range model.Levels {
			assert.Equal(t, split[l], levels[l], "count %d level %s", count, l)
		}
	}
}

func TestSampleLanguageFallback(t *testing.T) {
	bank := (&fakeBank{}).
		add(1, model.LevelEasy, model.LangEnglish, 4).
		add(1, model.LevelHard, model.LangEnglish, 4)
	s := NewSampler(bank, true, testRNG())

	qs, lang, err := s.Sample(context.Background(), 1, 5, model.LangHindi)
	require.NoError(t, err)
	assert.Equal(t, model.LangEnglish, lang)
	require.Len(t, qs, 5)
	assertDistinct(t, qs)
	for _, q := range qs {
		assert.Equal(t, model.LangEnglish, q.Language)
	}
}

func TestSampleBackfillIgnoresLevelAndLanguage(t *testing.T) {
	bank := (&fakeBank{}).
		add(1, model.LevelEasy, model.LangHindi, 2).
		add(1, model.LevelEasy, model.LangEnglish, 6).
		add(2, model.LevelHard, model.LangHindi, 10)
	s := NewSampler(bank, false, testRNG())

	qs, lang, err := s.Sample(context.Background(), 1, 6, model.LangHindi)
	require.NoError(t, err)
	assert.Equal(t, model.LangHindi, lang)
	require.Len(t, qs, 6)
	assertDistinct(t, qs)
	for _, q := range qs {
		assert.Equal(t, int64(1), q.TopicID, "backfill must stay within the topic")
	}
	// Without shuffling the leveled draw comes first.
	assert.Equal(t, model.LangHindi, qs[0].Language)
	assert.Equal(t, model.LangHindi, qs[1].Language)
}

func TestSampleFewerThanRequested(t *testing.T) {
	bank := (&fakeBank{}).add(1, model.LevelMedium, model.LangHindi, 3)
	s := NewSampler(bank, true, testRNG())

	qs, _, err := s.Sample(context.Background(), 1, 10, model.LangHindi)
	require.NoError(t, err)
	assert.Len(t, qs, 3)
	assertDistinct(t, qs)
}

func TestSampleNoQuestions(t *testing.T) {
	bank := (&fakeBank{}).add(2, model.LevelEasy, model.LangHindi, 3)
	bank.questions = append(bank.questions, model.Question{ID: 99, TopicID: 1, Level: model.LevelEasy, Language: model.LangHindi, Active: false})
	s := NewSampler(bank, true, testRNG())

	_, _, err := s.Sample(context.Background(), 1, 5, model.LangHindi)
	assert.ErrorIs(t, err, ErrNoQuestionsAvailable)

	_, _, err = s.Sample(context.Background(), 2, 0, model.LangHindi)
	assert.Error(t, err)
}

func TestSampleBankError(t *testing.T) {
	boom := errors.New("db down")
	s := NewSampler(&fakeBank{err: boom}, true, testRNG())
	_, _, err := s.Sample(context.Background(), 1, 5, model.LangHindi)
	assert.ErrorIs(t, err, boom)
}
