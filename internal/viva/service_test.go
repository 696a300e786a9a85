package viva

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/viva/internal/evaluate"
	"github.com/pavelanni/viva/internal/llm"
	"github.com/pavelanni/viva/internal/llm/prompts"
	"github.com/pavelanni/viva/internal/model"
	"github.com/pavelanni/viva/internal/store"
)

// scriptedScorer returns fixed scores in order.
type scriptedScorer struct {
	mu     sync.Mutex
	scores []int
	inputs []evaluate.Input
}

func (s *scriptedScorer) Evaluate(_ context.Context, in evaluate.Input) model.Evaluation {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, in)
	score := 0
	if len(s.scores) > 0 {
		score = s.scores[0]
		s.scores = s.scores[1:]
	}
	return model.Evaluation{Score: score, Classification: model.Classify(score), Feedback: "ok"}
}

type memResults struct {
	mu      sync.Mutex
	results map[string]model.Result
	err     error
}

func (m *memResults) SaveResult(_ context.Context, r model.Result) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	if m.results == nil {
		m.results = make(map[string]model.Result)
	}
	m.results[r.SessionID] = r
	return int64(len(m.results)), nil
}

func (m *memResults) GetResult(_ context.Context, id string) (*model.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

type failingUsage struct{ calls int }

func (f *failingUsage) RecordQuestionUsage(context.Context, int64, bool) error {
	f.calls++
	return errors.New("counter table locked")
}

func threeQuestionBank() *fakeBank {
	return (&fakeBank{}).
		add(1, model.LevelEasy, model.LangHindi, 1).
		add(1, model.LevelMedium, model.LangHindi, 1).
		add(1, model.LevelHard, model.LangHindi, 1)
}

func newTestService(t *testing.T, bank QuestionBank, scorer Scorer) (*Service, *MemoryStore, *memResults) {
	t.Helper()
	sessions := NewMemoryStore()
	results := &memResults{}
	svc := NewService(Deps{
		Sampler:  NewSampler(bank, true, testRNG()),
		Sessions: sessions,
		Scorer:   scorer,
		Results:  results,
	}, model.VivaConfig{QuestionCount: 3, IdleTTL: time.Hour})
	return svc, sessions, results
}

func assertIndexMatchesAnswers(t *testing.T, sessions SessionStore, id string) {
	t.Helper()
	sess, err := sessions.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, sess.CurrentIndex, len(sess.Answers))
	assert.LessOrEqual(t, sess.CurrentIndex, sess.Total())
}

func TestStartDefaults(t *testing.T) {
	svc, sessions, _ := newTestService(t, threeQuestionBank(), &scriptedScorer{})

	resp, err := svc.Start(context.Background(), StartRequest{SubjectID: "EMP-7", TopicID: 1})
	require.NoError(t, err)
	assert.Len(t, resp.SessionID, 8)
	assert.Equal(t, model.LangHindi, resp.Language)
	assert.Equal(t, 3, resp.TotalQuestions)
	require.NotNil(t, resp.Question)
	assert.Equal(t, 1, resp.Question.Number)

	sess, err := sessions.Get(context.Background(), resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionActive, sess.Status)
	assert.Equal(t, 0, sess.CurrentIndex)
	assert.Empty(t, sess.Answers)
}

func TestStartNoQuestions(t *testing.T) {
	svc, sessions, _ := newTestService(t, &fakeBank{}, &scriptedScorer{})

	_, err := svc.Start(context.Background(), StartRequest{SubjectID: "EMP-7", TopicID: 1, Count: 5})
	assert.ErrorIs(t, err, ErrNoQuestionsAvailable)
	assert.Equal(t, 0, sessions.Len())
}

func TestStartRetriesIDCollision(t *testing.T) {
	svc, sessions, _ := newTestService(t, threeQuestionBank(), &scriptedScorer{})
	ids := []string{"aaaaaaaa", "aaaaaaaa", "bbbbbbbb"}
	svc.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	first, err := svc.Start(context.Background(), StartRequest{SubjectID: "A", TopicID: 1})
	require.NoError(t, err)
	second, err := svc.Start(context.Background(), StartRequest{SubjectID: "B", TopicID: 1})
	require.NoError(t, err)
	assert.Equal(t, "aaaaaaaa", first.SessionID)
	assert.Equal(t, "bbbbbbbb", second.SessionID)
	assert.Equal(t, 2, sessions.Len())
}

func TestSubmitScenarioAverageAndGrade(t *testing.T) {
	svc, sessions, results := newTestService(t, threeQuestionBank(), &scriptedScorer{scores: []int{90, 60, 30}})
	ctx := context.Background()

	start, err := svc.Start(ctx, StartRequest{SubjectID: "EMP-7", TopicID: 1, Count: 3})
	require.NoError(t, err)
	id := start.SessionID

	r1, err := svc.Submit(ctx, id, "first answer")
	require.NoError(t, err)
	assert.False(t, r1.Completed)
	require.NotNil(t, r1.Next)
	assert.Equal(t, 2, r1.Next.Number)
	assertIndexMatchesAnswers(t, sessions, id)

	r2, err := svc.Submit(ctx, id, "second answer")
	require.NoError(t, err)
	assert.False(t, r2.Completed)
	assertIndexMatchesAnswers(t, sessions, id)

	r3, err := svc.Submit(ctx, id, "third answer")
	require.NoError(t, err)
	assert.True(t, r3.Completed)
	assert.Nil(t, r3.Next)
	require.NotNil(t, r3.Result)
	assertIndexMatchesAnswers(t, sessions, id)

	res := r3.Result
	assert.Equal(t, 60.0, res.AverageScore)
	assert.Equal(t, "B", res.Grade)
	assert.True(t, res.Passed)
	assert.Equal(t, 1, res.Correct)
	assert.Equal(t, 1, res.Partial)
	assert.Equal(t, 1, res.Wrong)
	assert.Equal(t, model.SessionCompleted, res.Status)
	assert.Len(t, res.Answers, 3)
	assert.Len(t, res.Improvements, 2)
	assert.Equal(t, "third answer", res.Improvements[0].YourAnswer, "lowest score listed first")
	assert.NotEmpty(t, res.Message)

	saved, err := results.GetResult(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, 60.0, saved.AverageScore)

	status, err := svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.SessionCompleted, status.Status)
	assert.Equal(t, 3, status.Answered)
	assert.Nil(t, status.Current)
}

func TestSubmitAfterCompletion(t *testing.T) {
	svc, sessions, _ := newTestService(t, threeQuestionBank(), &scriptedScorer{scores: []int{80, 80, 80}})
	ctx := context.Background()
	start, err := svc.Start(ctx, StartRequest{SubjectID: "EMP-7", TopicID: 1, Count: 3})
	require.NoError(t, err)
	for range 3 {
		_, err := svc.Submit(ctx, start.SessionID, "an answer")
		require.NoError(t, err)
	}

	before, err := sessions.Get(ctx, start.SessionID)
	require.NoError(t, err)

	_, err = svc.Submit(ctx, start.SessionID, "one more")
	assert.ErrorIs(t, err, ErrSessionCompleted)
	_, err = svc.Skip(ctx, start.SessionID)
	assert.ErrorIs(t, err, ErrSessionCompleted)
	_, err = svc.Abandon(ctx, start.SessionID)
	assert.ErrorIs(t, err, ErrSessionCompleted)

	after, err := sessions.Get(ctx, start.SessionID)
	require.NoError(t, err)
	assert.Equal(t, before, after, "terminal session must not change")
}

func TestSubmitUnknownSession(t *testing.T) {
	svc, sessions, results := newTestService(t, threeQuestionBank(), &scriptedScorer{})
	ctx := context.Background()

	_, err := svc.Submit(ctx, "missing1", "answer")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = svc.Skip(ctx, "missing1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = svc.Status(ctx, "missing1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = svc.Result(ctx, "missing1")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	assert.Equal(t, 0, sessions.Len())
	assert.Empty(t, results.results)
}

func TestSubmitEmptyAnswerAdvances(t *testing.T) {
	scorer := evaluate.NewGuarded(evaluate.Keyword{}, time.Second, nil)
	svc, sessions, _ := newTestService(t, threeQuestionBank(), scorer)
	ctx := context.Background()
	start, err := svc.Start(ctx, StartRequest{SubjectID: "EMP-7", TopicID: 1, Count: 3, Language: model.LangEnglish})
	require.NoError(t, err)

	resp, err := svc.Submit(ctx, start.SessionID, "")
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Evaluation.Score)
	assert.Equal(t, model.ClassFail, resp.Evaluation.Classification)
	assert.Equal(t, 1, resp.Answered)

	sess, err := sessions.Get(ctx, start.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, sess.CurrentIndex)
	// Language fell back to Hindi, so feedback is Hindi.
	assert.Equal(t, model.LangHindi, sess.Language)
	assert.Equal(t, "कृपया जवाब दें।", resp.Evaluation.Feedback)

	skip, err := svc.Skip(ctx, start.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 0, skip.Evaluation.Score)
	sess, _ = sessions.Get(ctx, start.SessionID)
	assert.True(t, sess.Answers[1].Skipped)
	assertIndexMatchesAnswers(t, sessions, start.SessionID)
}

func TestSubmitEvaluatorFailureDegrades(t *testing.T) {
	provider := llm.NewMockProvider(llm.MockResponse{Err: &llm.ProviderError{Provider: "ollama", Failure: llm.FailUnreachable, Err: errors.New("connection refused")}})
	scorer := evaluate.NewGuarded(evaluate.NewLLM(llm.NewJudge(provider, prompts.PromptStandard)), time.Second, nil)
	usage := &failingUsage{}

	sessions := NewMemoryStore()
	svc := NewService(Deps{
		Sampler:  NewSampler(threeQuestionBank(), true, testRNG()),
		Sessions: sessions,
		Scorer:   scorer,
		Usage:    usage,
	}, model.VivaConfig{})
	ctx := context.Background()

	start, err := svc.Start(ctx, StartRequest{SubjectID: "EMP-7", TopicID: 1, Count: 3})
	require.NoError(t, err)

	resp, err := svc.Submit(ctx, start.SessionID, "valve releases pressure")
	require.NoError(t, err)
	ev := resp.Evaluation
	assert.True(t, ev.Degraded)
	assert.GreaterOrEqual(t, ev.Score, 0)
	assert.LessOrEqual(t, ev.Score, 100)
	assert.Equal(t, model.Classify(ev.Score), ev.Classification)
	assert.Equal(t, "चलो आगे बढ़ते हैं।", ev.Feedback)
	assert.Equal(t, 1, usage.calls, "usage failure is swallowed")
	assertIndexMatchesAnswers(t, sessions, start.SessionID)
}

type blockingScorer struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingScorer) Evaluate(context.Context, evaluate.Input) model.Evaluation {
	b.entered <- struct{}{}
	<-b.release
	return model.Evaluation{Score: 75, Classification: model.ClassPass}
}

func TestConcurrentSubmitRejected(t *testing.T) {
	scorer := &blockingScorer{entered: make(chan struct{}), release: make(chan struct{})}
	svc, sessions, _ := newTestService(t, threeQuestionBank(), scorer)
	ctx := context.Background()
	start, err := svc.Start(ctx, StartRequest{SubjectID: "EMP-7", TopicID: 1, Count: 3})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Submit(ctx, start.SessionID, "first")
		done <- err
	}()
	<-scorer.entered

	_, err = svc.Submit(ctx, start.SessionID, "second")
	assert.ErrorIs(t, err, ErrSessionBusy)
	_, err = svc.Skip(ctx, start.SessionID)
	assert.ErrorIs(t, err, ErrSessionBusy)
	_, err = svc.Abandon(ctx, start.SessionID)
	assert.ErrorIs(t, err, ErrSessionBusy)

	close(scorer.release)
	require.NoError(t, <-done)

	sess, err := sessions.Get(ctx, start.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, sess.CurrentIndex)
	assert.Len(t, sess.Answers, 1)
}

func TestAbandon(t *testing.T) {
	svc, _, results := newTestService(t, threeQuestionBank(), &scriptedScorer{scores: []int{40}})
	ctx := context.Background()

	empty, err := svc.Start(ctx, StartRequest{SubjectID: "EMP-1", TopicID: 1, Count: 3})
	require.NoError(t, err)
	r, err := svc.Abandon(ctx, empty.SessionID)
	require.NoError(t, err)
	assert.Nil(t, r, "no partial result without answers")

	partial, err := svc.Start(ctx, StartRequest{SubjectID: "EMP-2", TopicID: 1, Count: 3})
	require.NoError(t, err)
	_, err = svc.Submit(ctx, partial.SessionID, "some answer")
	require.NoError(t, err)
	r, err = svc.Abandon(ctx, partial.SessionID)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, model.SessionAbandoned, r.Status)
	assert.Equal(t, 1, r.Answered)
	assert.Equal(t, 3, r.TotalQuestions)
	assert.Equal(t, 40.0, r.AverageScore)
	assert.Contains(t, results.results, partial.SessionID)

	_, err = svc.Submit(ctx, partial.SessionID, "late answer")
	assert.ErrorIs(t, err, ErrSessionAbandoned)
	_, err = svc.Abandon(ctx, partial.SessionID)
	assert.ErrorIs(t, err, ErrSessionAbandoned)
}

func TestSweepIdle(t *testing.T) {
	svc, sessions, results := newTestService(t, threeQuestionBank(), &scriptedScorer{scores: []int{70}})
	ctx := context.Background()
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clock }

	idle, err := svc.Start(ctx, StartRequest{SubjectID: "EMP-1", TopicID: 1, Count: 3})
	require.NoError(t, err)
	_, err = svc.Submit(ctx, idle.SessionID, "an answer")
	require.NoError(t, err)

	clock = clock.Add(50 * time.Minute)
	fresh, err := svc.Start(ctx, StartRequest{SubjectID: "EMP-2", TopicID: 1, Count: 3})
	require.NoError(t, err)

	clock = clock.Add(20 * time.Minute)
	rep, err := svc.SweepIdle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Abandoned)
	assert.Equal(t, 0, rep.Purged)

	sess, err := sessions.Get(ctx, idle.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionAbandoned, sess.Status)
	assert.Contains(t, results.results, idle.SessionID)

	sess, err = sessions.Get(ctx, fresh.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionActive, sess.Status)

	// Two hours later the abandoned session is purged and the fresh one abandoned.
	clock = clock.Add(2 * time.Hour)
	rep, err = svc.SweepIdle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Abandoned)
	assert.Equal(t, 1, rep.Purged)

	_, err = sessions.Get(ctx, idle.SessionID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// Results outlive purged sessions.
	res, err := svc.Result(ctx, idle.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionAbandoned, res.Status)
}

func TestSubmitAfterPurgeReportsTerminalState(t *testing.T) {
	svc, sessions, _ := newTestService(t, threeQuestionBank(), &scriptedScorer{scores: []int{90, 60, 30, 50}})
	ctx := context.Background()
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clock }

	done, err := svc.Start(ctx, StartRequest{SubjectID: "EMP-1", TopicID: 1, Count: 3})
	require.NoError(t, err)
	for range 3 {
		_, err = svc.Submit(ctx, done.SessionID, "an answer")
		require.NoError(t, err)
	}
	left, err := svc.Start(ctx, StartRequest{SubjectID: "EMP-2", TopicID: 1, Count: 3})
	require.NoError(t, err)
	_, err = svc.Submit(ctx, left.SessionID, "an answer")
	require.NoError(t, err)
	_, err = svc.Abandon(ctx, left.SessionID)
	require.NoError(t, err)

	_, err = svc.Submit(ctx, done.SessionID, "late")
	require.ErrorIs(t, err, ErrSessionCompleted)

	clock = clock.Add(3 * time.Hour)
	rep, err := svc.SweepIdle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Purged)
	assert.Zero(t, sessions.Len())

	_, err = svc.Submit(ctx, done.SessionID, "late")
	assert.ErrorIs(t, err, ErrSessionCompleted)
	lang, ok := SessionLanguage(err)
	assert.True(t, ok)
	assert.Equal(t, model.LangHindi, lang)

	_, err = svc.Skip(ctx, left.SessionID)
	assert.ErrorIs(t, err, ErrSessionAbandoned)

	status, err := svc.Status(ctx, done.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionCompleted, status.Status)
	assert.Equal(t, 3, status.Answered)

	_, err = svc.Submit(ctx, "deadbeef", "hello")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, ok = SessionLanguage(err)
	assert.False(t, ok)
}

func TestSweepDisabledWithoutTTL(t *testing.T) {
	svc := NewService(Deps{
		Sampler:  NewSampler(threeQuestionBank(), true, testRNG()),
		Sessions: NewMemoryStore(),
		Scorer:   &scriptedScorer{},
	}, model.VivaConfig{})
	rep, err := svc.SweepIdle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepReport{}, rep)
}

func TestResultOfActiveSession(t *testing.T) {
	svc, _, _ := newTestService(t, threeQuestionBank(), &scriptedScorer{scores: []int{100}})
	ctx := context.Background()
	start, err := svc.Start(ctx, StartRequest{SubjectID: "EMP-1", TopicID: 1, Count: 3})
	require.NoError(t, err)
	_, err = svc.Submit(ctx, start.SessionID, "perfect answer")
	require.NoError(t, err)

	r, err := svc.Result(ctx, start.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionActive, r.Status)
	assert.Equal(t, 1, r.Answered)
	assert.Equal(t, 100.0, r.AverageScore)
}

func TestServiceWithSQLStore(t *testing.T) {
	db, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()

	topic, err := db.CreateTopic(ctx, model.Topic{Name: "Boiler"})
	require.NoError(t, err)
	for _, l := range model.Levels {
		_, err := db.InsertQuestion(ctx, model.Question{
			TopicID:        topic,
			Text:           "What does the safety valve do?",
			ExpectedAnswer: "releases excess pressure",
			Level:          l,
			Language:       model.LangEnglish,
			Keywords:       []string{"pressure", "releases"},
		})
		require.NoError(t, err)
	}

	sessions := NewSQLStore(db)
	svc := NewService(Deps{
		Sampler:  NewSampler(db, true, testRNG()),
		Sessions: sessions,
		Scorer:   evaluate.NewGuarded(evaluate.Keyword{}, time.Second, nil),
		Results:  db,
		Usage:    db,
	}, model.VivaConfig{DefaultLanguage: model.LangEnglish, QuestionCount: 3})

	start, err := svc.Start(ctx, StartRequest{SubjectID: "EMP-9", TopicID: topic})
	require.NoError(t, err)
	assert.Equal(t, model.LangEnglish, start.Language)

	var last *SubmitResponse
	for range 3 {
		last, err = svc.Submit(ctx, start.SessionID, "it releases pressure")
		require.NoError(t, err)
	}
	require.True(t, last.Completed)
	assert.Equal(t, 20.0, last.Result.AverageScore)
	assert.NotZero(t, last.Result.ID)

	saved, err := db.GetResult(ctx, start.SessionID)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, "F", saved.Grade)

	stats, err := db.QuestionStats(ctx, topic)
	require.NoError(t, err)
	for _, st := range stats {
		assert.Equal(t, 1, st.TimesAsked)
	}

	_, err = sessions.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	err = sessions.Update(ctx, &model.Session{ID: "nope"})
	assert.ErrorIs(t, err, ErrSessionNotFound)
	sess, err := sessions.Get(ctx, start.SessionID)
	require.NoError(t, err)
	assert.ErrorIs(t, sessions.Create(ctx, sess), ErrSessionExists)
}

func TestMemoryStoreIsolation(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	sess := &model.Session{ID: "abc12345", Status: model.SessionActive, Questions: []model.Question{{ID: 1}}}
	require.NoError(t, m.Create(ctx, sess))
	assert.ErrorIs(t, m.Create(ctx, sess), ErrSessionExists)

	sess.CurrentIndex = 1
	got, err := m.Get(ctx, "abc12345")
	require.NoError(t, err)
	assert.Equal(t, 0, got.CurrentIndex, "caller mutation must not leak into the store")

	got.Answers = append(got.Answers, model.AnswerRecord{QuestionID: 1})
	again, _ := m.Get(ctx, "abc12345")
	assert.Empty(t, again.Answers)

	assert.ErrorIs(t, m.Update(ctx, &model.Session{ID: "other"}), ErrSessionNotFound)
	require.NoError(t, m.Delete(ctx, "abc12345"))
	assert.Equal(t, 0, m.Len())
}

func TestSweeperSchedule(t *testing.T) {
	svc, _, _ := newTestService(t, threeQuestionBank(), &scriptedScorer{})
	_, err := NewSweeper(svc, "not a schedule", nil)
	assert.Error(t, err)

	sw, err := NewSweeper(svc, "@every 1h", nil)
	require.NoError(t, err)
	sw.Start()
	<-sw.Stop().Done()
}
