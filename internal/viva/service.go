package viva

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/viva/internal/evaluate"
	"github.com/pavelanni/viva/internal/model"
)

const (
	defaultQuestionCount = 20
	idAttempts           = 3
)

// Scorer scores an answer and never fails. evaluate.Guarded implements it.
type Scorer interface {
	Evaluate(ctx context.Context, in evaluate.Input) model.Evaluation
}

// ResultSink persists finished sessions.
type ResultSink interface {
	SaveResult(ctx context.Context, r model.Result) (int64, error)
	GetResult(ctx context.Context, sessionID string) (*model.Result, error)
}

// UsageRecorder updates per-question usage counters.
type UsageRecorder interface {
	RecordQuestionUsage(ctx context.Context, questionID int64, correct bool) error
}

// Deps are the collaborators of a Service. Results and Usage are optional.
type Deps struct {
	Sampler  *Sampler
	Sessions SessionStore
	Scorer   Scorer
	Results  ResultSink
	Usage    UsageRecorder
	Logger   *slog.Logger
}

// Service runs the viva state machine: start, then one submit or skip per
// question until the list is exhausted.
type Service struct {
	sampler  *Sampler
	sessions SessionStore
	scorer   Scorer
	results  ResultSink
	usage    UsageRecorder
	logger   *slog.Logger
	cfg      model.VivaConfig

	now   func() time.Time
	newID func() string

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewService wires a Service.
func NewService(deps Deps, cfg model.VivaConfig) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = model.LangHindi
	}
	if cfg.QuestionCount <= 0 {
		cfg.QuestionCount = defaultQuestionCount
	}
	return &Service{
		sampler:  deps.Sampler,
		sessions: deps.Sessions,
		scorer:   deps.Scorer,
		results:  deps.Results,
		usage:    deps.Usage,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
		newID:    func() string { return uuid.NewString()[:8] },
		inflight: make(map[string]struct{}),
	}
}

// QuestionView is a question as shown to the candidate.
type QuestionView struct {
	ID       int64          `json:"id"`
	Number   int            `json:"number"`
	Text     string         `json:"text"`
	Level    model.Level    `json:"level"`
	Language model.Language `json:"language"`
}

func viewOf(sess *model.Session) *QuestionView {
	q, ok := sess.CurrentQuestion()
	if !ok {
		return nil
	}
	return &QuestionView{
		ID:       q.ID,
		Number:   sess.CurrentIndex + 1,
		Text:     q.Text,
		Level:    q.Level,
		Language: q.Language,
	}
}

// StartRequest opens a viva. Zero Count and empty Language use defaults.
type StartRequest struct {
	SubjectID   string
	SubjectName string
	TopicID     int64
	Count       int
	Language    model.Language
}

// StartResponse carries the new session ID and its first question.
type StartResponse struct {
	SessionID      string         `json:"session_id"`
	Language       model.Language `json:"language"`
	TotalQuestions int            `json:"total_questions"`
	Question       *QuestionView  `json:"question"`
}

// Start samples questions and creates an active session at index 0.
func (s *Service) Start(ctx context.Context, req StartRequest) (*StartResponse, error) {
	lang := req.Language
	if lang == "" {
		lang = s.cfg.DefaultLanguage
	}
	count := req.Count
	if count <= 0 {
		count = s.cfg.QuestionCount
	}
	if s.cfg.MaxQuestions > 0 && count > s.cfg.MaxQuestions {
		count = s.cfg.MaxQuestions
	}

	questions, used, err := s.sampler.Sample(ctx, req.TopicID, count, lang)
	if err != nil {
		return nil, err
	}

	now := s.now()
	sess := &model.Session{
		SubjectID:       req.SubjectID,
		SubjectName:     req.SubjectName,
		TopicID:         req.TopicID,
		Language:        used,
		Questions:       questions,
		Status:          model.SessionActive,
		StartedAt:       now,
		LastActivity:    now,
		QuestionAskedAt: now,
	}
	for attempt := 0; ; attempt++ {
		sess.ID = s.newID()
		err = s.sessions.Create(ctx, sess)
		if !errors.Is(err, ErrSessionExists) || attempt == idAttempts-1 {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.logger.Info("viva started",
		"session_id", sess.ID,
		"subject_id", sess.SubjectID,
		"topic_id", sess.TopicID,
		"language", sess.Language,
		"questions", len(questions),
	)
	return &StartResponse{
		SessionID:      sess.ID,
		Language:       sess.Language,
		TotalQuestions: sess.Total(),
		Question:       viewOf(sess),
	}, nil
}

// SubmitResponse carries the evaluation and either the next question or
// the final result.
type SubmitResponse struct {
	Evaluation     model.Evaluation `json:"evaluation"`
	Answered       int              `json:"answered"`
	TotalQuestions int              `json:"total_questions"`
	Completed      bool             `json:"completed"`
	Next           *QuestionView    `json:"next_question,omitempty"`
	Result         *model.Result    `json:"result,omitempty"`
}

// Submit scores the answer to the current question and advances the
// session. An evaluator failure never blocks the transition.
func (s *Service) Submit(ctx context.Context, sessionID, answer string) (*SubmitResponse, error) {
	return s.advance(ctx, sessionID, answer, false)
}

// Skip records an empty answer, which always scores 0.
func (s *Service) Skip(ctx context.Context, sessionID string) (*SubmitResponse, error) {
	return s.advance(ctx, sessionID, "", true)
}

func (s *Service) advance(ctx context.Context, sessionID, answer string, skipped bool) (*SubmitResponse, error) {
	release, err := s.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	sess, err := s.activeSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	q, ok := sess.CurrentQuestion()
	if !ok {
		return nil, ErrSessionCompleted
	}

	ev := s.scorer.Evaluate(ctx, evaluate.Input{
		Question: q,
		Answer:   answer,
		Language: sess.Language,
	})

	now := s.now()
	sess.Answers = append(sess.Answers, model.AnswerRecord{
		QuestionID:     q.ID,
		QuestionText:   q.Text,
		Level:          q.Level,
		Answer:         answer,
		ExpectedAnswer: q.ExpectedAnswer,
		Evaluation:     ev,
		Skipped:        skipped,
		TimeTakenMs:    now.Sub(sess.QuestionAskedAt).Milliseconds(),
		AnsweredAt:     now,
	})
	sess.CurrentIndex++
	sess.LastActivity = now
	sess.QuestionAskedAt = now

	resp := &SubmitResponse{
		Evaluation:     ev,
		Answered:       len(sess.Answers),
		TotalQuestions: sess.Total(),
	}

	var result *model.Result
	if sess.CurrentIndex >= sess.Total() {
		sess.Status = model.SessionCompleted
		sess.EndedAt = &now
		r := Summarize(sess, now)
		result = &r
		resp.Completed = true
		resp.Result = result
	} else {
		resp.Next = viewOf(sess)
	}

	if err := s.sessions.Update(ctx, sess); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	s.recordUsage(ctx, q.ID, ev.Classification == model.ClassPass)
	if result != nil {
		s.persist(ctx, result)
		s.logger.Info("viva completed",
			"session_id", sess.ID,
			"average", result.AverageScore,
			"grade", result.Grade,
			"passed", result.Passed,
		)
	}
	return resp, nil
}

// StatusResponse reports progress of a session.
type StatusResponse struct {
	SessionID      string              `json:"session_id"`
	Status         model.SessionStatus `json:"status"`
	Language       model.Language      `json:"language"`
	Answered       int                 `json:"answered"`
	TotalQuestions int                 `json:"total_questions"`
	Current        *QuestionView       `json:"current_question,omitempty"`
}

// Status returns progress without changing the session. Purged sessions
// are reported from their stored result.
func (s *Service) Status(ctx context.Context, sessionID string) (*StatusResponse, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		r, rerr := s.storedResult(ctx, sessionID)
		if rerr != nil {
			return nil, rerr
		}
		return &StatusResponse{
			SessionID:      r.SessionID,
			Status:         r.Status,
			Language:       r.Language,
			Answered:       r.Answered,
			TotalQuestions: r.TotalQuestions,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	resp := &StatusResponse{
		SessionID:      sess.ID,
		Status:         sess.Status,
		Language:       sess.Language,
		Answered:       len(sess.Answers),
		TotalQuestions: sess.Total(),
	}
	if sess.Status == model.SessionActive {
		resp.Current = viewOf(sess)
	}
	return resp, nil
}

// Result returns the summary of a session. Live sessions are summarized
// on the fly; purged ones are read back from the result sink.
func (s *Service) Result(ctx context.Context, sessionID string) (*model.Result, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err == nil {
		at := s.now()
		if sess.EndedAt != nil {
			at = *sess.EndedAt
		}
		r := Summarize(sess, at)
		return &r, nil
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}
	return s.storedResult(ctx, sessionID)
}

// Abandon closes an active session administratively. When answers were
// recorded a partial result is persisted and returned; otherwise the
// returned result is nil.
func (s *Service) Abandon(ctx context.Context, sessionID string) (*model.Result, error) {
	release, err := s.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.abandon(ctx, sessionID, "admin")
}

func (s *Service) abandon(ctx context.Context, sessionID, reason string) (*model.Result, error) {
	sess, err := s.activeSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	sess.Status = model.SessionAbandoned
	sess.EndedAt = &now
	sess.LastActivity = now
	if err := s.sessions.Update(ctx, sess); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	s.logger.Info("viva abandoned", "session_id", sess.ID, "reason", reason, "answered", len(sess.Answers))
	if len(sess.Answers) == 0 {
		return nil, nil
	}
	r := Summarize(sess, now)
	s.persist(ctx, &r)
	return &r, nil
}

// SweepReport summarizes one idle sweep.
type SweepReport struct {
	Abandoned int `json:"abandoned"`
	Purged    int `json:"purged"`
}

// SweepIdle abandons active sessions idle for longer than the configured
// TTL and purges terminal sessions older than the TTL. Sessions with a
// request in flight are left for the next sweep.
func (s *Service) SweepIdle(ctx context.Context) (SweepReport, error) {
	var rep SweepReport
	if s.cfg.IdleTTL <= 0 {
		return rep, nil
	}
	cutoff := s.now().Add(-s.cfg.IdleTTL)

	idle, err := s.sessions.ListIdle(ctx, cutoff)
	if err != nil {
		return rep, fmt.Errorf("list idle sessions: %w", err)
	}
	for _, sess := range idle {
		release, err := s.acquire(sess.ID)
		if err != nil {
			continue
		}
		_, err = s.abandon(ctx, sess.ID, "idle")
		release()
		switch {
		case err == nil:
			rep.Abandoned++
		case errors.Is(err, ErrSessionCompleted), errors.Is(err, ErrSessionAbandoned), errors.Is(err, ErrSessionNotFound):
		default:
			s.logger.Warn("abandon idle session", "session_id", sess.ID, "error", err)
		}
	}

	rep.Purged, err = s.sessions.Purge(ctx, cutoff)
	if err != nil {
		return rep, fmt.Errorf("purge sessions: %w", err)
	}
	return rep, nil
}

func (s *Service) activeSession(ctx context.Context, sessionID string) (*model.Session, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, s.finishedError(ctx, sessionID)
	}
	if err != nil {
		return nil, err
	}
	switch sess.Status {
	case model.SessionCompleted:
		return nil, &SessionError{Err: ErrSessionCompleted, Language: sess.Language}
	case model.SessionAbandoned:
		return nil, &SessionError{Err: ErrSessionAbandoned, Language: sess.Language}
	}
	return sess, nil
}

// finishedError explains a session missing from the store. Purged sessions
// still have a result, so they report their terminal state.
func (s *Service) finishedError(ctx context.Context, sessionID string) error {
	r, err := s.storedResult(ctx, sessionID)
	if err != nil {
		return err
	}
	switch r.Status {
	case model.SessionCompleted:
		return &SessionError{Err: ErrSessionCompleted, Language: r.Language}
	case model.SessionAbandoned:
		return &SessionError{Err: ErrSessionAbandoned, Language: r.Language}
	}
	return ErrSessionNotFound
}

// storedResult reads a persisted result, mapping a missing one to
// ErrSessionNotFound.
func (s *Service) storedResult(ctx context.Context, sessionID string) (*model.Result, error) {
	if s.results == nil {
		return nil, ErrSessionNotFound
	}
	r, err := s.results.GetResult(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load result: %w", err)
	}
	if r == nil {
		return nil, ErrSessionNotFound
	}
	return r, nil
}

// acquire marks a session as having a mutation in flight.
func (s *Service) acquire(sessionID string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[sessionID]; busy {
		return nil, ErrSessionBusy
	}
	s.inflight[sessionID] = struct{}{}
	return func() {
		s.mu.Lock()
		delete(s.inflight, sessionID)
		s.mu.Unlock()
	}, nil
}

func (s *Service) recordUsage(ctx context.Context, questionID int64, correct bool) {
	if s.usage == nil {
		return
	}
	if err := s.usage.RecordQuestionUsage(ctx, questionID, correct); err != nil {
		s.logger.Warn("record question usage", "question_id", questionID, "error", err)
	}
}

func (s *Service) persist(ctx context.Context, r *model.Result) {
	if s.results == nil {
		return
	}
	id, err := s.results.SaveResult(ctx, *r)
	if err != nil {
		s.logger.Error("save result", "session_id", r.SessionID, "error", err)
		return
	}
	r.ID = id
}
