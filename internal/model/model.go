package model

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleAdmin manages the question bank and sessions.
	UserRoleAdmin UserRole = "admin"
	// UserRoleSupervisor can read results and statistics.
	UserRoleSupervisor UserRole = "supervisor"
)

// User represents a back-office user.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

// Level is the difficulty tier of a question.
type Level int

const (
	LevelEasy   Level = 1
	LevelMedium Level = 2
	LevelHard   Level = 3
)

// Levels lists every level from easiest to hardest.
var Levels = []Level{LevelEasy, LevelMedium, LevelHard}

// Valid reports whether l is one of the known levels.
func (l Level) Valid() bool {
	return l >= LevelEasy && l <= LevelHard
}

func (l Level) String() string {
	switch l {
	case LevelEasy:
		return "easy"
	case LevelMedium:
		return "medium"
	case LevelHard:
		return "hard"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// Language is a supported viva language.
type Language string

const (
	LangHindi   Language = "hi"
	LangEnglish Language = "en"
)

// ParseLanguage normalizes a language tag or name. An empty string
// yields the zero value so callers can apply their own default.
func ParseLanguage(s string) (Language, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "hi", "hin", "hindi":
		return LangHindi, nil
	case "en", "eng", "english":
		return LangEnglish, nil
	default:
		return "", fmt.Errorf("unsupported language %q", s)
	}
}

// Valid reports whether l is a supported language.
func (l Language) Valid() bool {
	return l == LangHindi || l == LangEnglish
}

// Other returns the alternate supported language.
func (l Language) Other() Language {
	if l == LangEnglish {
		return LangHindi
	}
	return LangEnglish
}

// Topic is the machine or subject area a question bank is scoped to.
type Topic struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Question is one entry of the question bank.
type Question struct {
	ID             int64     `json:"id"`
	TopicID        int64     `json:"topic_id"`
	Text           string    `json:"text"`
	ExpectedAnswer string    `json:"expected_answer"`
	Level          Level     `json:"level"`
	Language       Language  `json:"language"`
	Keywords       []string  `json:"keywords,omitempty"`
	Category       string    `json:"category,omitempty"`
	Active         bool      `json:"active"`
	TimesAsked     int       `json:"times_asked"`
	TimesCorrect   int       `json:"times_correct"`
	CreatedAt      time.Time `json:"created_at"`
}

// Classification buckets an evaluation score.
type Classification string

const (
	ClassPass    Classification = "pass"
	ClassPartial Classification = "partial"
	ClassFail    Classification = "fail"
)

// Classify maps a 0..100 score onto pass (>=70), partial (40..69) or fail.
func Classify(score int) Classification {
	switch {
	case score >= 70:
		return ClassPass
	case score >= 40:
		return ClassPartial
	default:
		return ClassFail
	}
}

// Evaluation is the outcome of scoring one answer.
type Evaluation struct {
	Score          int            `json:"score"`
	Classification Classification `json:"classification"`
	Feedback       string         `json:"feedback"`
	Degraded       bool           `json:"degraded,omitempty"`
	Strategy       string         `json:"strategy,omitempty"`
	CorrectAnswer  string         `json:"correct_answer,omitempty"`
}

// AnswerRecord is one recorded answer within a session.
type AnswerRecord struct {
	QuestionID     int64      `json:"question_id"`
	QuestionText   string     `json:"question_text"`
	Level          Level      `json:"level"`
	Answer         string     `json:"answer"`
	ExpectedAnswer string     `json:"expected_answer"`
	Evaluation     Evaluation `json:"evaluation"`
	Skipped        bool       `json:"skipped,omitempty"`
	TimeTakenMs    int64      `json:"time_taken_ms"`
	AnsweredAt     time.Time  `json:"answered_at"`
}

// SessionStatus is the lifecycle state of a viva session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionAbandoned SessionStatus = "abandoned"
)

// Terminal reports whether no further transitions are possible.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionAbandoned
}

// Session is one viva attempt. Questions is the snapshot sampled at start.
type Session struct {
	ID              string         `json:"id"`
	SubjectID       string         `json:"subject_id"`
	SubjectName     string         `json:"subject_name,omitempty"`
	TopicID         int64          `json:"topic_id"`
	Language        Language       `json:"language"`
	Questions       []Question     `json:"questions"`
	CurrentIndex    int            `json:"current_index"`
	Answers         []AnswerRecord `json:"answers"`
	Status          SessionStatus  `json:"status"`
	StartedAt       time.Time      `json:"started_at"`
	EndedAt         *time.Time     `json:"ended_at,omitempty"`
	LastActivity    time.Time      `json:"last_activity"`
	QuestionAskedAt time.Time      `json:"question_asked_at"`
}

// Total returns the number of questions in the session.
func (s *Session) Total() int {
	return len(s.Questions)
}

// CurrentQuestion returns the question at CurrentIndex, if any remain.
func (s *Session) CurrentQuestion() (Question, bool) {
	if s.CurrentIndex < 0 || s.CurrentIndex >= len(s.Questions) {
		return Question{}, false
	}
	return s.Questions[s.CurrentIndex], true
}

// Clone returns a deep copy so stores never share slices with callers.
func (s *Session) Clone() *Session {
	c := *s
	c.Questions = make([]Question, len(s.Questions))
	for i, q := range s.Questions {
		q.Keywords = append([]string(nil), q.Keywords...)
		c.Questions[i] = q
	}
	c.Answers = append([]AnswerRecord(nil), s.Answers...)
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	return &c
}

// Grade maps an average score to a letter grade.
func Grade(avg float64) string {
	switch {
	case avg >= 90:
		return "A+"
	case avg >= 80:
		return "A"
	case avg >= 70:
		return "B+"
	case avg >= 60:
		return "B"
	case avg >= 50:
		return "C"
	case avg >= 40:
		return "D"
	default:
		return "F"
	}
}

// PassMark is the minimum average score for a passed viva.
const PassMark = 50.0

// LevelStats aggregates answers for one difficulty level.
type LevelStats struct {
	Level        Level   `json:"level"`
	Total        int     `json:"total"`
	Answered     int     `json:"answered"`
	Correct      int     `json:"correct"`
	Partial      int     `json:"partial"`
	Wrong        int     `json:"wrong"`
	ScoreSum     int     `json:"score_sum"`
	AverageScore float64 `json:"average_score"`
}

// Improvement points the candidate to a question worth revisiting.
type Improvement struct {
	Question      string `json:"question"`
	YourAnswer    string `json:"your_answer"`
	CorrectAnswer string `json:"correct_answer"`
}

// Result is the persisted outcome of a finished session.
type Result struct {
	ID              int64          `json:"id"`
	SessionID       string         `json:"session_id"`
	SubjectID       string         `json:"subject_id"`
	SubjectName     string         `json:"subject_name,omitempty"`
	TopicID         int64          `json:"topic_id"`
	Language        Language       `json:"language"`
	TotalQuestions  int            `json:"total_questions"`
	Answered        int            `json:"answered"`
	Correct         int            `json:"correct"`
	Partial         int            `json:"partial"`
	Wrong           int            `json:"wrong"`
	AverageScore    float64        `json:"average_score"`
	Grade           string         `json:"grade"`
	Passed          bool           `json:"passed"`
	LevelStats      []LevelStats   `json:"level_stats"`
	Answers         []AnswerRecord `json:"answers,omitempty"`
	Improvements    []Improvement  `json:"improvements,omitempty"`
	Message         string         `json:"message"`
	Status          SessionStatus  `json:"status"`
	StartedAt       time.Time      `json:"started_at"`
	CompletedAt     time.Time      `json:"completed_at"`
	DurationSeconds int            `json:"duration_seconds"`
}

// VivaConfig holds runtime viva parameters set via CLI flags.
type VivaConfig struct {
	DefaultLanguage Language
	QuestionCount   int // used when a start request leaves the count unset
	MaxQuestions    int
	Shuffle         bool
	IdleTTL         time.Duration
	EvalTimeout     time.Duration
}

// HistoryFilter narrows result history queries. Zero values mean no filter.
type HistoryFilter struct {
	SubjectID string
	TopicID   int64
	Limit     int
}

// TopicStats aggregates results for one topic.
type TopicStats struct {
	TopicID      int64   `json:"topic_id"`
	TopicName    string  `json:"topic_name"`
	Sessions     int     `json:"sessions"`
	Passed       int     `json:"passed"`
	AverageScore float64 `json:"average_score"`
}

// Stats is the dashboard summary over all persisted results.
type Stats struct {
	TotalSessions int          `json:"total_sessions"`
	Passed        int          `json:"passed"`
	Failed        int          `json:"failed"`
	Abandoned     int          `json:"abandoned"`
	AverageScore  float64      `json:"average_score"`
	Topics        []TopicStats `json:"topics"`
	Recent        []Result     `json:"recent"`
}

// QuestionStats reports usage counters for one question.
type QuestionStats struct {
	QuestionID   int64    `json:"question_id"`
	Text         string   `json:"text"`
	Level        Level    `json:"level"`
	Language     Language `json:"language"`
	Active       bool     `json:"active"`
	TimesAsked   int      `json:"times_asked"`
	TimesCorrect int      `json:"times_correct"`
	Accuracy     float64  `json:"accuracy"`
}

// QuestionFile is the on-disk question bank format (JSON or TOML).
type QuestionFile struct {
	Topic       string           `json:"topic" toml:"topic"`
	Description string           `json:"description,omitempty" toml:"description"`
	Language    string           `json:"language,omitempty" toml:"language"`
	Questions   []QuestionImport `json:"questions" toml:"questions"`
}

// QuestionImport is one question entry in a QuestionFile.
type QuestionImport struct {
	Text     string   `json:"text" toml:"text"`
	Answer   string   `json:"answer" toml:"answer"`
	Level    int      `json:"level" toml:"level"`
	Language string   `json:"language,omitempty" toml:"language"`
	Keywords []string `json:"keywords,omitempty" toml:"keywords"`
	Category string   `json:"category,omitempty" toml:"category"`
}
