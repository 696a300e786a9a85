package viva

import (
	"math"
	"sort"
	"time"

	"github.com/pavelanni/viva/internal/i18n"
	"github.com/pavelanni/viva/internal/model"
)

const maxImprovements = 5

// Summarize builds the result record for a session from its answers. The
// average is the mean of recorded scores rounded to one decimal.
func Summarize(sess *model.Session, completedAt time.Time) model.Result {
	r := model.Result{
		SessionID:      sess.ID,
		SubjectID:      sess.SubjectID,
		SubjectName:    sess.SubjectName,
		TopicID:        sess.TopicID,
		Language:       sess.Language,
		TotalQuestions: sess.Total(),
		Answered:       len(sess.Answers),
		Answers:        append([]model.AnswerRecord(nil), sess.Answers...),
		Status:         sess.Status,
		StartedAt:      sess.StartedAt,
		CompletedAt:    completedAt,
	}
	if d := completedAt.Sub(sess.StartedAt); d > 0 {
		r.DurationSeconds = int(d.Seconds())
	}

	byLevel := make(map[model.Level]*model.LevelStats, len(model.Levels))
	for _, l := range model.Levels {
		byLevel[l] = &model.LevelStats{Level: l}
	}
	for _, q := range sess.Questions {
		if ls, ok := byLevel[q.Level]; ok {
			ls.Total++
		}
	}

	sum := 0
	for _, a := range sess.Answers {
		sum += a.Evaluation.Score
		ls := byLevel[a.Level]
		if ls != nil {
			ls.Answered++
			ls.ScoreSum += a.Evaluation.Score
		}
		switch a.Evaluation.Classification {
		case model.ClassPass:
			r.Correct++
			if ls != nil {
				ls.Correct++
			}
		case model.ClassPartial:
			r.Partial++
			if ls != nil {
				ls.Partial++
			}
		default:
			r.Wrong++
			if ls != nil {
				ls.Wrong++
			}
		}
	}
	if r.Answered > 0 {
		r.AverageScore = round1(float64(sum) / float64(r.Answered))
	}

	for _, l := range model.Levels {
		ls := byLevel[l]
		if ls.Answered > 0 {
			ls.AverageScore = round1(float64(ls.ScoreSum) / float64(ls.Answered))
		}
		r.LevelStats = append(r.LevelStats, *ls)
	}

	r.Grade = model.Grade(r.AverageScore)
	r.Passed = r.AverageScore >= model.PassMark
	r.Improvements = improvements(sess.Answers)
	r.Message = i18n.Lp(string(sess.Language), "SummaryMessage", r.TotalQuestions, map[string]any{
		"Correct": r.Correct,
	})
	return r
}

// improvements lists up to five non-passing answers, lowest score first.
func improvements(answers []model.AnswerRecord) []model.Improvement {
	var missed []model.AnswerRecord
	for _, a := range answers {
		if a.Evaluation.Classification != model.ClassPass {
			missed = append(missed, a)
		}
	}
	sort.SliceStable(missed, func(i, j int) bool {
		return missed[i].Evaluation.Score < missed[j].Evaluation.Score
	})
	if len(missed) > maxImprovements {
		missed = missed[:maxImprovements]
	}
	out := make([]model.Improvement, 0, len(missed))
	for _, a := range missed {
		out = append(out, model.Improvement{
			Question:      a.QuestionText,
			YourAnswer:    a.Answer,
			CorrectAnswer: a.ExpectedAnswer,
		})
	}
	return out
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
