package grading

import (
	"context"
	"encoding/json"

	"github.com/pavelanni/examgrader/internal/model"
)

// FeedbackNoAnswer is recorded for questions the student left blank.
const FeedbackNoAnswer = "No answer provided"

// Result is the graded outcome for a single question.
type Result struct {
	QuestionID string
	Strategy   model.Strategy
	Marks      int
	Score      float64
	Feedback   string
	IsCorrect  *bool
	AIScore    *float64
	AIFeedback *string
	// NeedsReview is true when a human must complete the score.
	NeedsReview bool
	// FellBack is true when the assisted grader could not reach a usable score.
	FellBack bool
}

// Grader routes each question to the grader its strategy names.
type Grader struct {
	assisted *AssistedGrader
}

// NewGrader creates a Grader backed by the given scorer for assisted questions.
func NewGrader(s Scorer, p RetryPolicy) *Grader {
	return &Grader{assisted: NewAssistedGrader(s, p)}
}

// Grade scores one answer. It never fails: unreachable dependencies and
// unsupported question types produce a pending-review result.
func (g *Grader) Grade(ctx context.Context, exam model.Exam, q model.Question, raw json.RawMessage) Result {
	res := Result{QuestionID: q.ID, Marks: q.Marks}

	if IsBlank(raw) {
		res.Strategy = model.StrategyBlank
		res.Feedback = FeedbackNoAnswer
		return res
	}

	res.Strategy = StrategyFor(q.Type)
	switch res.Strategy {
	case model.StrategyObjective:
		resp, _ := DecodeResponse(raw)
		o := GradeObjective(resp, q.CorrectAnswer, q.Marks)
		res.Score = o.Score
		res.Feedback = o.Feedback
		res.IsCorrect = &o.Correct

	case model.StrategyAssisted:
		a := g.assisted.Grade(ctx, ScoreRequest{
			QuestionID:      q.ID,
			Question:        q.Text,
			ReferenceAnswer: referenceText(q.CorrectAnswer),
			StudentAnswer:   answerText(raw),
			MaxMarks:        q.Marks,
			Context:         scoreContext(exam),
		})
		res.Score = a.Score
		res.Feedback = a.Feedback
		res.FellBack = a.FellBack
		res.NeedsReview = a.FellBack
		fb := a.Feedback
		res.AIFeedback = &fb
		if !a.FellBack {
			score := a.Score
			res.AIScore = &score
		}

	default:
		res.Feedback = FeedbackPendingReview
		res.NeedsReview = true
	}
	return res
}

func answerText(raw json.RawMessage) string {
	resp, err := DecodeResponse(raw)
	if err != nil {
		return string(raw)
	}
	return resp.Text()
}

func scoreContext(exam model.Exam) *ScoreContext {
	if exam.Difficulty == "" && exam.GradeLevel == "" {
		return nil
	}
	return &ScoreContext{Difficulty: exam.Difficulty, GradeLevel: exam.GradeLevel}
}
