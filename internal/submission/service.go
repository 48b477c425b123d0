// Package submission accepts a student's answers, grades every question and
// records the attempt, its answers and the automated grade atomically.
package submission

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/examgrader/internal/apperr"
	"github.com/pavelanni/examgrader/internal/grades"
	"github.com/pavelanni/examgrader/internal/grading"
	"github.com/pavelanni/examgrader/internal/model"
	"github.com/pavelanni/examgrader/internal/store"
	"github.com/pavelanni/examgrader/internal/validate"
)

// DefaultConcurrency bounds how many questions are graded at once.
const DefaultConcurrency = 4

// ClaimTTL is how long a grading claim on an attempt blocks other passes.
// A claim older than this is treated as abandoned.
const ClaimTTL = 15 * time.Minute

// Store is the persistence the service needs.
type Store interface {
	GetExam(ctx context.Context, id string) (*model.Exam, error)
	GetAttempt(ctx context.Context, id string) (*model.ExamAttempt, error)
	IsAssigned(ctx context.Context, examID, studentID string) (bool, error)
	CreateAttempt(ctx context.Context, examID, studentID string, startedAt time.Time) (*model.ExamAttempt, error)
	ClaimAttempt(ctx context.Context, id string, now, staleBefore time.Time) error
	ReleaseAttempt(ctx context.Context, id string) error
	FinalizeAttempt(ctx context.Context, f store.Finalization) error
}

// QuestionGrader grades one answer. It must not fail; see grading.Grader.
type QuestionGrader interface {
	Grade(ctx context.Context, exam model.Exam, q model.Question, raw json.RawMessage) grading.Result
}

// AnswerInput is one submitted answer.
type AnswerInput struct {
	QuestionID string          `json:"questionId" validate:"notblank"`
	Answer     json.RawMessage `json:"answer"`
}

// Request is a submission. Without AttemptID a new attempt is started.
type Request struct {
	ExamID    string        `json:"examId" validate:"required"`
	AttemptID string        `json:"attemptId,omitempty"`
	Answers   []AnswerInput `json:"answers" validate:"dive"`
}

// PreliminaryScore is the automated score before any manual review.
type PreliminaryScore struct {
	Score      float64 `json:"score"`
	MaxScore   int     `json:"maxScore"`
	Percentage int     `json:"percentage"`
}

// Result is the outcome of a submission.
type Result struct {
	AttemptID        string            `json:"attemptId"`
	PreliminaryScore PreliminaryScore  `json:"preliminaryScore"`
	Letter           string            `json:"-"`
	Status           model.GradeStatus `json:"status"`
	PendingReview    int               `json:"pendingReview"`

	// Per-question results in canonical order. Not returned to students.
	Results []grading.Result `json:"-"`
}

// Service runs submissions.
type Service struct {
	store       Store
	grader      QuestionGrader
	concurrency int
	now         func() time.Time

	// inflight holds attempt IDs currently being graded in this process.
	inflight sync.Map
}

// NewService creates a Service. concurrency < 1 uses DefaultConcurrency.
func NewService(s Store, g QuestionGrader, concurrency int) *Service {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	return &Service{store: s, grader: g, concurrency: concurrency, now: time.Now}
}

// Submit grades and records a student's answers. Nothing is written unless
// every step succeeds, and an attempt is finalised at most once.
func (s *Service) Submit(ctx context.Context, caller *model.User, req Request) (*Result, error) {
	if caller == nil || caller.Role != model.UserRoleStudent {
		return nil, apperr.Forbidden("only students can submit exams")
	}
	if err := validate.Struct("invalid submission", req); err != nil {
		return nil, err
	}

	exam, err := s.store.GetExam(ctx, req.ExamID)
	if err != nil {
		return nil, fmt.Errorf("load exam: %w", err)
	}
	if exam == nil {
		return nil, apperr.NotFound("exam", req.ExamID)
	}
	if exam.Status == model.ExamDraft {
		return nil, apperr.Validation("exam is not available for submission")
	}
	if exam.TotalMarks() <= 0 {
		return nil, apperr.Config("exam %s has no marks to grade against", exam.ID)
	}
	answers, err := indexAnswers(exam, req.Answers)
	if err != nil {
		return nil, err
	}

	attempt, err := s.resolveAttempt(ctx, caller, exam, req.AttemptID)
	if err != nil {
		return nil, err
	}

	if _, busy := s.inflight.LoadOrStore(attempt.ID, struct{}{}); busy {
		return nil, apperr.AlreadySubmitted(attempt.ID)
	}
	defer s.inflight.Delete(attempt.ID)

	// Once accepted, a submission is graded and recorded in full even if the
	// caller goes away. Every scoring call has its own timeout.
	ctx = context.WithoutCancel(ctx)

	// The claim keeps other processes from grading the same attempt.
	now := s.now()
	if err := s.store.ClaimAttempt(ctx, attempt.ID, now, now.Add(-ClaimTTL)); err != nil {
		return nil, err
	}
	finalized := false
	defer func() {
		if finalized {
			return
		}
		if err := s.store.ReleaseAttempt(ctx, attempt.ID); err != nil {
			slog.Warn("could not release grading claim", "attempt_id", attempt.ID, "error", err)
		}
	}()

	results, err := s.gradeAll(ctx, exam, answers)
	if err != nil {
		return nil, err
	}

	rows := make([]model.Answer, len(results))
	pending := 0
	for i, r := range results {
		rows[i] = model.Answer{
			QuestionID:  r.QuestionID,
			Answer:      answers[r.QuestionID],
			Strategy:    r.Strategy,
			IsCorrect:   r.IsCorrect,
			AIScore:     r.AIScore,
			AIFeedback:  r.AIFeedback,
			FinalScore:  r.Score,
			Feedback:    r.Feedback,
			NeedsReview: r.NeedsReview,
		}
		if r.NeedsReview {
			pending++
		}
	}
	summary, err := grading.SummarizeResults(results)
	if err != nil {
		return nil, err
	}
	status := grades.AutomatedStatus(results)

	submittedAt := s.now().UTC()
	err = s.store.FinalizeAttempt(ctx, store.Finalization{
		AttemptID:   attempt.ID,
		SubmittedAt: submittedAt,
		TimeSpent:   minutesBetween(attempt.StartedAt, submittedAt),
		Answers:     rows,
		Grade: model.Grade{
			TotalScore: summary.TotalScore,
			MaxScore:   summary.MaxScore,
			Percentage: summary.Percentage,
			Letter:     summary.Letter,
			Status:     status,
		},
	})
	if err != nil {
		return nil, err
	}
	finalized = true

	slog.Info("submission graded",
		"attempt_id", attempt.ID, "exam_id", exam.ID, "student_id", caller.ID,
		"score", summary.TotalScore, "max_score", summary.MaxScore,
		"status", status, "pending_review", pending)

	return &Result{
		AttemptID: attempt.ID,
		PreliminaryScore: PreliminaryScore{
			Score:      summary.TotalScore,
			MaxScore:   summary.MaxScore,
			Percentage: summary.Percentage,
		},
		Letter:        summary.Letter,
		Status:        status,
		PendingReview: pending,
		Results:       results,
	}, nil
}

// indexAnswers maps answers by question ID, rejecting duplicates and
// questions that are not part of the exam.
func indexAnswers(exam *model.Exam, in []AnswerInput) (map[string]json.RawMessage, error) {
	known := make(map[string]bool, len(exam.Questions))
	for _, q := range exam.Questions {
		known[q.ID] = true
	}
	out := make(map[string]json.RawMessage, len(in))
	var fields []apperr.FieldError
	for i, a := range in {
		field := fmt.Sprintf("answers[%d].questionId", i)
		switch _, dup := out[a.QuestionID]; {
		case !known[a.QuestionID]:
			fields = append(fields, apperr.FieldError{Field: field, Error: "unknown question"})
		case dup:
			fields = append(fields, apperr.FieldError{Field: field, Error: "duplicate question"})
		default:
			out[a.QuestionID] = a.Answer
		}
	}
	if len(fields) > 0 {
		return nil, apperr.Validation("invalid submission", fields...)
	}
	return out, nil
}

func (s *Service) resolveAttempt(ctx context.Context, caller *model.User, exam *model.Exam, attemptID string) (*model.ExamAttempt, error) {
	if attemptID != "" {
		a, err := s.store.GetAttempt(ctx, attemptID)
		if err != nil {
			return nil, fmt.Errorf("load attempt: %w", err)
		}
		if a == nil {
			return nil, apperr.NotFound("attempt", attemptID)
		}
		if a.StudentID != caller.ID {
			return nil, apperr.Forbidden("attempt %s belongs to another student", attemptID)
		}
		if a.ExamID != exam.ID {
			return nil, apperr.Validation("invalid submission", apperr.FieldError{
				Field: "attemptId",
				Error: "attempt belongs to a different exam",
			})
		}
		if a.IsCompleted {
			return nil, apperr.AlreadySubmitted(a.ID)
		}
		return a, nil
	}

	ok, err := s.store.IsAssigned(ctx, exam.ID, caller.ID)
	if err != nil {
		return nil, fmt.Errorf("check assignment: %w", err)
	}
	if !ok {
		return nil, apperr.NotAssigned(exam.ID, caller.ID)
	}
	a, err := s.store.CreateAttempt(ctx, exam.ID, caller.ID, s.now())
	if err != nil {
		return nil, err
	}
	slog.Debug("attempt started", "attempt_id", a.ID, "exam_id", exam.ID, "student_id", caller.ID)
	return a, nil
}

// gradeAll grades every question of the exam concurrently and returns the
// results in the exam's question order.
func (s *Service) gradeAll(ctx context.Context, exam *model.Exam, answers map[string]json.RawMessage) ([]grading.Result, error) {
	results := make([]grading.Result, len(exam.Questions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, q := range exam.Questions {
		g.Go(func() error {
			results[i] = s.grader.Grade(gctx, *exam, q, answers[q.ID])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func minutesBetween(start, end time.Time) int {
	m := int(math.Round(end.Sub(start).Minutes()))
	if m < 0 {
		return 0
	}
	return m
}
