// Package grades manages the lifecycle of grade records: lazy creation,
// manual override by a reviewer, the publish gate and the student view.
package grades

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/examgrader/internal/apperr"
	"github.com/pavelanni/examgrader/internal/grading"
	"github.com/pavelanni/examgrader/internal/model"
	"github.com/pavelanni/examgrader/internal/notify"
	"github.com/pavelanni/examgrader/internal/validate"
)

// DisplayPendingReview is the only status a student sees before publication.
const DisplayPendingReview = "pending review"

// Store is the persistence the manager needs.
type Store interface {
	GetAttempt(ctx context.Context, id string) (*model.ExamAttempt, error)
	GetExam(ctx context.Context, id string) (*model.Exam, error)
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	IsParentOf(ctx context.Context, parentID, studentID string) (bool, error)
	GetAnswers(ctx context.Context, attemptID string) (map[string]model.Answer, error)
	EnsureGrade(ctx context.Context, attemptID string, maxScore int) (*model.Grade, error)
	UpdateGrade(ctx context.Context, attemptID string, fn func(g *model.Grade) error) (*model.Grade, error)
	PublishGrade(ctx context.Context, attemptID string, at time.Time) (bool, error)
}

// Manager implements the grade record operations.
type Manager struct {
	store    Store
	notifier notify.Notifier
	now      func() time.Time
}

// NewManager creates a Manager. A nil notifier logs only.
func NewManager(s Store, n notify.Notifier) *Manager {
	if n == nil {
		n = notify.Log{}
	}
	return &Manager{store: s, notifier: n, now: time.Now}
}

// AutomatedStatus is the status recorded by the automated pass: COMPLETED
// only when every question was resolved without a human.
func AutomatedStatus(results []grading.Result) model.GradeStatus {
	for _, r := range results {
		if r.NeedsReview {
			return model.GradePending
		}
	}
	return model.GradeCompleted
}

// QuestionView is one question of a grade view with its answer.
type QuestionView struct {
	QuestionID string             `json:"questionId"`
	Position   int                `json:"position"`
	Type       model.QuestionType `json:"type"`
	Text       string             `json:"text"`
	Marks      int                `json:"marks"`
	Answer     json.RawMessage    `json:"answer,omitempty"`
	Answered   bool               `json:"answered"`

	// Hidden from students until the grade is published.
	Score     *float64 `json:"score,omitempty"`
	IsCorrect *bool    `json:"isCorrect,omitempty"`
	Feedback  *string  `json:"feedback,omitempty"`

	// Reviewer only.
	Strategy      model.Strategy  `json:"strategy,omitempty"`
	NeedsReview   bool            `json:"needsReview,omitempty"`
	AIScore       *float64        `json:"aiScore,omitempty"`
	AIFeedback    *string         `json:"aiFeedback,omitempty"`
	CorrectAnswer json.RawMessage `json:"correctAnswer,omitempty"`
}

// View is a grade as returned by the read API.
type View struct {
	AttemptID     string            `json:"attemptId"`
	ExamID        string            `json:"examId"`
	ExamTitle     string            `json:"examTitle"`
	StudentID     string            `json:"studentId"`
	IsCompleted   bool              `json:"isCompleted"`
	Status        model.GradeStatus `json:"status"`
	DisplayStatus string            `json:"displayStatus"`
	IsPublished   bool              `json:"isPublished"`
	PublishedAt   *time.Time        `json:"publishedAt,omitempty"`
	MaxScore      int               `json:"maxScore"`

	// Hidden from students until the grade is published.
	TotalScore      *float64 `json:"totalScore,omitempty"`
	Percentage      *int     `json:"percentage,omitempty"`
	Letter          *string  `json:"grade,omitempty"`
	OverallFeedback *string  `json:"overallFeedback,omitempty"`

	Questions []QuestionView `json:"questions"`
}

// OverrideInput is a reviewer's manual grade.
type OverrideInput struct {
	TotalScore *float64          `json:"totalScore" validate:"required,gte=0"`
	Status     model.GradeStatus `json:"status,omitempty" validate:"omitempty,oneof=PENDING COMPLETED"`
	Feedback   *string           `json:"feedback,omitempty" validate:"omitempty,max=10000"`
}

// subject is the attempt a grade operation is about.
type subject struct {
	attempt *model.ExamAttempt
	exam    *model.Exam
}

func (m *Manager) load(ctx context.Context, attemptID string) (subject, error) {
	a, err := m.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return subject{}, fmt.Errorf("load attempt: %w", err)
	}
	if a == nil {
		return subject{}, apperr.NotFound("attempt", attemptID)
	}
	e, err := m.store.GetExam(ctx, a.ExamID)
	if err != nil {
		return subject{}, fmt.Errorf("load exam: %w", err)
	}
	if e == nil {
		return subject{}, apperr.NotFound("exam", a.ExamID)
	}
	return subject{attempt: a, exam: e}, nil
}

// canReview reports whether the user has authority over the attempt's grade:
// an admin, the exam's creator, or a parent linked to the student.
func (m *Manager) canReview(ctx context.Context, u *model.User, s subject) (bool, error) {
	if u == nil || !u.Role.IsReviewer() {
		return false, nil
	}
	if u.Role == model.UserRoleAdmin || s.exam.CreatedBy == u.ID {
		return true, nil
	}
	if u.Role == model.UserRoleParent {
		ok, err := m.store.IsParentOf(ctx, u.ID, s.attempt.StudentID)
		if err != nil {
			return false, fmt.Errorf("check parent link: %w", err)
		}
		return ok, nil
	}
	return false, nil
}

func (m *Manager) authorizeReviewer(ctx context.Context, u *model.User, s subject) error {
	ok, err := m.canReview(ctx, u, s)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Forbidden("not authorized to grade attempt %s", s.attempt.ID)
	}
	return nil
}

// Get returns the grade view of an attempt, creating a PENDING grade if
// none exists. Students may read only their own attempts and see scores
// only after publication.
func (m *Manager) Get(ctx context.Context, viewer *model.User, attemptID string) (*View, error) {
	s, err := m.load(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if viewer == nil {
		return nil, apperr.Forbidden("authentication required")
	}
	isOwner := viewer.Role == model.UserRoleStudent && viewer.ID == s.attempt.StudentID
	reviewer, err := m.canReview(ctx, viewer, s)
	if err != nil {
		return nil, err
	}
	if !isOwner && !reviewer {
		return nil, apperr.Forbidden("not authorized to view attempt %s", attemptID)
	}

	g, err := m.store.EnsureGrade(ctx, attemptID, s.exam.TotalMarks())
	if err != nil {
		return nil, fmt.Errorf("load grade: %w", err)
	}
	answers, err := m.store.GetAnswers(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("load answers: %w", err)
	}

	return buildView(s, g, answers, !reviewer), nil
}

func buildView(s subject, g *model.Grade, answers map[string]model.Answer, asStudent bool) *View {
	v := &View{
		AttemptID:   s.attempt.ID,
		ExamID:      s.exam.ID,
		ExamTitle:   s.exam.Title,
		StudentID:   s.attempt.StudentID,
		IsCompleted: s.attempt.IsCompleted,
		Status:      g.Status,
		IsPublished: g.IsPublished,
		PublishedAt: g.PublishedAt,
		MaxScore:    s.exam.TotalMarks(),
		Questions:   make([]QuestionView, 0, len(s.exam.Questions)),
	}
	if g.MaxScore > 0 {
		v.MaxScore = g.MaxScore
	}
	hidden := asStudent && !g.IsPublished
	if hidden {
		v.Status = model.GradePending
		v.DisplayStatus = DisplayPendingReview
	} else {
		v.DisplayStatus = displayStatus(g)
		total, pct, letter := g.TotalScore, g.Percentage, g.Letter
		v.TotalScore, v.Percentage, v.Letter = &total, &pct, &letter
		if g.OverallFeedback != "" {
			fb := g.OverallFeedback
			v.OverallFeedback = &fb
		}
	}

	for _, q := range s.exam.Questions {
		qv := QuestionView{
			QuestionID: q.ID,
			Position:   q.Position,
			Type:       q.Type,
			Text:       q.Text,
			Marks:      q.Marks,
		}
		a, ok := answers[q.ID]
		if ok {
			qv.Answer = a.Answer
			qv.Answered = !grading.IsBlank(a.Answer)
		}
		if ok && !hidden {
			score, fb := a.FinalScore, a.Feedback
			qv.Score, qv.Feedback, qv.IsCorrect = &score, &fb, a.IsCorrect
		}
		if !asStudent {
			qv.CorrectAnswer = q.CorrectAnswer
			if ok {
				qv.Strategy = a.Strategy
				qv.NeedsReview = a.NeedsReview
				qv.AIScore = a.AIScore
				qv.AIFeedback = a.AIFeedback
			}
		}
		v.Questions = append(v.Questions, qv)
	}
	return v
}

func displayStatus(g *model.Grade) string {
	switch {
	case g.IsPublished:
		return "published"
	case g.Status == model.GradeCompleted:
		return "graded"
	default:
		return DisplayPendingReview
	}
}

// Override records a reviewer's manual grade. The grade becomes COMPLETED
// unless PENDING is requested for a grade that is still pending, which
// saves a draft score. A COMPLETED grade never moves back to PENDING.
func (m *Manager) Override(ctx context.Context, reviewer *model.User, attemptID string, in OverrideInput) (*model.Grade, error) {
	if err := validate.Struct("invalid grade", in); err != nil {
		return nil, err
	}
	s, err := m.load(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if err := m.authorizeReviewer(ctx, reviewer, s); err != nil {
		return nil, err
	}
	if !s.attempt.IsCompleted {
		return nil, apperr.Validation("attempt has not been submitted")
	}
	maxScore := s.exam.TotalMarks()
	if *in.TotalScore > float64(maxScore) {
		return nil, apperr.Validation("invalid grade", apperr.FieldError{
			Field: "totalScore",
			Error: fmt.Sprintf("must be between 0 and %d", maxScore),
		})
	}
	pct, err := grading.Percentage(*in.TotalScore, maxScore)
	if err != nil {
		return nil, err
	}
	if _, err := m.store.EnsureGrade(ctx, attemptID, maxScore); err != nil {
		return nil, fmt.Errorf("load grade: %w", err)
	}

	g, err := m.store.UpdateGrade(ctx, attemptID, func(g *model.Grade) error {
		status := model.GradeCompleted
		if in.Status == model.GradePending {
			if g.Status == model.GradeCompleted {
				return apperr.Validation("invalid grade", apperr.FieldError{
					Field: "status",
					Error: "a completed grade cannot return to pending",
				})
			}
			status = model.GradePending
		}
		g.TotalScore = *in.TotalScore
		g.MaxScore = maxScore
		g.Percentage = pct
		g.Letter = grading.LetterFor(pct)
		g.Status = status
		g.GradedBy = reviewer.ID
		if in.Feedback != nil {
			g.OverallFeedback = *in.Feedback
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("grade overridden", "attempt_id", attemptID, "reviewer_id", reviewer.ID,
		"total_score", g.TotalScore, "status", g.Status)
	return g, nil
}

// Publish makes a COMPLETED grade visible to the student. Publishing an
// already-published grade is a no-op and sends no notification.
func (m *Manager) Publish(ctx context.Context, reviewer *model.User, attemptID string) (*model.Grade, error) {
	s, err := m.load(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if err := m.authorizeReviewer(ctx, reviewer, s); err != nil {
		return nil, err
	}
	g, err := m.store.EnsureGrade(ctx, attemptID, s.exam.TotalMarks())
	if err != nil {
		return nil, fmt.Errorf("load grade: %w", err)
	}
	if g.IsPublished {
		return g, nil
	}
	if g.Status != model.GradeCompleted {
		return nil, apperr.Validation("grade is still pending review and cannot be published")
	}

	now := m.now().UTC().Truncate(time.Millisecond)
	changed, err := m.store.PublishGrade(ctx, attemptID, now)
	if err != nil {
		return nil, err
	}
	if changed {
		g.IsPublished = true
		g.PublishedAt = &now
		slog.Info("grade published", "attempt_id", attemptID, "reviewer_id", reviewer.ID)
		m.notifyPublished(ctx, s, g)
	}
	return g, nil
}

// GradeAndPublish overrides the grade and, when the result is COMPLETED, publishes it.
func (m *Manager) GradeAndPublish(ctx context.Context, reviewer *model.User, attemptID string, in OverrideInput) (*model.Grade, error) {
	g, err := m.Override(ctx, reviewer, attemptID, in)
	if err != nil {
		return nil, err
	}
	if g.Status != model.GradeCompleted {
		return g, nil
	}
	return m.Publish(ctx, reviewer, attemptID)
}

func (m *Manager) notifyPublished(ctx context.Context, s subject, g *model.Grade) {
	ev := notify.Event{
		Type:        notify.EventGradePublished,
		RecipientID: s.attempt.StudentID,
		AttemptID:   s.attempt.ID,
		ExamID:      s.exam.ID,
		ExamTitle:   s.exam.Title,
		Percentage:  g.Percentage,
		Letter:      g.Letter,
		OccurredAt:  *g.PublishedAt,
	}
	if u, err := m.store.GetUserByID(ctx, s.attempt.StudentID); err == nil && u != nil {
		ev.RecipientName = u.DisplayName
		ev.RecipientEmail = u.Email
	}
	if err := m.notifier.Notify(ctx, ev); err != nil {
		slog.Error("notification failed", "attempt_id", s.attempt.ID, "type", ev.Type, "error", err)
	}
}
