package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pavelanni/examgrader/internal/apperr"
	"github.com/pavelanni/examgrader/internal/model"
)

// CreateAttempt starts a new, incomplete attempt.
func (s *Store) CreateAttempt(ctx context.Context, examID, studentID string, startedAt time.Time) (*model.ExamAttempt, error) {
	a := &model.ExamAttempt{
		ID:        newID(),
		ExamID:    examID,
		StudentID: studentID,
		StartedAt: startedAt.UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attempts (id, exam_id, student_id, started_at, is_completed, time_spent)
		 VALUES ($1, $2, $3, $4, $5, 0)`,
		a.ID, a.ExamID, a.StudentID, toMillis(a.StartedAt), false)
	if err != nil {
		return nil, fmt.Errorf("create attempt: %w", err)
	}
	return a, nil
}

// GetAttempt returns an attempt, or nil if none exists.
func (s *Store) GetAttempt(ctx context.Context, id string) (*model.ExamAttempt, error) {
	var a model.ExamAttempt
	var started int64
	var submitted sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, exam_id, student_id, started_at, submitted_at, is_completed, time_spent
		 FROM attempts WHERE id = $1`, id,
	).Scan(&a.ID, &a.ExamID, &a.StudentID, &started, &submitted, &a.IsCompleted, &a.TimeSpent)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.StartedAt = fromMillis(started)
	a.SubmittedAt = timePtr(submitted)
	return &a, nil
}

// ClaimAttempt marks an incomplete attempt as being graded. It fails with
// *apperr.AlreadySubmittedError when the attempt is completed or another
// grading pass claimed it after staleBefore.
func (s *Store) ClaimAttempt(ctx context.Context, id string, now, staleBefore time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE attempts SET grading_started_at = $1
		 WHERE id = $2 AND is_completed = $3
		   AND (grading_started_at IS NULL OR grading_started_at < $4)`,
		toMillis(now), id, false, toMillis(staleBefore))
	if err != nil {
		return fmt.Errorf("claim attempt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim attempt: %w", err)
	}
	if n == 0 {
		return apperr.AlreadySubmitted(id)
	}
	return nil
}

// ReleaseAttempt drops the grading claim on an attempt that was not finalised.
func (s *Store) ReleaseAttempt(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE attempts SET grading_started_at = NULL WHERE id = $1 AND is_completed = $2`,
		id, false)
	if err != nil {
		return fmt.Errorf("release attempt: %w", err)
	}
	return nil
}

// Finalization is everything written when an attempt is submitted.
type Finalization struct {
	AttemptID   string
	SubmittedAt time.Time
	TimeSpent   int
	Answers     []model.Answer
	Grade       model.Grade
}

// FinalizeAttempt marks the attempt completed, inserts its answers and
// records the automated grade, all in one transaction. The completion flag
// is flipped with a conditional update, so of two concurrent submissions
// exactly one succeeds; the other gets *apperr.AlreadySubmittedError and
// nothing is written.
func (s *Store) FinalizeAttempt(ctx context.Context, f Finalization) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE attempts SET is_completed = $1, submitted_at = $2, time_spent = $3
			 WHERE id = $4 AND is_completed = $5`,
			true, toMillis(f.SubmittedAt), f.TimeSpent, f.AttemptID, false)
		if err != nil {
			return fmt.Errorf("complete attempt: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("complete attempt: %w", err)
		}
		if n == 0 {
			return apperr.AlreadySubmitted(f.AttemptID)
		}

		now := toMillis(f.SubmittedAt)
		for _, ans := range f.Answers {
			if err := insertAnswer(ctx, tx, f.AttemptID, ans, now); err != nil {
				return err
			}
		}

		g := f.Grade
		if g.ID == "" {
			g.ID = newID()
		}
		// A grade row may already exist if it was lazily materialised; only a
		// PENDING row is overwritten and publish fields are left alone.
		_, err = tx.ExecContext(ctx,
			`INSERT INTO grades (id, attempt_id, total_score, max_score, percentage, letter, status,
			                     is_published, ai_analysis, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (attempt_id) DO UPDATE SET
			   total_score = EXCLUDED.total_score,
			   max_score = EXCLUDED.max_score,
			   percentage = EXCLUDED.percentage,
			   letter = EXCLUDED.letter,
			   status = EXCLUDED.status,
			   ai_analysis = EXCLUDED.ai_analysis,
			   updated_at = EXCLUDED.updated_at
			 WHERE grades.status = $11`,
			g.ID, f.AttemptID, g.TotalScore, g.MaxScore, g.Percentage, g.Letter, string(g.Status),
			false, g.AIAnalysis, now, string(model.GradePending))
		if err != nil {
			return fmt.Errorf("record grade: %w", err)
		}
		return nil
	})
}

func insertAnswer(ctx context.Context, tx *sql.Tx, attemptID string, a model.Answer, createdAt int64) error {
	if a.ID == "" {
		a.ID = newID()
	}
	var isCorrect sql.NullBool
	if a.IsCorrect != nil {
		isCorrect = sql.NullBool{Bool: *a.IsCorrect, Valid: true}
	}
	var aiScore sql.NullFloat64
	if a.AIScore != nil {
		aiScore = sql.NullFloat64{Float64: *a.AIScore, Valid: true}
	}
	var aiFeedback sql.NullString
	if a.AIFeedback != nil {
		aiFeedback = sql.NullString{String: *a.AIFeedback, Valid: true}
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO answers (id, attempt_id, question_id, answer, strategy, is_correct, ai_score,
		                      ai_feedback, final_score, feedback, needs_review, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, attemptID, a.QuestionID, string(a.Answer), string(a.Strategy), isCorrect, aiScore,
		aiFeedback, a.FinalScore, a.Feedback, a.NeedsReview, createdAt)
	if err != nil {
		return fmt.Errorf("insert answer for question %s: %w", a.QuestionID, err)
	}
	return nil
}

// GetAnswers returns the answers of an attempt keyed by question ID.
func (s *Store) GetAnswers(ctx context.Context, attemptID string) (map[string]model.Answer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, attempt_id, question_id, answer, strategy, is_correct, ai_score, ai_feedback,
		        final_score, feedback, needs_review, created_at
		 FROM answers WHERE attempt_id = $1`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	answers := make(map[string]model.Answer)
	for rows.Next() {
		var a model.Answer
		var payload, strategy string
		var isCorrect sql.NullBool
		var aiScore sql.NullFloat64
		var aiFeedback sql.NullString
		var created int64
		if err := rows.Scan(&a.ID, &a.AttemptID, &a.QuestionID, &payload, &strategy, &isCorrect,
			&aiScore, &aiFeedback, &a.FinalScore, &a.Feedback, &a.NeedsReview, &created); err != nil {
			return nil, err
		}
		if payload != "" {
			a.Answer = json.RawMessage(payload)
		}
		a.Strategy = model.Strategy(strategy)
		if isCorrect.Valid {
			a.IsCorrect = &isCorrect.Bool
		}
		if aiScore.Valid {
			a.AIScore = &aiScore.Float64
		}
		if aiFeedback.Valid {
			a.AIFeedback = &aiFeedback.String
		}
		a.CreatedAt = fromMillis(created)
		answers[a.QuestionID] = a
	}
	return answers, rows.Err()
}

// CountAnswers returns how many answers are stored for an attempt.
func (s *Store) CountAnswers(ctx context.Context, attemptID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM answers WHERE attempt_id = $1`, attemptID).Scan(&n)
	return n, err
}
