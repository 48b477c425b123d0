package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pavelanni/examgrader/internal/apperr"
	"github.com/pavelanni/examgrader/internal/model"
)

const gradeColumns = `id, attempt_id, total_score, max_score, percentage, letter, status, is_published,
	published_at, overall_feedback, ai_analysis, graded_by, updated_at`

func scanGrade(row interface{ Scan(...any) error }) (*model.Grade, error) {
	var g model.Grade
	var status string
	var published sql.NullInt64
	var updated int64
	if err := row.Scan(&g.ID, &g.AttemptID, &g.TotalScore, &g.MaxScore, &g.Percentage, &g.Letter,
		&status, &g.IsPublished, &published, &g.OverallFeedback, &g.AIAnalysis, &g.GradedBy, &updated); err != nil {
		return nil, err
	}
	g.Status = model.GradeStatus(status)
	g.PublishedAt = timePtr(published)
	g.UpdatedAt = fromMillis(updated)
	return &g, nil
}

// GetGrade returns the grade of an attempt, or nil if none exists.
func (s *Store) GetGrade(ctx context.Context, attemptID string) (*model.Grade, error) {
	g, err := scanGrade(s.db.QueryRowContext(ctx,
		`SELECT `+gradeColumns+` FROM grades WHERE attempt_id = $1`, attemptID))
	if isNoRows(err) {
		return nil, nil
	}
	return g, err
}

// EnsureGrade returns the grade of an attempt, creating a PENDING,
// unpublished, zero-score grade if none exists yet.
func (s *Store) EnsureGrade(ctx context.Context, attemptID string, maxScore int) (*model.Grade, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO grades (id, attempt_id, total_score, max_score, percentage, letter, status,
		                     is_published, updated_at)
		 VALUES ($1, $2, 0, $3, 0, $4, $5, $6, $7)
		 ON CONFLICT (attempt_id) DO NOTHING`,
		newID(), attemptID, maxScore, "", string(model.GradePending), false, toMillis(time.Now()))
	if err != nil {
		return nil, fmt.Errorf("materialise grade: %w", err)
	}
	g, err := s.GetGrade(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, apperr.NotFound("grade", attemptID)
	}
	return g, nil
}

// UpdateGrade loads the attempt's grade, applies fn and writes the result
// back inside one transaction. Publish fields are never written here.
// If fn returns an error nothing is written.
func (s *Store) UpdateGrade(ctx context.Context, attemptID string, fn func(g *model.Grade) error) (*model.Grade, error) {
	var out *model.Grade
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		g, err := scanGrade(tx.QueryRowContext(ctx,
			`SELECT `+gradeColumns+` FROM grades WHERE attempt_id = $1`, attemptID))
		if isNoRows(err) {
			return apperr.NotFound("grade", attemptID)
		}
		if err != nil {
			return err
		}
		if err := fn(g); err != nil {
			return err
		}
		g.UpdatedAt = time.Now().UTC()
		_, err = tx.ExecContext(ctx,
			`UPDATE grades SET total_score = $1, max_score = $2, percentage = $3, letter = $4,
			   status = $5, overall_feedback = $6, graded_by = $7, updated_at = $8
			 WHERE attempt_id = $9`,
			g.TotalScore, g.MaxScore, g.Percentage, g.Letter, string(g.Status),
			g.OverallFeedback, g.GradedBy, toMillis(g.UpdatedAt), attemptID)
		if err != nil {
			return fmt.Errorf("update grade: %w", err)
		}
		out = g
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PublishGrade flips is_published from false to true. It reports whether
// this call performed the transition; a grade that is already published is
// left untouched.
func (s *Store) PublishGrade(ctx context.Context, attemptID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE grades SET is_published = $1, published_at = $2, updated_at = $2
		 WHERE attempt_id = $3 AND is_published = $4`,
		true, toMillis(at), attemptID, false)
	if err != nil {
		return false, fmt.Errorf("publish grade: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("publish grade: %w", err)
	}
	return n == 1, nil
}
