package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pavelanni/examgrader/internal/model"
)

// GradeRow is one line of the grade report.
type GradeRow struct {
	AttemptID   string            `json:"attempt_id"`
	ExamID      string            `json:"exam_id"`
	ExamTitle   string            `json:"exam_title"`
	StudentID   string            `json:"student_id"`
	Username    string            `json:"username"`
	DisplayName string            `json:"display_name"`
	SubmittedAt *time.Time        `json:"submitted_at,omitempty"`
	TimeSpent   int               `json:"time_spent"`
	TotalScore  float64           `json:"total_score"`
	MaxScore    int               `json:"max_score"`
	Percentage  int               `json:"percentage"`
	Letter      string            `json:"grade"`
	Status      model.GradeStatus `json:"status"`
	IsPublished bool              `json:"is_published"`
}

// ListGradeRows returns every graded, completed attempt ordered by exam and student.
// An empty examID selects all exams.
func (s *Store) ListGradeRows(ctx context.Context, examID string) ([]GradeRow, error) {
	query := `SELECT a.id, e.id, e.title, u.id, u.username, u.display_name, a.submitted_at, a.time_spent,
	                 g.total_score, g.max_score, g.percentage, g.letter, g.status, g.is_published
	          FROM attempts a
	          JOIN exams e ON e.id = a.exam_id
	          JOIN users u ON u.id = a.student_id
	          JOIN grades g ON g.attempt_id = a.id
	          WHERE a.is_completed = $1`
	args := []any{true}
	if examID != "" {
		query += ` AND e.id = $2`
		args = append(args, examID)
	}
	query += ` ORDER BY e.title, u.username`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []GradeRow
	for rows.Next() {
		var r GradeRow
		var submitted sql.NullInt64
		var status string
		if err := rows.Scan(&r.AttemptID, &r.ExamID, &r.ExamTitle, &r.StudentID, &r.Username, &r.DisplayName,
			&submitted, &r.TimeSpent, &r.TotalScore, &r.MaxScore, &r.Percentage, &r.Letter, &status,
			&r.IsPublished); err != nil {
			return nil, err
		}
		r.SubmittedAt = timePtr(submitted)
		r.Status = model.GradeStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}
