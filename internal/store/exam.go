package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pavelanni/examgrader/internal/model"
)

// CreateExam inserts an exam with its questions in one transaction. Empty
// IDs are generated and written back to e. Question positions follow slice order.
func (s *Store) CreateExam(ctx context.Context, e *model.Exam) error {
	if e.ID == "" {
		e.ID = newID()
	}
	if e.Status == "" {
		e.Status = model.ExamActive
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO exams (id, title, created_by, status, difficulty, grade_level, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			e.ID, e.Title, e.CreatedBy, string(e.Status), e.Difficulty, e.GradeLevel, toMillis(e.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert exam: %w", err)
		}
		for i := range e.Questions {
			q := &e.Questions[i]
			if q.ID == "" {
				q.ID = newID()
			}
			q.ExamID = e.ID
			q.Position = i + 1
			_, err := tx.ExecContext(ctx,
				`INSERT INTO questions (id, exam_id, position, type, text, marks, correct_answer)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				q.ID, q.ExamID, q.Position, string(q.Type), q.Text, q.Marks, string(q.CorrectAnswer))
			if err != nil {
				return fmt.Errorf("insert question %d: %w", q.Position, err)
			}
		}
		return nil
	})
}

// SetExamStatus changes an exam's authoring status.
func (s *Store) SetExamStatus(ctx context.Context, examID string, status model.ExamStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE exams SET status = $1 WHERE id = $2`, string(status), examID)
	return err
}

// GetExam returns an exam with its questions in canonical order, or nil if none exists.
func (s *Store) GetExam(ctx context.Context, id string) (*model.Exam, error) {
	var e model.Exam
	var status string
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_by, status, difficulty, grade_level, created_at
		 FROM exams WHERE id = $1`, id,
	).Scan(&e.ID, &e.Title, &e.CreatedBy, &status, &e.Difficulty, &e.GradeLevel, &created)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.Status = model.ExamStatus(status)
	e.CreatedAt = fromMillis(created)

	qs, err := s.listQuestions(ctx, id)
	if err != nil {
		return nil, err
	}
	e.Questions = qs
	return &e, nil
}

func (s *Store) listQuestions(ctx context.Context, examID string) ([]model.Question, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, exam_id, position, type, text, marks, correct_answer
		 FROM questions WHERE exam_id = $1 ORDER BY position`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		var q model.Question
		var qt, correct string
		if err := rows.Scan(&q.ID, &q.ExamID, &q.Position, &qt, &q.Text, &q.Marks, &correct); err != nil {
			return nil, err
		}
		q.Type = model.QuestionType(qt)
		if correct != "" {
			q.CorrectAnswer = json.RawMessage(correct)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// CreateClass inserts a class with its members and returns its ID.
func (s *Store) CreateClass(ctx context.Context, c model.Class) (string, error) {
	if c.ID == "" {
		c.ID = newID()
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO classes (id, name) VALUES ($1, $2)`, c.ID, c.Name); err != nil {
			return fmt.Errorf("insert class: %w", err)
		}
		for _, sid := range c.StudentIDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO class_members (class_id, student_id) VALUES ($1, $2)
				 ON CONFLICT (class_id, student_id) DO NOTHING`, c.ID, sid); err != nil {
				return fmt.Errorf("add class member %s: %w", sid, err)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

// AssignExam records an assignment of an exam to a student or a class.
func (s *Store) AssignExam(ctx context.Context, a model.Assignment) (string, error) {
	if a.ID == "" {
		a.ID = newID()
	}
	if a.StudentID == "" && a.ClassID == "" {
		return "", fmt.Errorf("assignment of exam %s needs a student or a class", a.ExamID)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO exam_assignments (id, exam_id, student_id, class_id, active)
		 VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.ExamID, nullString(a.StudentID), nullString(a.ClassID), a.Active)
	if err != nil {
		return "", fmt.Errorf("assign exam %s: %w", a.ExamID, err)
	}
	return a.ID, nil
}

// IsAssigned reports whether the student has an active assignment to the
// exam, either directly or through a class they belong to.
func (s *Store) IsAssigned(ctx context.Context, examID, studentID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM exam_assignments a
		 WHERE a.exam_id = $1 AND a.active = $2
		   AND (a.student_id = $3
		        OR a.class_id IN (SELECT class_id FROM class_members WHERE student_id = $3))`,
		examID, true, studentID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check assignment: %w", err)
	}
	return n > 0, nil
}
