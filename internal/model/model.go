package model

import (
	"context"
	"encoding/json"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleStudent takes exams.
	UserRoleStudent UserRole = "STUDENT"
	// UserRoleTeacher authors exams and reviews grades.
	UserRoleTeacher UserRole = "TEACHER"
	// UserRoleParent authors exams for, and reviews grades of, linked students.
	UserRoleParent UserRole = "PARENT"
	// UserRoleAdmin can do everything.
	UserRoleAdmin UserRole = "ADMIN"
)

// IsReviewer reports whether the role may grade and publish.
func (r UserRole) IsReviewer() bool {
	return r == UserRoleTeacher || r == UserRoleParent || r == UserRoleAdmin
}

// User represents a system user.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	Email        string    `json:"email,omitempty"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
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

// ExamStatus is the authoring state of an exam.
type ExamStatus string

const (
	ExamDraft  ExamStatus = "DRAFT"
	ExamActive ExamStatus = "ACTIVE"
)

// QuestionType identifies the shape of a question and its answers.
type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "MULTIPLE_CHOICE"
	QuestionTrueFalse      QuestionType = "TRUE_FALSE"
	QuestionMultipleSelect QuestionType = "MULTIPLE_SELECT"
	QuestionShortAnswer    QuestionType = "SHORT_ANSWER"
	QuestionLongAnswer     QuestionType = "LONG_ANSWER"
	QuestionFillBlanks     QuestionType = "FILL_BLANKS"
	QuestionEssay          QuestionType = "ESSAY"
	QuestionFileUpload     QuestionType = "FILE_UPLOAD"
)

// KnownQuestionTypes is the closed set of question types the platform authors.
var KnownQuestionTypes = []QuestionType{
	QuestionMultipleChoice,
	QuestionTrueFalse,
	QuestionMultipleSelect,
	QuestionShortAnswer,
	QuestionLongAnswer,
	QuestionFillBlanks,
	QuestionEssay,
	QuestionFileUpload,
}

// Question represents an exam question.
type Question struct {
	ID       string       `json:"id"`
	ExamID   string       `json:"exam_id"`
	Position int          `json:"position"`
	Type     QuestionType `json:"type"`
	Text     string       `json:"text"`
	Marks    int          `json:"marks"`

	// CorrectAnswer is JSON: a string for MC/TF, an array of strings for
	// MULTIPLE_SELECT, reference text for the rest.
	CorrectAnswer json.RawMessage `json:"correct_answer,omitempty"`
}

// Exam is an ordered list of questions.
type Exam struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	CreatedBy  string     `json:"created_by"`
	Status     ExamStatus `json:"status"`
	Difficulty string     `json:"difficulty,omitempty"`
	GradeLevel string     `json:"grade_level,omitempty"`
	Questions  []Question `json:"questions"`
	CreatedAt  time.Time  `json:"created_at"`
}

// TotalMarks is the sum of question marks.
func (e Exam) TotalMarks() int {
	total := 0
	for _, q := range e.Questions {
		total += q.Marks
	}
	return total
}

// ExamAttempt is one student's run at an exam.
type ExamAttempt struct {
	ID          string     `json:"id"`
	ExamID      string     `json:"exam_id"`
	StudentID   string     `json:"student_id"`
	StartedAt   time.Time  `json:"started_at"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	IsCompleted bool       `json:"is_completed"`
	TimeSpent   int        `json:"time_spent"` // minutes
}

// Strategy is how a question is graded.
type Strategy string

const (
	StrategyObjective  Strategy = "OBJECTIVE"
	StrategyAssisted   Strategy = "ASSISTED"
	StrategyManualOnly Strategy = "MANUAL_ONLY"
	// StrategyBlank marks an unanswered question; it never reaches a grader.
	StrategyBlank Strategy = "BLANK"
)

// Answer is the graded response to one question. Written once per attempt.
type Answer struct {
	ID          string          `json:"id"`
	AttemptID   string          `json:"attempt_id"`
	QuestionID  string          `json:"question_id"`
	Answer      json.RawMessage `json:"answer,omitempty"`
	Strategy    Strategy        `json:"strategy"`
	IsCorrect   *bool           `json:"is_correct,omitempty"`
	AIScore     *float64        `json:"ai_score,omitempty"`
	AIFeedback  *string         `json:"ai_feedback,omitempty"`
	FinalScore  float64         `json:"final_score"`
	Feedback    string          `json:"feedback"`
	NeedsReview bool            `json:"needs_review"`
	CreatedAt   time.Time       `json:"created_at"`
}

// GradeStatus is the review state of a grade.
type GradeStatus string

const (
	GradePending   GradeStatus = "PENDING"
	GradeCompleted GradeStatus = "COMPLETED"
)

// Grade is the durable, reviewable record of an attempt's score.
type Grade struct {
	ID              string      `json:"id"`
	AttemptID       string      `json:"attempt_id"`
	TotalScore      float64     `json:"total_score"`
	MaxScore        int         `json:"max_score"`
	Percentage      int         `json:"percentage"`
	Letter          string      `json:"grade"`
	Status          GradeStatus `json:"status"`
	IsPublished     bool        `json:"is_published"`
	PublishedAt     *time.Time  `json:"published_at,omitempty"`
	OverallFeedback string      `json:"overall_feedback,omitempty"`
	AIAnalysis      string      `json:"ai_analysis,omitempty"`
	GradedBy        string      `json:"graded_by,omitempty"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Assignment grants a student, directly or through a class, access to an exam.
type Assignment struct {
	ID        string `json:"id"`
	ExamID    string `json:"exam_id"`
	StudentID string `json:"student_id,omitempty"`
	ClassID   string `json:"class_id,omitempty"`
	Active    bool   `json:"active"`
}

// Class groups students for assignment.
type Class struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	StudentIDs []string `json:"student_ids"`
}
