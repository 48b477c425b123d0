// Package apperr defines the error taxonomy of the grading pipeline.
//
// Structural errors (validation, authorization, not found, already submitted)
// abort a request and map to an HTTP status. External service errors are
// recovered inside the assisted grader and never reach a submitter.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrAuthorization      = errors.New("not authorized")
	ErrNotAssigned        = errors.New("exam not assigned")
	ErrNotFound           = errors.New("not found")
	ErrAlreadySubmitted   = errors.New("attempt already submitted")
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrConfig             = errors.New("configuration error")
)

// FieldError is used to indicate an error with a specific request field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ValidationError reports malformed or missing input.
type ValidationError struct {
	Msg    string
	Fields []FieldError
}

// Validation creates a ValidationError.
func Validation(msg string, fields ...FieldError) error {
	return &ValidationError{Msg: msg, Fields: fields}
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Msg
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Error)
	}
	return e.Msg + " (" + strings.Join(parts, "; ") + ")"
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// AuthorizationError reports a role or ownership mismatch.
type AuthorizationError struct {
	Msg string
}

// Forbidden creates an AuthorizationError.
func Forbidden(format string, args ...any) error {
	return &AuthorizationError{Msg: fmt.Sprintf(format, args...)}
}

func (e *AuthorizationError) Error() string { return e.Msg }

func (e *AuthorizationError) Is(target error) bool { return target == ErrAuthorization }

// NotAssignedError reports a student without an active assignment to an exam.
// It is also an authorization failure.
type NotAssignedError struct {
	ExamID    string
	StudentID string
}

// NotAssigned creates a NotAssignedError.
func NotAssigned(examID, studentID string) error {
	return &NotAssignedError{ExamID: examID, StudentID: studentID}
}

func (e *NotAssignedError) Error() string {
	return fmt.Sprintf("student %s is not assigned to exam %s", e.StudentID, e.ExamID)
}

func (e *NotAssignedError) Is(target error) bool {
	return target == ErrNotAssigned || target == ErrAuthorization
}

// NotFoundError reports a missing exam, attempt, question or grade.
type NotFoundError struct {
	Entity string
	ID     string
}

// NotFound creates a NotFoundError.
func NotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// AlreadySubmittedError is returned when an attempt has already been completed.
type AlreadySubmittedError struct {
	AttemptID string
}

// AlreadySubmitted creates an AlreadySubmittedError.
func AlreadySubmitted(attemptID string) error {
	return &AlreadySubmittedError{AttemptID: attemptID}
}

func (e *AlreadySubmittedError) Error() string {
	return fmt.Sprintf("attempt %s already submitted", e.AttemptID)
}

func (e *AlreadySubmittedError) Is(target error) bool { return target == ErrAlreadySubmitted }

// ExternalServiceError wraps a failure of the assisted scoring dependency.
// Transient errors may be retried.
type ExternalServiceError struct {
	Op        string
	Err       error
	Transient bool
}

// External creates an ExternalServiceError.
func External(op string, err error, transient bool) error {
	return &ExternalServiceError{Op: op, Err: err, Transient: transient}
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

func (e *ExternalServiceError) Is(target error) bool { return target == ErrExternalService }

// IsTransient reports whether err is an ExternalServiceError worth retrying.
func IsTransient(err error) bool {
	var ext *ExternalServiceError
	if errors.As(err, &ext) {
		return ext.Transient
	}
	return false
}

// ConfigError reports an exam or deployment that cannot be graded as configured.
type ConfigError struct {
	Msg string
}

// Config creates a ConfigError.
func Config(format string, args ...any) error {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

func (e *ConfigError) Error() string { return e.Msg }

func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

// HTTPStatus maps an error to the status code surfaced by the API.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation), errors.Is(err, ErrAlreadySubmitted):
		return http.StatusBadRequest
	case errors.Is(err, ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
