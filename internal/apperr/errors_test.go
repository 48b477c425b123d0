package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"validation", Validation("bad"), http.StatusBadRequest},
		{"already submitted", AlreadySubmitted("a1"), http.StatusBadRequest},
		{"forbidden", Forbidden("not yours"), http.StatusForbidden},
		{"not assigned", NotAssigned("e1", "s1"), http.StatusForbidden},
		{"not found", NotFound("exam", "e1"), http.StatusNotFound},
		{"wrapped not found", fmt.Errorf("load: %w", NotFound("attempt", "a1")), http.StatusNotFound},
		{"config", Config("no marks"), http.StatusInternalServerError},
		{"external", External("score", errors.New("boom"), true), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestNotAssignedIsAuthorization(t *testing.T) {
	err := NotAssigned("e1", "s1")
	if !errors.Is(err, ErrNotAssigned) {
		t.Error("expected ErrNotAssigned")
	}
	if !errors.Is(err, ErrAuthorization) {
		t.Error("expected ErrAuthorization")
	}
}

func TestExternalServiceError(t *testing.T) {
	err := fmt.Errorf("grading: %w", External("score", ErrServiceUnavailable, false))
	if !errors.Is(err, ErrExternalService) {
		t.Error("expected ErrExternalService")
	}
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Error("expected wrapped ErrServiceUnavailable")
	}
	if IsTransient(err) {
		t.Error("unavailable service should not be transient")
	}
	if !IsTransient(External("score", errors.New("reset"), true)) {
		t.Error("expected transient")
	}
	if IsTransient(errors.New("plain")) {
		t.Error("plain errors are not transient")
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := Validation("invalid submission",
		FieldError{Field: "examId", Error: "this field is required"},
		FieldError{Field: "answers[1].questionId", Error: "duplicate question"},
	)
	want := "invalid submission (examId: this field is required; answers[1].questionId: duplicate question)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
