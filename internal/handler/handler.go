// Package handler serves the grading pipeline's JSON HTTP API.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/examgrader/internal/auth"
	"github.com/pavelanni/examgrader/internal/grades"
	"github.com/pavelanni/examgrader/internal/i18n"
	"github.com/pavelanni/examgrader/internal/model"
	"github.com/pavelanni/examgrader/internal/submission"
)

// Store is the persistence the handlers use directly.
type Store interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	Ping(ctx context.Context) error
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store       Store
	tokens      *auth.Service
	submissions *submission.Service
	grades      *grades.Manager
}

// New creates a new Handler.
func New(s Store, tokens *auth.Service, sub *submission.Service, g *grades.Manager) *Handler {
	return &Handler{store: s, tokens: tokens, submissions: sub, grades: g}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Post("/api/auth/login", h.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)

		r.With(requireRole(model.UserRoleStudent)).Post("/api/submissions", h.handleSubmit)
		r.Get("/api/attempts/{attemptID}/grade", h.handleGetGrade)

		r.Group(func(r chi.Router) {
			r.Use(requireRole(model.UserRoleTeacher, model.UserRoleParent, model.UserRoleAdmin))
			r.Post("/api/attempts/{attemptID}/grade", h.handleGrade)
			r.Post("/api/attempts/{attemptID}/publish", h.handlePublish)
		})
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type submitResponse struct {
	AttemptID        string                      `json:"attemptId"`
	Message          string                      `json:"message"`
	PreliminaryScore submission.PreliminaryScore `json:"preliminaryScore"`
	Status           model.GradeStatus           `json:"status"`
	PendingReview    int                         `json:"pendingReview"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submission.Request
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.submissions.Submit(r.Context(), model.UserFromContext(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	msg := i18n.T(r.Context(), "SubmissionGraded")
	if res.PendingReview > 0 {
		msg = i18n.Tp(r.Context(), "AnswersPendingReview", res.PendingReview)
	}
	writeJSON(w, http.StatusCreated, submitResponse{
		AttemptID:        res.AttemptID,
		Message:          msg,
		PreliminaryScore: res.PreliminaryScore,
		Status:           res.Status,
		PendingReview:    res.PendingReview,
	})
}

func (h *Handler) handleGetGrade(w http.ResponseWriter, r *http.Request) {
	view, err := h.grades.Get(r.Context(), model.UserFromContext(r.Context()), chi.URLParam(r, "attemptID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleGrade(w http.ResponseWriter, r *http.Request) {
	var in grades.OverrideInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	g, err := h.grades.GradeAndPublish(r.Context(), model.UserFromContext(r.Context()), chi.URLParam(r, "attemptID"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (h *Handler) handlePublish(w http.ResponseWriter, r *http.Request) {
	g, err := h.grades.Publish(r.Context(), model.UserFromContext(r.Context()), chi.URLParam(r, "attemptID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}
