package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/pavelanni/examgrader/internal/apperr"
	"github.com/pavelanni/examgrader/internal/i18n"
	"github.com/pavelanni/examgrader/internal/validate"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error  string              `json:"error"`
	Fields []apperr.FieldError `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// decodeJSON reads a single JSON object into v and validates it. Failures
// are returned as validation errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Validation("malformed request body: " + err.Error())
	}
	return validate.Struct("invalid request", v)
}

// writeError maps err to its HTTP status and a localised message. Internal
// errors are logged and never echoed to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	resp := errorResponse{Error: i18n.T(r.Context(), messageID(err))}

	var verr *apperr.ValidationError
	if errors.As(err, &verr) {
		resp.Fields = verr.Fields
	}

	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()), "error", err)
	} else {
		slog.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, resp)
}

func messageID(err error) string {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return "ErrValidation"
	case errors.Is(err, apperr.ErrAlreadySubmitted):
		return "ErrAlreadySubmitted"
	case errors.Is(err, apperr.ErrNotAssigned):
		return "ErrNotAssigned"
	case errors.Is(err, apperr.ErrAuthorization):
		return "ErrForbidden"
	case errors.Is(err, apperr.ErrNotFound):
		return "ErrNotFound"
	default:
		return "ErrInternal"
	}
}
