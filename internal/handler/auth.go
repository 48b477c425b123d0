package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/pavelanni/examgrader/internal/apperr"
	"github.com/pavelanni/examgrader/internal/auth"
	"github.com/pavelanni/examgrader/internal/i18n"
	"github.com/pavelanni/examgrader/internal/model"
)

// requireAuth is middleware that checks for a valid bearer token belonging
// to an active user.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeUnauthenticated(w, r, "ErrUnauthenticated")
			return
		}
		claims, err := h.tokens.Parse(token)
		if err != nil {
			slog.Debug("rejected access token", "error", err)
			writeUnauthenticated(w, r, "ErrUnauthenticated")
			return
		}

		user, err := h.store.GetUserByID(r.Context(), claims.Subject)
		if err != nil {
			slog.Error("failed to get user", "user_id", claims.Subject, "error", err)
			writeError(w, r, err)
			return
		}
		if user == nil || !user.Active {
			writeUnauthenticated(w, r, "ErrUnauthenticated")
			return
		}

		ctx := model.ContextWithUser(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}

// requireRole returns middleware that checks the user has one of the allowed roles.
func requireRole(allowed ...model.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := model.UserFromContext(r.Context())
			if user == nil {
				writeUnauthenticated(w, r, "ErrUnauthenticated")
				return
			}
			for _, role := range allowed {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, r, apperr.Forbidden("role %s may not %s %s", user.Role, r.Method, r.URL.Path))
		})
	}
}

type loginRequest struct {
	Username string `json:"username" validate:"notblank"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := h.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		slog.Error("failed to get user", "error", err)
		writeError(w, r, err)
		return
	}
	if user == nil || !user.Active || !auth.CheckPassword(user.PasswordHash, req.Password) {
		slog.Info("login failed", "username", req.Username)
		writeUnauthenticated(w, r, "ErrInvalidCredentials")
		return
	}

	token, err := h.tokens.Issue(*user)
	if err != nil {
		slog.Error("failed to issue token", "user_id", user.ID, "error", err)
		writeError(w, r, err)
		return
	}
	slog.Info("login", "user_id", user.ID, "role", user.Role)
	writeJSON(w, http.StatusOK, loginResponse{AccessToken: token})
}

func writeUnauthenticated(w http.ResponseWriter, r *http.Request, msgID string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="examgrader"`)
	writeJSON(w, http.StatusUnauthorized, errorResponse{Error: i18n.T(r.Context(), msgID)})
}
