package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/stepwise/internal/model"
	"github.com/pavelanni/stepwise/internal/quiz"
	"github.com/pavelanni/stepwise/internal/remote"
)

const sessionCookieName = "session"

// RecordsTokenHeader carries the user's own platform API token when lesson
// records live in the platform.
const RecordsTokenHeader = "X-Records-Token"

// bearerToken returns the token from the Authorization header or the session cookie.
func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// requireAuth is middleware that checks for a valid session token.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeMessage(w, r, http.StatusUnauthorized, "ErrUnauthorized")
			return
		}

		authSess, err := h.store.GetAuthSession(r.Context(), token)
		if err != nil {
			slog.Error("failed to get auth session", "error", err)
			writeMessage(w, r, http.StatusUnauthorized, "ErrUnauthorized")
			return
		}
		if authSess == nil {
			writeMessage(w, r, http.StatusUnauthorized, "ErrUnauthorized")
			return
		}

		user, err := h.store.GetUserByID(r.Context(), authSess.UserID)
		if err != nil || user == nil || !user.Active {
			writeMessage(w, r, http.StatusUnauthorized, "ErrUnauthorized")
			return
		}

		ctx := model.ContextWithUser(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// forwardRecordsToken passes the user's platform token on to the remote record
// store, which saves attempts and progress under the token's owner.
func (h *Handler) forwardRecordsToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.config.RemoteRecords {
			next.ServeHTTP(w, r)
			return
		}
		token := strings.TrimSpace(r.Header.Get(RecordsTokenHeader))
		if token == "" {
			writeMessage(w, r, http.StatusUnauthorized, "ErrUnauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(remote.ContextWithToken(r.Context(), token)))
	})
}

// requireRole returns middleware that checks the user has one of the allowed roles.
func requireRole(allowed ...model.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := model.UserFromContext(r.Context())
			if user == nil {
				writeMessage(w, r, http.StatusUnauthorized, "ErrUnauthorized")
				return
			}
			for _, role := range allowed {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeMessage(w, r, http.StatusForbidden, "ErrForbidden")
		})
	}
}

// targetUser returns whose progress a read request is about. Teachers and
// admins may pass ?user_id= to look at a student; everyone else sees their own.
// The platform only serves the token owner's records, so remote mode allows no review.
func (h *Handler) targetUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	user := model.UserFromContext(r.Context())
	raw := r.URL.Query().Get("user_id")
	if raw == "" {
		return user.ID, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeMessage(w, r, http.StatusBadRequest, "ErrBadRequest")
		return 0, false
	}
	if id == user.ID {
		return id, true
	}
	if !user.Role.CanReview() {
		writeMessage(w, r, http.StatusForbidden, "ErrForbidden")
		return 0, false
	}
	if h.config.RemoteRecords {
		writeMessage(w, r, http.StatusConflict, "ErrRemoteRecords")
		return 0, false
	}
	return id, true
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token string      `json:"token"`
	User  *model.User `json:"user"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || quiz.Struct(req) != nil {
		writeMessage(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}

	user, err := h.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		slog.Error("failed to get user", "error", err)
		writeMessage(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	if user == nil {
		writeMessage(w, r, http.StatusUnauthorized, "ErrInvalidCredentials")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		writeMessage(w, r, http.StatusUnauthorized, "ErrInvalidCredentials")
		return
	}
	if !user.Active {
		writeMessage(w, r, http.StatusForbidden, "ErrAccountDisabled")
		return
	}

	token, err := h.store.CreateAuthSession(r.Context(), user.ID)
	if err != nil {
		slog.Error("failed to create auth session", "error", err)
		writeMessage(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.config.SecureCookies,
	})
	slog.Info("user logged in", "user_id", user.ID, "role", user.Role)
	writeJSON(w, http.StatusOK, loginResponse{Token: token, User: user})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := bearerToken(r); token != "" {
		if err := h.store.DeleteAuthSession(r.Context(), token); err != nil {
			slog.Error("failed to delete auth session", "error", err)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.SecureCookies,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.UserFromContext(r.Context()))
}
