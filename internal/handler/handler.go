package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	appI18n "github.com/pavelanni/stepwise/internal/i18n"
	"github.com/pavelanni/stepwise/internal/metrics"
	"github.com/pavelanni/stepwise/internal/model"
	"github.com/pavelanni/stepwise/internal/service"
	"github.com/pavelanni/stepwise/internal/store"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	svc    *service.LessonService
	store  *store.Store
	config model.WorkflowConfig
	now    func() time.Time
}

// New creates a new Handler. The store holds accounts and sessions, plus
// subjects and imports unless cfg.RemoteRecords is set; lesson progress goes through svc.
func New(svc *service.LessonService, s *store.Store, cfg model.WorkflowConfig) *Handler {
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = 10 << 20
	}
	return &Handler{svc: svc, store: s, config: cfg, now: time.Now}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(appI18n.Middleware())
		r.Post("/login", h.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Use(h.forwardRecordsToken)
			r.Post("/logout", h.handleLogout)
			r.Get("/me", h.handleMe)

			r.Get("/subjects", h.handleListSubjects)
			r.Get("/subjects/{subjectID}/lessons", h.handleSubjectLessons)
			r.Get("/lessons/{lessonID}", h.handleLesson)
			r.Get("/lessons/{lessonID}/attempts", h.handleAttempts)
			r.Get("/lessons/{lessonID}/summary", h.handleSummary)
			r.Get("/lessons/{lessonID}/translation", h.handleTranslation)
			r.Post("/lessons/{lessonID}/quiz", h.handleStartQuiz)
			r.Post("/lessons/{lessonID}/complete", h.handleMarkComplete)
			r.Post("/quizzes/{token}/submit", h.handleSubmitQuiz)

			r.Group(func(r chi.Router) {
				r.Use(requireRole(model.UserRoleTeacher, model.UserRoleAdmin))
				r.Get("/subjects/{subjectID}/export", h.handleExport)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(requireRole(model.UserRoleAdmin))
				r.Get("/users", h.handleListUsers)
				r.Post("/users", h.handleCreateUser)
				r.Post("/users/{userID}/toggle", h.handleToggleUserActive)
				r.Post("/lessons", h.handleUploadLessons)
			})
		})
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	err := h.store.Ping(r.Context())
	if err == nil {
		err = h.svc.Ping(r.Context())
	}
	if err != nil {
		slog.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

type errorResponse struct {
	Error   string                `json:"error"`
	Message string                `json:"message"`
	RetryAt *time.Time            `json:"retry_at,omitempty"`
	Attempt *service.SubmitResult `json:"attempt,omitempty"`
}

// writeMessage writes an error body with a localized message.
func writeMessage(w http.ResponseWriter, r *http.Request, status int, msgID string) {
	writeJSON(w, status, errorResponse{Error: msgID, Message: appI18n.T(r.Context(), msgID)})
}

// writeError maps a workflow error to its HTTP status and localized message.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var cooldown *service.CooldownError
	switch {
	case errors.As(err, &cooldown):
		retryAt := cooldown.RetryAt.UTC()
		wait := math.Ceil(retryAt.Sub(h.now()).Seconds())
		if wait < 1 {
			wait = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(int(wait)))
		writeJSON(w, http.StatusConflict, errorResponse{
			Error:   "ErrCooldownActive",
			Message: appI18n.Td(r.Context(), "ErrCooldownActive", map[string]any{"RetryAt": retryAt.Format(time.RFC3339)}),
			RetryAt: &retryAt,
		})
	case errors.Is(err, service.ErrLessonLocked):
		writeMessage(w, r, http.StatusForbidden, "ErrLessonLocked")
	case errors.Is(err, service.ErrQuizRequired):
		writeMessage(w, r, http.StatusConflict, "ErrQuizRequired")
	case errors.Is(err, service.ErrQuizNotFound):
		writeMessage(w, r, http.StatusNotFound, "ErrQuizNotFound")
	case errors.Is(err, model.ErrNotFound):
		writeMessage(w, r, http.StatusNotFound, "ErrNotFound")
	case errors.Is(err, service.ErrInvalidInput):
		writeMessage(w, r, http.StatusBadRequest, "ErrBadRequest")
	case errors.Is(err, service.ErrContentGeneration):
		writeMessage(w, r, http.StatusBadGateway, "ErrContentGeneration")
	case errors.Is(err, service.ErrPersistence):
		writeMessage(w, r, http.StatusInternalServerError, "ErrPersistence")
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeMessage(w, r, http.StatusInternalServerError, "ErrInternal")
	}
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, service.ErrInvalidInput
	}
	return id, nil
}
