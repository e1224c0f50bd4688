package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	appI18n "github.com/pavelanni/stepwise/internal/i18n"
	"github.com/pavelanni/stepwise/internal/model"
	"github.com/pavelanni/stepwise/internal/quiz"
	"github.com/pavelanni/stepwise/internal/service"
)

// readTarget resolves the lesson ID and the user whose progress is being read.
func (h *Handler) readTarget(w http.ResponseWriter, r *http.Request) (userID, lessonID int64, ok bool) {
	lessonID, err := pathID(r, "lessonID")
	if err != nil {
		h.writeError(w, r, err)
		return 0, 0, false
	}
	userID, ok = h.targetUser(w, r)
	return userID, lessonID, ok
}

func (h *Handler) handleListSubjects(w http.ResponseWriter, r *http.Request) {
	subjects, err := h.svc.Subjects(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if subjects == nil {
		subjects = []model.Subject{}
	}
	writeJSON(w, http.StatusOK, subjects)
}

func (h *Handler) handleSubjectLessons(w http.ResponseWriter, r *http.Request) {
	subjectID, err := pathID(r, "subjectID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	userID, ok := h.targetUser(w, r)
	if !ok {
		return
	}
	view, err := h.svc.SubjectLessons(r.Context(), userID, subjectID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleLesson(w http.ResponseWriter, r *http.Request) {
	userID, lessonID, ok := h.readTarget(w, r)
	if !ok {
		return
	}
	view, err := h.svc.Lesson(r.Context(), userID, lessonID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleAttempts(w http.ResponseWriter, r *http.Request) {
	userID, lessonID, ok := h.readTarget(w, r)
	if !ok {
		return
	}
	attempts, err := h.svc.Attempts(r.Context(), userID, lessonID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if attempts == nil {
		attempts = []model.QuizAttempt{}
	}
	writeJSON(w, http.StatusOK, attempts)
}

// contentLang is the language requested for generated content: an explicit
// ?lang= or the negotiated request language.
func contentLang(r *http.Request) string {
	if lang := strings.TrimSpace(r.URL.Query().Get("lang")); lang != "" {
		return lang
	}
	return appI18n.Lang(r.Context())
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	lessonID, err := pathID(r, "lessonID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	summary, err := h.svc.Summary(r.Context(), user.ID, lessonID, contentLang(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lesson_id": lessonID, "summary": summary})
}

func (h *Handler) handleTranslation(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	lessonID, err := pathID(r, "lessonID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	t, err := h.svc.Translation(r.Context(), user.ID, lessonID, r.URL.Query().Get("lang"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) handleStartQuiz(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	lessonID, err := pathID(r, "lessonID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	view, err := h.svc.StartQuiz(r.Context(), user.ID, lessonID, contentLang(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

type submitRequest struct {
	Answers map[int]string `json:"answers" validate:"omitempty,max=20"`
}

type submitResponse struct {
	*service.SubmitResult
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

func (h *Handler) handleSubmitQuiz(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	var req submitRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeMessage(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}
	if err := quiz.Struct(req); err != nil {
		writeMessage(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}

	res, err := h.svc.SubmitQuiz(r.Context(), user.ID, chi.URLParam(r, "token"), req.Answers)
	if err != nil && res != nil {
		// The attempt is recorded; only completing the lesson failed.
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   "ErrAttemptSaved",
			Message: appI18n.T(r.Context(), "ErrAttemptSaved"),
			Attempt: res,
		})
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := submitResponse{SubmitResult: res}
	data := map[string]any{"Score": res.Score, "PassingScore": quiz.PassingScore}
	if res.Passed {
		out.Message = appI18n.Td(r.Context(), "QuizPassed", data)
	} else {
		out.Message = appI18n.Td(r.Context(), "QuizFailed", data)
		if res.SuggestSimplified {
			out.Suggestion = appI18n.T(r.Context(), "TrySimplified")
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleMarkComplete(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	lessonID, err := pathID(r, "lessonID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.svc.MarkComplete(r.Context(), user.ID, lessonID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	slog.Debug("lesson marked complete", "user_id", user.ID, "lesson_id", lessonID)
	writeJSON(w, http.StatusOK, map[string]any{
		"progress": p,
		"message":  appI18n.T(r.Context(), "LessonCompleted"),
	})
}
