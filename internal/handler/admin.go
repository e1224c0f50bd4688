package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/bcrypt"

	appI18n "github.com/pavelanni/stepwise/internal/i18n"
	"github.com/pavelanni/stepwise/internal/model"
	"github.com/pavelanni/stepwise/internal/quiz"
	"github.com/pavelanni/stepwise/internal/store"
)

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	role := model.UserRole(r.URL.Query().Get("role"))
	if role != "" && !role.IsValid() {
		writeMessage(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}
	users, err := h.store.ListUsers(r.Context(), role)
	if err != nil {
		slog.Error("failed to list users", "error", err)
		writeMessage(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	if users == nil {
		users = []model.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

type createUserRequest struct {
	Username    string         `json:"username" validate:"required,min=3,max=64"`
	DisplayName string         `json:"display_name" validate:"max=128"`
	Password    string         `json:"password" validate:"required,min=8"`
	Role        model.UserRole `json:"role" validate:"omitempty,oneof=student teacher admin"`
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if err := quiz.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "ErrBadRequest", Message: err.Error()})
		return
	}

	existing, err := h.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		slog.Error("failed to look up user", "error", err)
		writeMessage(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	if existing != nil {
		writeMessage(w, r, http.StatusConflict, "ErrUsernameTaken")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("failed to hash password", "error", err)
		writeMessage(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}

	if req.DisplayName == "" {
		req.DisplayName = req.Username
	}
	u := model.User{
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		PasswordHash: string(hash),
		Role:         req.Role,
		Active:       true,
	}
	id, err := h.store.CreateUser(r.Context(), u)
	if err != nil {
		writeMessage(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	created, err := h.store.GetUserByID(r.Context(), id)
	if err != nil || created == nil {
		slog.Error("failed to read created user", "id", id, "error", err)
		writeMessage(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleToggleUserActive(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "userID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if me := model.UserFromContext(r.Context()); me.ID == id {
		writeMessage(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}

	active, err := h.store.ToggleUserActive(r.Context(), id)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			slog.Error("failed to toggle user active", "id", id, "error", err)
		}
		h.writeError(w, r, err)
		return
	}
	if !active {
		n, err := h.store.DeleteUserSessions(r.Context(), id)
		if err != nil {
			slog.Error("failed to revoke sessions", "id", id, "error", err)
		} else {
			slog.Info("revoked sessions of deactivated user", "id", id, "sessions", n)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "active": active})
}

func (h *Handler) handleUploadLessons(w http.ResponseWriter, r *http.Request) {
	if h.config.RemoteRecords {
		writeMessage(w, r, http.StatusConflict, "ErrRemoteRecords")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadSize)
	if err := r.ParseMultipartForm(h.config.MaxUploadSize); err != nil {
		writeMessage(w, r, http.StatusRequestEntityTooLarge, "ErrUploadTooLarge")
		return
	}

	file, header, err := r.FormFile("lessons_file")
	if err != nil {
		writeMessage(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeMessage(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}

	res, err := h.store.ImportSubjectFile(r.Context(), "upload/"+filepath.Base(header.Filename), data)
	if errors.Is(err, store.ErrInvalidImport) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "ErrBadRequest", Message: err.Error()})
		return
	}
	if err != nil {
		slog.Error("failed to import lessons", "filename", header.Filename, "error", err)
		writeMessage(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}

	status := http.StatusCreated
	if res.Skipped {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{
		"result":  res,
		"message": appI18n.Tp(r.Context(), "LessonsImported", res.Lessons),
	})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	if h.config.RemoteRecords {
		writeMessage(w, r, http.StatusConflict, "ErrRemoteRecords")
		return
	}
	subjectID, err := pathID(r, "subjectID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	subject, err := h.store.GetSubject(r.Context(), subjectID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	results, err := h.store.ExportAttempts(r.Context(), subjectID)
	if err != nil {
		slog.Error("failed to export attempts", "subject_id", subjectID, "error", err)
		writeMessage(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	writeJSON(w, http.StatusOK, model.AttemptExport{
		ExportedAt: h.now().UTC(),
		Subject:    subject.Name,
		Results:    results,
	})
}
