package handler

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	appI18n "github.com/pavelanni/viva/internal/i18n"
	"github.com/pavelanni/viva/internal/model"
	"github.com/pavelanni/viva/internal/qbank"
)

func (h *Handler) handleUploadQuestions(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.config.MaxUploadBytes); err != nil {
		h.writeValidationError(w, r, map[string]string{"questions_file": "max"})
		return
	}

	file, header, err := r.FormFile("questions_file")
	if err != nil {
		h.writeValidationError(w, r, map[string]string{"questions_file": "required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("read upload: %w", err))
		return
	}

	lang, err := model.ParseLanguage(r.FormValue("language"))
	if err != nil {
		h.writeValidationError(w, r, map[string]string{"language": "oneof"})
		return
	}
	if lang == "" {
		lang = h.config.DefaultLanguage
	}

	name := filepath.Base(header.Filename)
	rep, err := qbank.ImportUpload(r.Context(), h.store, name, data, lang)
	if errors.Is(err, qbank.ErrInvalidFile) {
		slog.Warn("rejected question upload", "filename", name, "error", err)
		writeJSON(w, http.StatusBadRequest, errorBody{Error: appI18n.T(r.Context(), "InvalidQuestionFile")})
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	user := model.UserFromContext(r.Context())
	slog.Info("uploaded questions via admin",
		"filename", name,
		"user", user.Username,
		"imported", rep.Imported,
		"skipped", rep.Skipped,
	)
	status := http.StatusCreated
	if rep.Skipped {
		status = http.StatusConflict
	}
	writeJSON(w, status, rep)
}

func (h *Handler) handleDeactivateQuestion(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "questionID")
	if !ok {
		return
	}
	err := h.store.SetQuestionActive(r.Context(), id, false)
	if errors.Is(err, sql.ErrNoRows) {
		writeMessage(w, http.StatusNotFound, appI18n.T(r.Context(), "NotFound"))
		return
	}
	if err != nil {
		h.writeError(w, r, fmt.Errorf("deactivate question %d: %w", id, err))
		return
	}
	slog.Info("question deactivated", "question_id", id)
	writeJSON(w, http.StatusOK, map[string]any{"question_id": id, "active": false})
}

func (h *Handler) handleAbandon(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	res, err := h.viva.Abandon(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"status":     model.SessionAbandoned,
		"result":     res,
	})
}
