package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	appI18n "github.com/pavelanni/viva/internal/i18n"
	"github.com/pavelanni/viva/internal/llm"
	"github.com/pavelanni/viva/internal/model"
	"github.com/pavelanni/viva/internal/store"
	"github.com/pavelanni/viva/internal/viva"
)

const (
	defaultHistoryLimit = 50
	maxBodyBytes        = 1 << 20
	defaultUploadBytes  = 10 << 20
)

// Config holds HTTP-layer settings.
type Config struct {
	DefaultLanguage model.Language
	MaxUploadBytes  int64
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	viva        *viva.Service
	store       *store.Store
	transcriber llm.Transcriber
	config      Config
	validate    *validator.Validate
}

// New creates a new Handler. The transcriber may be nil, in which case
// speech-to-text requests are refused.
func New(svc *viva.Service, s *store.Store, t llm.Transcriber, cfg Config) (*Handler, error) {
	if svc == nil || s == nil {
		return nil, errors.New("handler needs a viva service and a store")
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = model.LangHindi
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultUploadBytes
	}
	return &Handler{
		viva:        svc,
		store:       s,
		transcriber: t,
		config:      cfg,
		validate:    newValidator(),
	}, nil
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/viva/start", h.handleStart)
		r.Post("/viva/answer", h.handleAnswer)
		r.Post("/viva/skip", h.handleSkip)
		r.Get("/viva/status/{sessionID}", h.handleStatus)
		r.Get("/viva/result/{sessionID}", h.handleResult)
		r.Get("/topics", h.handleTopics)
		r.Post("/stt", h.handleTranscribe)

		r.Post("/admin/login", h.handleLogin)
		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Post("/admin/logout", h.handleLogout)

			// Reports expose candidates' answers.
			r.Group(func(r chi.Router) {
				r.Use(requireRole(model.UserRoleAdmin, model.UserRoleSupervisor))
				r.Get("/viva/history", h.handleHistory)
				r.Get("/viva/stats", h.handleStats)
				r.Get("/topics/{topicID}/questions/stats", h.handleQuestionStats)
			})

			r.Group(func(r chi.Router) {
				r.Use(requireRole(model.UserRoleAdmin))
				r.Post("/admin/questions", h.handleUploadQuestions)
				r.Post("/admin/questions/{questionID}/deactivate", h.handleDeactivateQuestion)
				r.Post("/admin/sessions/{sessionID}/abandon", h.handleAbandon)
			})
		})
	})
}

type startRequest struct {
	SubjectID     string `json:"subject_id" validate:"required,max=64"`
	SubjectName   string `json:"subject_name" validate:"max=200"`
	TopicID       int64  `json:"topic_id" validate:"required,gt=0"`
	QuestionCount int    `json:"question_count" validate:"gte=0"`
	Language      string `json:"language"`
}

type answerRequest struct {
	SessionID string `json:"session_id" validate:"required,max=64"`
	Answer    string `json:"answer" validate:"max=10000"`
}

type skipRequest struct {
	SessionID string `json:"session_id" validate:"required,max=64"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	count, err := h.store.QuestionCount(r.Context())
	if err != nil {
		slog.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "questions": count})
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !h.decode(w, r, &req) {
		return
	}
	lang, err := model.ParseLanguage(req.Language)
	if err != nil {
		h.writeValidationError(w, r, map[string]string{"language": "oneof"})
		return
	}

	resp, err := h.viva.Start(r.Context(), viva.StartRequest{
		SubjectID:   req.SubjectID,
		SubjectName: req.SubjectName,
		TopicID:     req.TopicID,
		Count:       req.QuestionCount,
		Language:    lang,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.viva.Submit(r.Context(), req.SessionID, req.Answer)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleSkip(w http.ResponseWriter, r *http.Request) {
	var req skipRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.viva.Skip(r.Context(), req.SessionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := h.viva.Status(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleResult(w http.ResponseWriter, r *http.Request) {
	res, err := h.viva.Result(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := model.HistoryFilter{SubjectID: q.Get("subject_id"), Limit: defaultHistoryLimit}
	if s := q.Get("topic_id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil || id <= 0 {
			h.writeValidationError(w, r, map[string]string{"topic_id": "numeric"})
			return
		}
		f.TopicID = id
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			h.writeValidationError(w, r, map[string]string{"limit": "min"})
			return
		}
		f.Limit = n
	}

	results, err := h.store.ListResults(r.Context(), f)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("list results: %w", err))
		return
	}
	if results == nil {
		results = []model.Result{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results, "count": len(results)})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.store.ResultStats(r.Context())
	if err != nil {
		h.writeError(w, r, fmt.Errorf("result stats: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) handleTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := h.store.ListTopics(r.Context())
	if err != nil {
		h.writeError(w, r, fmt.Errorf("list topics: %w", err))
		return
	}
	if topics == nil {
		topics = []model.Topic{}
	}
	writeJSON(w, http.StatusOK, topics)
}

func (h *Handler) handleQuestionStats(w http.ResponseWriter, r *http.Request) {
	topicID, ok := h.pathID(w, r, "topicID")
	if !ok {
		return
	}
	topic, err := h.store.GetTopic(r.Context(), topicID)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("get topic: %w", err))
		return
	}
	if topic == nil {
		writeMessage(w, http.StatusNotFound, appI18n.T(r.Context(), "NotFound"))
		return
	}
	stats, err := h.store.QuestionStats(r.Context(), topicID)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("question stats: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"topic": topic, "questions": stats})
}

func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if h.transcriber == nil {
		writeMessage(w, http.StatusServiceUnavailable, appI18n.T(r.Context(), "SpeechUnavailable"))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.config.MaxUploadBytes); err != nil {
		h.writeValidationError(w, r, map[string]string{"audio": "max"})
		return
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		h.writeValidationError(w, r, map[string]string{"audio": "required"})
		return
	}
	defer file.Close()

	lang, err := model.ParseLanguage(r.FormValue("language"))
	if err != nil {
		h.writeValidationError(w, r, map[string]string{"language": "oneof"})
		return
	}
	if lang == "" {
		lang = h.config.DefaultLanguage
	}

	text, err := h.transcriber.Transcribe(r.Context(), file, header.Filename, lang)
	if err != nil {
		slog.Error("transcription failed", "filename", header.Filename, "error", err)
		writeMessage(w, http.StatusBadGateway, appI18n.T(r.Context(), "TranscriptionFailed"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"text": text, "language": lang})
}

// decode reads a JSON body into dst and validates it. It writes the error
// response and returns false on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		slog.Debug("bad request body", "path", r.URL.Path, "error", err)
		writeMessage(w, http.StatusBadRequest, appI18n.T(r.Context(), "InvalidRequest"))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var ve validator.ValidationErrors
		if !errors.As(err, &ve) {
			writeMessage(w, http.StatusBadRequest, appI18n.T(r.Context(), "InvalidRequest"))
			return false
		}
		fields := make(map[string]string, len(ve))
		for _, fe := range ve {
			fields[fe.Field()] = fe.Tag()
		}
		h.writeValidationError(w, r, fields)
		return false
	}
	return true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		h.writeValidationError(w, r, map[string]string{name: "numeric"})
		return 0, false
	}
	return id, true
}

type errorBody struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// writeError maps domain errors to status codes. Errors about a known
// session are worded in the session's language, others in the request's.
// Unknown errors are logged and reported as a generic internal error.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		status int
		msgID  string
	)
	switch {
	case errors.Is(err, viva.ErrNoQuestionsAvailable):
		status, msgID = http.StatusUnprocessableEntity, "NoQuestionsAvailable"
	case errors.Is(err, viva.ErrSessionNotFound):
		status, msgID = http.StatusNotFound, "SessionNotFound"
	case errors.Is(err, viva.ErrSessionCompleted):
		status, msgID = http.StatusConflict, "SessionCompleted"
	case errors.Is(err, viva.ErrSessionAbandoned):
		status, msgID = http.StatusConflict, "SessionAbandoned"
	case errors.Is(err, viva.ErrSessionBusy):
		status, msgID = http.StatusConflict, "SessionBusy"
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		status, msgID = http.StatusInternalServerError, "InternalError"
	}
	msg := appI18n.T(r.Context(), msgID)
	if lang, ok := viva.SessionLanguage(err); ok {
		msg = appI18n.L(string(lang), msgID)
	}
	writeMessage(w, status, msg)
}

func (h *Handler) writeValidationError(w http.ResponseWriter, r *http.Request, fields map[string]string) {
	writeJSON(w, http.StatusBadRequest, errorBody{
		Error:  appI18n.T(r.Context(), "InvalidRequest"),
		Fields: fields,
	})
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
