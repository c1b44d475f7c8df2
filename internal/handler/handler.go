package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/matiku/lms/internal/exam"
	"github.com/matiku/lms/internal/filestore"
	appI18n "github.com/matiku/lms/internal/i18n"
	"github.com/matiku/lms/internal/llm"
	"github.com/matiku/lms/internal/model"
	"github.com/matiku/lms/internal/store"
)

// AI is the generation backend used by the assessment, tutor and assistant
// endpoints.
type AI interface {
	Assess(ctx context.Context, analysis string) (*llm.AssessResult, error)
	Tutor(ctx context.Context, studentName string, history []model.ChatMessage, input string) (string, error)
	Chat(ctx context.Context, teacherName string, history []model.ChatMessage, input string) (string, error)
	DescribeModule(ctx context.Context, title string) (string, error)
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	llm      AI
	files    filestore.Store
	exams    *exam.Registry
	config   model.ServerConfig
	validate *validator.Validate
}

// New creates a new Handler. Live exam attempts are kept in a registry
// owned by the handler; call Close on shutdown.
func New(s *store.Store, ai AI, files filestore.Store, cfg model.ServerConfig, opts exam.Options) *Handler {
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 20
	}
	if cfg.Lang == "" {
		cfg.Lang = "en"
	}
	h := &Handler{
		store:    s,
		llm:      ai,
		files:    files,
		config:   cfg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	opts.OnAutoSubmit = h.onAutoSubmit
	h.exams = exam.NewRegistry(s, opts)
	return h
}

// Close stops the countdown of every live attempt.
func (h *Handler) Close() {
	h.exams.Close()
}

// SweepAttempts releases live attempts whose record was written before
// cutoff. Students normally release them by opening the result page.
func (h *Handler) SweepAttempts(cutoff time.Time) int {
	return h.exams.SweepFinished(cutoff)
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", h.apiRoutes)

	r.Group(func(r chi.Router) {
		r.Use(h.csrfMiddleware)
		r.Get("/login", h.handleLoginPage)
		r.Post("/login", h.handleLogin)
		r.Get("/signup", h.handleSignupPage)
		r.Post("/signup", h.handleSignup)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Get("/", h.handleIndex)
			r.Post("/logout", h.handleLogout)
			r.Get("/role", h.handleRolePage)
			r.Post("/role", h.handleChooseRole)
			r.Get("/files/*", h.handleFile)

			r.Route("/student", func(r chi.Router) {
				r.Use(requireRole(model.UserRoleStudent))
				r.Get("/", h.handleStudentDashboard)
				r.Route("/exams/{examID}", func(r chi.Router) {
					r.Post("/start", h.handleStartExam)
					r.Get("/", h.handleExamPage)
					r.Post("/answer", h.handleAnswer)
					r.Post("/next", h.handleNext)
					r.Post("/prev", h.handlePrev)
					r.Post("/goto", h.handleGoto)
					r.Post("/submit", h.handleSubmit)
					r.Get("/result", h.handleResult)
					r.Post("/leave", h.handleLeave)
					r.Get("/status", h.handleExamStatus)
				})
			})

			r.Route("/teacher", func(r chi.Router) {
				r.Use(requireRole(model.UserRoleTeacher))
				r.Get("/", h.handleTeacherDashboard)
				r.Post("/exams/import", h.handleImportExamPage)
				r.Get("/exams/{examID}/results", h.handleExamResults)
			})
		})
	})
}

// BasePathMiddleware stores the configured base path in the request context.
func (h *Handler) BasePathMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := model.ContextWithBasePath(r.Context(), h.config.BasePath)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// path prefixes p with the base path.
func (h *Handler) path(p string) string {
	return h.config.BasePath + p
}

func (h *Handler) cookiePath() string {
	if h.config.BasePath != "" {
		return h.config.BasePath + "/"
	}
	return "/"
}

func (h *Handler) maxUpload() int64 {
	return h.config.MaxUploadMB << 20
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	switch user.Role {
	case model.UserRoleTeacher:
		http.Redirect(w, r, h.path("/teacher/"), http.StatusSeeOther)
	case model.UserRoleStudent:
		http.Redirect(w, r, h.path("/student/"), http.StatusSeeOther)
	default:
		http.Redirect(w, r, h.path("/role"), http.StatusSeeOther)
	}
}

func (h *Handler) handleFile(w http.ResponseWriter, r *http.Request) {
	key, err := filestore.CleanKey(chi.URLParam(r, "*"))
	if err != nil {
		http.Error(w, "invalid file key", http.StatusBadRequest)
		return
	}
	rc, err := h.files.Open(r.Context(), key)
	if errors.Is(err, filestore.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		slog.Error("failed to open file", "key", key, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer rc.Close()
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Disposition", "attachment")
	if _, err := io.Copy(w, rc); err != nil {
		slog.Warn("file download interrupted", "key", key, "error", err)
	}
}

// notify adds a notification for a teacher, localized to the server
// language. Failures are logged only.
func (h *Handler) notify(teacherID int64, msgID string, data map[string]any) {
	ctx := appI18n.WithLocalizer(context.Background(), appI18n.NewLocalizer(h.config.Lang))
	if err := h.store.AddNotification(teacherID, appI18n.Td(ctx, msgID, data)); err != nil {
		slog.Error("failed to add notification", "teacher_id", teacherID, "error", err)
	}
}

func render(w http.ResponseWriter, r *http.Request, status int, c templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := c.Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func idParam(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}
