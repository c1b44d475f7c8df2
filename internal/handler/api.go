package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/matiku/lms/internal/exam"
	"github.com/matiku/lms/internal/llm"
	"github.com/matiku/lms/internal/model"
	"github.com/matiku/lms/internal/store"
)

// apiRoutes registers the JSON API. It authenticates with the session
// cookie and is not CSRF-protected; the cookie is SameSite=Lax.
func (h *Handler) apiRoutes(r chi.Router) {
	r.Use(h.apiAuth)
	r.Get("/me", h.apiMe)
	r.Post("/me", h.apiUpdateProfile)

	r.Group(func(r chi.Router) {
		r.Use(apiRole(model.UserRoleTeacher))

		r.Get("/students", h.apiListStudents)
		r.Post("/students", h.apiAddStudent)
		r.Put("/students/{id}", h.apiUpdateStudent)
		r.Delete("/students/{id}", h.apiRemoveStudent)

		r.Get("/modules", h.apiListModules)
		r.Post("/modules", h.apiCreateModule)
		r.Post("/modules/describe", h.apiDescribeModule)
		r.Put("/modules/{id}", h.apiUpdateModule)
		r.Delete("/modules/{id}", h.apiDeleteModule)

		r.Get("/assignments", h.apiListAssignments)
		r.Post("/assignments", h.apiCreateAssignment)
		r.Put("/assignments/{id}", h.apiUpdateAssignment)
		r.Delete("/assignments/{id}", h.apiDeleteAssignment)
		r.Get("/assignments/{id}/submissions", h.apiListSubmissions)
		r.Post("/submissions/{id}/grade", h.apiGradeSubmission)

		r.Get("/exams", h.apiListExams)
		r.Post("/exams", h.apiCreateExam)
		r.Post("/exams/import", h.apiImportExam)
		r.Put("/exams/{id}", h.apiUpdateExam)
		r.Delete("/exams/{id}", h.apiDeleteExam)
		r.Get("/exams/{id}/results", h.apiExamResults)

		r.Get("/files", h.apiListFiles)
		r.Post("/files", h.apiUploadFile)
		r.Delete("/files/*", h.apiDeleteFile)

		r.Get("/assessments", h.apiListAssessments)
		r.Post("/assessments", h.apiCreateAssessment)
		r.Delete("/assessments/{id}", h.apiDeleteAssessment)

		r.Get("/notifications", h.apiListNotifications)
		r.Post("/notifications/read", h.apiReadNotifications)
		r.Get("/analytics", h.apiAnalytics)
		r.Post("/chat", h.apiChat)
	})

	r.Group(func(r chi.Router) {
		r.Use(apiRole(model.UserRoleStudent))
		r.Get("/my/assignments", h.apiMyAssignments)
		r.Get("/my/attempts", h.apiMyAttempts)
		r.Post("/my/assignments/{id}/submissions", h.apiSubmitAssignment)
		r.Post("/tutor", h.apiTutor)
	})
}

func (h *Handler) apiAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := h.sessionUser(r)
		if user == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload())
		next.ServeHTTP(w, r.WithContext(model.ContextWithUser(r.Context(), user)))
	})
}

func apiRole(role model.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if model.UserFromContext(r.Context()).Role != role {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// decode reads a JSON body into v and validates it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// internalError logs err and writes a generic 500.
func internalError(w http.ResponseWriter, msg string, err error, args ...any) {
	slog.Error(msg, append(args, "error", err)...)
	writeError(w, http.StatusInternalServerError, "internal error")
}

// storeError writes 404 for store.ErrNotFound and 500 otherwise.
func storeError(w http.ResponseWriter, msg string, err error, args ...any) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	internalError(w, msg, err, args...)
}

// parseDueDate accepts an RFC 3339 timestamp or a plain date, which is
// taken as the end of that day in local time. Empty means no due date.
func parseDueDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	d, err := time.ParseInLocation("2006-01-02", s, time.Local)
	if err != nil {
		return nil, err
	}
	end := d.Add(24*time.Hour - time.Second)
	return &end, nil
}

// saveUpload stores the multipart file in field under prefix. A missing
// file is not an error and yields an empty key.
func (h *Handler) saveUpload(r *http.Request, field, prefix string) (key, name string, err error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return "", "", nil
	}
	if err != nil {
		return "", "", err
	}
	defer file.Close()
	key, err = h.files.Put(r.Context(), prefix, header.Filename, file, header.Header.Get("Content-Type"))
	if err != nil {
		return "", "", err
	}
	return key, header.Filename, nil
}

func (h *Handler) deleteFiles(r *http.Request, keys ...string) {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := h.files.Delete(r.Context(), key); err != nil {
			slog.Warn("failed to delete file", "key", key, "error", err)
		}
	}
}

type profileResponse struct {
	*model.User
	AvatarURL string `json:"avatar_url,omitempty"`
}

func (h *Handler) profile(u *model.User) profileResponse {
	p := profileResponse{User: u}
	if u.AvatarKey != "" {
		p.AvatarURL = h.files.URL(u.AvatarKey)
	}
	return p
}

func (h *Handler) apiMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.profile(model.UserFromContext(r.Context())))
}

func (h *Handler) apiUpdateProfile(w http.ResponseWriter, r *http.Request) {
	user := *model.UserFromContext(r.Context())
	if name := strings.TrimSpace(r.FormValue("display_name")); name != "" {
		user.DisplayName = name
	}
	key, _, err := h.saveUpload(r, "avatar", "avatars")
	if err != nil {
		internalError(w, "failed to store avatar", err, "user_id", user.ID)
		return
	}
	old := user.AvatarKey
	if key != "" {
		user.AvatarKey = key
	}
	if err := h.store.UpdateProfile(user.ID, user.DisplayName, user.AvatarKey); err != nil {
		h.deleteFiles(r, key)
		storeError(w, "failed to update profile", err, "user_id", user.ID)
		return
	}
	if key != "" {
		h.deleteFiles(r, old)
	}
	if user.TeacherID != nil {
		h.notify(*user.TeacherID, "NotifyProfileUpdated", map[string]any{"Name": user.DisplayName})
	}
	writeJSON(w, http.StatusOK, h.profile(&user))
}

// Roster

type studentRequest struct {
	Email string `json:"email"`
	Name  string `json:"name" validate:"max=100"`
	Grade string `json:"grade" validate:"required,max=20"`
	Class string `json:"class" validate:"required,max=20"`
}

func (h *Handler) apiListStudents(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	students, err := h.store.ListStudents(user.ID)
	if err != nil {
		internalError(w, "failed to list students", err, "teacher_id", user.ID)
		return
	}
	writeJSON(w, http.StatusOK, students)
}

func (h *Handler) apiAddStudent(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	var req studentRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.validate.Var(req.Email, "required,email"); err != nil {
		writeError(w, http.StatusBadRequest, "a valid email is required")
		return
	}
	account, err := h.store.GetUserByEmail(strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		internalError(w, "failed to look up student", err)
		return
	}
	if account == nil {
		writeError(w, http.StatusNotFound, "no account with that email")
		return
	}
	st := model.Student{
		TeacherID: user.ID,
		UserID:    account.ID,
		Name:      strings.TrimSpace(req.Name),
		Grade:     strings.TrimSpace(req.Grade),
		Class:     strings.TrimSpace(req.Class),
	}
	if st.Name == "" {
		st.Name = account.DisplayName
	}
	st.ID, err = h.store.EnrollStudent(st)
	switch {
	case errors.Is(err, store.ErrNotStudentAccount), errors.Is(err, store.ErrAlreadyEnrolled):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		internalError(w, "failed to enroll student", err, "teacher_id", user.ID)
		return
	}
	slog.Info("student enrolled", "teacher_id", user.ID, "student_id", st.ID)
	writeJSON(w, http.StatusCreated, st)
}

func (h *Handler) apiUpdateStudent(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	id, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req studentRequest
	if !h.decode(w, r, &req) {
		return
	}
	st := model.Student{ID: id, TeacherID: user.ID, Name: strings.TrimSpace(req.Name), Grade: req.Grade, Class: req.Class}
	if err := h.store.UpdateStudent(st); err != nil {
		storeError(w, "failed to update student", err, "student_id", id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) apiRemoveStudent(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	id, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.store.RemoveStudent(user.ID, id); err != nil {
		storeError(w, "failed to remove student", err, "student_id", id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Modules

type moduleRequest struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description"`
	DueDate     string `json:"due_date"`
}

func (h *Handler) apiListModules(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	modules, err := h.store.ListModules(user.ID)
	if err != nil {
		internalError(w, "failed to list modules", err, "teacher_id", user.ID)
		return
	}
	writeJSON(w, http.StatusOK, modules)
}

func (h *Handler) apiCreateModule(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	req := moduleRequest{
		Title:       strings.TrimSpace(r.FormValue("title")),
		Description: strings.TrimSpace(r.FormValue("description")),
		DueDate:     r.FormValue("due_date"),
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	due, err := parseDueDate(req.DueDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid due date")
		return
	}
	key, name, err := h.saveUpload(r, "file", "modules")
	if err != nil {
		internalError(w, "failed to store module file", err)
		return
	}
	m := model.Module{TeacherID: user.ID, Title: req.Title, Description: req.Description, DueDate: due, FileKey: key, FileName: name}
	if m.ID, err = h.store.CreateModule(m); err != nil {
		h.deleteFiles(r, key)
		internalError(w, "failed to create module", err, "teacher_id", user.ID)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *Handler) apiUpdateModule(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	id, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req moduleRequest
	if !h.decode(w, r, &req) {
		return
	}
	due, err := parseDueDate(req.DueDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid due date")
		return
	}
	m := model.Module{ID: id, TeacherID: user.ID, Title: strings.TrimSpace(req.Title), Description: req.Description, DueDate: due}
	if err := h.store.UpdateModule(m); err != nil {
		storeError(w, "failed to update module", err, "module_id", id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) apiDeleteModule(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	id, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	m, err := h.store.DeleteModule(user.ID, id)
	if err != nil {
		storeError(w, "failed to delete module", err, "module_id", id)
		return
	}
	h.deleteFiles(r, m.FileKey)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) apiDescribeModule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title" validate:"required,max=200"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if h.llm == nil {
		writeError(w, http.StatusServiceUnavailable, "AI is not configured")
		return
	}
	desc, err := h.llm.DescribeModule(r.Context(), req.Title)
	if err != nil {
		slog.Error("module description failed", "error", err)
		writeError(w, http.StatusBadGateway, "AI request failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"description": desc})
}

// Assignments

type assignmentRequest struct {
	Title           string `json:"title" validate:"required,max=200"`
	Description     string `json:"description"`
	DueDate         string `json:"due_date"`
	AssignedToClass string `json:"assigned_to_class" validate:"max=50"`
}

func (h *Handler) apiListAssignments(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	list, err := h.store.ListAssignments(user.ID)
	if err != nil {
		internalError(w, "failed to list assignments", err, "teacher_id", user.ID)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) apiCreateAssignment(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	req := assignmentRequest{
		Title:           strings.TrimSpace(r.FormValue("title")),
		Description:     strings.TrimSpace(r.FormValue("description")),
		DueDate:         r.FormValue("due_date"),
		AssignedToClass: strings.TrimSpace(r.FormValue("assigned_to_class")),
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	due, err := parseDueDate(req.DueDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid due date")
		return
	}
	key, name, err := h.saveUpload(r, "file", "assignments")
	if err != nil {
		internalError(w, "failed to store assignment file", err)
		return
	}
	a := model.Assignment{
		TeacherID:       user.ID,
		Title:           req.Title,
		Description:     req.Description,
		DueDate:         due,
		AssignedToClass: req.AssignedToClass,
		FileKey:         key,
		FileName:        name,
	}
	if a.AssignedToClass == "" {
		a.AssignedToClass = model.AllClasses
	}
	if a.ID, err = h.store.CreateAssignment(a); err != nil {
		h.deleteFiles(r, key)
		internalError(w, "failed to create assignment", err, "teacher_id", user.ID)
		return
	}
	h.notify(user.ID, "NotifyAssignmentCreated", map[string]any{"Title": a.Title})
	writeJSON(w, http.StatusCreated, a)
}

func (h *Handler) apiUpdateAssignment(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	id, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req assignmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	due, err := parseDueDate(req.DueDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid due date")
		return
	}
	a := model.Assignment{
		ID:              id,
		TeacherID:       user.ID,
		Title:           strings.TrimSpace(req.Title),
		Description:     req.Description,
		DueDate:         due,
		AssignedToClass: strings.TrimSpace(req.AssignedToClass),
	}
	if err := h.store.UpdateAssignment(a); err != nil {
		storeError(w, "failed to update assignment", err, "assignment_id", id)
		return
	}
	h.notify(user.ID, "NotifyAssignmentUpdated", map[string]any{"Title": a.Title})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) apiDeleteAssignment(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	id, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	a, err := h.store.GetAssignment(id)
	if err != nil {
		storeError(w, "failed to load assignment", err, "assignment_id", id)
		return
	}
	keys, err := h.store.DeleteAssignment(user.ID, id)
	if err != nil {
		storeError(w, "failed to delete assignment", err, "assignment_id", id)
		return
	}
	h.deleteFiles(r, keys...)
	h.notify(user.ID, "NotifyAssignmentDeleted", map[string]any{"Title": a.Title})
	w.WriteHeader(http.StatusNoContent)
}

// ownedAssignment loads an assignment of the current teacher.
func (h *Handler) ownedAssignment(w http.ResponseWriter, r *http.Request) (model.Assignment, bool) {
	id, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return model.Assignment{}, false
	}
	a, err := h.store.GetAssignment(id)
	if err == nil && a.TeacherID != model.UserFromContext(r.Context()).ID {
		err = store.ErrNotFound
	}
	if err != nil {
		storeError(w, "failed to load assignment", err, "assignment_id", id)
		return a, false
	}
	return a, true
}

func (h *Handler) apiListSubmissions(w http.ResponseWriter, r *http.Request) {
	a, ok := h.ownedAssignment(w, r)
	if !ok {
		return
	}
	subs, err := h.store.ListSubmissions(a.ID)
	if err != nil {
		internalError(w, "failed to list submissions", err, "assignment_id", a.ID)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

func (h *Handler) apiGradeSubmission(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	id, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req struct {
		Grade    *float64 `json:"grade" validate:"required,min=0,max=100"`
		Feedback string   `json:"feedback" validate:"max=2000"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	teacherID, err := h.store.SubmissionTeacher(id)
	if err == nil && teacherID != user.ID {
		err = store.ErrNotFound
	}
	if err != nil {
		storeError(w, "failed to load submission", err, "submission_id", id)
		return
	}
	if err := h.store.GradeSubmission(id, *req.Grade, strings.TrimSpace(req.Feedback)); err != nil {
		storeError(w, "failed to grade submission", err, "submission_id", id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Exams

func (h *Handler) apiListExams(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	exams, err := h.store.ListExamsByTeacher(r.Context(), user.ID)
	if err != nil {
		internalError(w, "failed to list exams", err, "teacher_id", user.ID)
		return
	}
	writeJSON(w, http.StatusOK, exams)
}

func decodeDraft(w http.ResponseWriter, r *http.Request) (exam.Draft, bool) {
	var d exam.Draft
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return d, false
	}
	d.Normalize()
	if err := d.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return d, false
	}
	return d, true
}

func (h *Handler) apiCreateExam(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	d, ok := decodeDraft(w, r)
	if !ok {
		return
	}
	e := d.Exam(user.ID)
	id, err := h.store.CreateExam(e)
	if err != nil {
		internalError(w, "failed to create exam", err, "teacher_id", user.ID)
		return
	}
	e.ID = id
	writeJSON(w, http.StatusCreated, e)
}

// ownedExam loads an exam of the current teacher.
func (h *Handler) ownedExam(w http.ResponseWriter, r *http.Request) (model.Exam, bool) {
	id, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return model.Exam{}, false
	}
	e, err := h.store.GetExam(id)
	if err == nil && e.TeacherID != model.UserFromContext(r.Context()).ID {
		err = store.ErrNotFound
	}
	if err != nil {
		storeError(w, "failed to load exam", err, "exam_id", id)
		return e, false
	}
	return e, true
}

func (h *Handler) apiUpdateExam(w http.ResponseWriter, r *http.Request) {
	e, ok := h.ownedExam(w, r)
	if !ok {
		return
	}
	d, ok := decodeDraft(w, r)
	if !ok {
		return
	}
	if h.exams.InProgress(e.ID) > 0 {
		writeError(w, http.StatusConflict, store.ErrExamLocked.Error())
		return
	}
	err := h.store.ReplaceExam(e.ID, d.Exam(e.TeacherID))
	if errors.Is(err, store.ErrExamLocked) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		storeError(w, "failed to update exam", err, "exam_id", e.ID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) apiDeleteExam(w http.ResponseWriter, r *http.Request) {
	e, ok := h.ownedExam(w, r)
	if !ok {
		return
	}
	if n := h.exams.DiscardExam(e.ID); n > 0 {
		slog.Info("discarded live attempts of deleted exam", "exam_id", e.ID, "count", n)
	}
	if err := h.store.DeleteExam(e.ID); err != nil {
		storeError(w, "failed to delete exam", err, "exam_id", e.ID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) apiExamResults(w http.ResponseWriter, r *http.Request) {
	e, ok := h.ownedExam(w, r)
	if !ok {
		return
	}
	rows, err := h.store.ExamResults(e.ID)
	if err != nil {
		internalError(w, "failed to load results", err, "exam_id", e.ID)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) apiImportExam(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	file, header, err := r.FormFile("exam_file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read file")
		return
	}
	id, err := h.importExam(r.Context(), user.ID, header.Filename, data)
	switch {
	case errors.Is(err, exam.ErrInvalidDraft):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		internalError(w, "failed to import exam", err, "teacher_id", user.ID)
	case id == 0:
		writeJSON(w, http.StatusOK, map[string]any{"duplicate": true})
	default:
		writeJSON(w, http.StatusCreated, map[string]any{"id": id})
	}
}

// Assessments, notifications and the assistant

func (h *Handler) apiListAssessments(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	list, err := h.store.ListAssessments(user.ID)
	if err != nil {
		internalError(w, "failed to list assessments", err, "teacher_id", user.ID)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) apiCreateAssessment(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	var req struct {
		StudentID int64  `json:"student_id" validate:"required"`
		ModuleID  int64  `json:"module_id" validate:"required"`
		Analysis  string `json:"analysis" validate:"required,max=10000"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	st, err := h.store.GetStudent(req.StudentID)
	if err == nil && st.TeacherID != user.ID {
		err = store.ErrNotFound
	}
	if err != nil {
		storeError(w, "failed to load student", err, "student_id", req.StudentID)
		return
	}
	m, err := h.store.GetModule(req.ModuleID)
	if err == nil && m.TeacherID != user.ID {
		err = store.ErrNotFound
	}
	if err != nil {
		storeError(w, "failed to load module", err, "module_id", req.ModuleID)
		return
	}
	if h.llm == nil {
		writeError(w, http.StatusServiceUnavailable, "AI is not configured")
		return
	}

	res, err := h.llm.Assess(r.Context(), req.Analysis)
	if err != nil {
		slog.Error("assessment failed", "student_id", st.ID, "error", err)
		status := http.StatusBadGateway
		if errors.Is(err, llm.ErrScoreOutOfRange) {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, "AI assessment failed")
		return
	}
	a := model.Assessment{
		StudentID:      st.ID,
		ModuleID:       m.ID,
		ModuleTitle:    m.Title,
		Analysis:       req.Analysis,
		Score:          res.Score,
		Recommendation: res.Recommendation,
		Date:           time.Now(),
	}
	if a.ID, err = h.store.SaveAssessment(a); err != nil {
		internalError(w, "failed to save assessment", err, "student_id", st.ID)
		return
	}
	h.notify(user.ID, "NotifyAssessmentSaved", map[string]any{"Student": st.Name, "Module": m.Title})
	writeJSON(w, http.StatusCreated, a)
}

func (h *Handler) apiDeleteAssessment(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	id, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.store.DeleteAssessment(user.ID, id); err != nil {
		storeError(w, "failed to delete assessment", err, "assessment_id", id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) apiListNotifications(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	list, err := h.store.ListNotifications(user.ID)
	if err != nil {
		internalError(w, "failed to list notifications", err, "teacher_id", user.ID)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) apiReadNotifications(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	if err := h.store.MarkNotificationsRead(user.ID); err != nil {
		internalError(w, "failed to mark notifications read", err, "teacher_id", user.ID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) apiAnalytics(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	a, err := h.store.Analytics(user.ID)
	if err != nil {
		internalError(w, "failed to compute analytics", err, "teacher_id", user.ID)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type chatRequest struct {
	History []model.ChatMessage `json:"history"`
	Message string              `json:"message" validate:"required,max=4000"`
}

func (h *Handler) apiChat(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	var req chatRequest
	if !h.decode(w, r, &req) {
		return
	}
	if h.llm == nil {
		writeError(w, http.StatusServiceUnavailable, "AI is not configured")
		return
	}
	reply, err := h.llm.Chat(r.Context(), user.DisplayName, req.History, req.Message)
	if err != nil {
		slog.Error("assistant chat failed", "user_id", user.ID, "error", err)
		writeError(w, http.StatusBadGateway, "AI request failed")
		return
	}
	writeJSON(w, http.StatusOK, model.ChatMessage{Role: model.ChatRoleAI, Text: reply})
}

// Student endpoints

type assignmentWithSubmission struct {
	model.Assignment
	Submission *model.Submission `json:"submission,omitempty"`
}

func (h *Handler) apiMyAssignments(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	st, err := h.store.StudentByUser(user.ID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusOK, []assignmentWithSubmission{})
		return
	}
	if err != nil {
		internalError(w, "failed to load roster entry", err, "user_id", user.ID)
		return
	}
	list, err := h.store.ListAssignmentsForStudent(st)
	if err != nil {
		internalError(w, "failed to list assignments", err, "student_id", st.ID)
		return
	}
	subs, err := h.store.ListSubmissionsByUser(user.ID)
	if err != nil {
		internalError(w, "failed to list submissions", err, "user_id", user.ID)
		return
	}
	latest := make(map[int64]*model.Submission)
	for i := range subs {
		if _, ok := latest[subs[i].AssignmentID]; !ok {
			latest[subs[i].AssignmentID] = &subs[i]
		}
	}
	out := make([]assignmentWithSubmission, 0, len(list))
	for _, a := range list {
		out = append(out, assignmentWithSubmission{Assignment: a, Submission: latest[a.ID]})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) apiMyAttempts(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	list, err := h.store.ListAttemptsForUser(user.ID)
	if err != nil {
		internalError(w, "failed to list attempts", err, "user_id", user.ID)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) apiSubmitAssignment(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	id, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	st, err := h.store.StudentByUser(user.ID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusForbidden, "not enrolled in a class")
		return
	}
	if err != nil {
		internalError(w, "failed to load roster entry", err, "user_id", user.ID)
		return
	}
	a, err := h.store.GetAssignment(id)
	if err == nil && (a.TeacherID != st.TeacherID ||
		(a.AssignedToClass != model.AllClasses && a.AssignedToClass != st.ClassLabel())) {
		err = store.ErrNotFound
	}
	if err != nil {
		storeError(w, "failed to load assignment", err, "assignment_id", id)
		return
	}

	key, name, err := h.saveUpload(r, "file", "submissions")
	if err != nil {
		internalError(w, "failed to store submission", err, "assignment_id", id)
		return
	}
	if key == "" {
		writeError(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	sub, err := h.store.CreateSubmission(model.Submission{
		AssignmentID: a.ID,
		StudentID:    st.ID,
		UserID:       user.ID,
		FileKey:      key,
		FileName:     name,
	})
	if err != nil {
		h.deleteFiles(r, key)
		internalError(w, "failed to save submission", err, "assignment_id", id)
		return
	}
	slog.Info("assignment submitted", "assignment_id", a.ID, "student_id", st.ID, "status", sub.Status)
	writeJSON(w, http.StatusCreated, sub)
}

func (h *Handler) apiTutor(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	var req chatRequest
	if !h.decode(w, r, &req) {
		return
	}
	if h.llm == nil {
		writeError(w, http.StatusServiceUnavailable, "AI is not configured")
		return
	}
	name := user.DisplayName
	if st, err := h.store.StudentByUser(user.ID); err == nil {
		name = st.Name
	}
	reply, err := h.llm.Tutor(r.Context(), name, req.History, req.Message)
	if err != nil {
		slog.Error("tutor chat failed", "user_id", user.ID, "error", err)
		writeError(w, http.StatusBadGateway, "AI request failed")
		return
	}
	writeJSON(w, http.StatusOK, model.ChatMessage{Role: model.ChatRoleAI, Text: reply})
}
