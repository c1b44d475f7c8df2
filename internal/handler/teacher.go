package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/matiku/lms/internal/exam"
	"github.com/matiku/lms/internal/handler/views"
	"github.com/matiku/lms/internal/model"
	"github.com/matiku/lms/internal/store"
)

func (h *Handler) handleTeacherDashboard(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	data := views.TeacherDashboardData{Flash: flash(r)}

	var err error
	if data.Exams, err = h.store.ListExamsByTeacher(r.Context(), user.ID); err != nil {
		slog.Error("failed to list exams", "teacher_id", user.ID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if data.Students, err = h.store.ListStudents(user.ID); err != nil {
		slog.Error("failed to list students", "teacher_id", user.ID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if data.Notifications, err = h.store.ListNotifications(user.ID); err != nil {
		slog.Error("failed to list notifications", "teacher_id", user.ID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	for _, n := range data.Notifications {
		if !n.Read {
			data.Unread++
		}
	}
	if data.Analytics, err = h.store.Analytics(user.ID); err != nil {
		slog.Error("failed to compute analytics", "teacher_id", user.ID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	render(w, r, http.StatusOK, views.TeacherDashboard(data))
}

func (h *Handler) handleExamResults(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	examID, ok := idParam(r, "examID")
	if !ok {
		http.Error(w, "invalid exam id", http.StatusBadRequest)
		return
	}
	e, err := h.store.GetExam(examID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && e.TeacherID != user.ID) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		slog.Error("failed to load exam", "exam_id", examID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	rows, err := h.store.ExamResults(examID)
	if err != nil {
		slog.Error("failed to load results", "exam_id", examID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	render(w, r, http.StatusOK, views.ExamResultsPage(e, rows))
}

func (h *Handler) handleImportExamPage(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())

	file, header, err := r.FormFile("exam_file")
	if err != nil {
		http.Error(w, "no file uploaded", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "failed to read file", http.StatusInternalServerError)
		return
	}

	id, err := h.importExam(r.Context(), user.ID, header.Filename, data)
	switch {
	case errors.Is(err, exam.ErrInvalidDraft):
		slog.Warn("rejected exam import", "teacher_id", user.ID, "error", err)
		h.redirectFlash(w, r, "/teacher/", "ImportInvalid")
	case err != nil:
		slog.Error("failed to import exam", "teacher_id", user.ID, "error", err)
		h.redirectFlash(w, r, "/teacher/", "ImportFailed")
	case id == 0:
		h.redirectFlash(w, r, "/teacher/", "ImportDuplicate")
	default:
		h.redirectFlash(w, r, "/teacher/", "ExamImported")
	}
}
