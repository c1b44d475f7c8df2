package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/matiku/lms/internal/exam"
	"github.com/matiku/lms/internal/handler/views"
	appI18n "github.com/matiku/lms/internal/i18n"
	"github.com/matiku/lms/internal/model"
	"github.com/matiku/lms/internal/store"
)

// flashMessages are the message IDs a redirect may carry in ?flash=.
var flashMessages = map[string]bool{
	"LoadFailed":      true,
	"NotEnrolled":     true,
	"ExamNotFound":    true,
	"ExamImported":    true,
	"ImportDuplicate": true,
	"ImportInvalid":   true,
	"ImportFailed":    true,
}

func (h *Handler) redirectFlash(w http.ResponseWriter, r *http.Request, p, msgID string) {
	http.Redirect(w, r, h.path(p)+"?flash="+url.QueryEscape(msgID), http.StatusSeeOther)
}

func flash(r *http.Request) string {
	id := r.URL.Query().Get("flash")
	if !flashMessages[id] {
		return ""
	}
	return appI18n.T(r.Context(), id)
}

func (h *Handler) handleStudentDashboard(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	data := views.StudentDashboardData{Flash: flash(r)}

	st, err := h.store.StudentByUser(user.ID)
	if errors.Is(err, store.ErrNotFound) {
		render(w, r, http.StatusOK, views.StudentDashboard(data))
		return
	}
	if err != nil {
		slog.Error("failed to load roster entry", "user_id", user.ID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	data.Student = &st

	exams, err := h.store.ListExamsByTeacher(r.Context(), st.TeacherID)
	if err != nil {
		slog.Error("failed to list exams", "teacher_id", st.TeacherID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	attempts, err := h.store.ListAttemptsForUser(user.ID)
	if err != nil {
		slog.Error("failed to list attempts", "user_id", user.ID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	byExam := make(map[int64][]model.ExamAttempt)
	for _, a := range attempts {
		byExam[a.ExamID] = append(byExam[a.ExamID], a)
	}
	for _, e := range exams {
		card := views.ExamCard{Exam: e, NumQuestions: len(e.Questions)}
		for _, a := range byExam[e.ID] {
			card.Attempts++
			if a.Score > card.BestScore {
				card.BestScore = a.Score
			}
			if card.LastAttempt == "" {
				card.LastAttempt = a.ID
			}
		}
		if a, ok := h.exams.Get(exam.Key{UserID: user.ID, ExamID: e.ID}); ok {
			s := a.State()
			card.InProgress = s == exam.StateTaking || s == exam.StateSubmitting
		}
		data.Exams = append(data.Exams, card)
	}

	assignments, err := h.store.ListAssignmentsForStudent(st)
	if err != nil {
		slog.Error("failed to list assignments", "student_id", st.ID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	subs, err := h.store.ListSubmissionsByUser(user.ID)
	if err != nil {
		slog.Error("failed to list submissions", "user_id", user.ID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	latest := make(map[int64]*model.Submission)
	for i := range subs {
		if _, ok := latest[subs[i].AssignmentID]; !ok {
			latest[subs[i].AssignmentID] = &subs[i]
		}
	}
	for _, a := range assignments {
		data.Assignments = append(data.Assignments, views.AssignmentRow{Assignment: a, Submission: latest[a.ID]})
	}

	render(w, r, http.StatusOK, views.StudentDashboard(data))
}

// examForStudent loads the exam in the URL and checks it belongs to the
// student's teacher. It writes the redirect itself when ok is false.
func (h *Handler) examForStudent(w http.ResponseWriter, r *http.Request) (model.Exam, model.Student, bool) {
	user := model.UserFromContext(r.Context())
	examID, ok := idParam(r, "examID")
	if !ok {
		http.Error(w, "invalid exam id", http.StatusBadRequest)
		return model.Exam{}, model.Student{}, false
	}
	st, err := h.store.StudentByUser(user.ID)
	if errors.Is(err, store.ErrNotFound) {
		h.redirectFlash(w, r, "/student/", "NotEnrolled")
		return model.Exam{}, model.Student{}, false
	}
	if err != nil {
		slog.Error("failed to load roster entry", "user_id", user.ID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return model.Exam{}, model.Student{}, false
	}
	e, err := h.store.GetExam(examID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && e.TeacherID != st.TeacherID) {
		h.redirectFlash(w, r, "/student/", "ExamNotFound")
		return model.Exam{}, model.Student{}, false
	}
	if err != nil {
		slog.Error("failed to load exam", "exam_id", examID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return model.Exam{}, model.Student{}, false
	}
	return e, st, true
}

func attemptKey(r *http.Request) (exam.Key, bool) {
	examID, ok := idParam(r, "examID")
	return exam.Key{UserID: model.UserFromContext(r.Context()).ID, ExamID: examID}, ok
}

// liveAttempt returns the student's live attempt for the exam in the URL,
// redirecting to the dashboard when there is none.
func (h *Handler) liveAttempt(w http.ResponseWriter, r *http.Request) (*exam.Attempt, bool) {
	key, ok := attemptKey(r)
	if !ok {
		http.Error(w, "invalid exam id", http.StatusBadRequest)
		return nil, false
	}
	a, ok := h.exams.Get(key)
	if !ok {
		http.Redirect(w, r, h.path("/student/"), http.StatusSeeOther)
		return nil, false
	}
	return a, true
}

func (h *Handler) examPath(a *exam.Attempt, suffix string) string {
	return h.path("/student/exams/" + strconv.FormatInt(a.ExamID(), 10) + suffix)
}

func (h *Handler) handleStartExam(w http.ResponseWriter, r *http.Request) {
	e, st, ok := h.examForStudent(w, r)
	if !ok {
		return
	}
	user := model.UserFromContext(r.Context())
	taker := exam.Taker{StudentID: st.ID, UserID: user.ID}

	a, resumed, err := h.exams.Start(r.Context(), e, taker)
	if err == nil && resumed {
		// A finished or abandoned attempt is replaced by a fresh one.
		if s := a.State(); s == exam.StateResult || s == exam.StateIdle {
			h.exams.Discard(exam.Key{UserID: user.ID, ExamID: e.ID})
			a, _, err = h.exams.Start(r.Context(), e, taker)
		}
	}
	if err != nil {
		slog.Error("failed to start exam", "exam_id", e.ID, "user_id", user.ID, "error", err)
		h.redirectFlash(w, r, "/student/", "LoadFailed")
		return
	}
	http.Redirect(w, r, h.examPath(a, ""), http.StatusSeeOther)
}

func (h *Handler) handleExamPage(w http.ResponseWriter, r *http.Request) {
	a, ok := h.liveAttempt(w, r)
	if !ok {
		return
	}
	v := a.Snapshot()
	switch v.State {
	case exam.StateResult:
		http.Redirect(w, r, h.examPath(a, "/result"), http.StatusSeeOther)
		return
	case exam.StateIdle:
		http.Redirect(w, r, h.path("/student/"), http.StatusSeeOther)
		return
	}
	render(w, r, http.StatusOK, views.ExamPage(v))
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	a, ok := h.liveAttempt(w, r)
	if !ok {
		return
	}
	qid, err := strconv.ParseInt(r.FormValue("question_id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid question id", http.StatusBadRequest)
		return
	}
	option, err := strconv.Atoi(r.FormValue("option"))
	if err != nil {
		http.Error(w, "invalid option", http.StatusBadRequest)
		return
	}
	switch err := a.Select(qid, option); {
	case err == nil, errors.Is(err, exam.ErrSubmitInProgress), errors.Is(err, exam.ErrNotTaking):
		// The exam page redirects onward when the attempt is no longer open.
	case errors.Is(err, exam.ErrUnknownQuestion), errors.Is(err, exam.ErrInvalidOption):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	default:
		slog.Error("failed to record answer", "exam_id", a.ExamID(), "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, h.examPath(a, ""), http.StatusSeeOther)
}

func (h *Handler) handleNext(w http.ResponseWriter, r *http.Request) {
	if a, ok := h.liveAttempt(w, r); ok {
		a.Next()
		http.Redirect(w, r, h.examPath(a, ""), http.StatusSeeOther)
	}
}

func (h *Handler) handlePrev(w http.ResponseWriter, r *http.Request) {
	if a, ok := h.liveAttempt(w, r); ok {
		a.Prev()
		http.Redirect(w, r, h.examPath(a, ""), http.StatusSeeOther)
	}
}

func (h *Handler) handleGoto(w http.ResponseWriter, r *http.Request) {
	a, ok := h.liveAttempt(w, r)
	if !ok {
		return
	}
	i, err := strconv.Atoi(r.FormValue("index"))
	if err != nil {
		http.Error(w, "invalid question index", http.StatusBadRequest)
		return
	}
	a.Goto(i)
	http.Redirect(w, r, h.examPath(a, ""), http.StatusSeeOther)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	a, ok := h.liveAttempt(w, r)
	if !ok {
		return
	}
	if a.State() == exam.StateResult {
		http.Redirect(w, r, h.examPath(a, "/result"), http.StatusSeeOther)
		return
	}
	rec, err := a.Submit(r.Context())
	switch {
	case err == nil:
		h.notifyExamFinished(a.Snapshot().Exam, rec)
		h.exams.Discard(exam.Key{UserID: rec.StudentUID, ExamID: rec.ExamID})
		http.Redirect(w, r, h.storedResultPath(rec), http.StatusSeeOther)
	case errors.Is(err, exam.ErrSubmitInProgress):
		http.Redirect(w, r, h.examPath(a, ""), http.StatusSeeOther)
	case errors.Is(err, exam.ErrNotTaking):
		http.Redirect(w, r, h.path("/student/"), http.StatusSeeOther)
	default:
		// The attempt stays open and the page shows the failure.
		slog.Error("failed to submit exam", "exam_id", a.ExamID(), "error", err)
		http.Redirect(w, r, h.examPath(a, ""), http.StatusSeeOther)
	}
}

func (h *Handler) handleResult(w http.ResponseWriter, r *http.Request) {
	if id := r.URL.Query().Get("attempt"); id != "" {
		h.renderStoredResult(w, r, id)
		return
	}
	a, ok := h.liveAttempt(w, r)
	if !ok {
		return
	}
	v := a.Snapshot()
	if v.State != exam.StateResult || v.Result == nil {
		http.Redirect(w, r, h.examPath(a, ""), http.StatusSeeOther)
		return
	}
	// The record is stored; the live attempt is no longer needed.
	h.exams.Discard(exam.Key{UserID: v.Result.StudentUID, ExamID: v.Result.ExamID})
	http.Redirect(w, r, h.storedResultPath(v.Result), http.StatusSeeOther)
}

func (h *Handler) storedResultPath(rec *model.ExamAttempt) string {
	return h.path("/student/exams/" + strconv.FormatInt(rec.ExamID, 10) + "/result?attempt=" + url.QueryEscape(rec.ID))
}

func (h *Handler) renderStoredResult(w http.ResponseWriter, r *http.Request, attemptID string) {
	user := model.UserFromContext(r.Context())
	rec, err := h.store.GetAttempt(attemptID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && rec.StudentUID != user.ID) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		slog.Error("failed to load attempt", "attempt_id", attemptID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	e, err := h.store.GetExam(rec.ExamID)
	if err != nil {
		slog.Error("failed to load exam", "exam_id", rec.ExamID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	questions, err := h.store.ExamQuestions(r.Context(), e.ID)
	if err != nil {
		slog.Error("failed to load questions", "exam_id", e.ID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	render(w, r, http.StatusOK, views.ResultPage(views.NewResultData(e, questions, rec)))
}

func (h *Handler) handleLeave(w http.ResponseWriter, r *http.Request) {
	if key, ok := attemptKey(r); ok {
		h.exams.Discard(key)
	}
	http.Redirect(w, r, h.path("/student/"), http.StatusSeeOther)
}

type examStatus struct {
	State         string `json:"state"`
	Remaining     int    `json:"remaining"`
	RemainingText string `json:"remaining_text"`
	Answered      int    `json:"answered"`
	Failed        bool   `json:"failed,omitempty"`
}

func (h *Handler) handleExamStatus(w http.ResponseWriter, r *http.Request) {
	key, ok := attemptKey(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid exam id")
		return
	}
	a, ok := h.exams.Get(key)
	if !ok {
		writeError(w, http.StatusNotFound, "no active attempt")
		return
	}
	v := a.Snapshot()
	writeJSON(w, http.StatusOK, examStatus{
		State:         v.State.String(),
		Remaining:     v.Remaining,
		RemainingText: exam.FormatRemaining(v.Remaining),
		Answered:      len(v.Answers),
		Failed:        v.Err != nil,
	})
}

// onAutoSubmit runs on the countdown goroutine when time runs out.
func (h *Handler) onAutoSubmit(a *exam.Attempt, rec *model.ExamAttempt, err error) {
	if err != nil || rec == nil {
		return
	}
	h.notifyExamFinished(a.Snapshot().Exam, rec)
}

func (h *Handler) notifyExamFinished(e model.Exam, rec *model.ExamAttempt) {
	name := "?"
	if st, err := h.store.GetStudent(rec.StudentID); err == nil {
		name = st.Name
	}
	h.notify(e.TeacherID, "NotifyExamFinished", map[string]any{
		"Student": name,
		"Exam":    e.Title,
		"Score":   exam.FormatScore(rec.Score),
	})
}

// importExam stores an uploaded exam file for a teacher unless the same
// content was imported before. It returns the new exam ID, or 0 for a
// duplicate.
func (h *Handler) importExam(ctx context.Context, teacherID int64, name string, data []byte) (int64, error) {
	hash := exam.Checksum(data)
	dup, err := h.store.HashImported(teacherID, hash)
	if err != nil {
		return 0, err
	}
	if dup {
		slog.InfoContext(ctx, "exam file already imported", "teacher_id", teacherID, "name", name)
		return 0, nil
	}
	d, err := exam.ParseImport(data)
	if err != nil {
		return 0, err
	}
	id, err := h.store.CreateExam(d.Exam(teacherID))
	if err != nil {
		return 0, err
	}
	if err := h.store.SetImportedFileHash(teacherID, name, hash); err != nil {
		slog.ErrorContext(ctx, "failed to record import", "name", name, "error", err)
	}
	slog.InfoContext(ctx, "imported exam", "teacher_id", teacherID, "exam_id", id, "questions", len(d.Questions))
	return id, nil
}
