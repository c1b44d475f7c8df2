package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matiku/lms/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestUser(t *testing.T, s *Store, username string, role model.UserRole) int64 {
	t.Helper()
	id, err := s.CreateUser(model.User{
		Username:     username,
		Email:        username + "@example.com",
		DisplayName:  "User " + username,
		PasswordHash: "x",
		Role:         role,
	})
	if err != nil {
		t.Fatalf("createTestUser: %v", err)
	}
	return id
}

func createTestExam(t *testing.T, s *Store, teacherID int64, correct ...int) int64 {
	t.Helper()
	e := model.Exam{TeacherID: teacherID, Title: "Exam", DurationMinutes: 30}
	for i, c := range correct {
		e.Questions = append(e.Questions, model.Question{
			Text:               "Q" + string(rune('1'+i)),
			Options:            []string{"A", "B", "C", "D"},
			CorrectAnswerIndex: c,
		})
	}
	id, err := s.CreateExam(e)
	if err != nil {
		t.Fatalf("createTestExam: %v", err)
	}
	return id
}

func enrollTestStudent(t *testing.T, s *Store, teacherID int64, username, grade, class string) model.Student {
	t.Helper()
	uid := createTestUser(t, s, username, model.UserRoleStudent)
	st := model.Student{TeacherID: teacherID, UserID: uid, Name: username, Grade: grade, Class: class}
	id, err := s.EnrollStudent(st)
	if err != nil {
		t.Fatalf("enrollTestStudent: %v", err)
	}
	st.ID = id
	return st
}

func TestUsers(t *testing.T) {
	s := newTestStore(t)

	u, err := s.GetUserByUsername("nobody")
	if err != nil || u != nil {
		t.Fatalf("expected nil user, got %v, %v", u, err)
	}

	id := createTestUser(t, s, "budi", model.UserRoleNone)
	u, err = s.GetUserByEmail("budi@example.com")
	if err != nil || u == nil {
		t.Fatalf("GetUserByEmail: %v, %v", u, err)
	}
	if u.ID != id || u.Role != model.UserRoleNone || u.TeacherID != nil {
		t.Errorf("unexpected user %+v", u)
	}

	if err := s.SetUserRole(id, model.UserRoleTeacher); err != nil {
		t.Fatalf("SetUserRole: %v", err)
	}
	// The role is chosen once.
	if err := s.SetUserRole(id, model.UserRoleStudent); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second SetUserRole, got %v", err)
	}
	u, _ = s.GetUserByID(id)
	if u.Role != model.UserRoleTeacher {
		t.Errorf("expected teacher role, got %q", u.Role)
	}

	if err := s.UpdateProfile(id, "Pak Budi", "avatars/1.png"); err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	u, _ = s.GetUserByID(id)
	if u.DisplayName != "Pak Budi" || u.AvatarKey != "avatars/1.png" {
		t.Errorf("profile not updated: %+v", u)
	}
	if err := s.UpdateProfile(9999, "x", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	// Users without email do not collide on the unique index.
	for _, name := range []string{"a", "b"} {
		if _, err := s.CreateUser(model.User{Username: name, PasswordHash: "x"}); err != nil {
			t.Fatalf("CreateUser %s: %v", name, err)
		}
	}
	count, _ := s.UserCount()
	if count != 3 {
		t.Errorf("expected 3 users, got %d", count)
	}
}

func TestAuthSessions(t *testing.T) {
	s := newTestStore(t)
	uid := createTestUser(t, s, "siti", model.UserRoleStudent)

	token, err := s.CreateAuthSession(uid)
	if err != nil {
		t.Fatalf("CreateAuthSession: %v", err)
	}
	if len(token) != 64 {
		t.Errorf("expected 64-char token, got %d", len(token))
	}
	u, err := s.SessionUser(token)
	if err != nil || u == nil || u.ID != uid {
		t.Fatalf("SessionUser: %v, %v", u, err)
	}

	u, err = s.SessionUser("unknown")
	if err != nil || u != nil {
		t.Errorf("expected nil user for unknown token, got %v, %v", u, err)
	}

	if err := s.DeleteAuthSession(token); err != nil {
		t.Fatalf("DeleteAuthSession: %v", err)
	}
	u, _ = s.SessionUser(token)
	if u != nil {
		t.Error("expected session to be gone after delete")
	}

	// Expired sessions are invisible and cleaned up.
	if _, err := s.db.Exec(
		`INSERT INTO auth_sessions (id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		"old", uid, time.Now().Add(-48*time.Hour), time.Now().Add(-24*time.Hour),
	); err != nil {
		t.Fatalf("insert expired: %v", err)
	}
	if _, err := s.db.Exec(
		`INSERT INTO auth_sessions (id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		"older", uid, time.Now().Add(-72*time.Hour), time.Now().Add(-48*time.Hour),
	); err != nil {
		t.Fatalf("insert expired: %v", err)
	}
	u, _ = s.SessionUser("old")
	if u != nil {
		t.Error("expected expired session to resolve to nil")
	}
	n, err := s.CleanupExpiredSessions()
	if err != nil {
		t.Fatalf("CleanupExpiredSessions: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 expired session removed, got %d", n)
	}
}

func TestExamCRUD(t *testing.T) {
	s := newTestStore(t)
	teacher := createTestUser(t, s, "guru", model.UserRoleTeacher)

	id := createTestExam(t, s, teacher, 1, 0, 2)
	e, err := s.GetExam(id)
	if err != nil {
		t.Fatalf("GetExam: %v", err)
	}
	if e.Title != "Exam" || e.DurationMinutes != 30 || e.TeacherID != teacher {
		t.Errorf("unexpected exam %+v", e)
	}

	qs, err := s.ExamQuestions(context.Background(), id)
	if err != nil {
		t.Fatalf("ExamQuestions: %v", err)
	}
	if len(qs) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(qs))
	}
	for i, want := range []int{1, 0, 2} {
		if qs[i].CorrectAnswerIndex != want {
			t.Errorf("question %d: expected correct %d, got %d", i, want, qs[i].CorrectAnswerIndex)
		}
		if len(qs[i].Options) != 4 || qs[i].Options[3] != "D" {
			t.Errorf("question %d: options not round-tripped: %v", i, qs[i].Options)
		}
	}
	if !(qs[0].ID < qs[1].ID && qs[1].ID < qs[2].ID) {
		t.Error("expected questions in insertion order")
	}

	// Replace swaps the whole question set.
	err = s.ReplaceExam(id, model.Exam{
		Title:           "Renamed",
		DurationMinutes: 45,
		Questions:       []model.Question{{Text: "Only", Options: []string{"x", "y"}, CorrectAnswerIndex: 1}},
	})
	if err != nil {
		t.Fatalf("ReplaceExam: %v", err)
	}
	exams, err := s.ListExamsByTeacher(context.Background(), teacher)
	if err != nil {
		t.Fatalf("ListExamsByTeacher: %v", err)
	}
	if len(exams) != 1 || exams[0].Title != "Renamed" || len(exams[0].Questions) != 1 {
		t.Fatalf("unexpected exams after replace: %+v", exams)
	}
	if err := s.ReplaceExam(9999, model.Exam{Title: "x"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := s.DeleteExam(id); err != nil {
		t.Fatalf("DeleteExam: %v", err)
	}
	if _, err := s.GetExam(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	qs, _ = s.ExamQuestions(context.Background(), id)
	if len(qs) != 0 {
		t.Errorf("expected questions deleted, got %d", len(qs))
	}
}

func TestAttemptsAndResults(t *testing.T) {
	s := newTestStore(t)
	teacher := createTestUser(t, s, "guru", model.UserRoleTeacher)
	ani := enrollTestStudent(t, s, teacher, "ani", "10", "A")
	budi := enrollTestStudent(t, s, teacher, "budi", "10", "A")
	examID := createTestExam(t, s, teacher, 0, 1)

	now := time.Now().Truncate(time.Second)
	records := []model.ExamAttempt{
		{ID: "a1", ExamID: examID, StudentID: ani.ID, StudentUID: ani.UserID, Score: 50, Answers: model.Answers{1: 0}, StartedAt: now, CompletedAt: now.Add(time.Minute)},
		{ID: "a2", ExamID: examID, StudentID: budi.ID, StudentUID: budi.UserID, Score: 100, StartedAt: now, CompletedAt: now.Add(2 * time.Minute)},
	}
	for _, r := range records {
		if _, err := s.CreateAttempt(context.Background(), r); err != nil {
			t.Fatalf("CreateAttempt %s: %v", r.ID, err)
		}
	}
	// Attempt IDs are unique.
	if _, err := s.CreateAttempt(context.Background(), records[0]); err == nil {
		t.Error("expected duplicate attempt ID to fail")
	}

	got, err := s.GetAttempt("a1")
	if err != nil {
		t.Fatalf("GetAttempt: %v", err)
	}
	if got.Answers[1] != 0 || len(got.Answers) != 1 || got.Score != 50 {
		t.Errorf("unexpected attempt %+v", got)
	}
	got, _ = s.GetAttempt("a2")
	if got.Answers == nil || len(got.Answers) != 0 {
		t.Errorf("expected empty answers map, got %v", got.Answers)
	}
	if _, err := s.GetAttempt("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	results, err := s.ExamResults(examID)
	if err != nil {
		t.Fatalf("ExamResults: %v", err)
	}
	if len(results) != 2 || results[0].StudentName != "budi" || results[1].StudentName != "ani" {
		t.Errorf("expected results sorted by score desc, got %+v", results)
	}

	mine, err := s.ListAttemptsForUser(ani.UserID)
	if err != nil {
		t.Fatalf("ListAttemptsForUser: %v", err)
	}
	if len(mine) != 1 || mine[0].ID != "a1" {
		t.Errorf("unexpected attempts for ani: %+v", mine)
	}

	// Deleting the exam removes its attempts.
	if err := s.DeleteExam(examID); err != nil {
		t.Fatalf("DeleteExam: %v", err)
	}
	all, _ := s.ListAttemptsForExam(examID)
	if len(all) != 0 {
		t.Errorf("expected attempts deleted, got %d", len(all))
	}
}

func TestReplaceExamLockedAfterAttempt(t *testing.T) {
	s := newTestStore(t)
	teacher := createTestUser(t, s, "guru", model.UserRoleTeacher)
	ani := enrollTestStudent(t, s, teacher, "ani", "10", "A")
	examID := createTestExam(t, s, teacher, 0, 1)

	qs, err := s.ExamQuestions(context.Background(), examID)
	if err != nil {
		t.Fatalf("ExamQuestions: %v", err)
	}
	now := time.Now()
	_, err = s.CreateAttempt(context.Background(), model.ExamAttempt{
		ID: "a1", ExamID: examID, StudentID: ani.ID, StudentUID: ani.UserID, Score: 100,
		Answers:   model.Answers{qs[0].ID: 0, qs[1].ID: 1},
		StartedAt: now, CompletedAt: now,
	})
	if err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}

	err = s.ReplaceExam(examID, model.Exam{Title: "Renamed", DurationMinutes: 10, Questions: qs})
	if !errors.Is(err, ErrExamLocked) {
		t.Fatalf("expected ErrExamLocked, got %v", err)
	}

	// Nothing changed: the stored answers still match the question set.
	e, _ := s.GetExam(examID)
	if e.Title != "Exam" || e.DurationMinutes != 30 {
		t.Errorf("exam changed despite lock: %+v", e)
	}
	after, _ := s.ExamQuestions(context.Background(), examID)
	rec, _ := s.GetAttempt("a1")
	for _, q := range after {
		if _, ok := rec.Answers[q.ID]; !ok {
			t.Errorf("question %d has no stored answer after rejected edit", q.ID)
		}
	}
}

func TestEnrollStudent(t *testing.T) {
	s := newTestStore(t)
	teacher := createTestUser(t, s, "guru", model.UserRoleTeacher)
	other := createTestUser(t, s, "guru2", model.UserRoleTeacher)
	studentUID := createTestUser(t, s, "ani", model.UserRoleStudent)

	tests := []struct {
		name    string
		st      model.Student
		wantErr error
	}{
		{"teacher account", model.Student{TeacherID: teacher, UserID: other, Name: "x"}, ErrNotStudentAccount},
		{"unknown account", model.Student{TeacherID: teacher, UserID: 9999, Name: "x"}, ErrNotFound},
		{"first enrollment", model.Student{TeacherID: teacher, UserID: studentUID, Name: "Ani", Grade: "10", Class: "A"}, nil},
		{"second class", model.Student{TeacherID: other, UserID: studentUID, Name: "Ani"}, ErrAlreadyEnrolled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.EnrollStudent(tt.st)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	u, _ := s.GetUserByID(studentUID)
	if u.TeacherID == nil || *u.TeacherID != teacher {
		t.Fatalf("expected user linked to teacher, got %v", u.TeacherID)
	}
	st, err := s.StudentByUser(studentUID)
	if err != nil {
		t.Fatalf("StudentByUser: %v", err)
	}
	if st.ClassLabel() != "10 - A" {
		t.Errorf("expected label '10 - A', got %q", st.ClassLabel())
	}

	st.Class = "B"
	if err := s.UpdateStudent(st); err != nil {
		t.Fatalf("UpdateStudent: %v", err)
	}
	list, _ := s.ListStudents(teacher)
	if len(list) != 1 || list[0].Class != "B" {
		t.Errorf("unexpected roster %+v", list)
	}

	// Another teacher cannot remove the row; the owner can, which frees the account.
	if err := s.RemoveStudent(other, st.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.RemoveStudent(teacher, st.ID); err != nil {
		t.Fatalf("RemoveStudent: %v", err)
	}
	u, _ = s.GetUserByID(studentUID)
	if u.TeacherID != nil {
		t.Error("expected account unlinked after removal")
	}
	if _, err := s.EnrollStudent(model.Student{TeacherID: other, UserID: studentUID, Name: "Ani"}); err != nil {
		t.Errorf("re-enroll after removal: %v", err)
	}
}

func TestModules(t *testing.T) {
	s := newTestStore(t)
	teacher := createTestUser(t, s, "guru", model.UserRoleTeacher)

	due := time.Now().Add(24 * time.Hour).Truncate(time.Second)
	id, err := s.CreateModule(model.Module{TeacherID: teacher, Title: "Bab 1", FileKey: "k1", FileName: "bab1.pdf", DueDate: &due})
	if err != nil {
		t.Fatalf("CreateModule: %v", err)
	}

	// Updating without a new file keeps the old one.
	if err := s.UpdateModule(model.Module{ID: id, TeacherID: teacher, Title: "Bab 1 (rev)"}); err != nil {
		t.Fatalf("UpdateModule: %v", err)
	}
	m, err := s.GetModule(id)
	if err != nil {
		t.Fatalf("GetModule: %v", err)
	}
	if m.Title != "Bab 1 (rev)" || m.FileKey != "k1" || m.FileName != "bab1.pdf" {
		t.Errorf("unexpected module %+v", m)
	}
	if m.DueDate != nil {
		t.Error("expected due date cleared")
	}

	if err := s.UpdateModule(model.Module{ID: id, TeacherID: teacher, Title: "Bab 1", FileKey: "k2", FileName: "new.pdf"}); err != nil {
		t.Fatalf("UpdateModule: %v", err)
	}
	m, _ = s.GetModule(id)
	if m.FileKey != "k2" || m.FileName != "new.pdf" {
		t.Errorf("expected new file, got %+v", m)
	}

	if _, err := s.DeleteModule(teacher+1, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for foreign teacher, got %v", err)
	}
	deleted, err := s.DeleteModule(teacher, id)
	if err != nil {
		t.Fatalf("DeleteModule: %v", err)
	}
	if deleted.FileKey != "k2" {
		t.Errorf("expected deleted module's key, got %q", deleted.FileKey)
	}
	list, _ := s.ListModules(teacher)
	if len(list) != 0 {
		t.Errorf("expected no modules, got %d", len(list))
	}
}

func TestAssignmentsAndSubmissions(t *testing.T) {
	s := newTestStore(t)
	teacher := createTestUser(t, s, "guru", model.UserRoleTeacher)
	ani := enrollTestStudent(t, s, teacher, "ani", "10", "A")

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	assignments := []model.Assignment{
		{TeacherID: teacher, Title: "Everyone", AssignedToClass: model.AllClasses, DueDate: &future},
		{TeacherID: teacher, Title: "Mine", AssignedToClass: "10 - A", DueDate: &past},
		{TeacherID: teacher, Title: "Other class", AssignedToClass: "11 - B"},
		{TeacherID: teacher, Title: "Default target"},
	}
	ids := make([]int64, len(assignments))
	for i, a := range assignments {
		id, err := s.CreateAssignment(a)
		if err != nil {
			t.Fatalf("CreateAssignment %q: %v", a.Title, err)
		}
		ids[i] = id
	}

	visible, err := s.ListAssignmentsForStudent(ani)
	if err != nil {
		t.Fatalf("ListAssignmentsForStudent: %v", err)
	}
	if len(visible) != 3 {
		t.Fatalf("expected 3 visible assignments, got %d: %+v", len(visible), visible)
	}
	for _, a := range visible {
		if a.Title == "Other class" {
			t.Error("assignment for another class is visible")
		}
	}

	tests := []struct {
		name       string
		assignment int64
		wantStatus model.SubmissionStatus
	}{
		{"before due date", ids[0], model.SubmissionOnTime},
		{"after due date", ids[1], model.SubmissionLate},
		{"no due date", ids[3], model.SubmissionOnTime},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub, err := s.CreateSubmission(model.Submission{
				AssignmentID: tt.assignment, StudentID: ani.ID, UserID: ani.UserID,
				FileKey: "sub-" + tt.name, FileName: "work.pdf",
			})
			if err != nil {
				t.Fatalf("CreateSubmission: %v", err)
			}
			if sub.Status != tt.wantStatus {
				t.Errorf("expected status %q, got %q", tt.wantStatus, sub.Status)
			}
		})
	}

	subs, err := s.ListSubmissions(ids[1])
	if err != nil || len(subs) != 1 {
		t.Fatalf("ListSubmissions: %v, %d", err, len(subs))
	}
	if subs[0].Grade != nil || subs[0].Feedback != nil {
		t.Error("expected ungraded submission")
	}
	if err := s.GradeSubmission(subs[0].ID, 87.5, "Bagus"); err != nil {
		t.Fatalf("GradeSubmission: %v", err)
	}
	owner, err := s.SubmissionTeacher(subs[0].ID)
	if err != nil || owner != teacher {
		t.Errorf("SubmissionTeacher: %d, %v", owner, err)
	}
	subs, _ = s.ListSubmissionsByUser(ani.UserID)
	var graded int
	for _, sub := range subs {
		if sub.Grade != nil {
			graded++
			if *sub.Grade != 87.5 || *sub.Feedback != "Bagus" {
				t.Errorf("unexpected grade %v / %v", *sub.Grade, *sub.Feedback)
			}
		}
	}
	if graded != 1 {
		t.Errorf("expected 1 graded submission, got %d", graded)
	}

	keys, err := s.DeleteAssignment(teacher, ids[1])
	if err != nil {
		t.Fatalf("DeleteAssignment: %v", err)
	}
	if len(keys) != 1 || keys[0] != "sub-after due date" {
		t.Errorf("unexpected released keys %v", keys)
	}
	if _, err := s.GetAssignment(ids[1]); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.CreateSubmission(model.Submission{AssignmentID: 9999}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown assignment, got %v", err)
	}
}

func TestAssessments(t *testing.T) {
	s := newTestStore(t)
	teacher := createTestUser(t, s, "guru", model.UserRoleTeacher)
	ani := enrollTestStudent(t, s, teacher, "ani", "10", "A")

	first, err := s.SaveAssessment(model.Assessment{StudentID: ani.ID, ModuleID: 1, ModuleTitle: "Bab 1", Analysis: "ok", Score: 60, Recommendation: "latihan"})
	if err != nil {
		t.Fatalf("SaveAssessment: %v", err)
	}
	second, err := s.SaveAssessment(model.Assessment{StudentID: ani.ID, ModuleID: 1, ModuleTitle: "Bab 1", Analysis: "better", Score: 80, Recommendation: "lanjut"})
	if err != nil {
		t.Fatalf("SaveAssessment overwrite: %v", err)
	}
	if first != second {
		t.Errorf("expected overwrite to keep ID %d, got %d", first, second)
	}
	if _, err := s.SaveAssessment(model.Assessment{StudentID: ani.ID, ModuleID: 2, ModuleTitle: "Bab 2", Score: 40}); err != nil {
		t.Fatalf("SaveAssessment: %v", err)
	}

	list, err := s.ListAssessments(teacher)
	if err != nil {
		t.Fatalf("ListAssessments: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 assessments, got %d", len(list))
	}

	a, err := s.Analytics(teacher)
	if err != nil {
		t.Fatalf("Analytics: %v", err)
	}
	if a.StudentCount != 1 || a.AverageAssessment != 60 {
		t.Errorf("unexpected analytics %+v", a)
	}
	if a.ScoreByModule["Bab 1"] != 80 || a.ScoreByModule["Bab 2"] != 40 {
		t.Errorf("unexpected per-module scores %v", a.ScoreByModule)
	}

	if err := s.DeleteAssessment(teacher+100, first); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for foreign teacher, got %v", err)
	}
	if err := s.DeleteAssessment(teacher, first); err != nil {
		t.Fatalf("DeleteAssessment: %v", err)
	}
}

func TestNotifications(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < NotificationLimit+5; i++ {
		if err := s.AddNotification(1, "msg"); err != nil {
			t.Fatalf("AddNotification: %v", err)
		}
	}
	if err := s.AddNotification(2, "other teacher"); err != nil {
		t.Fatalf("AddNotification: %v", err)
	}

	list, err := s.ListNotifications(1)
	if err != nil {
		t.Fatalf("ListNotifications: %v", err)
	}
	if len(list) != NotificationLimit {
		t.Fatalf("expected %d notifications, got %d", NotificationLimit, len(list))
	}
	if list[0].ID < list[len(list)-1].ID {
		t.Error("expected newest first")
	}

	if err := s.MarkNotificationsRead(1); err != nil {
		t.Fatalf("MarkNotificationsRead: %v", err)
	}
	list, _ = s.ListNotifications(1)
	for _, n := range list {
		if !n.Read {
			t.Fatal("expected all notifications read")
		}
	}
	list, _ = s.ListNotifications(2)
	if len(list) != 1 || list[0].Read {
		t.Errorf("other teacher's notifications changed: %+v", list)
	}
}

func TestImportedFileHash(t *testing.T) {
	s := newTestStore(t)

	// Missing file returns empty string.
	hash, err := s.GetImportedFileHash(1, "exam.json")
	if err != nil {
		t.Fatalf("GetImportedFileHash: %v", err)
	}
	if hash != "" {
		t.Errorf("expected empty hash, got %q", hash)
	}

	if err := s.SetImportedFileHash(1, "exam.json", "abc123"); err != nil {
		t.Fatalf("SetImportedFileHash: %v", err)
	}
	hash, _ = s.GetImportedFileHash(1, "exam.json")
	if hash != "abc123" {
		t.Errorf("expected 'abc123', got %q", hash)
	}

	// Update existing.
	if err := s.SetImportedFileHash(1, "exam.json", "def456"); err != nil {
		t.Fatalf("SetImportedFileHash update: %v", err)
	}

	tests := []struct {
		owner int64
		hash  string
		want  bool
	}{
		{1, "def456", true},
		{1, "abc123", false},
		{2, "def456", false},
	}
	for _, tt := range tests {
		got, err := s.HashImported(tt.owner, tt.hash)
		if err != nil {
			t.Fatalf("HashImported: %v", err)
		}
		if got != tt.want {
			t.Errorf("HashImported(%d, %q) = %v, want %v", tt.owner, tt.hash, got, tt.want)
		}
	}
}

func TestExportAttempts(t *testing.T) {
	s := newTestStore(t)
	teacher := createTestUser(t, s, "guru", model.UserRoleTeacher)
	ani := enrollTestStudent(t, s, teacher, "ani", "10", "A")
	examID := createTestExam(t, s, teacher, 0, 1)
	qs, _ := s.ExamQuestions(context.Background(), examID)

	now := time.Now()
	for i, id := range []string{"x1", "x2"} {
		_, err := s.CreateAttempt(context.Background(), model.ExamAttempt{
			ID: id, ExamID: examID, StudentID: ani.ID, StudentUID: ani.UserID,
			Score: float64(50 * (i + 1)), Answers: model.Answers{qs[0].ID: 0},
			StartedAt: now, CompletedAt: now.Add(time.Duration(i+1) * time.Minute),
		})
		if err != nil {
			t.Fatalf("CreateAttempt: %v", err)
		}
	}
	createTestExam(t, s, createTestUser(t, s, "guru2", model.UserRoleTeacher), 0)

	exp, err := s.ExportAttempts(teacher)
	if err != nil {
		t.Fatalf("ExportAttempts: %v", err)
	}
	if len(exp.Exams) != 1 {
		t.Fatalf("expected 1 exam, got %d", len(exp.Exams))
	}
	ee := exp.Exams[0]
	if ee.Teacher != "User guru" || ee.NumQuestions != 2 || len(ee.Results) != 2 {
		t.Fatalf("unexpected export %+v", ee)
	}
	r := ee.Results[1]
	if r.AttemptNumber != 2 || r.Username != "ani" {
		t.Errorf("unexpected result %+v", r)
	}
	if r.Questions[0].Selected == nil || *r.Questions[0].Selected != 0 {
		t.Error("expected first question selected 0")
	}
	if r.Questions[1].Selected != nil {
		t.Error("expected second question unanswered")
	}

	all, _ := s.ExportAttempts(0)
	if len(all.Exams) != 2 {
		t.Errorf("expected 2 exams in full export, got %d", len(all.Exams))
	}
}
