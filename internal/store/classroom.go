package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/matiku/lms/internal/model"
)

var (
	// ErrNotStudentAccount is returned when enrolling a user whose role is not student.
	ErrNotStudentAccount = errors.New("account is not a student")
	// ErrAlreadyEnrolled is returned when a user is already on a roster.
	ErrAlreadyEnrolled = errors.New("student already belongs to a class")
)

// EnrollStudent adds a student account to a teacher's roster and links the
// account to that teacher.
func (s *Store) EnrollStudent(st model.Student) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var role model.UserRole
	var teacherID sql.NullInt64
	err = tx.QueryRow(`SELECT role, teacher_id FROM users WHERE id = ?`, st.UserID).Scan(&role, &teacherID)
	if err != nil {
		return 0, notFound(err)
	}
	if role != model.UserRoleStudent {
		return 0, ErrNotStudentAccount
	}
	if teacherID.Valid {
		return 0, ErrAlreadyEnrolled
	}

	res, err := tx.Exec(
		`INSERT INTO students (teacher_id, user_id, name, grade, class, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		st.TeacherID, st.UserID, st.Name, st.Grade, st.Class, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if _, err := tx.Exec(`UPDATE users SET teacher_id = ? WHERE id = ?`, st.TeacherID, st.UserID); err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

// UpdateStudent changes a roster row's name, grade and class.
func (s *Store) UpdateStudent(st model.Student) error {
	res, err := s.db.Exec(
		`UPDATE students SET name = ?, grade = ?, class = ? WHERE id = ? AND teacher_id = ?`,
		st.Name, st.Grade, st.Class, st.ID, st.TeacherID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RemoveStudent deletes a roster row and unlinks the account so another
// teacher can enroll it.
func (s *Store) RemoveStudent(teacherID, studentID int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var userID int64
	err = tx.QueryRow(`SELECT user_id FROM students WHERE id = ? AND teacher_id = ?`, studentID, teacherID).Scan(&userID)
	if err != nil {
		return notFound(err)
	}
	if _, err := tx.Exec(`DELETE FROM students WHERE id = ?`, studentID); err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE users SET teacher_id = NULL WHERE id = ?`, userID); err != nil {
		return err
	}
	return tx.Commit()
}

const studentColumns = `id, teacher_id, user_id, name, grade, class, created_at`

func scanStudent(sc interface{ Scan(...any) error }) (model.Student, error) {
	var st model.Student
	err := sc.Scan(&st.ID, &st.TeacherID, &st.UserID, &st.Name, &st.Grade, &st.Class, &st.CreatedAt)
	return st, err
}

// ListStudents returns a teacher's roster ordered by name.
func (s *Store) ListStudents(teacherID int64) ([]model.Student, error) {
	rows, err := s.db.Query(`SELECT `+studentColumns+` FROM students WHERE teacher_id = ? ORDER BY name, id`, teacherID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var students []model.Student
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		students = append(students, st)
	}
	return students, rows.Err()
}

// GetStudent returns a roster row by ID.
func (s *Store) GetStudent(id int64) (model.Student, error) {
	st, err := scanStudent(s.db.QueryRow(`SELECT `+studentColumns+` FROM students WHERE id = ?`, id))
	return st, notFound(err)
}

// StudentByUser returns the roster row of a student account.
func (s *Store) StudentByUser(userID int64) (model.Student, error) {
	st, err := scanStudent(s.db.QueryRow(`SELECT `+studentColumns+` FROM students WHERE user_id = ?`, userID))
	return st, notFound(err)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// CreateModule stores a teaching module.
func (s *Store) CreateModule(m model.Module) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO modules (teacher_id, title, description, file_key, file_name, due_date, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.TeacherID, m.Title, m.Description, m.FileKey, m.FileName, nullTime(m.DueDate), time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpdateModule changes a module's text fields and due date. The file is kept
// unless m carries a new key.
func (s *Store) UpdateModule(m model.Module) error {
	res, err := s.db.Exec(
		`UPDATE modules SET title = ?, description = ?, due_date = ?,
		 file_key = CASE WHEN ? = '' THEN file_key ELSE ? END,
		 file_name = CASE WHEN ? = '' THEN file_name ELSE ? END
		 WHERE id = ? AND teacher_id = ?`,
		m.Title, m.Description, nullTime(m.DueDate),
		m.FileKey, m.FileKey, m.FileKey, m.FileName,
		m.ID, m.TeacherID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteModule removes a module and returns it so the caller can release its file.
func (s *Store) DeleteModule(teacherID, id int64) (model.Module, error) {
	m, err := s.GetModule(id)
	if err != nil {
		return m, err
	}
	if m.TeacherID != teacherID {
		return m, ErrNotFound
	}
	if _, err := s.db.Exec(`DELETE FROM modules WHERE id = ?`, id); err != nil {
		return m, err
	}
	return m, nil
}

const moduleColumns = `id, teacher_id, title, description, file_key, file_name, due_date, created_at`

func scanModule(sc interface{ Scan(...any) error }) (model.Module, error) {
	var m model.Module
	var due sql.NullTime
	err := sc.Scan(&m.ID, &m.TeacherID, &m.Title, &m.Description, &m.FileKey, &m.FileName, &due, &m.CreatedAt)
	m.DueDate = timePtr(due)
	return m, err
}

// GetModule returns a module by ID.
func (s *Store) GetModule(id int64) (model.Module, error) {
	m, err := scanModule(s.db.QueryRow(`SELECT `+moduleColumns+` FROM modules WHERE id = ?`, id))
	return m, notFound(err)
}

// ListModules returns a teacher's modules, newest first.
func (s *Store) ListModules(teacherID int64) ([]model.Module, error) {
	rows, err := s.db.Query(`SELECT `+moduleColumns+` FROM modules WHERE teacher_id = ? ORDER BY created_at DESC, id DESC`, teacherID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var modules []model.Module
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	return modules, rows.Err()
}

// CreateAssignment stores an assignment.
func (s *Store) CreateAssignment(a model.Assignment) (int64, error) {
	if a.AssignedToClass == "" {
		a.AssignedToClass = model.AllClasses
	}
	res, err := s.db.Exec(
		`INSERT INTO assignments (teacher_id, title, description, due_date, assigned_to_class, file_key, file_name, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.TeacherID, a.Title, a.Description, nullTime(a.DueDate), a.AssignedToClass, a.FileKey, a.FileName, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpdateAssignment changes an assignment's text, due date and target class.
func (s *Store) UpdateAssignment(a model.Assignment) error {
	if a.AssignedToClass == "" {
		a.AssignedToClass = model.AllClasses
	}
	res, err := s.db.Exec(
		`UPDATE assignments SET title = ?, description = ?, due_date = ?, assigned_to_class = ?
		 WHERE id = ? AND teacher_id = ?`,
		a.Title, a.Description, nullTime(a.DueDate), a.AssignedToClass, a.ID, a.TeacherID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAssignment removes an assignment and its submissions. The removed
// submissions' file keys are returned so the caller can release them.
func (s *Store) DeleteAssignment(teacherID, id int64) ([]string, error) {
	a, err := s.GetAssignment(id)
	if err != nil {
		return nil, err
	}
	if a.TeacherID != teacherID {
		return nil, ErrNotFound
	}
	subs, err := s.ListSubmissions(id)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(subs)+1)
	if a.FileKey != "" {
		keys = append(keys, a.FileKey)
	}
	for _, sub := range subs {
		keys = append(keys, sub.FileKey)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM submissions WHERE assignment_id = ?`, id); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`DELETE FROM assignments WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return keys, tx.Commit()
}

const assignmentColumns = `id, teacher_id, title, description, due_date, assigned_to_class, file_key, file_name, created_at`

func scanAssignment(sc interface{ Scan(...any) error }) (model.Assignment, error) {
	var a model.Assignment
	var due sql.NullTime
	err := sc.Scan(&a.ID, &a.TeacherID, &a.Title, &a.Description, &due, &a.AssignedToClass, &a.FileKey, &a.FileName, &a.CreatedAt)
	a.DueDate = timePtr(due)
	return a, err
}

func (s *Store) queryAssignments(query string, args ...any) ([]model.Assignment, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetAssignment returns an assignment by ID.
func (s *Store) GetAssignment(id int64) (model.Assignment, error) {
	a, err := scanAssignment(s.db.QueryRow(`SELECT `+assignmentColumns+` FROM assignments WHERE id = ?`, id))
	return a, notFound(err)
}

// ListAssignments returns a teacher's assignments, newest first.
func (s *Store) ListAssignments(teacherID int64) ([]model.Assignment, error) {
	return s.queryAssignments(`SELECT `+assignmentColumns+` FROM assignments WHERE teacher_id = ? ORDER BY created_at DESC, id DESC`, teacherID)
}

// ListAssignmentsForStudent returns the assignments visible to a rostered
// student: those for all classes and those for the student's class.
func (s *Store) ListAssignmentsForStudent(st model.Student) ([]model.Assignment, error) {
	return s.queryAssignments(
		`SELECT `+assignmentColumns+` FROM assignments
		 WHERE teacher_id = ? AND (assigned_to_class = ? OR assigned_to_class = ?)
		 ORDER BY due_date IS NULL, due_date, id`,
		st.TeacherID, model.AllClasses, st.ClassLabel(),
	)
}

// CreateSubmission stores a student's submission. Status is derived from the
// assignment's due date and the submission time.
func (s *Store) CreateSubmission(sub model.Submission) (model.Submission, error) {
	a, err := s.GetAssignment(sub.AssignmentID)
	if err != nil {
		return sub, fmt.Errorf("assignment %d: %w", sub.AssignmentID, err)
	}
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = time.Now()
	}
	sub.Status = model.SubmissionStatusAt(a.DueDate, sub.SubmittedAt)
	res, err := s.db.Exec(
		`INSERT INTO submissions (assignment_id, student_id, user_id, file_key, file_name, submitted_at, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sub.AssignmentID, sub.StudentID, sub.UserID, sub.FileKey, sub.FileName, sub.SubmittedAt, sub.Status,
	)
	if err != nil {
		return sub, err
	}
	sub.ID, err = res.LastInsertId()
	return sub, err
}

// GradeSubmission records a teacher's grade and feedback.
func (s *Store) GradeSubmission(id int64, grade float64, feedback string) error {
	res, err := s.db.Exec(`UPDATE submissions SET grade = ?, feedback = ? WHERE id = ?`, grade, feedback, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const submissionColumns = `id, assignment_id, student_id, user_id, file_key, file_name, submitted_at, grade, feedback, status`

func (s *Store) querySubmissions(query string, args ...any) ([]model.Submission, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Submission
	for rows.Next() {
		var sub model.Submission
		var grade sql.NullFloat64
		var feedback sql.NullString
		if err := rows.Scan(&sub.ID, &sub.AssignmentID, &sub.StudentID, &sub.UserID, &sub.FileKey, &sub.FileName,
			&sub.SubmittedAt, &grade, &feedback, &sub.Status); err != nil {
			return nil, err
		}
		if grade.Valid {
			sub.Grade = &grade.Float64
		}
		if feedback.Valid {
			sub.Feedback = &feedback.String
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// ListSubmissions returns all submissions for an assignment in submission order.
func (s *Store) ListSubmissions(assignmentID int64) ([]model.Submission, error) {
	return s.querySubmissions(`SELECT `+submissionColumns+` FROM submissions WHERE assignment_id = ? ORDER BY submitted_at, id`, assignmentID)
}

// ListSubmissionsByUser returns a student account's submissions, newest first.
func (s *Store) ListSubmissionsByUser(userID int64) ([]model.Submission, error) {
	return s.querySubmissions(`SELECT `+submissionColumns+` FROM submissions WHERE user_id = ? ORDER BY submitted_at DESC, id DESC`, userID)
}

// SubmissionTeacher returns the ID of the teacher owning a submission's assignment.
func (s *Store) SubmissionTeacher(submissionID int64) (int64, error) {
	var teacherID int64
	err := s.db.QueryRow(
		`SELECT a.teacher_id FROM submissions s JOIN assignments a ON a.id = s.assignment_id WHERE s.id = ?`,
		submissionID,
	).Scan(&teacherID)
	return teacherID, notFound(err)
}
