package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/matiku/lms/internal/model"
)

// CreateExam stores an exam with its questions and returns its ID.
func (s *Store) CreateExam(e model.Exam) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO exams (teacher_id, title, duration_minutes, created_at) VALUES (?, ?, ?, ?)`,
		e.TeacherID, e.Title, e.DurationMinutes, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	examID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if err := insertQuestions(tx, examID, e.Questions); err != nil {
		return 0, err
	}
	return examID, tx.Commit()
}

// ReplaceExam updates an exam's title and duration and replaces its whole
// question set. Stored attempts reference the question IDs, so an exam
// that has been attempted returns ErrExamLocked.
func (s *Store) ReplaceExam(id int64, e model.Exam) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var attempts int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM exam_attempts WHERE exam_id = ?`, id).Scan(&attempts); err != nil {
		return err
	}
	if attempts > 0 {
		return ErrExamLocked
	}

	res, err := tx.Exec(
		`UPDATE exams SET title = ?, duration_minutes = ? WHERE id = ?`,
		e.Title, e.DurationMinutes, id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.Exec(`DELETE FROM questions WHERE exam_id = ?`, id); err != nil {
		return err
	}
	if err := insertQuestions(tx, id, e.Questions); err != nil {
		return err
	}
	return tx.Commit()
}

func insertQuestions(tx *sql.Tx, examID int64, questions []model.Question) error {
	for _, q := range questions {
		opts, err := json.Marshal(q.Options)
		if err != nil {
			return fmt.Errorf("encode options: %w", err)
		}
		_, err = tx.Exec(
			`INSERT INTO questions (exam_id, question_text, options, correct_answer_index) VALUES (?, ?, ?, ?)`,
			examID, q.Text, string(opts), q.CorrectAnswerIndex,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// DeleteExam removes an exam together with its questions and attempts.
func (s *Store) DeleteExam(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM exam_attempts WHERE exam_id = ?`,
		`DELETE FROM questions WHERE exam_id = ?`,
		`DELETE FROM exams WHERE id = ?`,
	} {
		if _, err := tx.Exec(q, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetExam returns an exam without its questions.
func (s *Store) GetExam(id int64) (model.Exam, error) {
	var e model.Exam
	err := s.db.QueryRow(
		`SELECT id, teacher_id, title, duration_minutes, created_at FROM exams WHERE id = ?`, id,
	).Scan(&e.ID, &e.TeacherID, &e.Title, &e.DurationMinutes, &e.CreatedAt)
	return e, notFound(err)
}

// ListExamsByTeacher returns a teacher's exams, newest first, each with its questions.
func (s *Store) ListExamsByTeacher(ctx context.Context, teacherID int64) ([]model.Exam, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, teacher_id, title, duration_minutes, created_at FROM exams
		 WHERE teacher_id = ? ORDER BY created_at DESC, id DESC`, teacherID,
	)
	if err != nil {
		return nil, err
	}
	var exams []model.Exam
	for rows.Next() {
		var e model.Exam
		if err := rows.Scan(&e.ID, &e.TeacherID, &e.Title, &e.DurationMinutes, &e.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		exams = append(exams, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range exams {
		qs, err := s.ExamQuestions(ctx, exams[i].ID)
		if err != nil {
			return nil, err
		}
		exams[i].Questions = qs
	}
	return exams, nil
}

// ExamQuestions returns the questions of an exam in insertion order.
func (s *Store) ExamQuestions(ctx context.Context, examID int64) ([]model.Question, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, exam_id, question_text, options, correct_answer_index
		 FROM questions WHERE exam_id = ? ORDER BY id`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		var q model.Question
		var opts string
		if err := rows.Scan(&q.ID, &q.ExamID, &q.Text, &opts, &q.CorrectAnswerIndex); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(opts), &q.Options); err != nil {
			return nil, fmt.Errorf("decode options of question %d: %w", q.ID, err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// CreateAttempt stores a finished exam attempt.
func (s *Store) CreateAttempt(ctx context.Context, a model.ExamAttempt) (model.ExamAttempt, error) {
	if a.Answers == nil {
		a.Answers = model.Answers{}
	}
	answers, err := json.Marshal(a.Answers)
	if err != nil {
		return model.ExamAttempt{}, fmt.Errorf("encode answers: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO exam_attempts (id, exam_id, student_id, student_uid, score, answers, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ExamID, a.StudentID, a.StudentUID, a.Score, string(answers), a.StartedAt, a.CompletedAt,
	)
	if err != nil {
		return model.ExamAttempt{}, err
	}
	return a, nil
}

const attemptColumns = `id, exam_id, student_id, student_uid, score, answers, started_at, completed_at`

func scanAttempt(sc interface{ Scan(...any) error }) (model.ExamAttempt, error) {
	var a model.ExamAttempt
	var answers string
	if err := sc.Scan(&a.ID, &a.ExamID, &a.StudentID, &a.StudentUID, &a.Score, &answers, &a.StartedAt, &a.CompletedAt); err != nil {
		return a, err
	}
	if err := json.Unmarshal([]byte(answers), &a.Answers); err != nil {
		return a, fmt.Errorf("decode answers of attempt %s: %w", a.ID, err)
	}
	return a, nil
}

func (s *Store) queryAttempts(query string, args ...any) ([]model.ExamAttempt, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var attempts []model.ExamAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// GetAttempt returns an attempt by ID.
func (s *Store) GetAttempt(id string) (model.ExamAttempt, error) {
	a, err := scanAttempt(s.db.QueryRow(`SELECT `+attemptColumns+` FROM exam_attempts WHERE id = ?`, id))
	return a, notFound(err)
}

// ListAttemptsForExam returns all attempts of an exam in completion order.
func (s *Store) ListAttemptsForExam(examID int64) ([]model.ExamAttempt, error) {
	return s.queryAttempts(`SELECT `+attemptColumns+` FROM exam_attempts WHERE exam_id = ? ORDER BY completed_at, id`, examID)
}

// ListAttemptsForUser returns all attempts made by a student account.
func (s *Store) ListAttemptsForUser(userID int64) ([]model.ExamAttempt, error) {
	return s.queryAttempts(`SELECT `+attemptColumns+` FROM exam_attempts WHERE student_uid = ? ORDER BY completed_at DESC`, userID)
}

// ExamResults returns the results table of an exam, best score first.
func (s *Store) ExamResults(examID int64) ([]model.ExamResultRow, error) {
	rows, err := s.db.Query(
		`SELECT a.id, COALESCE(st.name, ''), a.score, a.completed_at
		 FROM exam_attempts a LEFT JOIN students st ON st.id = a.student_id
		 WHERE a.exam_id = ? ORDER BY a.score DESC, a.completed_at`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []model.ExamResultRow
	for rows.Next() {
		var r model.ExamResultRow
		if err := rows.Scan(&r.AttemptID, &r.StudentName, &r.Score, &r.CompletedAt); err != nil {
			return nil, err
		}
		if r.StudentName == "" {
			r.StudentName = "?"
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// ExamCount returns the number of exams owned by a teacher.
func (s *Store) ExamCount(teacherID int64) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM exams WHERE teacher_id = ?`, teacherID).Scan(&count)
	return count, err
}
