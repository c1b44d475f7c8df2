package store

import (
	"time"

	"github.com/matiku/lms/internal/model"
)

// NotificationLimit caps how many notifications a teacher sees.
const NotificationLimit = 20

// SaveAssessment stores an assessment, replacing any earlier one for the
// same student and module.
func (s *Store) SaveAssessment(a model.Assessment) (int64, error) {
	if a.Date.IsZero() {
		a.Date = time.Now()
	}
	var id int64
	err := s.db.QueryRow(
		`INSERT INTO assessments (student_id, module_id, module_title, analysis, score, recommendation, date)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(student_id, module_id) DO UPDATE SET
		   module_title = excluded.module_title,
		   analysis = excluded.analysis,
		   score = excluded.score,
		   recommendation = excluded.recommendation,
		   date = excluded.date
		 RETURNING id`,
		a.StudentID, a.ModuleID, a.ModuleTitle, a.Analysis, a.Score, a.Recommendation, a.Date,
	).Scan(&id)
	return id, err
}

// ListAssessments returns the assessments of a teacher's students, newest first.
func (s *Store) ListAssessments(teacherID int64) ([]model.Assessment, error) {
	rows, err := s.db.Query(
		`SELECT a.id, a.student_id, a.module_id, a.module_title, a.analysis, a.score, a.recommendation, a.date
		 FROM assessments a JOIN students st ON st.id = a.student_id
		 WHERE st.teacher_id = ? ORDER BY a.date DESC, a.id DESC`, teacherID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Assessment
	for rows.Next() {
		var a model.Assessment
		if err := rows.Scan(&a.ID, &a.StudentID, &a.ModuleID, &a.ModuleTitle, &a.Analysis, &a.Score, &a.Recommendation, &a.Date); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteAssessment removes an assessment belonging to one of the teacher's students.
func (s *Store) DeleteAssessment(teacherID, id int64) error {
	res, err := s.db.Exec(
		`DELETE FROM assessments WHERE id = ?
		 AND student_id IN (SELECT id FROM students WHERE teacher_id = ?)`, id, teacherID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddNotification queues a message for a teacher.
func (s *Store) AddNotification(teacherID int64, message string) error {
	_, err := s.db.Exec(
		`INSERT INTO notifications (teacher_id, message, read, created_at) VALUES (?, ?, 0, ?)`,
		teacherID, message, time.Now(),
	)
	return err
}

// ListNotifications returns a teacher's newest notifications, at most NotificationLimit.
func (s *Store) ListNotifications(teacherID int64) ([]model.Notification, error) {
	rows, err := s.db.Query(
		`SELECT id, teacher_id, message, read, created_at FROM notifications
		 WHERE teacher_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, teacherID, NotificationLimit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Notification
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.TeacherID, &n.Message, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationsRead marks all of a teacher's notifications as read.
func (s *Store) MarkNotificationsRead(teacherID int64) error {
	_, err := s.db.Exec(`UPDATE notifications SET read = 1 WHERE teacher_id = ? AND read = 0`, teacherID)
	return err
}

// Analytics summarises a teacher's class: roster and content counts, the
// mean exam score and the mean AI assessment score overall and per module.
func (s *Store) Analytics(teacherID int64) (model.Analytics, error) {
	var a model.Analytics
	err := s.db.QueryRow(
		`SELECT
		   (SELECT COUNT(*) FROM students WHERE teacher_id = ?1),
		   (SELECT COUNT(*) FROM modules WHERE teacher_id = ?1),
		   (SELECT COUNT(*) FROM exams WHERE teacher_id = ?1),
		   (SELECT COUNT(*) FROM exam_attempts at JOIN exams e ON e.id = at.exam_id WHERE e.teacher_id = ?1),
		   (SELECT COALESCE(AVG(at.score), 0) FROM exam_attempts at JOIN exams e ON e.id = at.exam_id WHERE e.teacher_id = ?1),
		   (SELECT COALESCE(AVG(a.score), 0) FROM assessments a JOIN students st ON st.id = a.student_id WHERE st.teacher_id = ?1)`,
		teacherID,
	).Scan(&a.StudentCount, &a.ModuleCount, &a.ExamCount, &a.AttemptCount, &a.AverageExamScore, &a.AverageAssessment)
	if err != nil {
		return a, err
	}

	rows, err := s.db.Query(
		`SELECT a.module_title, AVG(a.score) FROM assessments a JOIN students st ON st.id = a.student_id
		 WHERE st.teacher_id = ? GROUP BY a.module_title`, teacherID,
	)
	if err != nil {
		return a, err
	}
	defer rows.Close()
	a.ScoreByModule = make(map[string]float64)
	for rows.Next() {
		var title string
		var avg float64
		if err := rows.Scan(&title, &avg); err != nil {
			return a, err
		}
		a.ScoreByModule[title] = avg
	}
	return a, rows.Err()
}
