package store

import (
	"context"
	"fmt"
	"time"

	"github.com/matiku/lms/internal/model"
)

// ExportAttempts builds export-ready results for every exam, or only the
// exams of one teacher when teacherID is non-zero.
func (s *Store) ExportAttempts(teacherID int64) (model.AttemptExport, error) {
	out := model.AttemptExport{ExportedAt: time.Now()}

	query := `SELECT id, teacher_id, title, duration_minutes, created_at FROM exams`
	var args []any
	if teacherID != 0 {
		query += ` WHERE teacher_id = ?`
		args = append(args, teacherID)
	}
	rows, err := s.db.Query(query+` ORDER BY id`, args...)
	if err != nil {
		return out, fmt.Errorf("list exams: %w", err)
	}
	var exams []model.Exam
	for rows.Next() {
		var e model.Exam
		if err := rows.Scan(&e.ID, &e.TeacherID, &e.Title, &e.DurationMinutes, &e.CreatedAt); err != nil {
			rows.Close()
			return out, err
		}
		exams = append(exams, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return out, err
	}

	users := make(map[int64]*model.User)
	lookup := func(id int64) (*model.User, error) {
		if u, ok := users[id]; ok {
			return u, nil
		}
		u, err := s.GetUserByID(id)
		if err != nil {
			return nil, fmt.Errorf("get user %d: %w", id, err)
		}
		users[id] = u
		return u, nil
	}

	for _, e := range exams {
		questions, err := s.ExamQuestions(context.Background(), e.ID)
		if err != nil {
			return out, fmt.Errorf("questions of exam %d: %w", e.ID, err)
		}
		attempts, err := s.ListAttemptsForExam(e.ID)
		if err != nil {
			return out, fmt.Errorf("attempts of exam %d: %w", e.ID, err)
		}

		ee := model.ExamExport{
			ExamID:          e.ID,
			Title:           e.Title,
			DurationMinutes: e.DurationMinutes,
			NumQuestions:    len(questions),
		}
		if t, err := lookup(e.TeacherID); err != nil {
			return out, err
		} else if t != nil {
			ee.Teacher = t.DisplayName
		}

		// Track attempt count per student for attempt_number.
		attemptCount := make(map[int64]int)
		for _, a := range attempts {
			attemptCount[a.StudentUID]++
			r := model.StudentResult{
				AttemptID:     a.ID,
				AttemptNumber: attemptCount[a.StudentUID],
				Score:         a.Score,
				StartedAt:     a.StartedAt,
				CompletedAt:   a.CompletedAt,
			}
			u, err := lookup(a.StudentUID)
			if err != nil {
				return out, err
			}
			if u != nil {
				r.Username = u.Username
				r.DisplayName = u.DisplayName
			}
			for _, q := range questions {
				qr := model.QuestionResult{Text: q.Text, Options: q.Options, Correct: q.CorrectAnswerIndex}
				if sel, ok := a.Answers[q.ID]; ok {
					qr.Selected = &sel
				}
				r.Questions = append(r.Questions, qr)
			}
			ee.Results = append(ee.Results, r)
		}
		out.Exams = append(out.Exams, ee)
	}
	return out, nil
}
