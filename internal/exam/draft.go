package exam

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/matiku/lms/internal/model"
)

// ErrInvalidDraft wraps validation failures of an exam draft.
var ErrInvalidDraft = errors.New("invalid exam")

// Draft is a teacher's input for creating or replacing an exam.
type Draft struct {
	Title           string          `json:"title" validate:"required,max=200"`
	DurationMinutes int             `json:"duration_minutes" validate:"min=1,max=1440"`
	Questions       []DraftQuestion `json:"questions" validate:"min=1,dive"`
}

// DraftQuestion is one question of a Draft.
type DraftQuestion struct {
	Text               string   `json:"question_text" validate:"required"`
	Options            []string `json:"options" validate:"min=2,dive,required"`
	CorrectAnswerIndex int      `json:"correct_answer_index" validate:"min=0"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func draftValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterStructValidation(func(sl validator.StructLevel) {
			q := sl.Current().Interface().(DraftQuestion)
			if q.CorrectAnswerIndex >= len(q.Options) {
				sl.ReportError(q.CorrectAnswerIndex, "CorrectAnswerIndex", "correct_answer_index", "ltoptions", "")
			}
		}, DraftQuestion{})
	})
	return validate
}

// DraftFromImport converts an imported exam file into a Draft.
func DraftFromImport(in model.ExamImport) Draft {
	d := Draft{Title: in.Title, DurationMinutes: in.DurationMinutes}
	for _, q := range in.Questions {
		d.Questions = append(d.Questions, DraftQuestion{
			Text:               q.Text,
			Options:            q.Options,
			CorrectAnswerIndex: q.CorrectAnswerIndex,
		})
	}
	return d
}

// Normalize trims surrounding whitespace from all text fields.
func (d *Draft) Normalize() {
	d.Title = strings.TrimSpace(d.Title)
	for i := range d.Questions {
		q := &d.Questions[i]
		q.Text = strings.TrimSpace(q.Text)
		for j := range q.Options {
			q.Options[j] = strings.TrimSpace(q.Options[j])
		}
	}
}

// Validate checks the draft and returns an ErrInvalidDraft-wrapped error
// naming every failing field.
func (d Draft) Validate() error {
	err := draftValidator().Struct(d)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", ErrInvalidDraft, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", strings.TrimPrefix(fe.Namespace(), "Draft."), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidDraft, strings.Join(fields, ", "))
}

// Exam returns the exam described by the draft, owned by teacherID.
func (d Draft) Exam(teacherID int64) model.Exam {
	e := model.Exam{
		TeacherID:       teacherID,
		Title:           d.Title,
		DurationMinutes: d.DurationMinutes,
	}
	for _, q := range d.Questions {
		e.Questions = append(e.Questions, model.Question{
			Text:               q.Text,
			Options:            append([]string(nil), q.Options...),
			CorrectAnswerIndex: q.CorrectAnswerIndex,
		})
	}
	return e
}
