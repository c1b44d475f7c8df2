// Package exam runs timed multiple-choice exam attempts.
//
// An Attempt is created when a student confirms the start of an exam. It
// holds the question set, the selected answers, a countdown and a
// question cursor in memory, and writes exactly one model.ExamAttempt
// record when it is submitted, either by the student or by the countdown
// reaching zero.
package exam

import (
	"context"
	"errors"

	"github.com/matiku/lms/internal/model"
)

var (
	// ErrNoExam is returned when an attempt is started without an exam ID.
	ErrNoExam = errors.New("exam id is required")
	// ErrLoadQuestions wraps failures to fetch the question set.
	ErrLoadQuestions = errors.New("load exam questions")
	// ErrNotTaking is returned for actions that need a running attempt.
	ErrNotTaking = errors.New("attempt is not in progress")
	// ErrSubmitInProgress is returned to a second submit while the first is still writing.
	ErrSubmitInProgress = errors.New("submission already in progress")
	// ErrPersist wraps failures to write the attempt record.
	ErrPersist = errors.New("save exam attempt")
	// ErrUnknownQuestion is returned when an answer names a question outside the exam.
	ErrUnknownQuestion = errors.New("question is not part of this exam")
	// ErrInvalidOption is returned when an answer index is outside the option list.
	ErrInvalidOption = errors.New("option index out of range")
)

// QuestionSource loads the ordered questions of an exam.
type QuestionSource interface {
	ExamQuestions(ctx context.Context, examID int64) ([]model.Question, error)
}

// AttemptWriter persists a finished attempt and returns the stored record.
type AttemptWriter interface {
	CreateAttempt(ctx context.Context, a model.ExamAttempt) (model.ExamAttempt, error)
}

// Backend is everything an attempt needs from storage.
type Backend interface {
	QuestionSource
	AttemptWriter
}

// Taker identifies the student sitting the exam: the roster row and the
// account behind it.
type Taker struct {
	StudentID int64
	UserID    int64
}

// State is the lifecycle position of an attempt.
type State int

const (
	StateIdle State = iota
	StateTaking
	StateSubmitting
	StateResult
)

func (s State) String() string {
	switch s {
	case StateTaking:
		return "taking"
	case StateSubmitting:
		return "submitting"
	case StateResult:
		return "result"
	default:
		return "idle"
	}
}
