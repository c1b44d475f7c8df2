package exam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/matiku/lms/internal/model"
)

const autoSubmitTimeout = 30 * time.Second

// Options tunes how attempts are created. Zero values select the defaults.
type Options struct {
	NewTicker TickerFunc
	Now       func() time.Time
	NewID     func() string
	// OnAutoSubmit is called after the countdown triggered a submission.
	OnAutoSubmit func(a *Attempt, rec *model.ExamAttempt, err error)
}

func (o Options) withDefaults() Options {
	if o.NewTicker == nil {
		o.NewTicker = NewTicker
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	return o
}

// Attempt is one student's in-progress exam session. All methods are safe
// for concurrent use.
type Attempt struct {
	mu        sync.Mutex
	exam      model.Exam
	taker     Taker
	questions []model.Question
	position  map[int64]int
	answers   model.Answers
	remaining int
	expired   bool
	cursor    int
	state     State
	result    *model.ExamAttempt
	lastErr   error
	startedAt time.Time

	writer AttemptWriter
	opts   Options
	ticker Ticker
	done   chan struct{}
	stop   sync.Once
}

// View is a point-in-time copy of an attempt for rendering.
type View struct {
	Exam      model.Exam
	Questions []model.Question
	Answers   model.Answers
	Remaining int
	Cursor    int
	State     State
	Result    *model.ExamAttempt
	Err       error
}

// Current returns the question under the cursor.
func (v View) Current() (model.Question, bool) {
	if v.Cursor < 0 || v.Cursor >= len(v.Questions) {
		return model.Question{}, false
	}
	return v.Questions[v.Cursor], true
}

// Start loads the exam's questions and begins the countdown. A failure to
// load questions aborts the attempt.
func Start(ctx context.Context, b Backend, e model.Exam, t Taker, opts Options) (*Attempt, error) {
	if e.ID == 0 {
		return nil, ErrNoExam
	}
	questions, err := b.ExamQuestions(ctx, e.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadQuestions, err)
	}

	opts = opts.withDefaults()
	a := &Attempt{
		exam:      e,
		taker:     t,
		questions: questions,
		position:  make(map[int64]int, len(questions)),
		answers:   make(model.Answers),
		remaining: e.DurationMinutes * 60,
		state:     StateTaking,
		startedAt: opts.Now(),
		writer:    b,
		opts:      opts,
		done:      make(chan struct{}),
	}
	for i, q := range questions {
		a.position[q.ID] = i
	}

	if a.remaining > 0 {
		a.ticker = opts.NewTicker(time.Second)
		go a.run()
	}
	slog.Info("exam attempt started",
		"exam_id", e.ID, "student_id", t.StudentID, "questions", len(questions), "seconds", a.remaining)
	return a, nil
}

func (a *Attempt) run() {
	for {
		select {
		case <-a.done:
			return
		case <-a.ticker.C():
			if a.Tick() {
				a.autoSubmit()
				return
			}
		}
	}
}

// Tick advances the countdown by one second. It returns true exactly once,
// on the tick that reaches zero, at which point the ticker is stopped.
func (a *Attempt) Tick() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ticker == nil || a.expired {
		return false
	}
	if a.state != StateTaking && a.state != StateSubmitting {
		return false
	}
	if a.remaining > 0 {
		a.remaining--
	}
	if a.remaining > 0 {
		return false
	}
	a.expired = true
	if a.ticker != nil {
		a.ticker.Stop()
	}
	return true
}

func (a *Attempt) autoSubmit() {
	ctx, cancel := context.WithTimeout(context.Background(), autoSubmitTimeout)
	defer cancel()
	rec, err := a.Submit(ctx)
	switch {
	case err == nil:
		slog.Info("exam time expired, attempt submitted", "exam_id", a.exam.ID, "student_id", a.taker.StudentID)
	case errors.Is(err, ErrSubmitInProgress):
		// The student's own submit is already writing.
		return
	default:
		slog.Error("automatic submission failed", "exam_id", a.exam.ID, "student_id", a.taker.StudentID, "error", err)
	}
	if a.opts.OnAutoSubmit != nil {
		a.opts.OnAutoSubmit(a, rec, err)
	}
}

// Select records option as the answer for questionID, replacing any
// earlier selection.
func (a *Attempt) Select(questionID int64, option int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.state {
	case StateTaking:
	case StateSubmitting:
		return ErrSubmitInProgress
	default:
		return ErrNotTaking
	}
	i, ok := a.position[questionID]
	if !ok {
		return ErrUnknownQuestion
	}
	if option < 0 || option >= len(a.questions[i].Options) {
		return ErrInvalidOption
	}
	a.answers[questionID] = option
	return nil
}

// Next moves the cursor forward, staying on the last question.
func (a *Attempt) Next() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.moveLocked(a.cursor + 1)
}

// Prev moves the cursor back, staying on the first question.
func (a *Attempt) Prev() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.moveLocked(a.cursor - 1)
}

// Goto moves the cursor to i, clamped to the question range.
func (a *Attempt) Goto(i int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.moveLocked(i)
}

func (a *Attempt) moveLocked(i int) int {
	last := len(a.questions) - 1
	if i > last {
		i = last
	}
	if i < 0 {
		i = 0
	}
	a.cursor = i
	return a.cursor
}

// Submit scores the attempt and writes it. While a write is in flight a
// second call returns ErrSubmitInProgress and writes nothing. Once the
// record is stored, further calls return it without writing again. On a
// failed write the attempt stays in progress and can be submitted again.
func (a *Attempt) Submit(ctx context.Context) (*model.ExamAttempt, error) {
	a.mu.Lock()
	switch a.state {
	case StateTaking:
	case StateSubmitting:
		a.mu.Unlock()
		return nil, ErrSubmitInProgress
	case StateResult:
		rec := *a.result
		a.mu.Unlock()
		return &rec, nil
	default:
		a.mu.Unlock()
		return nil, ErrNotTaking
	}

	a.state = StateSubmitting
	rec := model.ExamAttempt{
		ID:          a.opts.NewID(),
		ExamID:      a.exam.ID,
		StudentID:   a.taker.StudentID,
		StudentUID:  a.taker.UserID,
		Score:       Score(a.questions, a.answers),
		Answers:     maps.Clone(a.answers),
		StartedAt:   a.startedAt,
		CompletedAt: a.opts.Now(),
	}
	a.mu.Unlock()

	saved, err := a.writer.CreateAttempt(ctx, rec)

	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		if a.state == StateSubmitting {
			a.state = StateTaking
		}
		a.lastErr = err
		return nil, fmt.Errorf("%w: %w", ErrPersist, err)
	}
	a.state = StateResult
	a.result = &saved
	a.lastErr = nil
	a.stopTimerLocked()
	out := saved
	return &out, nil
}

// Close releases the countdown. An attempt that was still in progress is
// discarded without being written.
func (a *Attempt) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopTimerLocked()
	if a.state == StateTaking {
		a.state = StateIdle
	}
}

func (a *Attempt) stopTimerLocked() {
	a.stop.Do(func() {
		close(a.done)
		if a.ticker != nil {
			a.ticker.Stop()
		}
	})
}

// State returns the current lifecycle state.
func (a *Attempt) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Remaining returns the seconds left on the countdown.
func (a *Attempt) Remaining() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.remaining
}

// ExamID returns the exam this attempt belongs to.
func (a *Attempt) ExamID() int64 { return a.exam.ID }

// Snapshot returns a copy of the attempt for rendering.
func (a *Attempt) Snapshot() View {
	a.mu.Lock()
	defer a.mu.Unlock()
	v := View{
		Exam:      a.exam,
		Questions: a.questions,
		Answers:   maps.Clone(a.answers),
		Remaining: a.remaining,
		Cursor:    a.cursor,
		State:     a.state,
		Err:       a.lastErr,
	}
	if a.result != nil {
		rec := *a.result
		v.Result = &rec
	}
	return v
}
