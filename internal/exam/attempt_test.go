package exam

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matiku/lms/internal/model"
)

func startAttempt(t *testing.T, fb *fakeBackend, tk *fakeTicker, duration int) *Attempt {
	t.Helper()
	e := model.Exam{ID: 1, TeacherID: 7, Title: "Aljabar", DurationMinutes: duration}
	a, err := Start(context.Background(), fb, e, Taker{StudentID: 11, UserID: 21}, tickerOpts(tk))
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestStartRequiresExamID(t *testing.T) {
	_, err := Start(context.Background(), &fakeBackend{}, model.Exam{}, Taker{}, Options{})
	assert.ErrorIs(t, err, ErrNoExam)
}

func TestStartLoadFailureAborts(t *testing.T) {
	fb := &fakeBackend{loadErr: errBackend}
	a, err := Start(context.Background(), fb, model.Exam{ID: 1, DurationMinutes: 5}, Taker{}, tickerOpts(newFakeTicker()))
	require.Error(t, err)
	assert.Nil(t, a)
	assert.ErrorIs(t, err, ErrLoadQuestions)
	assert.ErrorIs(t, err, errBackend)
}

func TestStartKeepsStorageOrder(t *testing.T) {
	qs := makeQuestions(1, 0, 1, 2)
	qs[0], qs[2] = qs[2], qs[0]
	fb := &fakeBackend{questions: qs}
	a := startAttempt(t, fb, newFakeTicker(), 10)

	v := a.Snapshot()
	require.Len(t, v.Questions, 3)
	assert.Equal(t, qs[0].ID, v.Questions[0].ID)
	assert.Equal(t, qs[2].ID, v.Questions[2].ID)
	assert.Equal(t, StateTaking, v.State)
	assert.Equal(t, 600, v.Remaining)
}

func TestScenarioThreeOfFour(t *testing.T) {
	fb := &fakeBackend{questions: makeQuestions(1, 1, 0, 2, 3)}
	a := startAttempt(t, fb, newFakeTicker(), 30)

	for i, opt := range []int{1, 0, 2, 0} {
		require.NoError(t, a.Select(int64(101+i), opt))
	}
	rec, err := a.Submit(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 75.0, rec.Score, 1e-9)
	assert.Equal(t, int64(1), rec.ExamID)
	assert.Equal(t, int64(11), rec.StudentID)
	assert.Equal(t, int64(21), rec.StudentUID)
	assert.Equal(t, StateResult, a.State())
	assert.Equal(t, 1, fb.writeCount())
}

func TestReselectOverwrites(t *testing.T) {
	fb := &fakeBackend{questions: makeQuestions(1, 2)}
	a := startAttempt(t, fb, newFakeTicker(), 5)

	require.NoError(t, a.Select(101, 0))
	require.NoError(t, a.Select(101, 3))
	require.NoError(t, a.Select(101, 2))
	require.NoError(t, a.Select(101, 2))

	rec, err := a.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.Answers{101: 2}, rec.Answers)
	assert.InDelta(t, 100.0, rec.Score, 1e-9)
}

func TestSelectRejectsInvalidInput(t *testing.T) {
	fb := &fakeBackend{questions: makeQuestions(1, 0)}
	a := startAttempt(t, fb, newFakeTicker(), 5)

	assert.ErrorIs(t, a.Select(999, 0), ErrUnknownQuestion)
	assert.ErrorIs(t, a.Select(101, 4), ErrInvalidOption)
	assert.ErrorIs(t, a.Select(101, -1), ErrInvalidOption)
	assert.Empty(t, a.Snapshot().Answers)
}

func TestCursorClamps(t *testing.T) {
	fb := &fakeBackend{questions: makeQuestions(1, 0, 0, 0)}
	a := startAttempt(t, fb, newFakeTicker(), 5)

	assert.Equal(t, 0, a.Prev())
	assert.Equal(t, 1, a.Next())
	assert.Equal(t, 2, a.Next())
	assert.Equal(t, 2, a.Next())
	assert.Equal(t, 1, a.Prev())
	assert.Equal(t, 2, a.Goto(50))
	assert.Equal(t, 0, a.Goto(-4))

	q, ok := a.Snapshot().Current()
	require.True(t, ok)
	assert.Equal(t, int64(101), q.ID)
}

func TestSingleQuestionNeverAnswered(t *testing.T) {
	fb := &fakeBackend{questions: makeQuestions(1, 1)}
	a := startAttempt(t, fb, newFakeTicker(), 5)

	rec, err := a.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.0, rec.Score)
	assert.Empty(t, rec.Answers)
	require.Equal(t, 1, fb.writeCount())
}

func TestZeroQuestionExamScoresZero(t *testing.T) {
	fb := &fakeBackend{}
	a := startAttempt(t, fb, newFakeTicker(), 5)

	rec, err := a.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.0, rec.Score)
}

func TestTimerExpirySubmitsOnce(t *testing.T) {
	fb := &fakeBackend{questions: makeQuestions(1, 0, 1)}
	tk := newFakeTicker()
	a := startAttempt(t, fb, tk, 1)
	require.NoError(t, a.Select(101, 0))

	for i := 0; i < 60; i++ {
		tk.fire()
	}
	require.Eventually(t, func() bool { return fb.writeCount() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return a.State() == StateResult }, time.Second, 5*time.Millisecond)
	assert.True(t, tk.isStopped())
	assert.Equal(t, 0, a.Remaining())

	// A later click on "finish" is a no-op.
	rec, err := a.Submit(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 50.0, rec.Score, 1e-9)
	assert.Equal(t, 1, fb.writeCount())
	assert.ErrorIs(t, a.Select(102, 1), ErrNotTaking)
}

func TestTickReportsExpiryOnce(t *testing.T) {
	fb := &fakeBackend{questions: makeQuestions(1, 0)}
	tk := newFakeTicker()
	a := startAttempt(t, fb, tk, 1)

	for i := 0; i < 59; i++ {
		require.False(t, a.Tick())
	}
	assert.Equal(t, 1, a.Remaining())
	assert.True(t, a.Tick())
	assert.False(t, a.Tick())
	assert.Equal(t, 0, a.Remaining())
	assert.True(t, tk.isStopped())
}

func TestExpiryRacingManualSubmitWritesOnce(t *testing.T) {
	fb := &fakeBackend{
		questions: makeQuestions(1, 0),
		entered:   make(chan struct{}, 2),
		release:   make(chan struct{}),
	}
	tk := newFakeTicker()
	a := startAttempt(t, fb, tk, 1)
	for i := 0; i < 59; i++ {
		a.Tick()
	}

	manual := make(chan error, 1)
	go func() {
		_, err := a.Submit(context.Background())
		manual <- err
	}()
	<-fb.entered

	// The countdown reaches zero while the manual write is in flight.
	tk.fire()
	require.Eventually(t, tk.isStopped, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, a.Select(101, 0), ErrSubmitInProgress)

	close(fb.release)
	require.NoError(t, <-manual)

	select {
	case <-fb.entered:
		t.Fatal("second write attempted")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 1, fb.writeCount())
	assert.Equal(t, StateResult, a.State())
}

func TestManualClickDuringAutoSubmitIsNoop(t *testing.T) {
	fb := &fakeBackend{
		questions: makeQuestions(1, 0),
		entered:   make(chan struct{}, 2),
		release:   make(chan struct{}),
	}
	tk := newFakeTicker()
	a := startAttempt(t, fb, tk, 1)
	for i := 0; i < 59; i++ {
		a.Tick()
	}

	tk.fire()
	<-fb.entered

	_, err := a.Submit(context.Background())
	assert.ErrorIs(t, err, ErrSubmitInProgress)

	close(fb.release)
	require.Eventually(t, func() bool { return a.State() == StateResult }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, fb.writeCount())
}

func TestSubmitFailureCanBeRetried(t *testing.T) {
	fb := &fakeBackend{questions: makeQuestions(1, 1), writeErr: errBackend}
	a := startAttempt(t, fb, newFakeTicker(), 5)
	require.NoError(t, a.Select(101, 1))

	_, err := a.Submit(context.Background())
	require.ErrorIs(t, err, ErrPersist)
	assert.Equal(t, StateTaking, a.State())
	assert.ErrorIs(t, a.Snapshot().Err, errBackend)

	// Answers can still change before the retry.
	require.NoError(t, a.Select(101, 0))

	fb.failWrites(nil)
	rec, err := a.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.0, rec.Score)
	assert.Nil(t, a.Snapshot().Err)
	assert.Equal(t, 1, fb.writeCount())
}

func TestExpiredSubmitFailureWaitsForManualRetry(t *testing.T) {
	fb := &fakeBackend{questions: makeQuestions(1, 0), writeErr: errBackend}
	tk := newFakeTicker()
	failed := make(chan error, 1)
	opts := tickerOpts(tk)
	opts.OnAutoSubmit = func(_ *Attempt, _ *model.ExamAttempt, err error) { failed <- err }

	a, err := Start(context.Background(), fb, model.Exam{ID: 1, DurationMinutes: 1}, Taker{StudentID: 1, UserID: 1}, opts)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	for i := 0; i < 59; i++ {
		a.Tick()
	}
	tk.fire()
	assert.ErrorIs(t, <-failed, ErrPersist)
	assert.Equal(t, StateTaking, a.State())
	assert.Equal(t, 0, a.Remaining())
	assert.False(t, a.Tick())

	fb.failWrites(nil)
	_, err = a.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fb.writeCount())
}

func TestCloseDiscardsAttempt(t *testing.T) {
	fb := &fakeBackend{questions: makeQuestions(1, 0)}
	tk := newFakeTicker()
	a := startAttempt(t, fb, tk, 5)
	require.NoError(t, a.Select(101, 0))

	a.Close()
	assert.True(t, tk.isStopped())
	assert.Equal(t, StateIdle, a.State())
	_, err := a.Submit(context.Background())
	assert.ErrorIs(t, err, ErrNotTaking)
	assert.Zero(t, fb.writeCount())

	// Closing twice is harmless.
	a.Close()
}

func TestUntimedExamHasNoTicker(t *testing.T) {
	fb := &fakeBackend{questions: makeQuestions(1, 0)}
	a, err := Start(context.Background(), fb, model.Exam{ID: 1}, Taker{}, Options{
		NewTicker: func(time.Duration) Ticker {
			t.Fatal("ticker created for untimed exam")
			return nil
		},
	})
	require.NoError(t, err)
	defer a.Close()
	assert.False(t, a.Tick())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "taking", StateTaking.String())
	assert.Equal(t, "submitting", StateSubmitting.String())
	assert.Equal(t, "result", StateResult.String())
}
