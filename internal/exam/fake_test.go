package exam

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matiku/lms/internal/model"
)

type fakeBackend struct {
	mu        sync.Mutex
	questions []model.Question
	loadErr   error
	writeErr  error
	writes    []model.ExamAttempt
	// When set, CreateAttempt signals entered and waits for release.
	entered chan struct{}
	release chan struct{}
}

func (f *fakeBackend) ExamQuestions(_ context.Context, examID int64) ([]model.Question, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	var out []model.Question
	for _, q := range f.questions {
		if q.ExamID == examID {
			out = append(out, q)
		}
	}
	return out, nil
}

func (f *fakeBackend) CreateAttempt(_ context.Context, a model.ExamAttempt) (model.ExamAttempt, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return model.ExamAttempt{}, f.writeErr
	}
	f.writes = append(f.writes, a)
	return a, nil
}

func (f *fakeBackend) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeBackend) failWrites(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr = err
}

var errBackend = errors.New("backend unavailable")

// fakeTicker is driven by the test through fire.
type fakeTicker struct {
	ch      chan time.Time
	mu      sync.Mutex
	stopped bool
}

func newFakeTicker() *fakeTicker {
	return &fakeTicker{ch: make(chan time.Time)}
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

func (t *fakeTicker) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *fakeTicker) fire() { t.ch <- time.Now() }

// tickerOpts returns Options wiring a fake ticker and a fixed clock.
func tickerOpts(tk *fakeTicker) Options {
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	n := 0
	var mu sync.Mutex
	return Options{
		NewTicker: func(time.Duration) Ticker { return tk },
		Now:       func() time.Time { return fixed },
		NewID: func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("attempt-%d", n)
		},
	}
}

func makeQuestions(examID int64, correct ...int) []model.Question {
	qs := make([]model.Question, 0, len(correct))
	for i, c := range correct {
		qs = append(qs, model.Question{
			ID:                 examID*100 + int64(i) + 1,
			ExamID:             examID,
			Text:               "question",
			Options:            []string{"A", "B", "C", "D"},
			CorrectAnswerIndex: c,
		})
	}
	return qs
}
