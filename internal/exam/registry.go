package exam

import (
	"context"
	"sync"
	"time"

	"github.com/matiku/lms/internal/model"
)

// Key identifies a live attempt.
type Key struct {
	UserID int64
	ExamID int64
}

// Registry holds the live attempts of the server, one per student and exam.
type Registry struct {
	mu       sync.Mutex
	attempts map[Key]*Attempt
	backend  Backend
	opts     Options
}

// NewRegistry creates a registry that starts attempts against b.
func NewRegistry(b Backend, opts Options) *Registry {
	return &Registry{
		attempts: make(map[Key]*Attempt),
		backend:  b,
		opts:     opts,
	}
}

// Start returns the live attempt of t for e, starting a new one if there
// is none. The boolean reports whether an existing attempt was resumed.
func (r *Registry) Start(ctx context.Context, e model.Exam, t Taker) (*Attempt, bool, error) {
	key := Key{UserID: t.UserID, ExamID: e.ID}

	r.mu.Lock()
	if a, ok := r.attempts[key]; ok {
		r.mu.Unlock()
		return a, true, nil
	}
	r.mu.Unlock()

	a, err := Start(ctx, r.backend, e, t, r.opts)
	if err != nil {
		return nil, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.attempts[key]; ok {
		// Lost a race with a concurrent start for the same student.
		a.Close()
		return existing, true, nil
	}
	r.attempts[key] = a
	return a, false, nil
}

// Get returns the live attempt for key.
func (r *Registry) Get(key Key) (*Attempt, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[key]
	return a, ok
}

// Discard tears down the attempt for key. Unsubmitted answers are lost.
func (r *Registry) Discard(key Key) {
	r.mu.Lock()
	a, ok := r.attempts[key]
	delete(r.attempts, key)
	r.mu.Unlock()
	if ok {
		a.Close()
	}
}

// InProgress returns the number of attempts of an exam that are still
// being taken or submitted.
func (r *Registry) InProgress(examID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for key, a := range r.attempts {
		if key.ExamID != examID {
			continue
		}
		if s := a.State(); s == StateTaking || s == StateSubmitting {
			n++
		}
	}
	return n
}

// DiscardExam tears down every attempt of an exam and returns how many
// there were.
func (r *Registry) DiscardExam(examID int64) int {
	r.mu.Lock()
	var drop []*Attempt
	for key, a := range r.attempts {
		if key.ExamID == examID {
			drop = append(drop, a)
			delete(r.attempts, key)
		}
	}
	r.mu.Unlock()
	for _, a := range drop {
		a.Close()
	}
	return len(drop)
}

// SweepFinished drops attempts whose record was written before cutoff,
// along with attempts that were closed without a result. It returns the
// number removed.
func (r *Registry) SweepFinished(cutoff time.Time) int {
	r.mu.Lock()
	var drop []*Attempt
	for key, a := range r.attempts {
		v := a.Snapshot()
		finished := v.State == StateResult && v.Result != nil && v.Result.CompletedAt.Before(cutoff)
		if finished || v.State == StateIdle {
			drop = append(drop, a)
			delete(r.attempts, key)
		}
	}
	r.mu.Unlock()
	for _, a := range drop {
		a.Close()
	}
	return len(drop)
}

// Len returns the number of live attempts.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.attempts)
}

// Close tears down every live attempt.
func (r *Registry) Close() {
	r.mu.Lock()
	attempts := r.attempts
	r.attempts = make(map[Key]*Attempt)
	r.mu.Unlock()
	for _, a := range attempts {
		a.Close()
	}
}
