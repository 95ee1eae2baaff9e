package session

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrWrongToken is returned by Release when the token does not match the
// current holder, which would indicate a double-release or a caller
// releasing a lock it never acquired.
var ErrWrongToken = errors.New("session: release token does not match current holder")

// lockState is the FIFO wait queue for a single session: a buffered
// ticket channel of size 1 acts as the held/free flag, and waiters block
// on it in arrival order because Go delivers channel sends to waiting
// receivers in FIFO order.
type lockState struct {
	ticket chan struct{}
	holder string
}

// Lock implements the per-session FIFO mutual exclusion described as C6:
// concurrent calls against the same session ID queue in arrival order and
// are served one at a time, so concurrent turns of a multi-turn
// conversation never interleave writes to the same session's transcript.
//
// The hypothesis tournament does not use this lock: its pair-test calls
// are stateless and hold no session, and its concurrency is bounded by
// its own semaphore.
type Lock struct {
	mu    sync.Mutex
	locks map[string]*lockState
}

// NewLock builds an empty Lock registry.
func NewLock() *Lock {
	return &Lock{locks: make(map[string]*lockState)}
}

func (l *Lock) stateFor(id string) *lockState {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.locks[id]
	if !ok {
		st = &lockState{ticket: make(chan struct{}, 1)}
		st.ticket <- struct{}{}
		l.locks[id] = st
	}
	return st
}

// Acquire blocks until the session's lock is free or ctx is cancelled,
// and returns a release token. Waiters are admitted in the order they
// called Acquire.
func (l *Lock) Acquire(ctx context.Context, sessionID string) (string, error) {
	st := l.stateFor(sessionID)

	select {
	case <-st.ticket:
		token := uuid.NewString()
		l.mu.Lock()
		st.holder = token
		l.mu.Unlock()
		return token, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Release returns the lock to the pool, admitting the next waiter in
// FIFO order. token must match the value returned by the matching
// Acquire call.
func (l *Lock) Release(sessionID, token string) error {
	l.mu.Lock()
	st, ok := l.locks[sessionID]
	if !ok {
		l.mu.Unlock()
		return errors.New("session: no lock held for session")
	}
	if st.holder != token {
		l.mu.Unlock()
		return ErrWrongToken
	}
	st.holder = ""
	l.mu.Unlock()

	st.ticket <- struct{}{}
	return nil
}

// Held reports whether sessionID's lock is currently held by some caller,
// without blocking or registering a waiter. The idle reaper consults this
// to avoid destroying a session out from under an in-flight turn: a
// session with no lockState yet has never been acquired and so is free.
func (l *Lock) Held(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.locks[sessionID]
	if !ok {
		return false
	}
	return st.holder != ""
}

// WithLock acquires the session's lock, runs fn, and releases it
// afterward regardless of whether fn panics.
func (l *Lock) WithLock(ctx context.Context, sessionID string, fn func() error) error {
	token, err := l.Acquire(ctx, sessionID)
	if err != nil {
		return err
	}
	defer func() {
		_ = l.Release(sessionID, token)
	}()
	return fn()
}
