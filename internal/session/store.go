// Package session implements the Session Store (C5), the FIFO Session
// Lock (C6), and the Conversational Runtime (C7): multi-turn analysis
// sessions backed by an in-memory map, never touching disk, per the
// explicit non-goal on persisted state.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deepreason/mcp-server/internal/model"
)

// ErrNotFound is returned when a session ID has no corresponding entry,
// either because it never existed, because Finalize removed it, or because
// the idle reaper collected it.
var ErrNotFound = errors.New("session: not found")

// ErrSessionFull is returned when a session has already accumulated
// Limits.MaxTurns turns or Limits.MaxBytes of transcript and cannot
// accept another turn.
var ErrSessionFull = errors.New("session: transcript limit reached")

// ErrBudgetExhausted is returned when a session's wall-clock budget has
// been spent; provider calls are counted but not limited.
var ErrBudgetExhausted = errors.New("session: budget exhausted")

// ErrSessionFinalized is returned when continue_conversation or
// finalize_conversation is called against a session that has already
// completed or been abandoned.
var ErrSessionFinalized = errors.New("session: already finalized")

// Limits bounds how large a single session's transcript may grow and how
// long an idle session is kept before the reaper collects it.
type Limits struct {
	MaxTurns  int
	MaxBytes  int
	IdleTTL   time.Duration
}

// Store holds every active session in memory, keyed by ID.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
	limits   Limits
}

// NewStore builds an empty Store.
func NewStore(limits Limits) *Store {
	return &Store{
		sessions: make(map[string]*model.Session),
		limits:   limits,
	}
}

// Create starts a new session and returns it.
func (s *Store) Create(analysisType model.AnalysisType, ctx model.ClaudeContext) *model.Session {
	now := time.Now()
	sess := &model.Session{
		ID:             uuid.NewString(),
		Status:         model.StatusActive,
		CreatedAt:      now,
		LastActivityAt: now,
		AnalysisType:   analysisType,
		Context:        ctx,
		BudgetRemaining: model.Budget{
			WallClockSec:  ctx.AnalysisBudgetRemaining,
			ProviderCalls: 0,
		},
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return sess
}

// Get returns the session with the given ID.
func (s *Store) Get(id string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// AppendTurn appends a turn to the session's transcript, enforcing the
// configured transcript size limits, and bumps LastActivityAt.
func (s *Store) AppendTurn(id string, turn model.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}

	if s.limits.MaxTurns > 0 && len(sess.Turns) >= s.limits.MaxTurns {
		return ErrSessionFull
	}
	if s.limits.MaxBytes > 0 && transcriptBytes(sess)+len(turn.Content) > s.limits.MaxBytes {
		return ErrSessionFull
	}

	turn.Timestamp = time.Now()
	sess.Turns = append(sess.Turns, turn)
	sess.LastActivityAt = turn.Timestamp
	return nil
}

// SetStatus transitions the session's status.
func (s *Store) SetStatus(id string, status model.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.Status = status
	sess.LastActivityAt = time.Now()
	return nil
}

// DecrementBudget subtracts one provider call and elapsedSec wall-clock
// time from the session's remaining budget.
func (s *Store) DecrementBudget(id string, elapsedSec int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.BudgetRemaining.WallClockSec -= elapsedSec
	sess.BudgetRemaining.ProviderCalls--
	return nil
}

// Remove deletes a session entirely.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// ReapIdle removes every session whose LastActivityAt is older than the
// configured IdleTTL, that is not already completed/abandoned, and whose
// lock is not currently held, marking it abandoned first so in-flight
// callers observe the transition. A session whose lock is held has a turn
// in flight — LastActivityAt only advances when that turn completes, so a
// long-running call must never be destroyed out from under it. It returns
// the IDs removed.
func (s *Store) ReapIdle(now time.Time, lock *Lock) []string {
	if s.limits.IdleTTL <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var reaped []string
	for id, sess := range s.sessions {
		if sess.Status == model.StatusCompleted || sess.Status == model.StatusAbandoned {
			continue
		}
		if lock != nil && lock.Held(id) {
			continue
		}
		if now.Sub(sess.LastActivityAt) > s.limits.IdleTTL {
			sess.Status = model.StatusAbandoned
			delete(s.sessions, id)
			reaped = append(reaped, id)
		}
	}
	return reaped
}

// Count returns the number of sessions currently held in memory.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func transcriptBytes(sess *model.Session) int {
	n := 0
	for _, t := range sess.Turns {
		n += len(t.Content)
	}
	return n
}
