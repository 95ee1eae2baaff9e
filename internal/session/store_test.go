package session

import (
	"context"
	"testing"
	"time"

	"github.com/deepreason/mcp-server/internal/model"
)

func testLimits() Limits {
	return Limits{MaxTurns: 3, MaxBytes: 1000, IdleTTL: time.Hour}
}

func TestCreateAndGet(t *testing.T) {
	s := NewStore(testLimits())
	sess := s.Create(model.AnalysisHypothesisTest, model.ClaudeContext{AnalysisBudgetRemaining: 300})

	got, err := s.Get(sess.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != model.StatusActive {
		t.Errorf("expected new session to be active, got %q", got.Status)
	}
	if got.BudgetRemaining.WallClockSec != 300 {
		t.Errorf("expected budget carried from context, got %d", got.BudgetRemaining.WallClockSec)
	}
}

func TestGet_UnknownReturnsNotFound(t *testing.T) {
	s := NewStore(testLimits())
	if _, err := s.Get("does-not-exist"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendTurn_EnforcesMaxTurns(t *testing.T) {
	s := NewStore(Limits{MaxTurns: 2, MaxBytes: 10_000, IdleTTL: time.Hour})
	sess := s.Create(model.AnalysisExecutionTrace, model.ClaudeContext{})

	if err := s.AppendTurn(sess.ID, model.Turn{Role: model.RoleCaller, Content: "one"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.AppendTurn(sess.ID, model.Turn{Role: model.RoleReasoner, Content: "two"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.AppendTurn(sess.ID, model.Turn{Role: model.RoleCaller, Content: "three"}); err != ErrSessionFull {
		t.Errorf("expected ErrSessionFull on third turn, got %v", err)
	}
}

func TestAppendTurn_EnforcesMaxBytes(t *testing.T) {
	s := NewStore(Limits{MaxTurns: 100, MaxBytes: 10, IdleTTL: time.Hour})
	sess := s.Create(model.AnalysisExecutionTrace, model.ClaudeContext{})

	if err := s.AppendTurn(sess.ID, model.Turn{Role: model.RoleCaller, Content: "0123456789abcdef"}); err != ErrSessionFull {
		t.Errorf("expected ErrSessionFull for oversized turn, got %v", err)
	}
}

func TestReapIdle_RemovesStaleSessions(t *testing.T) {
	s := NewStore(Limits{MaxTurns: 10, MaxBytes: 10_000, IdleTTL: time.Millisecond})
	sess := s.Create(model.AnalysisExecutionTrace, model.ClaudeContext{})

	reaped := s.ReapIdle(time.Now().Add(time.Hour), NewLock())
	if len(reaped) != 1 || reaped[0] != sess.ID {
		t.Fatalf("expected session %s reaped, got %v", sess.ID, reaped)
	}
	if _, err := s.Get(sess.ID); err != ErrNotFound {
		t.Errorf("expected reaped session to be gone, got err=%v", err)
	}
}

func TestReapIdle_SkipsActiveSessionWithinTTL(t *testing.T) {
	s := NewStore(Limits{MaxTurns: 10, MaxBytes: 10_000, IdleTTL: time.Hour})
	sess := s.Create(model.AnalysisExecutionTrace, model.ClaudeContext{})

	reaped := s.ReapIdle(time.Now(), NewLock())
	if len(reaped) != 0 {
		t.Errorf("expected no sessions reaped within TTL, got %v", reaped)
	}
	if _, err := s.Get(sess.ID); err != nil {
		t.Errorf("expected session to remain: %v", err)
	}
}

func TestReapIdle_SkipsSessionWithHeldLock(t *testing.T) {
	s := NewStore(Limits{MaxTurns: 10, MaxBytes: 10_000, IdleTTL: time.Millisecond})
	sess := s.Create(model.AnalysisExecutionTrace, model.ClaudeContext{})

	lock := NewLock()
	token, err := lock.Acquire(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer lock.Release(sess.ID, token)

	reaped := s.ReapIdle(time.Now().Add(time.Hour), lock)
	if len(reaped) != 0 {
		t.Errorf("expected held-lock session to survive reaping, got %v", reaped)
	}
	if _, err := s.Get(sess.ID); err != nil {
		t.Errorf("expected session to remain while lock is held: %v", err)
	}
}

func TestDecrementBudget(t *testing.T) {
	s := NewStore(testLimits())
	sess := s.Create(model.AnalysisExecutionTrace, model.ClaudeContext{AnalysisBudgetRemaining: 60})

	if err := s.DecrementBudget(sess.ID, 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := s.Get(sess.ID)
	if got.BudgetRemaining.WallClockSec != 50 {
		t.Errorf("expected 50s remaining, got %d", got.BudgetRemaining.WallClockSec)
	}
	if got.BudgetRemaining.ProviderCalls != -1 {
		t.Errorf("expected provider call count decremented below zero, got %d", got.BudgetRemaining.ProviderCalls)
	}
}
