package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/deepreason/mcp-server/internal/eventbus"
	"github.com/deepreason/mcp-server/internal/findings"
	"github.com/deepreason/mcp-server/internal/model"
	"github.com/deepreason/mcp-server/internal/orchestrator"
	"github.com/deepreason/mcp-server/internal/provider"
	"github.com/deepreason/mcp-server/internal/secureread"
)

type stubAdapter struct {
	reply string
}

func (s *stubAdapter) Name() string                  { return "stub" }
func (s *stubAdapter) RateClass() provider.RateClass { return provider.RateStandard }
func (s *stubAdapter) IsHealthy() bool               { return true }
func (s *stubAdapter) Generate(ctx context.Context, prompt string, opts provider.GenerateOptions) (provider.GenerateResult, error) {
	return provider.GenerateResult{Text: s.reply}, nil
}
func (s *stubAdapter) Classify(err error) provider.ClassifiedError {
	return provider.ClassifiedError{Kind: provider.ErrTransient, Err: err}
}

func testRuntime(t *testing.T, reply string) *Runtime {
	t.Helper()
	reg := provider.NewRegistry()
	reg.Register(&stubAdapter{reply: reply})
	orch := orchestrator.New(reg, eventbus.New(), orchestrator.DefaultConfig())

	reader, err := secureread.New(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	return &Runtime{
		Store:        NewStore(Limits{MaxTurns: 50, MaxBytes: 100_000, IdleTTL: time.Hour}),
		Lock:         NewLock(),
		Orchestrator: orch,
		Reader:       reader,
		Parser:       findings.New(),
		SystemPrompt: "You are a deep reasoner.",
	}
}

func TestStart_CreatesSessionAndTakesFirstTurn(t *testing.T) {
	rt := testRuntime(t, "- Critical: found a race condition in the worker pool\n")
	ctx := model.ClaudeContext{
		AttemptedApproaches: []string{"read logs"},
		FocusArea:           model.CodeScope{Files: []string{"main.go"}},
	}

	result, err := rt.Start(context.Background(), model.AnalysisExecutionTrace, ctx, "why does it deadlock?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Findings) != 1 {
		t.Fatalf("expected 1 finding, got %+v", result.Findings)
	}
	if result.Session.Status != model.StatusAwaitingInput {
		t.Errorf("expected awaiting_input after first turn, got %q", result.Session.Status)
	}
	if len(result.Session.Turns) != 2 {
		t.Errorf("expected 2 turns (caller + reasoner), got %d", len(result.Session.Turns))
	}
}

func TestContinue_AppendsAnotherRound(t *testing.T) {
	rt := testRuntime(t, "still investigating")
	ctx := model.ClaudeContext{FocusArea: model.CodeScope{Files: []string{"main.go"}}}
	started, err := rt.Start(context.Background(), model.AnalysisExecutionTrace, ctx, "start")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := rt.Continue(context.Background(), started.Session.ID, "tell me more")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Session.Turns) != 4 {
		t.Errorf("expected 4 turns after two rounds, got %d", len(result.Session.Turns))
	}
}

func TestFinalize_MarksCompleted(t *testing.T) {
	rt := testRuntime(t, "final summary")
	ctx := model.ClaudeContext{FocusArea: model.CodeScope{Files: []string{"main.go"}}}
	started, err := rt.Start(context.Background(), model.AnalysisExecutionTrace, ctx, "start")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := rt.Finalize(context.Background(), started.Session.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != model.StatusCompleted {
		t.Errorf("expected completed status, got %q", result.Status)
	}

	if _, err := rt.Status(started.Session.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected finalized session to be removed from the store, got %v", err)
	}
}

func TestContinue_RejectsAlreadyFinalizedSession(t *testing.T) {
	rt := testRuntime(t, "final summary")
	ctx := model.ClaudeContext{FocusArea: model.CodeScope{Files: []string{"main.go"}}}
	started, err := rt.Start(context.Background(), model.AnalysisExecutionTrace, ctx, "start")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := rt.Finalize(context.Background(), started.Session.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Finalize destroys the session outright, so a subsequent turn against
	// the same ID finds nothing rather than a still-present finalized
	// session.
	_, err = rt.Continue(context.Background(), started.Session.ID, "anything")
	if err == nil {
		t.Fatal("expected error continuing a finalized session")
	}
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStart_RejectsFilesOutsideScope(t *testing.T) {
	rt := testRuntime(t, "reply")
	ctx := model.ClaudeContext{FocusArea: model.CodeScope{Files: []string{"/etc/passwd"}}}

	if _, err := rt.Start(context.Background(), model.AnalysisExecutionTrace, ctx, "start"); err == nil {
		t.Error("expected error for out-of-scope file path")
	}
}

func TestStatus_ReturnsCurrentSession(t *testing.T) {
	rt := testRuntime(t, "reply")
	ctx := model.ClaudeContext{FocusArea: model.CodeScope{Files: []string{"main.go"}}}
	started, err := rt.Start(context.Background(), model.AnalysisExecutionTrace, ctx, "start")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := rt.Status(started.Session.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != started.Session.ID {
		t.Errorf("expected matching session ID")
	}
}
