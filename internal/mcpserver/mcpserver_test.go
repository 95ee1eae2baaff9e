package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/deepreason/mcp-server/internal/analysis"
	"github.com/deepreason/mcp-server/internal/eventbus"
	"github.com/deepreason/mcp-server/internal/findings"
	"github.com/deepreason/mcp-server/internal/health"
	"github.com/deepreason/mcp-server/internal/orchestrator"
	"github.com/deepreason/mcp-server/internal/params"
	"github.com/deepreason/mcp-server/internal/provider"
	"github.com/deepreason/mcp-server/internal/secureread"
	"github.com/deepreason/mcp-server/internal/session"
	"github.com/deepreason/mcp-server/internal/tournament"
)

// stubAdapter is a deterministic, network-free provider.Adapter for
// exercising handlers without a live deep reasoner.
type stubAdapter struct {
	name  string
	reply string
	err   error
}

func (s *stubAdapter) Name() string                  { return s.name }
func (s *stubAdapter) RateClass() provider.RateClass { return provider.RateStandard }
func (s *stubAdapter) IsHealthy() bool               { return s.err == nil }
func (s *stubAdapter) Generate(ctx context.Context, prompt string, opts provider.GenerateOptions) (provider.GenerateResult, error) {
	if s.err != nil {
		return provider.GenerateResult{}, s.err
	}
	return provider.GenerateResult{Text: s.reply, ModelName: s.name + "-model"}, nil
}
func (s *stubAdapter) Classify(err error) provider.ClassifiedError {
	return provider.ClassifiedError{Kind: provider.ErrFatal, Err: err}
}

// testServer builds a Server wired to a temp workspace containing one
// fixture file, and returns it alongside that file's path for tests that
// need a valid entry in a code scope.
func testServer(t *testing.T, reply string) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	fixture := filepath.Join(dir, "main.go")
	if err := os.WriteFile(fixture, []byte("package main\n\nfunc main() {}\n"), 0o644); err != nil {
		t.Fatalf("writing fixture file: %v", err)
	}

	reg := provider.NewRegistry()
	reg.Register(&stubAdapter{name: "stub", reply: reply})
	bus := eventbus.New()
	orch := orchestrator.New(reg, bus, orchestrator.DefaultConfig())

	reader, err := secureread.New(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	parser := findings.New()
	store := session.NewStore(session.Limits{MaxTurns: 50, MaxBytes: 1 << 20})
	lock := session.NewLock()

	return &Server{
		Analysis: &analysis.Runtime{
			Orchestrator: orch,
			Reader:       reader,
			Parser:       parser,
			SystemPrompt: "test",
		},
		Conversation: &session.Runtime{
			Store:        store,
			Lock:         lock,
			Orchestrator: orch,
			Reader:       reader,
			Parser:       parser,
			SystemPrompt: "test",
		},
		Tournament: &tournament.Runtime{
			Orchestrator: orch,
			Parser:       parser,
			SystemPrompt: "test",
		},
		Health: &health.Reporter{
			Registry:     reg,
			Orchestrator: orch,
			Sessions:     store,
			Bus:          bus,
		},
		DefaultCallBudgetSeconds:          30,
		DefaultTournamentWallClockSeconds: 30,
		DefaultTournamentProviderCalls:    4,
	}, fixture
}

func callReq(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{Params: mcp.CallToolParams{Arguments: args}}
}

func decodeErrorEnvelope(t *testing.T, res *mcp.CallToolResult) errorEnvelope {
	t.Helper()
	if !res.IsError {
		t.Fatalf("expected an error result, got a success result")
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", res.Content[0])
	}
	var env errorEnvelope
	if err := json.Unmarshal([]byte(text.Text), &env); err != nil {
		t.Fatalf("decoding error envelope: %v", err)
	}
	return env
}

func TestClassify_ValidationError(t *testing.T) {
	err := &params.ValidationError{Fields: []params.FieldError{{Field: "hypothesis", Reason: "required"}}}
	te := classify(err)
	if te.Kind != "ValidationError" {
		t.Fatalf("expected ValidationError, got %s", te.Kind)
	}
}

func TestClassify_PathSecurityError(t *testing.T) {
	err := &secureread.PathSecurityError{Path: "/etc/passwd"}
	te := classify(err)
	if te.Kind != "PathSecurityError" {
		t.Fatalf("expected PathSecurityError, got %s", te.Kind)
	}
}

func TestClassify_SessionNotFound(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", session.ErrNotFound)
	te := classify(err)
	if te.Kind != "SessionNotFound" {
		t.Fatalf("expected SessionNotFound, got %s", te.Kind)
	}
}

func TestClassify_SessionFull(t *testing.T) {
	te := classify(session.ErrSessionFull)
	if te.Kind != "SessionFull" {
		t.Fatalf("expected SessionFull, got %s", te.Kind)
	}
}

func TestClassify_BudgetExhausted(t *testing.T) {
	te := classify(fmt.Errorf("session x: %w", session.ErrBudgetExhausted))
	if te.Kind != "BudgetExhausted" {
		t.Fatalf("expected BudgetExhausted, got %s", te.Kind)
	}
}

func TestClassify_CircuitOpenWhenAllAttemptsSkipped(t *testing.T) {
	err := &orchestrator.AllProvidersUnavailableError{
		Attempts: []orchestrator.AttemptResult{
			{Provider: "a", Skipped: true},
			{Provider: "b", Skipped: true},
		},
	}
	te := classify(err)
	if te.Kind != "CircuitOpen" {
		t.Fatalf("expected CircuitOpen, got %s", te.Kind)
	}
}

func TestClassify_AllProvidersUnavailableWhenSomeAttemptsRan(t *testing.T) {
	err := &orchestrator.AllProvidersUnavailableError{
		Attempts: []orchestrator.AttemptResult{
			{Provider: "a", Skipped: false},
			{Provider: "b", Skipped: true},
		},
	}
	te := classify(err)
	if te.Kind != "AllProvidersUnavailable" {
		t.Fatalf("expected AllProvidersUnavailable, got %s", te.Kind)
	}
}

func TestClassify_InvalidRequestWhenGenerateAbortsOnMalformedRequest(t *testing.T) {
	err := &orchestrator.NonRetryableError{
		Provider:   "a",
		Classified: provider.ClassifiedError{Kind: provider.ErrInvalidRequest, Err: errors.New("bad prompt")},
	}
	te := classify(err)
	if te.Kind != "InvalidRequest" {
		t.Fatalf("expected InvalidRequest, got %s", te.Kind)
	}
}

func TestClassify_InternalWhenGenerateAbortsOnFatalError(t *testing.T) {
	err := &orchestrator.NonRetryableError{
		Provider:   "a",
		Classified: provider.ClassifiedError{Kind: provider.ErrFatal, Err: errors.New("bad credentials")},
	}
	te := classify(err)
	if te.Kind != "Internal" {
		t.Fatalf("expected Internal, got %s", te.Kind)
	}
}

func TestClassify_SessionFinalized(t *testing.T) {
	te := classify(fmt.Errorf("session x: %w", session.ErrSessionFinalized))
	if te.Kind != "SessionFinalized" {
		t.Fatalf("expected SessionFinalized, got %s", te.Kind)
	}
}

func TestClassify_UnrecognizedErrorIsInternal(t *testing.T) {
	te := classify(errors.New("boom"))
	if te.Kind != "Internal" {
		t.Fatalf("expected Internal, got %s", te.Kind)
	}
}

func TestHandleEscalateAnalysis_Success(t *testing.T) {
	s, fixture := testServer(t, "## Finding\nSeverity: high\nLooks like a race.")
	res, err := s.handleEscalateAnalysis(context.Background(), callReq(map[string]any{
		"attempted_approaches": []any{"read the logs"},
		"partial_findings":     []any{},
		"stuck_description":    []any{"can't reproduce"},
		"code_scope":           map[string]any{"files": []any{fixture}},
		"analysis_type":        "execution_trace",
		"depth_level":          3,
	}))
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %+v", res.Content)
	}
}

func TestHandleEscalateAnalysis_MissingRequiredFieldIsValidationError(t *testing.T) {
	s, fixture := testServer(t, "irrelevant")
	res, err := s.handleEscalateAnalysis(context.Background(), callReq(map[string]any{
		"attempted_approaches": []any{},
		"partial_findings":     []any{},
		"stuck_description":    []any{},
		"code_scope":           map[string]any{"files": []any{fixture}},
	}))
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	env := decodeErrorEnvelope(t, res)
	if env.Kind != "ValidationError" {
		t.Fatalf("expected ValidationError, got %s", env.Kind)
	}
}

func TestHandleGetConversationStatus_UnknownSessionIsSessionNotFound(t *testing.T) {
	s, _ := testServer(t, "irrelevant")
	res, err := s.handleGetConversationStatus(context.Background(), callReq(map[string]any{
		"session_id": "does-not-exist",
	}))
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	env := decodeErrorEnvelope(t, res)
	if env.Kind != "SessionNotFound" {
		t.Fatalf("expected SessionNotFound, got %s", env.Kind)
	}
}

func TestHandleStartConversation_ThenContinue(t *testing.T) {
	s, _ := testServer(t, "## Finding\nSeverity: medium\nProbably a nil check.")

	startRes, err := s.handleStartConversation(context.Background(), callReq(map[string]any{
		"attempted_approaches": []any{},
		"partial_findings":     []any{},
		"stuck_description":    []any{"stuck"},
		"code_scope_files":     []any{},
		"analysis_type":        "execution_trace",
	}))
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	if startRes.IsError {
		t.Fatalf("unexpected tool error starting conversation: %+v", startRes.Content)
	}

	text := startRes.Content[0].(mcp.TextContent).Text
	var started struct {
		Session struct {
			ID string
		} `json:"session"`
	}
	if jsonErr := json.Unmarshal([]byte(text), &started); jsonErr != nil {
		t.Fatalf("decoding start result: %v", jsonErr)
	}
	if started.Session.ID == "" {
		t.Fatalf("expected a session id in the start result, got none: %s", text)
	}

	continueRes, err := s.handleContinueConversation(context.Background(), callReq(map[string]any{
		"session_id": started.Session.ID,
		"message":    "what else should I check?",
	}))
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	if continueRes.IsError {
		t.Fatalf("unexpected tool error continuing conversation: %+v", continueRes.Content)
	}
}

func TestHandleHealthCheck_ReportsOK(t *testing.T) {
	s, _ := testServer(t, "irrelevant")
	res, err := s.handleHealthCheck(context.Background(), callReq(nil))
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %+v", res.Content)
	}
}

func TestHandleSetModel_UnknownProviderIsValidationError(t *testing.T) {
	s, _ := testServer(t, "irrelevant")
	res, err := s.handleSetModel(context.Background(), callReq(map[string]any{
		"model": "does-not-exist",
	}))
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	env := decodeErrorEnvelope(t, res)
	if env.Kind != "ValidationError" {
		t.Fatalf("expected ValidationError, got %s", env.Kind)
	}
}
