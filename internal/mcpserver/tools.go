package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/deepreason/mcp-server/internal/model"
	"github.com/deepreason/mcp-server/internal/params"
)

// --- Tool Definitions ---
//
// Every schema is a raw JSON Schema literal rather than the builder DSL,
// since the wire format (§4.2/§6) is fixed by the hosting client: flat
// snake_case top-level fields, with array/object fields accepted either
// as native JSON or as a JSON-encoded string.

func escalateAnalysisTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"escalate_analysis",
		"Run a general deep-reasoning analysis over a scoped set of files, escalating beyond what the primary caller has already tried.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"attempted_approaches": {"type": "array", "items": {"type": "string"}, "description": "Approaches already tried by the primary caller"},
				"partial_findings": {"type": "array", "items": {"type": "object"}, "description": "Findings already gathered"},
				"stuck_description": {"type": "array", "items": {"type": "string"}, "description": "Why the primary caller is stuck"},
				"code_scope": {"type": "object", "description": "Files (and optionally entry points/service names) in scope"},
				"analysis_type": {"type": "string", "enum": ["execution_trace", "cross_system", "performance", "hypothesis_test"]},
				"depth_level": {"type": "integer", "description": "1 (shallow) to 5 (exhaustive), default 3"},
				"time_budget_seconds": {"type": "integer", "description": "Wall-clock budget for this call"}
			},
			"required": ["attempted_approaches", "partial_findings", "stuck_description", "code_scope", "analysis_type", "depth_level"]
		}`),
	)
}

func traceExecutionPathTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"trace_execution_path",
		"Trace control flow from an entry point through the codebase toward a target behavior.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"entry_point": {"type": "object", "description": "CodeLocation {file, line, column?, functionName?}"},
				"target_behavior": {"type": "string", "description": "The behavior or bug being traced toward"},
				"code_scope": {"type": "object", "description": "Additional files in scope beyond entry_point.file"},
				"max_depth": {"type": "integer", "description": "Maximum number of trace steps returned, default 5"},
				"include_data_flow": {"type": "boolean", "description": "Whether to include data-flow analysis, default true"},
				"time_budget_seconds": {"type": "integer"}
			},
			"required": ["entry_point"]
		}`),
	)
}

func hypothesisTestTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"hypothesis_test",
		"Evaluate a single hypothesis against a test approach and return a verdict.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"hypothesis": {"type": "string"},
				"code_scope": {"type": "object"},
				"test_approach": {"type": "string"},
				"time_budget_seconds": {"type": "integer"}
			},
			"required": ["hypothesis", "code_scope", "test_approach"]
		}`),
	)
}

func crossSystemImpactTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"cross_system_impact",
		"Assess the blast radius of a change across dependent services.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"change_scope": {"type": "object", "description": "CodeScope for the change"},
				"impact_types": {"type": "array", "items": {"type": "string"}, "description": "e.g. breaking, performance, security"},
				"time_budget_seconds": {"type": "integer"}
			},
			"required": ["change_scope", "impact_types"]
		}`),
	)
}

func performanceBottleneckTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"performance_bottleneck",
		"Identify the likely performance bottleneck given a profile or description of the slow path.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"code_path": {
					"type": "object",
					"properties": {
						"entry_point": {"type": "object"},
						"suspected_issues": {"type": "array", "items": {"type": "string"}}
					}
				},
				"profile_depth": {"type": "string"},
				"time_budget_seconds": {"type": "integer"}
			},
			"required": ["code_path"]
		}`),
	)
}

func startConversationTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"start_conversation",
		"Begin a multi-turn conversational analysis session with the deep reasoner.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"attempted_approaches": {"type": "array", "items": {"type": "string"}},
				"partial_findings": {"type": "array", "items": {"type": "object"}},
				"stuck_description": {"type": "array", "items": {"type": "string"}},
				"code_scope_files": {"type": "array", "items": {"type": "string"}},
				"analysis_type": {"type": "string", "enum": ["execution_trace", "cross_system", "performance", "hypothesis_test"]},
				"initial_question": {"type": "string"},
				"time_budget_seconds": {"type": "integer"}
			},
			"required": ["attempted_approaches", "partial_findings", "stuck_description", "code_scope_files", "analysis_type"]
		}`),
	)
}

func continueConversationTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"continue_conversation",
		"Continue an existing conversational analysis session with another message.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"session_id": {"type": "string"},
				"message": {"type": "string"},
				"include_code_snippets": {"type": "boolean"}
			},
			"required": ["session_id", "message"]
		}`),
	)
}

func finalizeConversationTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"finalize_conversation",
		"Close a conversational analysis session and return a final summary.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"session_id": {"type": "string"},
				"summary_format": {"type": "string", "enum": ["concise", "detailed", "actionable"]}
			},
			"required": ["session_id"]
		}`),
	)
}

func getConversationStatusTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"get_conversation_status",
		"Report a conversational session's current status and turn count without taking a turn.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"session_id": {"type": "string"}
			},
			"required": ["session_id"]
		}`),
	)
}

func runHypothesisTournamentTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"run_hypothesis_tournament",
		"Generate competing hypotheses for an issue and run a bracketed elimination tournament to find the best-supported explanation.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"attempted_approaches": {"type": "array", "items": {"type": "string"}},
				"partial_findings": {"type": "array", "items": {"type": "object"}},
				"stuck_description": {"type": "array", "items": {"type": "string"}},
				"code_scope": {"type": "object"},
				"issue": {"type": "string"},
				"tournament_config": {
					"type": "object",
					"properties": {
						"max_hypotheses": {"type": "integer"},
						"max_rounds": {"type": "integer"},
						"parallel_sessions": {"type": "integer"},
						"wall_clock_seconds": {"type": "integer"},
						"provider_calls": {"type": "integer"},
						"seed": {"type": "integer"}
					}
				}
			},
			"required": ["attempted_approaches", "partial_findings", "stuck_description", "code_scope", "issue"]
		}`),
	)
}

func healthCheckTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"health_check",
		"Cheap liveness probe: is the server up and is at least one provider healthy.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"check_name": {"type": "string"}
			}
		}`),
	)
}

func healthSummaryTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"health_summary",
		"Detailed per-provider health, circuit-breaker state, and recent breaker transitions.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"include_details": {"type": "boolean"}
			}
		}`),
	)
}

func getModelInfoTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"get_model_info",
		"Report the current provider fallback chain and which provider is preferred.",
		json.RawMessage(`{"type": "object", "properties": {}}`),
	)
}

func setModelTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"set_model",
		"Reorder the provider fallback chain so the named provider is tried first, for the lifetime of this process.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"model": {"type": "string"}
			},
			"required": ["model"]
		}`),
	)
}

// --- Tool Handlers ---

func argsOf(req mcp.CallToolRequest) params.Args {
	m, ok := req.Params.Arguments.(map[string]any)
	if !ok {
		return params.Args{}
	}
	return params.Args(m)
}

func (s *Server) handleEscalateAnalysis(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a := argsOf(req)
	claudeCtx, analysisType, err := params.ClaudeContextFields(a, s.DefaultCallBudgetSeconds)
	if err != nil {
		return errorResult(err)
	}
	depth, err := params.DepthLevel(a)
	if err != nil {
		return errorResult(err)
	}

	res, err := s.Analysis.EscalateAnalysis(ctx, claudeCtx, analysisType, depth)
	if err != nil {
		return errorResult(err)
	}
	return resultJSON(res)
}

func (s *Server) handleTraceExecutionPath(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a := argsOf(req)
	entryPoint, err := params.CodeLocationField(a, "entry_point")
	if err != nil {
		return errorResult(err)
	}
	targetBehavior := params.OptionalString(a, "target_behavior", "")
	maxDepth := params.IntField(a, "max_depth", 5)
	includeDataFlow := params.BoolField(a, "include_data_flow", true)

	scope, scopeErr := params.CodeScopeField(a, "code_scope")
	if scopeErr != nil {
		scope = model.CodeScope{Files: []string{entryPoint.File}}
	}
	claudeCtx := model.ClaudeContext{
		FocusArea:               scope,
		AnalysisBudgetRemaining: params.IntField(a, "time_budget_seconds", s.DefaultCallBudgetSeconds),
	}

	res, err := s.Analysis.TraceExecutionPath(ctx, claudeCtx, entryPoint, targetBehavior, maxDepth, includeDataFlow)
	if err != nil {
		return errorResult(err)
	}
	return resultJSON(res)
}

func (s *Server) handleHypothesisTest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a := argsOf(req)
	hypothesis, err := params.RequiredString(a, "hypothesis")
	if err != nil {
		return errorResult(err)
	}
	scope, err := params.CodeScopeField(a, "code_scope")
	if err != nil {
		return errorResult(err)
	}
	testApproach, err := params.RequiredString(a, "test_approach")
	if err != nil {
		return errorResult(err)
	}

	claudeCtx := model.ClaudeContext{
		FocusArea:               scope,
		AnalysisBudgetRemaining: params.IntField(a, "time_budget_seconds", s.DefaultCallBudgetSeconds),
	}

	res, err := s.Analysis.HypothesisTest(ctx, claudeCtx, hypothesis, testApproach)
	if err != nil {
		return errorResult(err)
	}
	return resultJSON(res)
}

func (s *Server) handleCrossSystemImpact(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a := argsOf(req)
	changeScope, err := params.CodeScopeField(a, "change_scope")
	if err != nil {
		return errorResult(err)
	}
	impactTypes, err := params.StringSliceField(a, "impact_types")
	if err != nil {
		return errorResult(err)
	}

	claudeCtx := model.ClaudeContext{
		FocusArea:               changeScope,
		AnalysisBudgetRemaining: params.IntField(a, "time_budget_seconds", s.DefaultCallBudgetSeconds),
	}

	res, err := s.Analysis.CrossSystemImpact(ctx, claudeCtx, changeScope, impactTypes)
	if err != nil {
		return errorResult(err)
	}
	return resultJSON(res)
}

// codePathArgs mirrors the code_path object in performance_bottleneck's schema.
type codePathArgs struct {
	EntryPoint      model.CodeLocation `json:"entry_point"`
	SuspectedIssues []string           `json:"suspected_issues"`
}

func (s *Server) handlePerformanceBottleneck(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a := argsOf(req)
	var codePath codePathArgs
	if err := params.DecodeObject(a, "code_path", &codePath); err != nil {
		return errorResult(err)
	}
	profileDepth := params.OptionalString(a, "profile_depth", "")

	scope := model.CodeScope{}
	if codePath.EntryPoint.File != "" {
		scope.Files = []string{codePath.EntryPoint.File}
	}
	claudeCtx := model.ClaudeContext{
		FocusArea:               scope,
		AnalysisBudgetRemaining: params.IntField(a, "time_budget_seconds", s.DefaultCallBudgetSeconds),
	}

	profileData := fmt.Sprintf("entry point: %s:%d\nsuspected issues: %v\nprofile depth: %s",
		codePath.EntryPoint.File, codePath.EntryPoint.Line, codePath.SuspectedIssues, profileDepth)

	res, err := s.Analysis.PerformanceBottleneck(ctx, claudeCtx, profileData)
	if err != nil {
		return errorResult(err)
	}
	return resultJSON(res)
}

func (s *Server) handleStartConversation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a := argsOf(req)
	b := &paramBuilder{}

	approaches, err1 := params.StringSliceField(a, "attempted_approaches")
	b.collect(err1)
	var findingsIn []model.Finding
	err2 := params.DecodeObject(a, "partial_findings", &findingsIn)
	b.collect(err2)
	stuck, err3 := params.StringSliceField(a, "stuck_description")
	b.collect(err3)
	scope, err4 := params.CodeScopeFilesField(a, "code_scope_files")
	b.collect(err4)
	analysisTypeStr, err5 := params.RequiredString(a, "analysis_type")
	b.collect(err5)
	if err := b.err(); err != nil {
		return errorResult(err)
	}

	claudeCtx := model.ClaudeContext{
		AttemptedApproaches:     approaches,
		PartialFindings:         findingsIn,
		StuckPoints:             stuck,
		FocusArea:               scope,
		AnalysisBudgetRemaining: params.IntField(a, "time_budget_seconds", s.DefaultCallBudgetSeconds),
	}
	initialQuestion := params.OptionalString(a, "initial_question", "Begin the analysis.")

	res, err := s.Conversation.Start(ctx, model.AnalysisType(analysisTypeStr), claudeCtx, initialQuestion)
	if err != nil {
		return errorResult(err)
	}
	return resultJSON(res)
}

func (s *Server) handleContinueConversation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a := argsOf(req)
	sessionID, err := params.RequiredString(a, "session_id")
	if err != nil {
		return errorResult(err)
	}
	message, err := params.RequiredString(a, "message")
	if err != nil {
		return errorResult(err)
	}

	res, err := s.Conversation.Continue(ctx, sessionID, message)
	if err != nil {
		return errorResult(err)
	}
	return resultJSON(res)
}

func (s *Server) handleFinalizeConversation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a := argsOf(req)
	sessionID, err := params.RequiredString(a, "session_id")
	if err != nil {
		return errorResult(err)
	}
	switch format := params.OptionalString(a, "summary_format", "concise"); format {
	case "concise", "detailed", "actionable":
	default:
		return errorResult(&toolError{Kind: "ValidationError", Err: fmt.Errorf("summary_format: unrecognized value %q", format)})
	}

	res, err := s.Conversation.Finalize(ctx, sessionID)
	if err != nil {
		return errorResult(err)
	}
	return resultJSON(res)
}

func (s *Server) handleGetConversationStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a := argsOf(req)
	sessionID, err := params.RequiredString(a, "session_id")
	if err != nil {
		return errorResult(err)
	}

	sess, err := s.Conversation.Status(sessionID)
	if err != nil {
		return errorResult(err)
	}
	return resultJSON(struct {
		SessionID string             `json:"sessionId"`
		Status    model.SessionStatus `json:"status"`
		TurnCount int                `json:"turnCount"`
		Budget    model.Budget       `json:"budgetRemaining"`
	}{
		SessionID: sess.ID,
		Status:    sess.Status,
		TurnCount: len(sess.Turns),
		Budget:    sess.BudgetRemaining,
	})
}

// tournamentConfigArgs mirrors the optional tournament_config object.
type tournamentConfigArgs struct {
	MaxHypotheses    int   `json:"max_hypotheses"`
	MaxRounds        int   `json:"max_rounds"`
	ParallelSessions int   `json:"parallel_sessions"`
	WallClockSeconds int   `json:"wall_clock_seconds"`
	ProviderCalls    int   `json:"provider_calls"`
	Seed             int64 `json:"seed"`
}

func (s *Server) handleRunHypothesisTournament(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a := argsOf(req)
	b := &paramBuilder{}

	approaches, err1 := params.StringSliceField(a, "attempted_approaches")
	b.collect(err1)
	var findingsIn []model.Finding
	err2 := params.DecodeObject(a, "partial_findings", &findingsIn)
	b.collect(err2)
	stuck, err3 := params.StringSliceField(a, "stuck_description")
	b.collect(err3)
	scope, err4 := params.CodeScopeField(a, "code_scope")
	b.collect(err4)
	issue, err5 := params.RequiredString(a, "issue")
	b.collect(err5)
	if err := b.err(); err != nil {
		return errorResult(err)
	}

	claudeCtx := model.ClaudeContext{
		AttemptedApproaches: approaches,
		PartialFindings:     findingsIn,
		StuckPoints:         stuck,
		FocusArea:           scope,
	}

	cfgArgs := tournamentConfigArgs{
		MaxHypotheses:    8,
		MaxRounds:        4,
		ParallelSessions: 3,
		WallClockSeconds: s.DefaultTournamentWallClockSeconds,
		ProviderCalls:    s.DefaultTournamentProviderCalls,
		Seed:             1,
	}
	_ = params.DecodeObject(a, "tournament_config", &cfgArgs)

	cfg := model.TournamentConfig{
		MaxHypotheses:    cfgArgs.MaxHypotheses,
		MaxRounds:        cfgArgs.MaxRounds,
		ParallelSessions: cfgArgs.ParallelSessions,
	}
	budget := model.Budget{
		WallClockSec:  cfgArgs.WallClockSeconds,
		ProviderCalls: cfgArgs.ProviderCalls,
	}

	outcome, err := s.Tournament.Run(ctx, issue, claudeCtx, cfg, budget, cfgArgs.Seed)
	if err != nil {
		return errorResult(err)
	}
	return resultJSON(outcome)
}

func (s *Server) handleHealthCheck(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return resultJSON(s.Health.Check())
}

func (s *Server) handleHealthSummary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a := argsOf(req)
	summary := s.Health.Summarize()
	if !params.BoolField(a, "include_details", true) {
		summary.RecentEvents = nil
	}
	return resultJSON(summary)
}

func (s *Server) handleGetModelInfo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return resultJSON(s.Health.GetModelInfo())
}

func (s *Server) handleSetModel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a := argsOf(req)
	name, err := params.RequiredString(a, "model")
	if err != nil {
		return errorResult(err)
	}
	if err := s.Health.SetModel(name); err != nil {
		return errorResult(err)
	}
	return resultJSON(s.Health.GetModelInfo())
}

// paramBuilder accumulates multiple field-level validation errors across a
// handler so the composite ValidationError §4.2 requires is returned in
// one round trip rather than stopping at the first failing field.
type paramBuilder struct {
	errs []params.FieldError
}

func (b *paramBuilder) collect(err error) {
	if err == nil {
		return
	}
	var ve *params.ValidationError
	if ok := asValidationError(err, &ve); ok {
		b.errs = append(b.errs, ve.Fields...)
		return
	}
	b.errs = append(b.errs, params.FieldError{Field: "unknown", Reason: err.Error()})
}

func (b *paramBuilder) err() error {
	if len(b.errs) == 0 {
		return nil
	}
	return &params.ValidationError{Fields: b.errs}
}

func asValidationError(err error, target **params.ValidationError) bool {
	ve, ok := err.(*params.ValidationError)
	if !ok {
		return false
	}
	*target = ve
	return true
}
