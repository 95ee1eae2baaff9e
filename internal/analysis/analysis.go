// Package analysis implements the Single-Shot Analysis Runtime (C8): the
// five analysis tools that make exactly one deep-reasoner call each,
// optionally reading scoped source files first, and shape the reply into
// findings. Unlike the conversational runtime, calls here are
// independent — no session lock is held across a turn because there is
// only one turn.
package analysis

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/deepreason/mcp-server/internal/findings"
	"github.com/deepreason/mcp-server/internal/model"
	"github.com/deepreason/mcp-server/internal/orchestrator"
	"github.com/deepreason/mcp-server/internal/provider"
	"github.com/deepreason/mcp-server/internal/secureread"
)

// Runtime executes one-shot analysis calls.
type Runtime struct {
	Orchestrator *orchestrator.Orchestrator
	Reader       *secureread.Reader
	Parser       findings.Parser
	SystemPrompt string
}

// callResult is the raw shape every single-shot tool gets back from the
// shared call helper before it is reshaped into that tool's own contract.
type callResult struct {
	findings     []model.Finding
	text         string
	providerUsed string
}

// EscalateResult is the shaped outcome of escalate_analysis: the
// general-purpose "reason deeply about this" call.
type EscalateResult struct {
	Findings        []model.Finding `json:"findings"`
	Recommendations []string        `json:"recommendations"`
	Confidence      float64         `json:"confidence"`
	ProviderUsed    string          `json:"providerUsed"`
}

// EscalateAnalysis runs a general deep-analysis call over the given
// context, honoring depth to scale the requested level of detail.
func (r *Runtime) EscalateAnalysis(ctx context.Context, claudeCtx model.ClaudeContext, analysisType model.AnalysisType, depth int) (EscalateResult, error) {
	cr, err := r.run(ctx, claudeCtx, func(sources string) string {
		return fmt.Sprintf(
			"Analysis type: %s\nRequested depth: %d/5\nAttempted approaches: %v\nStuck points: %v\nPartial findings so far: %d\n\n%s",
			analysisType, depth, claudeCtx.AttemptedApproaches, claudeCtx.StuckPoints, len(claudeCtx.PartialFindings), sources,
		)
	})
	if err != nil {
		return EscalateResult{}, err
	}

	var recommendations []string
	confidenceSum := 0.0
	for _, f := range cr.findings {
		if f.Type == model.FindingOther && strings.Contains(strings.ToLower(f.Description), "recommend") {
			recommendations = append(recommendations, f.Description)
			continue
		}
		confidenceSum += f.Confidence
	}
	confidence := 0.0
	if len(cr.findings) > 0 {
		confidence = confidenceSum / float64(len(cr.findings))
	}

	return EscalateResult{
		Findings:        cr.findings,
		Recommendations: recommendations,
		Confidence:      confidence,
		ProviderUsed:    cr.providerUsed,
	}, nil
}

// TraceStep is one step of an execution-path trace, in the order the
// reasoner walked the call path.
type TraceStep struct {
	Location  model.CodeLocation `json:"location"`
	Operation string             `json:"operation"`
	DataFlow  string             `json:"dataFlow,omitempty"`
}

// TraceResult is the shaped outcome of trace_execution_path.
type TraceResult struct {
	Steps        []TraceStep `json:"steps"`
	ProviderUsed string      `json:"providerUsed"`
	RawResponse  string      `json:"rawResponse"`
}

// TraceExecutionPath asks the reasoner to trace control flow from an
// entry point through the given scope, optionally toward a target
// behavior, and shapes the reply into an ordered list of steps.
func (r *Runtime) TraceExecutionPath(ctx context.Context, claudeCtx model.ClaudeContext, entryPoint model.CodeLocation, targetBehavior string, maxDepth int, includeDataFlow bool) (TraceResult, error) {
	cr, err := r.run(ctx, claudeCtx, func(sources string) string {
		return fmt.Sprintf(
			"Trace the execution path starting at %s:%d (%s) toward: %s. Limit the trace to at most %d steps.\n\n%s",
			entryPoint.File, entryPoint.Line, entryPoint.FunctionName, targetBehavior, maxDepth, sources,
		)
	})
	if err != nil {
		return TraceResult{}, err
	}

	if maxDepth <= 0 {
		maxDepth = 5
	}
	if len(cr.findings) > maxDepth {
		cr.findings = cr.findings[:maxDepth]
	}

	steps := make([]TraceStep, 0, len(cr.findings))
	for _, f := range cr.findings {
		step := TraceStep{Location: entryPoint, Operation: f.Description}
		if f.Location != nil {
			step.Location = *f.Location
		}
		if includeDataFlow && len(f.Evidence) > 0 {
			step.DataFlow = strings.Join(f.Evidence, "; ")
		}
		steps = append(steps, step)
	}

	return TraceResult{Steps: steps, ProviderUsed: cr.providerUsed, RawResponse: cr.text}, nil
}

// HypothesisTestResult is the shaped outcome of hypothesis_test.
type HypothesisTestResult struct {
	Verdict         string   `json:"verdict"` // "supported" | "refuted" | "inconclusive"
	Evidence        []string `json:"evidence"`
	CounterExamples []string `json:"counterExamples,omitempty"`
	ProviderUsed    string   `json:"providerUsed"`
}

// HypothesisTest asks the reasoner to evaluate a single hypothesis
// against the supplied test approach and shapes the reply into a
// verdict plus the evidence for and against it.
func (r *Runtime) HypothesisTest(ctx context.Context, claudeCtx model.ClaudeContext, hypothesis, testApproach string) (HypothesisTestResult, error) {
	cr, err := r.run(ctx, claudeCtx, func(sources string) string {
		return fmt.Sprintf(
			"Hypothesis: %s\nTest approach: %s\n\nEvaluate whether the evidence in the code supports or refutes this hypothesis. State a clear verdict (supported, refuted, or inconclusive), then list evidence and any counterexamples separately.\n\n%s",
			hypothesis, testApproach, sources,
		)
	})
	if err != nil {
		return HypothesisTestResult{}, err
	}

	var evidence, counterExamples []string
	for _, f := range cr.findings {
		if strings.Contains(strings.ToLower(f.Description), "counter") {
			counterExamples = append(counterExamples, f.Description)
			continue
		}
		evidence = append(evidence, f.Description)
	}

	return HypothesisTestResult{
		Verdict:         classifyVerdictWord(cr.text),
		Evidence:        evidence,
		CounterExamples: counterExamples,
		ProviderUsed:    cr.providerUsed,
	}, nil
}

// classifyVerdictWord looks for an explicit supported/refuted/inconclusive
// declaration anywhere in the reasoner's reply, defaulting to inconclusive
// when neither is stated clearly.
func classifyVerdictWord(raw string) string {
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "refuted") || strings.Contains(lower, "not supported") || strings.Contains(lower, "contradict"):
		return "refuted"
	case strings.Contains(lower, "supported") || strings.Contains(lower, "confirmed"):
		return "supported"
	default:
		return "inconclusive"
	}
}

// ImpactEntry is one affected target within a single impact type.
type ImpactEntry struct {
	Target      string `json:"target"`
	Description string `json:"description"`
}

// CrossSystemImpactResult is the shaped outcome of cross_system_impact: an
// impact matrix keyed by impact type.
type CrossSystemImpactResult struct {
	Impacts      map[string][]ImpactEntry `json:"impacts"`
	ProviderUsed string                   `json:"providerUsed"`
}

// CrossSystemImpact asks the reasoner to reason about the blast radius of
// a change across named services, and buckets each finding under whichever
// requested impact type it discusses.
func (r *Runtime) CrossSystemImpact(ctx context.Context, claudeCtx model.ClaudeContext, changeScope model.CodeScope, impactTypes []string) (CrossSystemImpactResult, error) {
	cr, err := r.run(ctx, claudeCtx, func(sources string) string {
		return fmt.Sprintf(
			"Assess cross-system impact of changes in services %v (files: %v) for impact types %v. For each finding, state which impact type it belongs to.\n\n%s",
			changeScope.ServiceNames, changeScope.Files, impactTypes, sources,
		)
	})
	if err != nil {
		return CrossSystemImpactResult{}, err
	}

	target := ""
	switch {
	case len(changeScope.ServiceNames) > 0:
		target = changeScope.ServiceNames[0]
	case len(changeScope.Files) > 0:
		target = changeScope.Files[0]
	}

	impacts := make(map[string][]ImpactEntry, len(impactTypes))
	for _, t := range impactTypes {
		impacts[t] = nil
	}
	for _, f := range cr.findings {
		lower := strings.ToLower(f.Description)
		matched := false
		for _, t := range impactTypes {
			if strings.Contains(lower, strings.ToLower(t)) {
				impacts[t] = append(impacts[t], ImpactEntry{Target: target, Description: f.Description})
				matched = true
			}
		}
		if !matched && len(impactTypes) > 0 {
			impacts[impactTypes[0]] = append(impacts[impactTypes[0]], ImpactEntry{Target: target, Description: f.Description})
		}
	}

	return CrossSystemImpactResult{Impacts: impacts, ProviderUsed: cr.providerUsed}, nil
}

// Bottleneck is one ranked performance bottleneck; the list is ordered
// most severe first.
type Bottleneck struct {
	Rank        int    `json:"rank"`
	Location    string `json:"location"`
	Explanation string `json:"explanation"`
}

// PerformanceBottleneckResult is the shaped outcome of
// performance_bottleneck.
type PerformanceBottleneckResult struct {
	Bottlenecks  []Bottleneck `json:"bottlenecks"`
	ProviderUsed string       `json:"providerUsed"`
}

// PerformanceBottleneck asks the reasoner to locate the likely bottleneck
// given a profile or description of the slow path, and ranks the findings
// by severity.
func (r *Runtime) PerformanceBottleneck(ctx context.Context, claudeCtx model.ClaudeContext, profileData string) (PerformanceBottleneckResult, error) {
	cr, err := r.run(ctx, claudeCtx, func(sources string) string {
		return fmt.Sprintf(
			"Identify the performance bottleneck given this profile/observation data:\n%s\n\n%s",
			profileData, sources,
		)
	})
	if err != nil {
		return PerformanceBottleneckResult{}, err
	}

	ranked := append([]model.Finding(nil), cr.findings...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return severityRank(ranked[i].Severity) > severityRank(ranked[j].Severity)
	})

	bottlenecks := make([]Bottleneck, 0, len(ranked))
	for i, f := range ranked {
		location := ""
		if f.Location != nil {
			location = fmt.Sprintf("%s:%d", f.Location.File, f.Location.Line)
		}
		bottlenecks = append(bottlenecks, Bottleneck{Rank: i + 1, Location: location, Explanation: f.Description})
	}

	return PerformanceBottleneckResult{Bottlenecks: bottlenecks, ProviderUsed: cr.providerUsed}, nil
}

func severityRank(s model.Severity) int {
	switch s {
	case model.SeverityCritical:
		return 3
	case model.SeverityHigh:
		return 2
	case model.SeverityMedium:
		return 1
	default:
		return 0
	}
}

// run validates the code scope, reads the in-scope sources, builds the
// tool-specific prompt via buildPrompt, and makes the single provider call
// every single-shot tool is built on.
func (r *Runtime) run(ctx context.Context, claudeCtx model.ClaudeContext, buildPrompt func(sources string) string) (callResult, error) {
	if err := r.Reader.ValidateScope(claudeCtx.FocusArea.Files); err != nil {
		return callResult{}, fmt.Errorf("validating code scope: %w", err)
	}
	sources, err := r.readSources(claudeCtx.FocusArea.Files)
	if err != nil {
		return callResult{}, err
	}

	return r.call(ctx, buildPrompt(sources), claudeCtx.AnalysisBudgetRemaining)
}

// call applies a per-call deadline derived from the remaining budget,
// invokes the orchestrator, and parses the reply into findings.
func (r *Runtime) call(ctx context.Context, prompt string, budgetSeconds int) (callResult, error) {
	timeout := time.Duration(budgetSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	genResult, err := r.Orchestrator.Generate(callCtx, prompt, provider.GenerateOptions{
		SystemPrompt: r.SystemPrompt,
		MaxTokens:    4096,
		Timeout:      timeout,
	})
	if err != nil {
		return callResult{}, fmt.Errorf("deep reasoner call failed: %w", err)
	}

	return callResult{
		findings:     r.Parser.ParseFindings(genResult.Text),
		text:         genResult.Text,
		providerUsed: genResult.ProviderUsed,
	}, nil
}

// readSources reads every file in scope and renders them into one
// prompt-ready block, labeled by path.
func (r *Runtime) readSources(files []string) (string, error) {
	var out string
	for _, f := range files {
		data, err := r.Reader.Read(f)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", f, err)
		}
		out += fmt.Sprintf("--- %s ---\n%s\n\n", f, string(data))
	}
	return out, nil
}
