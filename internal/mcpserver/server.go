// Package mcpserver implements the Tool Dispatcher (C10): a JSON-RPC 2.0
// stdio MCP server exposing the deep reasoner's single-shot analysis
// tools, conversational session tools, hypothesis tournament, and health
// & model admin tools, routing each to the runtime that owns it and
// mapping internal errors onto the wire error taxonomy (§7).
package mcpserver

import (
	"context"
	"log"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/deepreason/mcp-server/internal/analysis"
	"github.com/deepreason/mcp-server/internal/config"
	"github.com/deepreason/mcp-server/internal/eventbus"
	"github.com/deepreason/mcp-server/internal/findings"
	"github.com/deepreason/mcp-server/internal/health"
	"github.com/deepreason/mcp-server/internal/orchestrator"
	"github.com/deepreason/mcp-server/internal/provider"
	"github.com/deepreason/mcp-server/internal/secureread"
	"github.com/deepreason/mcp-server/internal/session"
	"github.com/deepreason/mcp-server/internal/tournament"
)

// Server holds every runtime the tool handlers dispatch into.
type Server struct {
	Analysis     *analysis.Runtime
	Conversation *session.Runtime
	Tournament   *tournament.Runtime
	Health       *health.Reporter

	DefaultCallBudgetSeconds          int
	DefaultTournamentWallClockSeconds int
	DefaultTournamentProviderCalls    int
}

// systemPrompt is shared by every runtime: it tells the deep reasoner
// what role it plays relative to the primary caller.
const systemPrompt = "You are the deep reasoner in a two-model system. A lightweight coding " +
	"assistant has escalated to you because it is stuck or needs an exhaustive pass over " +
	"more context than it can hold. Read the supplied files and context carefully, avoid " +
	"repeating approaches the caller says it already tried, and return concrete, evidence-backed findings."

// Build wires the provider registry, orchestrator, secure file reader,
// session store/lock, and every runtime from cfg, returning a Server
// ready to register with an MCP transport.
func Build(cfg config.Config, workspaceRoot string) (*Server, error) {
	registry := provider.NewRegistry()
	registerConfiguredProviders(registry)
	if cfg.PreferredProvider != "" {
		_ = registry.SetPreferred(cfg.PreferredProvider)
	}

	bus := eventbus.New()
	orchCfg := orchestrator.DefaultConfig()
	orchCfg.FailureThreshold = cfg.CircuitBreakerFailureThreshold
	orchCfg.BaseCooldown = time.Duration(cfg.CircuitBreakerBaseCooldownSeconds) * time.Second
	orchCfg.MaxCooldown = time.Duration(cfg.CircuitBreakerMaxCooldownSeconds) * time.Second
	orch := orchestrator.New(registry, bus, orchCfg)

	var extraRoots []string
	if cfg.ExtraFileRoots != "" {
		for _, root := range strings.Split(cfg.ExtraFileRoots, ",") {
			if root = strings.TrimSpace(root); root != "" {
				extraRoots = append(extraRoots, root)
			}
		}
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		extraRoots = append(extraRoots, home)
	}
	reader, err := secureread.New(workspaceRoot, extraRoots...)
	if err != nil {
		return nil, err
	}

	parser := findings.New()

	store := session.NewStore(session.Limits{
		MaxTurns: cfg.MaxTranscriptTurns,
		MaxBytes: cfg.MaxTranscriptBytes,
		IdleTTL:  time.Duration(cfg.SessionIdleTTLSeconds) * time.Second,
	})
	lock := session.NewLock()

	return &Server{
		Analysis: &analysis.Runtime{
			Orchestrator: orch,
			Reader:       reader,
			Parser:       parser,
			SystemPrompt: systemPrompt,
		},
		Conversation: &session.Runtime{
			Store:        store,
			Lock:         lock,
			Orchestrator: orch,
			Reader:       reader,
			Parser:       parser,
			SystemPrompt: systemPrompt,
		},
		Tournament: &tournament.Runtime{
			Orchestrator: orch,
			Parser:       parser,
			SystemPrompt: systemPrompt,
		},
		Health: &health.Reporter{
			Registry:     registry,
			Orchestrator: orch,
			Sessions:     store,
			Bus:          bus,
			StartedAt:    time.Now(),
		},
		DefaultCallBudgetSeconds:          cfg.DefaultCallBudgetSeconds,
		DefaultTournamentWallClockSeconds: cfg.TournamentWallClockSeconds,
		DefaultTournamentProviderCalls:    cfg.TournamentProviderCalls,
	}, nil
}

// registerConfiguredProviders registers an adapter for every provider
// whose credentials are present in the environment, primary first. A
// missing primary key is not fatal: the chain simply starts with
// whichever fallback is configured, per §4.3's "appended when their
// credentials are configured."
func registerConfiguredProviders(registry *provider.Registry) {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		model := envOr("ANTHROPIC_MODEL", "claude-opus-4-5")
		registry.Register(provider.NewAnthropicAdapter(key, model))
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		model := envOr("OPENAI_MODEL", "gpt-5")
		registry.Register(provider.NewOpenAIAdapter(key, model))
	}
	if baseURL := os.Getenv("LOCAL_MODEL_BASE_URL"); baseURL != "" {
		model := envOr("LOCAL_MODEL", "llama3")
		registry.Register(provider.NewLocalAdapter(baseURL, model))
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Tools returns the full catalog this server registers, paired with
// their handlers, for server.MCPServer.AddTools.
func (s *Server) Tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: escalateAnalysisTool(), Handler: s.handleEscalateAnalysis},
		{Tool: traceExecutionPathTool(), Handler: s.handleTraceExecutionPath},
		{Tool: hypothesisTestTool(), Handler: s.handleHypothesisTest},
		{Tool: crossSystemImpactTool(), Handler: s.handleCrossSystemImpact},
		{Tool: performanceBottleneckTool(), Handler: s.handlePerformanceBottleneck},
		{Tool: startConversationTool(), Handler: s.handleStartConversation},
		{Tool: continueConversationTool(), Handler: s.handleContinueConversation},
		{Tool: finalizeConversationTool(), Handler: s.handleFinalizeConversation},
		{Tool: getConversationStatusTool(), Handler: s.handleGetConversationStatus},
		{Tool: runHypothesisTournamentTool(), Handler: s.handleRunHypothesisTournament},
		{Tool: healthCheckTool(), Handler: s.handleHealthCheck},
		{Tool: healthSummaryTool(), Handler: s.handleHealthSummary},
		{Tool: getModelInfoTool(), Handler: s.handleGetModelInfo},
		{Tool: setModelTool(), Handler: s.handleSetModel},
	}
}

// StartIdleReaper runs ReapIdle on an interval until ctx is cancelled,
// keeping the in-memory session count bounded per §4.9.
func (s *Server) StartIdleReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				s.Conversation.Store.ReapIdle(now, s.Conversation.Lock)
			}
		}
	}()
}

// Run builds a Server from cfg and serves it over stdio until ctx is
// cancelled or stdin is closed.
func Run(ctx context.Context, cfg config.Config, workspaceRoot string) error {
	s, err := Build(cfg, workspaceRoot)
	if err != nil {
		return err
	}
	s.StartIdleReaper(ctx, time.Minute)

	mcpServer := server.NewMCPServer(
		"deepreason-mcp",
		config.Version,
		server.WithToolCapabilities(true),
	)
	mcpServer.AddTools(s.Tools()...)

	stdio := server.NewStdioServer(mcpServer)
	stdio.SetErrorLogger(log.New(os.Stderr, "[deepreason] ", log.LstdFlags))

	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}
