package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/deepreason/mcp-server/internal/config"
	"github.com/deepreason/mcp-server/internal/mcpserver"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "deepreasonmcp",
		Short: "MCP server bridging a lightweight coding assistant to a deep-reasoning LLM",
		RunE:  run,
	}

	f := rootCmd.Flags()
	f.String("extra-file-roots", "", "comma-separated additional directories the secure file reader may read from")
	f.String("preferred-provider", "", "provider name to prefer at startup, overriding registration order")
	f.Int("default-call-budget-seconds", 60, "wall-clock budget for a single-shot analysis call")
	f.Int("tournament-wall-clock-seconds", 300, "default wall-clock budget for a hypothesis tournament")
	f.Int("tournament-provider-calls", 40, "default provider-call budget for a hypothesis tournament")
	f.Int("session-idle-ttl-seconds", 1800, "how long an idle conversational session is kept before reaping")
	f.Int("max-transcript-turns", 40, "maximum turns a conversational session may accumulate")
	f.Int("max-transcript-bytes", 1<<20, "maximum transcript size in bytes a conversational session may accumulate")
	f.Int("circuit-breaker-failure-threshold", 5, "consecutive unavailable errors before a provider's breaker opens")
	f.Int("circuit-breaker-base-cooldown-seconds", 10, "initial circuit breaker cooldown")
	f.Int("circuit-breaker-max-cooldown-seconds", 300, "maximum circuit breaker cooldown after repeated trips")
	f.Bool("verbose", false, "enable verbose stderr logging")

	bindFlag := func(viperKey, flagName string) {
		_ = viper.BindPFlag(viperKey, f.Lookup(flagName))
	}
	bindFlag("extra_file_roots", "extra-file-roots")
	bindFlag("preferred_provider", "preferred-provider")
	bindFlag("default_call_budget_seconds", "default-call-budget-seconds")
	bindFlag("tournament_wall_clock_seconds", "tournament-wall-clock-seconds")
	bindFlag("tournament_provider_calls", "tournament-provider-calls")
	bindFlag("session_idle_ttl_seconds", "session-idle-ttl-seconds")
	bindFlag("max_transcript_turns", "max-transcript-turns")
	bindFlag("max_transcript_bytes", "max-transcript-bytes")
	bindFlag("circuit_breaker_failure_threshold", "circuit-breaker-failure-threshold")
	bindFlag("circuit_breaker_base_cooldown_seconds", "circuit-breaker-base-cooldown-seconds")
	bindFlag("circuit_breaker_max_cooldown_seconds", "circuit-breaker-max-cooldown-seconds")
	bindFlag("verbose", "verbose")

	// DEEPREASON_* environment variables override flag defaults; provider
	// credentials are read directly from the environment by
	// internal/provider instead, so they never appear in a flag listing.
	viper.SetEnvPrefix("DEEPREASON")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	workspaceRoot, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolving workspace root: %w", err)
	}

	// stdout is reserved for the JSON-RPC transport; all diagnostics go to
	// stderr.
	fmt.Fprintf(os.Stderr, "deepreason-mcp %s starting\n", config.Version)
	fmt.Fprintf(os.Stderr, "  workspace root: %s\n", workspaceRoot)
	if cfg.PreferredProvider != "" {
		fmt.Fprintf(os.Stderr, "  preferred provider: %s\n", cfg.PreferredProvider)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(os.Stderr, "received %s, shutting down\n", sig)
		cancel()
	}()

	if err := mcpserver.Run(ctx, cfg, workspaceRoot); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
