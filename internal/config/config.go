// Package config holds runtime configuration for the deep-reasoner MCP
// server, loaded from flags and DEEPREASON_*-prefixed environment variables
// via viper. Provider credentials are read directly from the environment by
// internal/provider, never from viper, so they never show up in a flag
// listing or a dumped config.
package config

import "github.com/spf13/viper"

// Version is the server's reported version string, surfaced in the MCP
// server's implementation info.
const Version = "0.1.0"

// Config holds all runtime configuration for the server.
type Config struct {
	// ExtraFileRoots is a comma-separated list of additional absolute
	// directories the Secure File Reader allow-lists, beyond the process
	// workspace root and the user's home directory tree.
	ExtraFileRoots string

	// PreferredProvider overrides the default head-of-chain provider at
	// startup (equivalent to an initial set_model call).
	PreferredProvider string

	// DefaultCallBudgetSeconds bounds a single-shot analysis call.
	DefaultCallBudgetSeconds int

	// TournamentWallClockSeconds and TournamentProviderCalls bound a
	// hypothesis tournament run unless overridden per-call.
	TournamentWallClockSeconds int
	TournamentProviderCalls    int

	// SessionIdleTTLSeconds is how long a conversational session may sit
	// idle before the reaper destroys it.
	SessionIdleTTLSeconds int

	// MaxTranscriptTurns and MaxTranscriptBytes cap a session's memory
	// footprint; continue_conversation fails with SessionFull beyond them.
	MaxTranscriptTurns int
	MaxTranscriptBytes int

	// CircuitBreakerFailureThreshold is the number of consecutive
	// "unavailable" errors before a provider's breaker opens.
	CircuitBreakerFailureThreshold int
	// CircuitBreakerBaseCooldownSeconds is the initial open-state cool-down;
	// subsequent re-opens double it, capped at CircuitBreakerMaxCooldownSeconds.
	CircuitBreakerBaseCooldownSeconds int
	CircuitBreakerMaxCooldownSeconds  int

	Verbose bool
}

// Load reads configuration from viper, which merges flag values, env vars,
// and defaults set up by the cobra command in cmd/deepreasonmcp.
func Load() Config {
	return Config{
		ExtraFileRoots:                    viper.GetString("extra_file_roots"),
		PreferredProvider:                 viper.GetString("preferred_provider"),
		DefaultCallBudgetSeconds:          viper.GetInt("default_call_budget_seconds"),
		TournamentWallClockSeconds:        viper.GetInt("tournament_wall_clock_seconds"),
		TournamentProviderCalls:           viper.GetInt("tournament_provider_calls"),
		SessionIdleTTLSeconds:             viper.GetInt("session_idle_ttl_seconds"),
		MaxTranscriptTurns:                viper.GetInt("max_transcript_turns"),
		MaxTranscriptBytes:                viper.GetInt("max_transcript_bytes"),
		CircuitBreakerFailureThreshold:    viper.GetInt("circuit_breaker_failure_threshold"),
		CircuitBreakerBaseCooldownSeconds: viper.GetInt("circuit_breaker_base_cooldown_seconds"),
		CircuitBreakerMaxCooldownSeconds:  viper.GetInt("circuit_breaker_max_cooldown_seconds"),
		Verbose:                           viper.GetBool("verbose"),
	}
}
