// Package health implements the Health & Model Admin tools (C11):
// health_check, health_summary, get_model_info, and set_model. It reads
// orchestrator snapshots and the event bus rather than holding its own
// state.
package health

import (
	"fmt"
	"time"

	"github.com/deepreason/mcp-server/internal/config"
	"github.com/deepreason/mcp-server/internal/eventbus"
	"github.com/deepreason/mcp-server/internal/orchestrator"
	"github.com/deepreason/mcp-server/internal/provider"
	"github.com/deepreason/mcp-server/internal/session"
)

// Reporter answers health_check/health_summary/get_model_info/set_model.
type Reporter struct {
	Registry     *provider.Registry
	Orchestrator *orchestrator.Orchestrator
	Sessions     *session.Store
	Bus          eventbus.Bus
	StartedAt    time.Time
}

// Check is a cheap liveness probe: the server is up if it can answer at
// all, plus whether at least one provider is currently healthy.
type Check struct {
	OK              bool
	UptimeSeconds   int
	AnyProviderUp   bool
	ActiveSessions  int
	ServerVersion   string
}

// Check answers health_check.
func (r *Reporter) Check() Check {
	anyUp := false
	for _, snap := range r.Orchestrator.Snapshot() {
		if snap.Healthy {
			anyUp = true
			break
		}
	}
	return Check{
		OK:             anyUp,
		UptimeSeconds:  int(time.Since(r.StartedAt).Seconds()),
		AnyProviderUp:  anyUp,
		ActiveSessions: r.Sessions.Count(),
		ServerVersion:  config.Version,
	}
}

// ProviderSummary is one provider's detailed state for health_summary.
type ProviderSummary struct {
	Name                string
	RateClass           provider.RateClass
	Healthy             bool
	BreakerState        string
	ConsecutiveFailures int
	Preferred           bool
}

// Summary answers health_summary: a per-provider breakdown plus recent
// circuit-breaker transition events.
type Summary struct {
	Providers      []ProviderSummary
	ActiveSessions int
	RecentEvents   []eventbus.Event
}

// Summarize answers health_summary.
func (r *Reporter) Summarize() Summary {
	chain := r.Registry.Names()
	preferred := ""
	if len(chain) > 0 {
		preferred = chain[0]
	}

	var providers []ProviderSummary
	for _, snap := range r.Orchestrator.Snapshot() {
		providers = append(providers, ProviderSummary{
			Name:                snap.Provider,
			RateClass:           snap.RateClass,
			Healthy:             snap.Healthy,
			BreakerState:        snap.BreakerState,
			ConsecutiveFailures: snap.ConsecutiveFailures,
			Preferred:           snap.Provider == preferred,
		})
	}

	ch, unsubscribe := r.Bus.Subscribe("circuit_breaker")
	defer unsubscribe()
	var events []eventbus.Event
	for {
		select {
		case evt := <-ch:
			events = append(events, evt)
		default:
			return Summary{Providers: providers, ActiveSessions: r.Sessions.Count(), RecentEvents: events}
		}
	}
}

// ModelInfo answers get_model_info.
type ModelInfo struct {
	Chain     []string
	Preferred string
}

// GetModelInfo reports the current fallback chain and which provider is
// preferred.
func (r *Reporter) GetModelInfo() ModelInfo {
	chain := r.Registry.Names()
	preferred := ""
	if len(chain) > 0 {
		preferred = chain[0]
	}
	return ModelInfo{Chain: chain, Preferred: preferred}
}

// SetModel reorders the fallback chain so name is tried first. The
// change holds only for the lifetime of the process.
func (r *Reporter) SetModel(name string) error {
	if err := r.Registry.SetPreferred(name); err != nil {
		return fmt.Errorf("set_model: %w", err)
	}
	return nil
}
