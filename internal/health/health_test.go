package health

import (
	"context"
	"testing"
	"time"

	"github.com/deepreason/mcp-server/internal/eventbus"
	"github.com/deepreason/mcp-server/internal/orchestrator"
	"github.com/deepreason/mcp-server/internal/provider"
	"github.com/deepreason/mcp-server/internal/session"
)

type fakeAdapter struct {
	name    string
	healthy bool
}

func (f *fakeAdapter) Name() string                  { return f.name }
func (f *fakeAdapter) RateClass() provider.RateClass { return provider.RateStandard }
func (f *fakeAdapter) IsHealthy() bool               { return f.healthy }
func (f *fakeAdapter) Generate(ctx context.Context, prompt string, opts provider.GenerateOptions) (provider.GenerateResult, error) {
	return provider.GenerateResult{}, nil
}
func (f *fakeAdapter) Classify(err error) provider.ClassifiedError {
	return provider.ClassifiedError{Kind: provider.ErrTransient, Err: err}
}

func testReporter() *Reporter {
	reg := provider.NewRegistry()
	reg.Register(&fakeAdapter{name: "anthropic", healthy: true})
	reg.Register(&fakeAdapter{name: "openai", healthy: false})

	return &Reporter{
		Registry:     reg,
		Orchestrator: orchestrator.New(reg, eventbus.New(), orchestrator.DefaultConfig()),
		Sessions:     session.NewStore(session.Limits{MaxTurns: 10, MaxBytes: 1000, IdleTTL: time.Hour}),
		Bus:          eventbus.New(),
		StartedAt:    time.Now().Add(-time.Minute),
	}
}

func TestCheck_ReportsOKWhenAnyProviderHealthy(t *testing.T) {
	r := testReporter()
	check := r.Check()
	if !check.OK || !check.AnyProviderUp {
		t.Errorf("expected healthy check, got %+v", check)
	}
	if check.UptimeSeconds < 1 {
		t.Errorf("expected uptime to reflect StartedAt, got %d", check.UptimeSeconds)
	}
}

func TestSummarize_ReportsPerProviderState(t *testing.T) {
	r := testReporter()
	summary := r.Summarize()
	if len(summary.Providers) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(summary.Providers))
	}
	if !summary.Providers[0].Preferred {
		t.Errorf("expected first registered provider to be preferred by default")
	}
	if summary.Providers[1].Healthy {
		t.Errorf("expected second provider unhealthy per fake adapter state")
	}
}

func TestGetModelInfo_ReflectsChainOrder(t *testing.T) {
	r := testReporter()
	info := r.GetModelInfo()
	if info.Preferred != "anthropic" {
		t.Errorf("expected anthropic preferred, got %q", info.Preferred)
	}
	if len(info.Chain) != 2 {
		t.Errorf("expected 2-entry chain, got %v", info.Chain)
	}
}

func TestSetModel_ReordersChain(t *testing.T) {
	r := testReporter()
	if err := r.SetModel("openai"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	info := r.GetModelInfo()
	if info.Preferred != "openai" {
		t.Errorf("expected openai preferred after set_model, got %q", info.Preferred)
	}
}

func TestSetModel_UnknownProviderErrors(t *testing.T) {
	r := testReporter()
	if err := r.SetModel("does-not-exist"); err == nil {
		t.Error("expected error for unknown provider")
	}
}
