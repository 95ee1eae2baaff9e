// Package orchestrator implements the Provider Orchestrator (C4): it
// walks the provider registry's fallback chain, gates each adapter
// behind a circuit breaker keyed by (provider, rate class), retries
// transient failures with jittered backoff, and reports a health
// snapshot used by health_check/health_summary.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/deepreason/mcp-server/internal/eventbus"
	"github.com/deepreason/mcp-server/internal/provider"
)

// Config tunes the circuit breaker and retry policy.
type Config struct {
	FailureThreshold  int
	BaseCooldown      time.Duration
	MaxCooldown       time.Duration
	MaxRetries        uint64
	RetryBaseInterval time.Duration
}

// DefaultConfig returns sane defaults grounded in the spec's circuit
// breaker description (consecutive-failure trip, exponential cooldown).
func DefaultConfig() Config {
	return Config{
		FailureThreshold:  5,
		BaseCooldown:      10 * time.Second,
		MaxCooldown:       5 * time.Minute,
		MaxRetries:        2,
		RetryBaseInterval: 250 * time.Millisecond,
	}
}

// Orchestrator fans a single logical Generate call out across the
// registry's fallback chain.
type Orchestrator struct {
	registry *provider.Registry
	bus      eventbus.Bus
	cfg      Config

	mu       sync.Mutex
	breakers map[string]*breaker
}

// New builds an Orchestrator over registry, publishing circuit-breaker
// transitions to bus.
func New(registry *provider.Registry, bus eventbus.Bus, cfg Config) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		bus:      bus,
		cfg:      cfg,
		breakers: make(map[string]*breaker),
	}
}

func (o *Orchestrator) breakerFor(name string, rc provider.RateClass) *breaker {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := fmt.Sprintf("%s:%s", name, rc)
	b, ok := o.breakers[key]
	if !ok {
		b = newBreaker(o.cfg.FailureThreshold, o.cfg.BaseCooldown, o.cfg.MaxCooldown)
		o.breakers[key] = b
	}
	return b
}

// AllProvidersUnavailableError is returned when every adapter in the
// fallback chain was either skipped by an open breaker or failed with an
// unavailable, rate-limit, or retry-exhausted transient error.
type AllProvidersUnavailableError struct {
	Attempts []AttemptResult
}

func (e *AllProvidersUnavailableError) Error() string {
	return fmt.Sprintf("all %d provider(s) unavailable", len(e.Attempts))
}

// NonRetryableError is returned when a provider classifies its error as
// fatal or invalid_request: per the fallback policy these are not
// provider-swappable, so Generate surfaces the error immediately instead
// of walking the rest of the chain.
type NonRetryableError struct {
	Provider   string
	Classified provider.ClassifiedError
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("%s: non-retryable (%s): %v", e.Provider, e.Classified.Kind, e.Classified.Err)
}

func (e *NonRetryableError) Unwrap() error { return e.Classified }

// AttemptResult records the outcome of trying one adapter.
type AttemptResult struct {
	Provider string
	Skipped  bool // circuit was open; adapter was never called
	Err      error
}

// Result is a successful Generate outcome plus which provider served it.
type Result struct {
	provider.GenerateResult
	ProviderUsed string
	Attempts     []AttemptResult
}

// Generate walks the fallback chain in order, skipping adapters whose
// breaker is open, retrying transient errors with jittered backoff, and
// falling through to the next adapter on an unavailable, rate-limit, or
// exhausted-retry error. A fatal or invalid_request error stops the walk
// with a NonRetryableError.
func (o *Orchestrator) Generate(ctx context.Context, prompt string, opts provider.GenerateOptions) (Result, error) {
	chain := o.registry.Chain()
	if len(chain) == 0 {
		return Result{}, errors.New("orchestrator: no providers registered")
	}

	var attempts []AttemptResult
	for _, adapter := range chain {
		b := o.breakerFor(adapter.Name(), adapter.RateClass())
		if !b.allow(time.Now()) {
			attempts = append(attempts, AttemptResult{Provider: adapter.Name(), Skipped: true})
			continue
		}

		res, err := o.callWithRetry(ctx, adapter, prompt, opts)
		if err == nil {
			b.recordSuccess()
			return Result{GenerateResult: res, ProviderUsed: adapter.Name(), Attempts: attempts}, nil
		}

		classified := adapter.Classify(err)
		attempts = append(attempts, AttemptResult{Provider: adapter.Name(), Err: classified})

		if classified.Kind == provider.ErrFatal || classified.Kind == provider.ErrInvalidRequest {
			// Neither kind is provider-swappable: a bad credential or a
			// malformed request fails identically on every other adapter
			// in the chain, so surface it instead of wasting the fallback
			// walk on it.
			return Result{Attempts: attempts}, &NonRetryableError{Provider: adapter.Name(), Classified: classified}
		}

		if classified.Kind == provider.ErrUnavailable || classified.Kind == provider.ErrRateLimit {
			b.recordFailure(time.Now())
			state, _ := b.snapshot()
			if state == stateOpen {
				o.bus.Publish("circuit_breaker", eventbus.Event{Kind: "opened", Data: adapter.Name()})
			}
		}
	}

	return Result{Attempts: attempts}, &AllProvidersUnavailableError{Attempts: attempts}
}

// callWithRetry retries transient errors from a single adapter with
// jittered exponential backoff, bounded by o.cfg.MaxRetries.
func (o *Orchestrator) callWithRetry(ctx context.Context, adapter provider.Adapter, prompt string, opts provider.GenerateOptions) (provider.GenerateResult, error) {
	backoff, err := retry.NewExponential(o.cfg.RetryBaseInterval)
	if err != nil {
		return provider.GenerateResult{}, fmt.Errorf("orchestrator: building backoff: %w", err)
	}
	backoff = retry.WithMaxRetries(o.cfg.MaxRetries, backoff)
	backoff = retry.WithJitterPercent(20, backoff)

	var result provider.GenerateResult
	retryErr := retry.Do(ctx, backoff, func(ctx context.Context) error {
		res, genErr := adapter.Generate(ctx, prompt, opts)
		if genErr != nil {
			classified := adapter.Classify(genErr)
			if classified.Kind == provider.ErrTransient {
				return retry.RetryableError(genErr)
			}
			return genErr
		}
		result = res
		return nil
	})
	return result, retryErr
}

// HealthSnapshot describes one provider's current circuit-breaker state
// for health_check/health_summary.
type HealthSnapshot struct {
	Provider            string
	RateClass           provider.RateClass
	Healthy             bool
	BreakerState         string
	ConsecutiveFailures int
}

// Snapshot reports the health of every registered provider.
func (o *Orchestrator) Snapshot() []HealthSnapshot {
	out := make([]HealthSnapshot, 0, len(o.registry.Chain()))
	for _, adapter := range o.registry.Chain() {
		b := o.breakerFor(adapter.Name(), adapter.RateClass())
		state, failures := b.snapshot()
		out = append(out, HealthSnapshot{
			Provider:            adapter.Name(),
			RateClass:           adapter.RateClass(),
			Healthy:             adapter.IsHealthy() && state != stateOpen,
			BreakerState:        string(state),
			ConsecutiveFailures: failures,
		})
	}
	return out
}
