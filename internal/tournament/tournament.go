// Package tournament implements the Hypothesis Tournament (C9): a
// bracketed elimination over competing hypotheses, each pairing tested by
// an independent deep-reasoner call, run with bounded parallelism and
// enforced against a wall-clock and provider-call budget.
//
// Per the resolved design, the tournament bypasses the conversational
// Session Lock entirely: each pairing's test call is stateless and
// independent, so serializing them through the per-session FIFO lock
// would only add latency without protecting anything. Concurrency here
// is bounded instead by a dedicated semaphore sized to ParallelSessions.
package tournament

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/deepreason/mcp-server/internal/findings"
	"github.com/deepreason/mcp-server/internal/model"
	"github.com/deepreason/mcp-server/internal/orchestrator"
	"github.com/deepreason/mcp-server/internal/provider"
)

// Runtime executes hypothesis tournaments.
type Runtime struct {
	Orchestrator *orchestrator.Orchestrator
	Parser       findings.Parser
	SystemPrompt string
}

// Outcome is the result of one completed (or budget-truncated) tournament.
type Outcome struct {
	Status     string // "completed" or "partial"
	Winner     *model.Hypothesis
	Hypotheses []model.Hypothesis
	Rounds     []model.Round
	Synthesis  string
}

// Run generates candidate hypotheses for the problem statement, then
// runs bracketed elimination rounds until one hypothesis remains,
// cfg.MaxRounds rounds have run, or the budget runs out. The top-ranked
// survivor is the winner, and a final explanation is synthesized for it.
func (r *Runtime) Run(ctx context.Context, problemStatement string, claudeCtx model.ClaudeContext, cfg model.TournamentConfig, budget model.Budget, seed int64) (Outcome, error) {
	deadline := time.Now().Add(time.Duration(budget.WallClockSec) * time.Second)
	callsRemaining := newCallCounter(budget.ProviderCalls)

	hypotheses, err := r.generate(ctx, problemStatement, claudeCtx, cfg.MaxHypotheses, callsRemaining)
	if err != nil {
		return Outcome{}, fmt.Errorf("generating hypotheses: %w", err)
	}
	if len(hypotheses) == 0 {
		return Outcome{Status: "completed"}, nil
	}

	rng := rand.New(rand.NewSource(seed))
	var rounds []model.Round
	truncated := false

	for roundNum := 0; len(hypotheses) > 1 && roundNum < cfg.MaxRounds; roundNum++ {
		if time.Now().After(deadline) || callsRemaining.exhausted() {
			truncated = true
			break
		}

		round := pairHypotheses(hypotheses, rng)
		byID := make(map[string]string, len(hypotheses))
		for _, h := range hypotheses {
			byID[h.ID] = h.Statement
		}
		results := r.runRound(ctx, round, byID, problemStatement, claudeCtx, cfg.ParallelSessions, callsRemaining, deadline)
		round.Results = results
		rounds = append(rounds, round)

		hypotheses = advance(hypotheses, round, results)
	}

	var winner *model.Hypothesis
	if len(hypotheses) > 0 {
		w := hypotheses[0]
		w.Status = model.HypothesisWinner
		winner = &w
	}

	synthesis := ""
	if winner != nil && !callsRemaining.exhausted() && time.Now().Before(deadline) {
		synthesis, _ = r.synthesize(ctx, problemStatement, *winner, callsRemaining)
	}

	status := "completed"
	if truncated {
		status = "partial"
	}

	return Outcome{
		Status:     status,
		Winner:     winner,
		Hypotheses: hypotheses,
		Rounds:     rounds,
		Synthesis:  synthesis,
	}, nil
}

func (r *Runtime) generate(ctx context.Context, problem string, claudeCtx model.ClaudeContext, maxHypotheses int, calls *callCounter) ([]model.Hypothesis, error) {
	if !calls.take() {
		return nil, nil
	}
	prompt := fmt.Sprintf(
		"Generate up to %d distinct candidate hypotheses that could explain: %s\nAlready attempted: %v\nStuck points: %v\n",
		maxHypotheses, problem, claudeCtx.AttemptedApproaches, claudeCtx.StuckPoints,
	)
	res, err := r.Orchestrator.Generate(ctx, prompt, provider.GenerateOptions{SystemPrompt: r.SystemPrompt, MaxTokens: 2048})
	if err != nil {
		return nil, err
	}
	hyps := r.Parser.ParseHypotheses(res.Text)
	if len(hyps) > maxHypotheses {
		hyps = hyps[:maxHypotheses]
	}
	return hyps, nil
}

// pairHypotheses deterministically shuffles (with the rng Run seeds from
// the caller's seed) and pairs adjacent hypotheses, leaving a bye for
// an odd one out.
func pairHypotheses(hyps []model.Hypothesis, rng *rand.Rand) model.Round {
	order := make([]int, len(hyps))
	for i := range order {
		order[i] = i
	}
	rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	var pairs [][2]string
	for i := 0; i < len(order); i += 2 {
		if i+1 < len(order) {
			pairs = append(pairs, [2]string{hyps[order[i]].ID, hyps[order[i+1]].ID})
		} else {
			pairs = append(pairs, [2]string{hyps[order[i]].ID, ""})
		}
	}
	return model.Round{Pairs: pairs}
}

// runRound tests every pairing concurrently, bounded by a semaphore sized
// to parallelSessions.
func (r *Runtime) runRound(ctx context.Context, round model.Round, byID map[string]string, problem string, claudeCtx model.ClaudeContext, parallelSessions int, calls *callCounter, deadline time.Time) []model.PairResult {
	if parallelSessions < 1 {
		parallelSessions = 1
	}
	sem := semaphore.NewWeighted(int64(parallelSessions))

	results := make([]model.PairResult, len(round.Pairs))
	var wg sync.WaitGroup

	for i, pair := range round.Pairs {
		i, pair := i, pair
		if pair[1] == "" {
			results[i] = model.PairResult{WinnerID: pair[0], Confidence: 1, Warning: "bye: unpaired in an odd-sized bracket"}
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i] = model.PairResult{WinnerID: pair[0], Warning: fmt.Sprintf("context cancelled: %v", err)}
				return
			}
			defer sem.Release(1)

			results[i] = r.testPair(ctx, pair, byID, problem, claudeCtx, calls, deadline)
		}()
	}
	wg.Wait()
	return results
}

func (r *Runtime) testPair(ctx context.Context, pair [2]string, byID map[string]string, problem string, claudeCtx model.ClaudeContext, calls *callCounter, deadline time.Time) model.PairResult {
	if time.Now().After(deadline) || !calls.take() {
		// Budget exhausted mid-round: resolve in favor of pair[0] (see
		// defaultResult) rather than failing the whole tournament; the
		// hypotheses' prior confidence is not consulted.
		return defaultResult(pair, byID, "budget exhausted before this pairing could be tested")
	}

	prompt := fmt.Sprintf(
		"Problem: %s\n\nWhich hypothesis better explains the evidence?\nA) %s\nB) %s\n\nRespond with a verdict and confidence.",
		problem, byID[pair[0]], byID[pair[1]],
	)
	res, err := r.Orchestrator.Generate(ctx, prompt, provider.GenerateOptions{SystemPrompt: r.SystemPrompt, MaxTokens: 1024})
	if err != nil {
		return defaultResult(pair, byID, fmt.Sprintf("provider call failed: %v", err))
	}

	verdict := r.Parser.ParseVerdict(res.Text)
	winner := pair[0]
	if verdict.Winner == "b" {
		winner = pair[1]
	}
	return model.PairResult{WinnerID: winner, LoserID: otherOf(pair, winner), Confidence: verdict.Confidence}
}

func defaultResult(pair [2]string, byID map[string]string, warning string) model.PairResult {
	// Deterministic fallback: prefer pair[0] since prior confidence is not
	// tracked per-ID here, matching the tournament's policy that a failed
	// pairing never fails the whole run, only degrades with a warning.
	return model.PairResult{WinnerID: pair[0], LoserID: pair[1], Confidence: 0.5, Warning: warning}
}

func otherOf(pair [2]string, id string) string {
	if pair[0] == id {
		return pair[1]
	}
	return pair[0]
}

// advance applies round results to eliminate losers, returning survivors
// in winner order, stably sorted by descending confidence.
func advance(hyps []model.Hypothesis, round model.Round, results []model.PairResult) []model.Hypothesis {
	byID := make(map[string]model.Hypothesis, len(hyps))
	for _, h := range hyps {
		byID[h.ID] = h
	}

	var survivors []model.Hypothesis
	for _, res := range results {
		h, ok := byID[res.WinnerID]
		if !ok {
			continue
		}
		h.Status = model.HypothesisTested
		survivors = append(survivors, h)
	}
	sort.SliceStable(survivors, func(i, j int) bool { return survivors[i].Confidence > survivors[j].Confidence })
	return survivors
}

func (r *Runtime) synthesize(ctx context.Context, problem string, winner model.Hypothesis, calls *callCounter) (string, error) {
	if !calls.take() {
		return "", nil
	}
	prompt := fmt.Sprintf("Problem: %s\n\nSynthesize a final explanation given the winning hypothesis: %s", problem, winner.Statement)
	res, err := r.Orchestrator.Generate(ctx, prompt, provider.GenerateOptions{SystemPrompt: r.SystemPrompt, MaxTokens: 1024})
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// callCounter is a concurrency-safe countdown of remaining provider
// calls, shared across a round's concurrent pairing tests.
type callCounter struct {
	mu        sync.Mutex
	remaining int
}

func newCallCounter(n int) *callCounter {
	return &callCounter{remaining: n}
}

func (c *callCounter) take() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remaining <= 0 {
		return false
	}
	c.remaining--
	return true
}

func (c *callCounter) exhausted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining <= 0
}
