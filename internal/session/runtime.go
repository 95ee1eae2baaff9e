package session

import (
	"context"
	"fmt"
	"time"

	"github.com/deepreason/mcp-server/internal/findings"
	"github.com/deepreason/mcp-server/internal/model"
	"github.com/deepreason/mcp-server/internal/orchestrator"
	"github.com/deepreason/mcp-server/internal/provider"
	"github.com/deepreason/mcp-server/internal/secureread"
)

// Runtime implements the Conversational Runtime (C7): start_conversation,
// continue_conversation, finalize_conversation, and
// get_conversation_status. Every call against a given session is
// serialized through Lock so a caller cannot race itself.
type Runtime struct {
	Store        *Store
	Lock         *Lock
	Orchestrator *orchestrator.Orchestrator
	Reader       *secureread.Reader
	Parser       findings.Parser

	SystemPrompt string
}

// ContinueResult is returned by Start, Continue and Finalize: the reasoner's raw
// reply plus the findings the parser extracted from it.
type ContinueResult struct {
	Reply    string             `json:"reply"`
	Findings []model.Finding    `json:"findings"`
	Status   model.SessionStatus `json:"status"`
	Session  *model.Session     `json:"session"`
}

// Start creates a new session, primes it with the caller's context and an
// optional initial question, and takes the first reasoner turn.
func (r *Runtime) Start(ctx context.Context, analysisType model.AnalysisType, claudeCtx model.ClaudeContext, initialQuestion string) (ContinueResult, error) {
	if err := r.Reader.ValidateScope(claudeCtx.FocusArea.Files); err != nil {
		return ContinueResult{}, fmt.Errorf("validating code scope: %w", err)
	}

	sess := r.Store.Create(analysisType, claudeCtx)

	var result ContinueResult
	err := r.Lock.WithLock(ctx, sess.ID, func() error {
		return r.converse(ctx, sess.ID, initialQuestion, &result)
	})
	return result, err
}

// Continue appends the caller's message to the transcript and takes the
// next reasoner turn.
func (r *Runtime) Continue(ctx context.Context, sessionID, message string) (ContinueResult, error) {
	var result ContinueResult
	err := r.Lock.WithLock(ctx, sessionID, func() error {
		return r.converse(ctx, sessionID, message, &result)
	})
	return result, err
}

// Finalize takes one last reasoner turn asking it to summarize the
// conversation, then destroys the session: per-session state does not
// outlive a finalized conversation, so any subsequent lookup against
// sessionID returns ErrNotFound.
func (r *Runtime) Finalize(ctx context.Context, sessionID string) (ContinueResult, error) {
	var result ContinueResult
	err := r.Lock.WithLock(ctx, sessionID, func() error {
		closing := "Summarize your findings from this conversation as a final answer."
		if convErr := r.converse(ctx, sessionID, closing, &result); convErr != nil {
			return convErr
		}
		if err := r.Store.SetStatus(sessionID, model.StatusCompleted); err != nil {
			return err
		}
		r.Store.Remove(sessionID)
		return nil
	})
	if err == nil {
		result.Status = model.StatusCompleted
		if result.Session != nil {
			result.Session.Status = model.StatusCompleted
		}
	}
	return result, err
}

// Status returns the current session without taking a turn.
func (r *Runtime) Status(sessionID string) (*model.Session, error) {
	return r.Store.Get(sessionID)
}

// converse is the shared core of Start/Continue/Finalize: append the
// caller's turn, check the budget, call the orchestrator, parse the
// reply, append the reasoner's turn, and decrement the budget. Callers
// must already hold the session lock.
func (r *Runtime) converse(ctx context.Context, sessionID, callerMessage string, out *ContinueResult) error {
	sess, err := r.Store.Get(sessionID)
	if err != nil {
		return err
	}
	if sess.Status == model.StatusCompleted || sess.Status == model.StatusAbandoned {
		return fmt.Errorf("session %s: %w", sessionID, ErrSessionFinalized)
	}
	// Sessions are created with no provider-call allowance (ProviderCalls
	// starts at 0 and each turn counts it down), so only the wall-clock
	// budget gates a turn, and only when the caller supplied one.
	if sess.Context.AnalysisBudgetRemaining > 0 && sess.BudgetRemaining.WallClockSec <= 0 {
		_ = r.Store.SetStatus(sessionID, model.StatusCompleted)
		return fmt.Errorf("session %s: %w", sessionID, ErrBudgetExhausted)
	}

	if err := r.Store.SetStatus(sessionID, model.StatusProcessing); err != nil {
		return err
	}
	if err := r.Store.AppendTurn(sessionID, model.Turn{Role: model.RoleCaller, Content: callerMessage}); err != nil {
		return err
	}

	prompt := buildPrompt(sess, callerMessage)
	start := time.Now()
	genResult, genErr := r.Orchestrator.Generate(ctx, prompt, provider.GenerateOptions{
		SystemPrompt: r.SystemPrompt,
		MaxTokens:    4096,
	})
	elapsed := int(time.Since(start).Seconds())
	_ = r.Store.DecrementBudget(sessionID, elapsed)

	if genErr != nil {
		_ = r.Store.SetStatus(sessionID, model.StatusAwaitingInput)
		return fmt.Errorf("deep reasoner call failed: %w", genErr)
	}

	reply := genResult.Text
	parsed := r.Parser.ParseFindings(reply)

	if err := r.Store.AppendTurn(sessionID, model.Turn{Role: model.RoleReasoner, Content: reply}); err != nil {
		return err
	}
	if err := r.Store.SetStatus(sessionID, model.StatusAwaitingInput); err != nil {
		return err
	}

	updated, err := r.Store.Get(sessionID)
	if err != nil {
		return err
	}

	out.Reply = reply
	out.Findings = parsed
	out.Status = updated.Status
	out.Session = updated
	return nil
}

// buildPrompt renders the session's transcript and caller context into a
// single prompt for the orchestrator's stateless Generate call: the deep
// reasoner adapters have no server-side conversation state, so the full
// relevant history is replayed on every turn.
func buildPrompt(sess *model.Session, latestMessage string) string {
	var b []byte
	b = append(b, []byte(fmt.Sprintf("Analysis type: %s\n", sess.AnalysisType))...)
	if len(sess.Context.FocusArea.Files) > 0 {
		b = append(b, []byte(fmt.Sprintf("Files in scope: %v\n", sess.Context.FocusArea.Files))...)
	}
	if len(sess.Context.AttemptedApproaches) > 0 {
		b = append(b, []byte(fmt.Sprintf("Already attempted: %v\n", sess.Context.AttemptedApproaches))...)
	}
	if len(sess.Context.StuckPoints) > 0 {
		b = append(b, []byte(fmt.Sprintf("Stuck points: %v\n", sess.Context.StuckPoints))...)
	}
	for _, turn := range sess.Turns {
		b = append(b, []byte(fmt.Sprintf("\n[%s]: %s\n", turn.Role, turn.Content))...)
	}
	b = append(b, []byte(fmt.Sprintf("\n[caller]: %s\n", latestMessage))...)
	return string(b)
}
