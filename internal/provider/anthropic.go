package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicAdapter is the primary provider adapter, grounded on the same
// anthropic.NewClient()/client.Messages.New call shape the teacher uses for
// session summary generation.
type AnthropicAdapter struct {
	client anthropic.Client
	model  string

	mu          sync.Mutex
	lastSuccess time.Time
	healthy     atomic.Bool
}

// NewAnthropicAdapter builds an adapter for the given model ID, using
// apiKey when it is non-empty and otherwise leaving the key to the SDK's
// default ANTHROPIC_API_KEY resolution.
func NewAnthropicAdapter(apiKey, model string) *AnthropicAdapter {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	a := &AnthropicAdapter{
		client: anthropic.NewClient(opts...),
		model:  model,
	}
	a.healthy.Store(true)
	return a
}

func (a *AnthropicAdapter) Name() string { return "anthropic" }

func (a *AnthropicAdapter) RateClass() RateClass { return RatePremium }

func (a *AnthropicAdapter) IsHealthy() bool { return a.healthy.Load() }

func (a *AnthropicAdapter) Generate(ctx context.Context, prompt string, opts GenerateOptions) (GenerateResult, error) {
	maxTokens := int64(opts.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if opts.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: opts.SystemPrompt}}
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		a.healthy.Store(false)
		return GenerateResult{}, fmt.Errorf("anthropic messages: %w", err)
	}

	a.mu.Lock()
	a.lastSuccess = time.Now()
	a.mu.Unlock()
	a.healthy.Store(true)

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	usage := Usage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	return GenerateResult{Text: text.String(), Usage: usage, ModelName: string(msg.Model)}, nil
}

// Classify maps an Anthropic SDK error to the orchestrator's taxonomy.
// Grounded on the documented Anthropic API error codes: 400 is a bad
// request the caller must fix, 401/403 are fatal auth failures, 429 is a
// rate limit carrying a Retry-After, 500/529 are transient/unavailable
// server-side conditions.
func (a *AnthropicAdapter) Classify(err error) ClassifiedError {
	if err == nil {
		return ClassifiedError{Kind: ErrTransient}
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return ClassifiedError{Kind: ErrInvalidRequest, Err: err}
		case http.StatusUnauthorized, http.StatusForbidden:
			return ClassifiedError{Kind: ErrFatal, Err: err}
		case http.StatusTooManyRequests:
			retryAfter := parseRetryAfter(apiErr.Response)
			return ClassifiedError{Kind: ErrRateLimit, RetryAfterSec: retryAfter, Err: err}
		case http.StatusInternalServerError, http.StatusBadGateway, http.StatusGatewayTimeout:
			return ClassifiedError{Kind: ErrTransient, Err: err}
		case 529: // Anthropic-specific "overloaded"
			return ClassifiedError{Kind: ErrUnavailable, Err: err}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassifiedError{Kind: ErrTransient, Err: err}
	}

	return ClassifiedError{Kind: ErrUnavailable, Err: err}
}

func parseRetryAfter(resp *http.Response) int {
	if resp == nil {
		return 5
	}
	if v := resp.Header.Get("Retry-After"); v != "" {
		var secs int
		if _, err := fmt.Sscanf(v, "%d", &secs); err == nil && secs > 0 {
			return secs
		}
	}
	return 5
}
