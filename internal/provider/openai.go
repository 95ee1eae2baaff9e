package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIAdapter wraps an OpenAI-compatible chat completions endpoint. With
// no BaseURL override it talks to the real OpenAI API and serves as the
// secondary vendor fallback; with BaseURL pointed at a local
// OpenAI-compatible server it serves as the "local" bulk-rate-class
// fallback (the same integration point the teacher's
// internal/web/ollama_handler.go documents for Ollama's OpenAI-compatible
// surface).
type OpenAIAdapter struct {
	client   openai.Client
	model    string
	name     string
	rate     RateClass
	healthy  atomic.Bool
}

// NewOpenAIAdapter builds a secondary-vendor adapter.
func NewOpenAIAdapter(apiKey, model string) *OpenAIAdapter {
	return newOpenAIAdapter("openai", RateStandard, model, apiKey, "")
}

// NewLocalAdapter builds a local, OpenAI-compatible bulk-rate-class
// adapter (e.g. an Ollama instance) pointed at baseURL.
func NewLocalAdapter(baseURL, model string) *OpenAIAdapter {
	return newOpenAIAdapter("local", RateBulk, model, "local", baseURL)
}

func newOpenAIAdapter(name string, rate RateClass, model, apiKey, baseURL string) *OpenAIAdapter {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	a := &OpenAIAdapter{
		client: openai.NewClient(opts...),
		model:  model,
		name:   name,
		rate:   rate,
	}
	a.healthy.Store(true)
	return a
}

func (a *OpenAIAdapter) Name() string      { return a.name }
func (a *OpenAIAdapter) RateClass() RateClass { return a.rate }
func (a *OpenAIAdapter) IsHealthy() bool   { return a.healthy.Load() }

func (a *OpenAIAdapter) Generate(ctx context.Context, prompt string, opts GenerateOptions) (GenerateResult, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	messages := []openai.ChatCompletionMessageParamUnion{}
	if opts.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(opts.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Model:    a.model,
		Messages: messages,
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}

	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		a.healthy.Store(false)
		return GenerateResult{}, fmt.Errorf("%s chat completion: %w", a.name, err)
	}
	a.healthy.Store(true)

	if len(resp.Choices) == 0 {
		return GenerateResult{}, fmt.Errorf("%s: no choices in response", a.name)
	}

	return GenerateResult{
		Text:      resp.Choices[0].Message.Content,
		ModelName: resp.Model,
		Usage: Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

// Classify maps an OpenAI-compatible API error to the orchestrator's
// taxonomy. Unlike AnthropicAdapter, it treats 500/502/503/504 all as
// unavailable rather than treating 500/502/504 as transient, and a 429
// carries a fixed 5-second retry-after.
func (a *OpenAIAdapter) Classify(err error) ClassifiedError {
	if err == nil {
		return ClassifiedError{Kind: ErrTransient}
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return ClassifiedError{Kind: ErrInvalidRequest, Err: err}
		case http.StatusUnauthorized, http.StatusForbidden:
			return ClassifiedError{Kind: ErrFatal, Err: err}
		case http.StatusTooManyRequests:
			return ClassifiedError{Kind: ErrRateLimit, RetryAfterSec: 5, Err: err}
		case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return ClassifiedError{Kind: ErrUnavailable, Err: err}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassifiedError{Kind: ErrTransient, Err: err}
	}

	return ClassifiedError{Kind: ErrUnavailable, Err: err}
}
