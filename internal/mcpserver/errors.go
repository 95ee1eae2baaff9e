package mcpserver

import (
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/deepreason/mcp-server/internal/orchestrator"
	"github.com/deepreason/mcp-server/internal/params"
	"github.com/deepreason/mcp-server/internal/provider"
	"github.com/deepreason/mcp-server/internal/secureread"
	"github.com/deepreason/mcp-server/internal/session"
)

// toolError carries the stable error kind from §7 of the specification
// alongside any structured data a caller needs to act on it (the missing
// fields of a ValidationError, the per-provider attempts of an
// AllProvidersUnavailable).
type toolError struct {
	Kind string
	Data any
	Err  error
}

func (e *toolError) Error() string { return e.Err.Error() }
func (e *toolError) Unwrap() error { return e.Err }

// classify maps any error produced by the runtimes onto one of the kinds
// in the wire error taxonomy. Unrecognized errors become "Internal".
func classify(err error) *toolError {
	var te *toolError
	if errors.As(err, &te) {
		return te
	}

	var valErr *params.ValidationError
	if errors.As(err, &valErr) {
		return &toolError{Kind: "ValidationError", Data: valErr.Fields, Err: err}
	}

	var pathErr *secureread.PathSecurityError
	if errors.As(err, &pathErr) {
		return &toolError{Kind: "PathSecurityError", Err: err}
	}

	switch {
	case errors.Is(err, session.ErrNotFound):
		return &toolError{Kind: "SessionNotFound", Err: err}
	case errors.Is(err, session.ErrSessionFull):
		return &toolError{Kind: "SessionFull", Err: err}
	case errors.Is(err, session.ErrBudgetExhausted):
		return &toolError{Kind: "BudgetExhausted", Err: err}
	case errors.Is(err, session.ErrSessionFinalized):
		return &toolError{Kind: "SessionFinalized", Err: err}
	case errors.Is(err, provider.ErrUnknownProvider):
		return &toolError{Kind: "ValidationError", Err: err}
	}

	// NonRetryableError means Generate aborted the fallback walk on a
	// fatal or invalid_request classification rather than exhausting the
	// chain: invalid_request is the caller's request at fault, fatal
	// (e.g. bad credentials) is an operator/configuration problem.
	var nonRetryable *orchestrator.NonRetryableError
	if errors.As(err, &nonRetryable) {
		kind := "Internal"
		if nonRetryable.Classified.Kind == provider.ErrInvalidRequest {
			kind = "InvalidRequest"
		}
		return &toolError{Kind: kind, Data: nonRetryable, Err: err}
	}

	var allUnavail *orchestrator.AllProvidersUnavailableError
	if errors.As(err, &allUnavail) {
		kind := "AllProvidersUnavailable"
		if allAttemptsSkipped(allUnavail.Attempts) {
			kind = "CircuitOpen"
		}
		return &toolError{Kind: kind, Data: allUnavail.Attempts, Err: err}
	}

	return &toolError{Kind: "Internal", Err: err}
}

func allAttemptsSkipped(attempts []orchestrator.AttemptResult) bool {
	if len(attempts) == 0 {
		return false
	}
	for _, a := range attempts {
		if !a.Skipped {
			return false
		}
	}
	return true
}

// errorEnvelope is the JSON body of an error tool result: mcp-go's
// CallToolResult carries a single message string for tool-level errors,
// so the stable kind and structured data §7 calls for travel inside it
// rather than as a bespoke JSON-RPC protocol error.
type errorEnvelope struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// errorResult turns any runtime error into a tool result with IsError
// set, carrying the classified kind and data as its JSON text body.
func errorResult(err error) (*mcp.CallToolResult, error) {
	te := classify(err)
	env := errorEnvelope{Kind: te.Kind, Message: te.Error(), Data: te.Data}
	data, marshalErr := json.Marshal(env)
	if marshalErr != nil {
		return mcp.NewToolResultError(te.Error()), nil
	}
	return mcp.NewToolResultError(string(data)), nil
}

// resultJSON marshals v as the successful text body of a tool result.
func resultJSON(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResult(&toolError{Kind: "Internal", Err: err})
	}
	return mcp.NewToolResultText(string(data)), nil
}
