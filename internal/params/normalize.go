// Package params implements the Parameter Normalizer: it accepts the flat,
// snake_case wire-format arguments the MCP host delivers (fields that are
// logically arrays or objects may arrive as native JSON or as a
// JSON-encoded string) and produces validated, typed, camelCase internal
// records. Normalization failures are composite: every missing or
// ill-typed field is reported in one ValidationError, not just the first.
package params

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/deepreason/mcp-server/internal/model"
)

// ValidationError lists every field that failed normalization so a caller
// can fix all problems in one round trip.
type ValidationError struct {
	Fields []FieldError
}

// FieldError names one wire field and why it failed.
type FieldError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("validation failed: ")
	for i, f := range e.Fields {
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s: %s", f.Field, f.Reason)
	}
	return b.String()
}

// builder accumulates FieldErrors across a single normalization pass.
type builder struct {
	errs []FieldError
}

func (b *builder) fail(field, reason string) {
	b.errs = append(b.errs, FieldError{Field: field, Reason: reason})
}

func (b *builder) err() error {
	if len(b.errs) == 0 {
		return nil
	}
	return &ValidationError{Fields: b.errs}
}

// Args is the raw wire-format argument bag as delivered by the MCP host:
// flat snake_case keys mapping to arbitrary JSON values (which may
// themselves be JSON-encoded strings standing in for arrays/objects).
type Args map[string]any

// stringSlice accepts a field that is logically a []string, transmitted
// either as a native JSON array of strings or as a JSON-encoded string of
// one. Returns (nil, false) if the field is absent.
func stringSlice(a Args, field string, b *builder) ([]string, bool) {
	raw, ok := a[field]
	if !ok || raw == nil {
		return nil, false
	}
	switch v := raw.(type) {
	case []any:
		out := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				b.fail(field, fmt.Sprintf("element %d is not a string", i))
				return nil, true
			}
			out = append(out, s)
		}
		return out, true
	case []string:
		return v, true
	case string:
		var out []string
		if err := json.Unmarshal([]byte(v), &out); err != nil {
			b.fail(field, fmt.Sprintf("could not parse JSON-encoded string array: %v", err))
			return nil, true
		}
		return out, true
	default:
		b.fail(field, "must be a JSON array of strings or a JSON-encoded string array")
		return nil, true
	}
}

// decodeInto accepts a field that is logically an object or array of
// objects, transmitted either natively or as a JSON-encoded string, and
// unmarshals it into dst.
func decodeInto(a Args, field string, b *builder, dst any) bool {
	raw, ok := a[field]
	if !ok || raw == nil {
		return false
	}
	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			b.fail(field, fmt.Sprintf("could not re-encode value: %v", err))
			return true
		}
		data = encoded
	}
	if err := json.Unmarshal(data, dst); err != nil {
		b.fail(field, fmt.Sprintf("could not parse: %v", err))
		return true
	}
	return true
}

func stringField(a Args, field string) (string, bool) {
	raw, ok := a[field]
	if !ok || raw == nil {
		return "", false
	}
	s, ok := raw.(string)
	return s, ok
}

func intField(a Args, field string, def int) int {
	raw, ok := a[field]
	if !ok || raw == nil {
		return def
	}
	switch v := raw.(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return def
}

func boolField(a Args, field string, def bool) bool {
	raw, ok := a[field]
	if !ok || raw == nil {
		return def
	}
	switch v := raw.(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return def
}

// ClaudeContextFields normalizes the fields shared by every analysis tool:
// attempted_approaches, partial_findings, stuck_description, code_scope,
// analysis_type, and optionally time_budget_seconds.
func ClaudeContextFields(a Args, defaultBudgetSeconds int) (model.ClaudeContext, model.AnalysisType, error) {
	b := &builder{}
	var ctx model.ClaudeContext

	approaches, ok := stringSlice(a, "attempted_approaches", b)
	if !ok {
		b.fail("attempted_approaches", "required")
	}
	ctx.AttemptedApproaches = approaches

	var findings []model.Finding
	if raw, present := a["partial_findings"]; present && raw != nil {
		decodeInto(a, "partial_findings", b, &findings)
	} else {
		b.fail("partial_findings", "required")
	}
	ctx.PartialFindings = findings

	stuck, ok := stringSlice(a, "stuck_description", b)
	if !ok {
		b.fail("stuck_description", "required")
	}
	ctx.StuckPoints = stuck

	var scope model.CodeScope
	if raw, present := a["code_scope"]; present && raw != nil {
		decodeInto(a, "code_scope", b, &scope)
		if len(scope.Files) == 0 {
			b.fail("code_scope", "files must be non-empty")
		}
	} else {
		b.fail("code_scope", "required")
	}
	ctx.FocusArea = scope

	analysisTypeStr, hasType := stringField(a, "analysis_type")
	var analysisType model.AnalysisType
	if hasType {
		analysisType = model.AnalysisType(analysisTypeStr)
		switch analysisType {
		case model.AnalysisExecutionTrace, model.AnalysisCrossSystem, model.AnalysisPerformance, model.AnalysisHypothesisTest:
		default:
			b.fail("analysis_type", fmt.Sprintf("unrecognized value %q", analysisTypeStr))
		}
	} else {
		b.fail("analysis_type", "required")
	}

	ctx.AnalysisBudgetRemaining = intField(a, "time_budget_seconds", defaultBudgetSeconds)

	return ctx, analysisType, b.err()
}

// DepthLevel normalizes depth_level (int 1..5, default 3).
func DepthLevel(a Args) (int, error) {
	depth := intField(a, "depth_level", 3)
	if depth < 1 || depth > 5 {
		return 0, &ValidationError{Fields: []FieldError{{Field: "depth_level", Reason: "must be between 1 and 5"}}}
	}
	return depth, nil
}

// CodeLocationField normalizes a required CodeLocation field.
func CodeLocationField(a Args, field string) (model.CodeLocation, error) {
	b := &builder{}
	var loc model.CodeLocation
	if raw, present := a[field]; present && raw != nil {
		decodeInto(a, field, b, &loc)
		if loc.File == "" {
			b.fail(field, "file is required")
		}
		if loc.Line < 1 {
			b.fail(field, "line must be >= 1")
		}
	} else {
		b.fail(field, "required")
	}
	return loc, b.err()
}

// RequiredString normalizes a required string field.
func RequiredString(a Args, field string) (string, error) {
	s, ok := stringField(a, field)
	if !ok || s == "" {
		return "", &ValidationError{Fields: []FieldError{{Field: field, Reason: "required"}}}
	}
	return s, nil
}

// OptionalString returns a string field or def if absent.
func OptionalString(a Args, field, def string) string {
	s, ok := stringField(a, field)
	if !ok {
		return def
	}
	return s
}

// IntField returns an int field or def if absent.
func IntField(a Args, field string, def int) int {
	return intField(a, field, def)
}

// BoolField returns a bool field or def if absent.
func BoolField(a Args, field string, def bool) bool {
	return boolField(a, field, def)
}

// CodeScopeField normalizes a required CodeScope field.
func CodeScopeField(a Args, field string) (model.CodeScope, error) {
	b := &builder{}
	var scope model.CodeScope
	if raw, present := a[field]; present && raw != nil {
		decodeInto(a, field, b, &scope)
		if len(scope.Files) == 0 {
			b.fail(field, "files must be non-empty")
		}
	} else {
		b.fail(field, "required")
	}
	return scope, b.err()
}

// StringSliceField normalizes a required []string field tolerant of both
// native arrays and JSON-encoded strings.
func StringSliceField(a Args, field string) ([]string, error) {
	b := &builder{}
	v, ok := stringSlice(a, field, b)
	if !ok {
		b.fail(field, "required")
	}
	return v, b.err()
}

// DecodeObject normalizes a required object field (native or JSON-encoded
// string) into dst.
func DecodeObject(a Args, field string, dst any) error {
	b := &builder{}
	if raw, present := a[field]; present && raw != nil {
		decodeInto(a, field, b, dst)
	} else {
		b.fail(field, "required")
	}
	return b.err()
}

// CodeScopeFilesField normalizes code_scope_files (used by
// start_conversation, which flattens CodeScope down to just the file list
// on the wire) into a CodeScope with only Files populated.
func CodeScopeFilesField(a Args, field string) (model.CodeScope, error) {
	files, err := StringSliceField(a, field)
	if err != nil {
		return model.CodeScope{}, err
	}
	return model.CodeScope{Files: files}, nil
}
