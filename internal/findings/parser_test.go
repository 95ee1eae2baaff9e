package findings

import "testing"

func TestParseFindings_JSONObjectForm(t *testing.T) {
	p := New()
	raw := `{"findings":[{"type":"bug","severity":"high","description":"nil pointer in handler","confidence":0.9}]}`
	got := p.ParseFindings(raw)
	if len(got) != 1 || got[0].Description != "nil pointer in handler" {
		t.Fatalf("unexpected findings: %+v", got)
	}
}

func TestParseFindings_BareJSONArrayForm(t *testing.T) {
	p := New()
	raw := `[{"type":"security","severity":"critical","description":"sql injection","confidence":0.8}]`
	got := p.ParseFindings(raw)
	if len(got) != 1 || got[0].Type != "security" {
		t.Fatalf("unexpected findings: %+v", got)
	}
}

func TestParseFindings_MarkdownListFallback(t *testing.T) {
	p := New()
	raw := "Here is what I found:\n\n" +
		"- Critical security vulnerability: unsanitized input reaches a shell command\n" +
		"- Minor style issue: inconsistent naming in the handler package\n"
	got := p.ParseFindings(raw)
	if len(got) != 2 {
		t.Fatalf("expected 2 findings from markdown list, got %d: %+v", len(got), got)
	}
	if got[0].Type != "security" || got[0].Severity != "critical" {
		t.Errorf("expected first finding classified security/critical, got %+v", got[0])
	}
	if got[1].Severity != "low" {
		t.Errorf("expected second finding classified low severity, got %+v", got[1])
	}
}

func TestParseFindings_TotallyMalformedDegradesToRawText(t *testing.T) {
	p := New()
	raw := "I am not sure, something about a race condition maybe."
	got := p.ParseFindings(raw)
	if len(got) != 1 {
		t.Fatalf("expected exactly one degraded finding, got %d", len(got))
	}
	if got[0].Description != raw {
		t.Errorf("expected raw text preserved, got %q", got[0].Description)
	}
	if got[0].Type != "other" {
		t.Errorf("expected degraded finding typed 'other', got %q", got[0].Type)
	}
}

func TestParseFindings_Empty(t *testing.T) {
	p := New()
	if got := p.ParseFindings(""); got != nil {
		t.Errorf("expected nil findings for empty input, got %+v", got)
	}
}

func TestParseHypotheses_MarkdownList(t *testing.T) {
	p := New()
	raw := "- The cache eviction runs before the write completes\n" +
		"- The retry logic double-submits under contention\n"
	got := p.ParseHypotheses(raw)
	if len(got) != 2 {
		t.Fatalf("expected 2 hypotheses, got %d", len(got))
	}
	if got[0].ID == "" || got[0].Status != "pending" {
		t.Errorf("unexpected hypothesis: %+v", got[0])
	}
}

func TestParseHypotheses_JSONForm(t *testing.T) {
	p := New()
	raw := `{"hypotheses":[{"id":"h1","statement":"race in the worker pool","confidence":0.7,"status":"pending"}]}`
	got := p.ParseHypotheses(raw)
	if len(got) != 1 || got[0].ID != "h1" {
		t.Fatalf("unexpected hypotheses: %+v", got)
	}
}

func TestParseVerdict_JSONForm(t *testing.T) {
	p := New()
	got := p.ParseVerdict(`{"winner":"B","confidence":0.85}`)
	if got.Winner != "b" || got.Confidence != 0.85 {
		t.Fatalf("unexpected verdict: %+v", got)
	}
}

func TestParseVerdict_ExplicitWinnerDeclaration(t *testing.T) {
	p := New()
	got := p.ParseVerdict("Winner: B\nConfidence: 0.8\nHypothesis B better accounts for the timing of the failures.")
	if got.Winner != "b" {
		t.Fatalf("expected hypothesis B to win, got %+v", got)
	}
	if got.Confidence != 0.8 {
		t.Errorf("expected confidence 0.8, got %v", got.Confidence)
	}
}

func TestParseVerdict_FallsBackToFirstHypothesisMention(t *testing.T) {
	p := New()
	got := p.ParseVerdict("Hypothesis A is supported by the stack trace; hypothesis B is refuted.")
	if got.Winner != "a" {
		t.Fatalf("expected hypothesis A to win, got %+v", got)
	}
}

func TestParseVerdict_DefaultsToAWithNoSignal(t *testing.T) {
	p := New()
	got := p.ParseVerdict("The evidence is inconclusive.")
	if got.Winner != "a" {
		t.Fatalf("expected default winner a, got %+v", got)
	}
	if got.Confidence != 0.5 {
		t.Errorf("expected default confidence 0.5, got %v", got.Confidence)
	}
}
