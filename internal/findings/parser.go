// Package findings turns a deep reasoner's free-form response text into
// structured Finding/Hypothesis values. The reasoner is prompted to
// reply with JSON, but nothing enforces that on the wire, so Parser must
// tolerate markdown, prose, or a mix, and never fail outright: malformed
// input degrades to raw-text findings (one per paragraph of prose, or a
// single one when no block can be extracted) rather than an error.
package findings

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"github.com/deepreason/mcp-server/internal/model"
)

// Parser turns reasoner response text into findings, hypotheses, or an
// A/B pairing verdict. It is an interface (rather than a concrete
// function) so a future wire format can be swapped in.
type Parser interface {
	ParseFindings(raw string) []model.Finding
	ParseHypotheses(raw string) []model.Hypothesis
	ParseVerdict(raw string) Verdict
}

// Verdict is the outcome of judging one A/B hypothesis pairing: which
// side the reasoner's reply declared the winner, plus its confidence.
type Verdict struct {
	Winner     string // "a" or "b"
	Confidence float64
}

// MarkdownParser is the default Parser: it tries strict JSON first, then
// falls back to walking the response as goldmark markdown, treating each
// top-level list item or heading section as one finding/hypothesis.
type MarkdownParser struct {
	md goldmark.Markdown
}

// New builds a MarkdownParser with GitHub-flavored markdown extensions
// enabled, matching the teacher's renderMarkdown helper.
func New() *MarkdownParser {
	return &MarkdownParser{
		md: goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

// ParseFindings extracts findings from raw reasoner output.
func (p *MarkdownParser) ParseFindings(raw string) []model.Finding {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var jsonForm struct {
		Findings []model.Finding `json:"findings"`
	}
	if err := json.Unmarshal([]byte(raw), &jsonForm); err == nil && len(jsonForm.Findings) > 0 {
		return jsonForm.Findings
	}
	var bareArray []model.Finding
	if err := json.Unmarshal([]byte(raw), &bareArray); err == nil && len(bareArray) > 0 {
		return bareArray
	}

	items := p.extractBlocks(raw)
	if len(items) == 0 {
		return []model.Finding{{
			Type:        model.FindingOther,
			Severity:    model.SeverityMedium,
			Description: raw,
			Confidence:  0.3,
		}}
	}

	findings := make([]model.Finding, 0, len(items))
	for _, item := range items {
		findings = append(findings, model.Finding{
			Type:        classifyFindingType(item),
			Severity:    classifySeverity(item),
			Description: item,
			Confidence:  0.6,
		})
	}
	return findings
}

// ParseHypotheses extracts hypotheses from raw reasoner output, used by
// the hypothesis tournament's generation round.
func (p *MarkdownParser) ParseHypotheses(raw string) []model.Hypothesis {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var jsonForm struct {
		Hypotheses []model.Hypothesis `json:"hypotheses"`
	}
	if err := json.Unmarshal([]byte(raw), &jsonForm); err == nil && len(jsonForm.Hypotheses) > 0 {
		return jsonForm.Hypotheses
	}

	items := p.extractBlocks(raw)
	out := make([]model.Hypothesis, 0, len(items))
	for i, item := range items {
		out = append(out, model.Hypothesis{
			ID:         hypothesisID(i),
			Statement:  item,
			Confidence: 0.5,
			Status:     model.HypothesisPending,
		})
	}
	return out
}

var (
	verdictPattern    = regexp.MustCompile(`(?i)\b(?:winner|verdict)\s*[:\-]?\s*(?:is\s+)?(?:hypothesis\s*)?([ab])\b`)
	hypothesisMention = regexp.MustCompile(`(?i)\bhypothesis\s*([ab])\b`)
	confidencePattern = regexp.MustCompile(`(?i)confidence\s*[:\-]?\s*(\d*\.?\d+)`)
)

// ParseVerdict extracts which side of an A/B pairing prompt the
// reasoner's reply declared the winner, used by the hypothesis
// tournament to determine which hypothesis advances. It tries strict
// JSON ({"winner": "A", "confidence": 0.8}) first, then falls back to
// an explicit "winner:"/"verdict:" declaration, then the first
// "hypothesis A"/"hypothesis B" mention in the reply. Confidence
// defaults to 0.5 when none is stated. Ties default to A, matching the
// order hypotheses are presented in the pairing prompt.
func (p *MarkdownParser) ParseVerdict(raw string) Verdict {
	raw = strings.TrimSpace(raw)
	v := Verdict{Winner: "a", Confidence: 0.5}
	if raw == "" {
		return v
	}

	var jsonForm struct {
		Winner     string  `json:"winner"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(raw), &jsonForm); err == nil {
		if side := normalizeSide(jsonForm.Winner); side != "" {
			v.Winner = side
			if jsonForm.Confidence > 0 {
				v.Confidence = jsonForm.Confidence
			}
			return v
		}
	}

	switch {
	case verdictPattern.MatchString(raw):
		v.Winner = strings.ToLower(verdictPattern.FindStringSubmatch(raw)[1])
	case hypothesisMention.MatchString(raw):
		v.Winner = strings.ToLower(hypothesisMention.FindStringSubmatch(raw)[1])
	}

	if m := confidencePattern.FindStringSubmatch(raw); m != nil {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil && f >= 0 && f <= 1 {
			v.Confidence = f
		}
	}
	return v
}

func normalizeSide(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "a" || s == "b" {
		return s
	}
	return ""
}

// extractBlocks walks the response as markdown and returns one string per
// top-level list item, falling back to one string per heading section,
// and finally one string per non-blank paragraph if neither markdown
// structure is present.
func (p *MarkdownParser) extractBlocks(raw string) []string {
	source := []byte(raw)
	doc := p.md.Parser().Parse(text.NewReader(source))

	var listItems []string
	var headingSections []string
	var currentHeading *strings.Builder

	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.ListItem:
			listItems = append(listItems, nodeText(node, source))
			return ast.WalkSkipChildren, nil
		case *ast.Heading:
			if currentHeading != nil && currentHeading.Len() > 0 {
				headingSections = append(headingSections, strings.TrimSpace(currentHeading.String()))
			}
			currentHeading = &strings.Builder{}
			currentHeading.WriteString(nodeText(node, source))
			currentHeading.WriteString(": ")
			return ast.WalkSkipChildren, nil
		case *ast.Paragraph:
			if currentHeading != nil {
				currentHeading.WriteString(nodeText(node, source))
				currentHeading.WriteString(" ")
				return ast.WalkSkipChildren, nil
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil
	}
	if currentHeading != nil && currentHeading.Len() > 0 {
		headingSections = append(headingSections, strings.TrimSpace(currentHeading.String()))
	}

	if len(listItems) > 0 {
		return listItems
	}
	if len(headingSections) > 0 {
		return headingSections
	}

	var paragraphs []string
	for _, block := range strings.Split(raw, "\n\n") {
		block = strings.TrimSpace(block)
		if block != "" {
			paragraphs = append(paragraphs, block)
		}
	}
	return paragraphs
}

func nodeText(n ast.Node, source []byte) string {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			b.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte(' ')
			}
			continue
		}
		b.WriteString(nodeText(c, source))
	}
	return strings.TrimSpace(b.String())
}

func classifyFindingType(text string) model.FindingType {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "security") || strings.Contains(lower, "vulnerab") || strings.Contains(lower, "injection"):
		return model.FindingSecurity
	case strings.Contains(lower, "perf") || strings.Contains(lower, "latency") || strings.Contains(lower, "slow"):
		return model.FindingPerformance
	case strings.Contains(lower, "architect") || strings.Contains(lower, "coupling") || strings.Contains(lower, "design"):
		return model.FindingArchitecture
	case strings.Contains(lower, "bug") || strings.Contains(lower, "crash") || strings.Contains(lower, "panic") || strings.Contains(lower, "nil"):
		return model.FindingBug
	case strings.Contains(lower, "style") || strings.Contains(lower, "naming") || strings.Contains(lower, "lint"):
		return model.FindingQuality
	default:
		return model.FindingOther
	}
}

func classifySeverity(text string) model.Severity {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "critical"):
		return model.SeverityCritical
	case strings.Contains(lower, "high"):
		return model.SeverityHigh
	case strings.Contains(lower, "low") || strings.Contains(lower, "minor"):
		return model.SeverityLow
	default:
		return model.SeverityMedium
	}
}

func hypothesisID(i int) string {
	return fmt.Sprintf("h%d", i+1)
}

var _ Parser = (*MarkdownParser)(nil)
