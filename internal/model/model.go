// Package model holds the data types shared across the deep-reasoner MCP
// server: code locations and scopes, findings, the conversational session
// history, and the hypothesis tournament state. These are the internal,
// typed counterparts of the flat wire schemas accepted by internal/params.
package model

import "time"

// CodeLocation points at a specific place in source.
type CodeLocation struct {
	File         string `json:"file"`
	Line         int    `json:"line"`
	Column       int    `json:"column,omitempty"`
	FunctionName string `json:"functionName,omitempty"`
}

// CodeScope is the bounded region of source a caller authorizes for reading.
type CodeScope struct {
	Files        []string       `json:"files"`
	EntryPoints  []CodeLocation `json:"entryPoints,omitempty"`
	ServiceNames []string       `json:"serviceNames,omitempty"`
}

// FindingType enumerates the kind of issue a Finding describes.
type FindingType string

const (
	FindingBug          FindingType = "bug"
	FindingPerformance  FindingType = "performance"
	FindingSecurity     FindingType = "security"
	FindingArchitecture FindingType = "architecture"
	FindingQuality      FindingType = "quality"
	FindingOther        FindingType = "other"
)

// Severity enumerates how serious a Finding is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Finding is a single piece of analysis output from the deep reasoner.
type Finding struct {
	Type        FindingType   `json:"type"`
	Severity    Severity      `json:"severity"`
	Location    *CodeLocation `json:"location,omitempty"`
	Description string        `json:"description"`
	Evidence    []string      `json:"evidence,omitempty"`
	Confidence  float64       `json:"confidence,omitempty"`
}

// AnalysisType selects the shape of analysis a tool performs.
type AnalysisType string

const (
	AnalysisExecutionTrace AnalysisType = "execution_trace"
	AnalysisCrossSystem    AnalysisType = "cross_system"
	AnalysisPerformance    AnalysisType = "performance"
	AnalysisHypothesisTest AnalysisType = "hypothesis_test"
)

// ClaudeContext is the universal analysis input: what the primary caller
// has already tried, so the deep reasoner does not repeat work.
type ClaudeContext struct {
	AttemptedApproaches     []string  `json:"attemptedApproaches"`
	PartialFindings         []Finding `json:"partialFindings"`
	StuckPoints             []string  `json:"stuckPoints"`
	FocusArea               CodeScope `json:"focusArea"`
	AnalysisBudgetRemaining int       `json:"analysisBudgetRemaining"`
}

// SessionStatus enumerates the lifecycle states of a conversational Session.
type SessionStatus string

const (
	StatusActive        SessionStatus = "active"
	StatusProcessing     SessionStatus = "processing"
	StatusAwaitingInput  SessionStatus = "awaiting_input"
	StatusFinalizing     SessionStatus = "finalizing"
	StatusCompleted      SessionStatus = "completed"
	StatusAbandoned      SessionStatus = "abandoned"
)

// TurnRole identifies who spoke a Turn.
type TurnRole string

const (
	RoleCaller   TurnRole = "caller"
	RoleReasoner TurnRole = "reasoner"
)

// CodeSnippet is an excerpt attached to a Turn.
type CodeSnippet struct {
	File    string `json:"file"`
	Excerpt string `json:"excerpt"`
}

// Turn is one entry in a Session's conversation history.
type Turn struct {
	Role         TurnRole      `json:"role"`
	Content      string        `json:"content"`
	Timestamp    time.Time     `json:"timestamp"`
	CodeSnippets []CodeSnippet `json:"codeSnippets,omitempty"`
}

// Budget tracks the remaining wall-clock and provider-call allowance for a
// Session or a Tournament.
type Budget struct {
	WallClockSec  int `json:"wallClockSec"`
	ProviderCalls int `json:"providerCalls"`
}

// Exhausted reports whether either counter has reached zero.
func (b Budget) Exhausted() bool {
	return b.WallClockSec <= 0 || b.ProviderCalls <= 0
}

// Session is the server-side record of a multi-turn conversational analysis.
type Session struct {
	ID             string
	Status         SessionStatus
	CreatedAt      time.Time
	LastActivityAt time.Time
	AnalysisType   AnalysisType
	Context        ClaudeContext
	Turns          []Turn
	ProviderState  any
	BudgetRemaining Budget
}

// HypothesisStatus enumerates the lifecycle of a tournament Hypothesis.
type HypothesisStatus string

const (
	HypothesisPending    HypothesisStatus = "pending"
	HypothesisTested     HypothesisStatus = "tested"
	HypothesisEliminated HypothesisStatus = "eliminated"
	HypothesisWinner     HypothesisStatus = "winner"
)

// Hypothesis is one candidate explanation competing in a tournament.
type Hypothesis struct {
	ID                 string           `json:"id"`
	Statement          string           `json:"statement"`
	SupportingEvidence []string         `json:"supportingEvidence"`
	Confidence         float64          `json:"confidence"`
	Status             HypothesisStatus `json:"status"`
}

// PairResult is the outcome of one bracket pairing's test call.
type PairResult struct {
	WinnerID   string
	LoserID    string
	Confidence float64
	Warning    string // non-empty when resolved by a default instead of a real test
}

// Round is one bracket round of a tournament.
type Round struct {
	Pairs   [][2]string // hypothesis IDs, may contain one unpaired bye (second empty)
	Results []PairResult
}

// TournamentConfig bounds a tournament's shape.
type TournamentConfig struct {
	MaxHypotheses   int `json:"maxHypotheses"`
	MaxRounds       int `json:"maxRounds"`
	ParallelSessions int `json:"parallelSessions"`
}

// TournamentState is the transient, never-persisted state of one tournament run.
type TournamentState struct {
	SessionID   string
	Hypotheses  []Hypothesis
	Rounds      []Round
	Config      TournamentConfig
	Budget      Budget
}
