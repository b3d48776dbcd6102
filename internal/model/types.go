package model

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultReferenceURL is used when the model supplies a reference that is
// not an absolute http(s) URL.
const DefaultReferenceURL = "https://en.wikipedia.org/wiki/List_of_fallacies"

// FailureMessage is the only failure text shown to users. Provider and
// parser detail goes to logs and metrics.
const FailureMessage = "No fallacies found or analysis failed."

// State is the lifecycle state of an analysis request.
type State string

const (
	StateIdle       State = "idle"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Terminal reports whether no further automatic transition follows s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StateIdle, StateInProgress, StateCompleted, StateFailed:
		return true
	default:
		return false
	}
}

// ParseState converts a user-supplied string into a State.
func ParseState(s string) (State, error) {
	st := State(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown state %q (supported: idle, in_progress, completed, failed)", s)
	}
	return st, nil
}

// AnalysisRequest is one passage submitted for fallacy analysis.
type AnalysisRequest struct {
	// ID is an opaque unique identifier.
	ID string `json:"id"`
	// SourceText is the passage under analysis. Never modified after creation.
	SourceText string `json:"source_text"`
	// CreatedAt is when the request was submitted.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is the time of the last state change.
	UpdatedAt time.Time `json:"updated_at"`
	// State is the current lifecycle state.
	State State `json:"state"`
	// ErrorMessage is the user-facing failure message. Set only when Failed.
	ErrorMessage string `json:"error_message,omitempty"`
	// Findings are only present when State is Completed.
	Findings []Finding `json:"findings,omitempty"`

	// Provider and Model record the backend used for the last analysis.
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`

	// Usage tracks token consumption of the last analysis.
	Usage TokenUsage `json:"usage"`
	// DurationMs is the wall-clock time of the last analysis.
	DurationMs int64 `json:"duration_ms,omitempty"`
}

// NewRequest creates an idle request for the given text.
func NewRequest(text string, now time.Time) *AnalysisRequest {
	now = now.UTC()
	return &AnalysisRequest{
		ID:         uuid.NewString(),
		SourceText: text,
		CreatedAt:  now,
		UpdatedAt:  now,
		State:      StateIdle,
	}
}

// Clone returns a deep copy so callers never share findings slices.
func (r *AnalysisRequest) Clone() *AnalysisRequest {
	if r == nil {
		return nil
	}
	c := *r
	if r.Findings != nil {
		c.Findings = make([]Finding, len(r.Findings))
		copy(c.Findings, r.Findings)
	}
	return &c
}

// Finding is one detected logical fallacy.
type Finding struct {
	ID string `json:"id"`
	// RequestID references the owning request. Findings never hold a
	// pointer to their parent.
	RequestID string `json:"request_id"`
	// Fallacy is the fallacy name with a short description.
	Fallacy string `json:"fallacy"`
	// Excerpt is a byte-identical substring of the request's source text.
	Excerpt   string `json:"excerpt"`
	Avoidance string `json:"avoidance"`
	Counter   string `json:"counter"`
	// Reference is always an absolute http(s) URL.
	Reference string `json:"reference"`
}

// NewFinding builds a finding owned by requestID, normalizing the reference.
func NewFinding(requestID, fallacy, excerpt, avoidance, counter, reference string) Finding {
	return Finding{
		ID:        uuid.NewString(),
		RequestID: requestID,
		Fallacy:   fallacy,
		Excerpt:   excerpt,
		Avoidance: avoidance,
		Counter:   counter,
		Reference: ResolveReference(reference),
	}
}

// ResolveReference returns raw when it is an absolute http(s) URL with a host,
// and DefaultReferenceURL otherwise.
func ResolveReference(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultReferenceURL
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return DefaultReferenceURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return DefaultReferenceURL
	}
	return raw
}

// TokenUsage tracks LLM token consumption for a single analysis.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Summary aggregates counts over a collection of requests.
type Summary struct {
	Analyses  int           `json:"analyses"`
	Fallacies int           `json:"fallacies"`
	ByState   map[State]int `json:"by_state"`
	// ByFallacy counts findings per fallacy name (text before the first ':').
	ByFallacy map[string]int `json:"by_fallacy,omitempty"`
}

// Summarize counts analyses and findings.
func Summarize(requests []*AnalysisRequest) Summary {
	s := Summary{
		ByState:   make(map[State]int),
		ByFallacy: make(map[string]int),
	}
	for _, r := range requests {
		if r == nil {
			continue
		}
		s.Analyses++
		s.ByState[r.State]++
		s.Fallacies += len(r.Findings)
		for _, f := range r.Findings {
			s.ByFallacy[FallacyName(f.Fallacy)]++
		}
	}
	return s
}

// FallacyName returns the fallacy name without its short description.
// "Appeal to popularity: claims that..." becomes "Appeal to popularity".
func FallacyName(s string) string {
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
