package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestResolveReference(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "https wikipedia",
			input: "https://en.wikipedia.org/wiki/Argumentum_ad_populum",
			want:  "https://en.wikipedia.org/wiki/Argumentum_ad_populum",
		},
		{
			name:  "http accepted",
			input: "http://example.com/fallacy",
			want:  "http://example.com/fallacy",
		},
		{
			name:  "surrounding whitespace trimmed",
			input: "  https://example.com/x  ",
			want:  "https://example.com/x",
		},
		{name: "empty", input: "", want: DefaultReferenceURL},
		{name: "free text", input: "see wikipedia", want: DefaultReferenceURL},
		{name: "relative path", input: "/wiki/Straw_man", want: DefaultReferenceURL},
		{name: "non-http scheme", input: "ftp://example.com/x", want: DefaultReferenceURL},
		{name: "javascript scheme", input: "javascript:alert(1)", want: DefaultReferenceURL},
		{name: "unparseable", input: "http://[::1", want: DefaultReferenceURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveReference(tt.input); got != tt.want {
				t.Errorf("ResolveReference(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewRequest(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	r := NewRequest("some text", now)

	if r.ID == "" {
		t.Error("ID is empty")
	}
	if r.State != StateIdle {
		t.Errorf("State: got %q, want %q", r.State, StateIdle)
	}
	if !r.CreatedAt.Equal(now) || r.CreatedAt.Location() != time.UTC {
		t.Errorf("CreatedAt: got %v, want %v in UTC", r.CreatedAt, now)
	}
	if r.SourceText != "some text" {
		t.Errorf("SourceText: got %q", r.SourceText)
	}

	other := NewRequest("some text", now)
	if other.ID == r.ID {
		t.Error("two requests share the same ID")
	}
}

func TestClone_DoesNotShareFindings(t *testing.T) {
	r := NewRequest("text", time.Now())
	r.Findings = []Finding{NewFinding(r.ID, "Straw man", "text", "a", "c", "")}

	c := r.Clone()
	c.Findings[0].Fallacy = "changed"

	if r.Findings[0].Fallacy != "Straw man" {
		t.Errorf("original mutated through clone: %q", r.Findings[0].Fallacy)
	}
}

func TestNewFinding(t *testing.T) {
	f := NewFinding("req-1", "Ad hominem", "you are wrong", "argue the point", "ask for evidence", "not a url")
	if f.RequestID != "req-1" {
		t.Errorf("RequestID: got %q", f.RequestID)
	}
	if f.Reference != DefaultReferenceURL {
		t.Errorf("Reference: got %q, want default", f.Reference)
	}
	if f.ID == "" {
		t.Error("ID is empty")
	}
}

func TestState(t *testing.T) {
	for _, s := range []State{StateCompleted, StateFailed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []State{StateIdle, StateInProgress} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}

	if _, err := ParseState("Completed"); err != nil {
		t.Errorf("ParseState(Completed): %v", err)
	}
	if _, err := ParseState("done"); err == nil {
		t.Error("ParseState(done): expected error")
	}
}

func TestSummarize(t *testing.T) {
	done := NewRequest("a", time.Now())
	done.State = StateCompleted
	done.Findings = []Finding{
		NewFinding(done.ID, "Appeal to popularity: many agree", "a", "", "", ""),
		NewFinding(done.ID, "Straw man", "a", "", "", ""),
	}
	failed := NewRequest("b", time.Now())
	failed.State = StateFailed
	idle := NewRequest("c", time.Now())

	s := Summarize([]*AnalysisRequest{done, failed, idle, nil})

	if s.Analyses != 3 {
		t.Errorf("Analyses: got %d, want 3", s.Analyses)
	}
	if s.Fallacies != 2 {
		t.Errorf("Fallacies: got %d, want 2", s.Fallacies)
	}
	if s.ByState[StateCompleted] != 1 || s.ByState[StateFailed] != 1 || s.ByState[StateIdle] != 1 {
		t.Errorf("ByState: got %v", s.ByState)
	}
	if s.ByFallacy["Appeal to popularity"] != 1 {
		t.Errorf("ByFallacy: got %v", s.ByFallacy)
	}
}

func TestAnalysisRequest_JSONOmitsEmptyError(t *testing.T) {
	r := NewRequest("x", time.Now())
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), "error_message") {
		t.Errorf("expected error_message to be omitted, got %s", data)
	}
	if !strings.Contains(string(data), `"state":"idle"`) {
		t.Errorf("expected idle state in JSON, got %s", data)
	}
}
