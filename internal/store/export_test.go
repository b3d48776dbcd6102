package store

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/timvw/fallacy-patrol/internal/model"
)

func TestExportImport(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	completed := completedRequest("Everyone does it, so it must be fine.", now)
	failed := model.NewRequest("some text", now.Add(time.Second))
	failed.State = model.StateFailed
	failed.ErrorMessage = model.FailureMessage

	var buf bytes.Buffer
	if err := Export(&buf, []*model.AnalysisRequest{completed, failed}, now); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !strings.Contains(buf.String(), `"version": 1`) {
		t.Errorf("missing version in export:\n%s", buf.String())
	}

	got, err := Import(&buf)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	want := []*model.AnalysisRequest{completed, failed}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("import mismatch (-want +got):\n%s", diff)
	}
}

func TestExport_EmptyWritesArray(t *testing.T) {
	var buf bytes.Buffer
	if err := Export(&buf, nil, time.Now()); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !strings.Contains(buf.String(), `"analyses": []`) {
		t.Errorf("expected empty analyses array, got:\n%s", buf.String())
	}
}

func TestImport_Normalizes(t *testing.T) {
	doc := `{
  "version": 1,
  "analyses": [
    {"id": "a", "source_text": "x", "state": "in_progress",
     "findings": [{"fallacy": "f", "excerpt": "x"}]},
    {"id": "b", "source_text": "y", "state": "failed", "error_message": ""},
    {"id": "c", "source_text": "z", "state": "completed", "error_message": "stale",
     "findings": [{"fallacy": "Strawman", "excerpt": "z", "reference": "not a url"}]}
  ]
}`
	got, err := Import(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 analyses, got %d", len(got))
	}

	if got[0].State != model.StateIdle || got[0].Findings != nil {
		t.Errorf("in_progress: got state %s with %d findings", got[0].State, len(got[0].Findings))
	}
	if got[1].ErrorMessage != model.FailureMessage {
		t.Errorf("failed: error message %q", got[1].ErrorMessage)
	}
	c := got[2]
	if c.ErrorMessage != "" {
		t.Errorf("completed: error message %q should be cleared", c.ErrorMessage)
	}
	f := c.Findings[0]
	if f.ID == "" || f.RequestID != "c" || f.Reference != model.DefaultReferenceURL {
		t.Errorf("finding not normalized: %+v", f)
	}
	if c.CreatedAt.IsZero() || !c.UpdatedAt.Equal(c.CreatedAt) {
		t.Errorf("timestamps not defaulted: %v %v", c.CreatedAt, c.UpdatedAt)
	}
}

func TestImport_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"not json", `nope`, "decode export document"},
		{"future version", `{"version": 99, "analyses": []}`, "newer than supported"},
		{"null entry", `{"version": 1, "analyses": [null]}`, "is null"},
		{"missing id", `{"version": 1, "analyses": [{"source_text": "x", "state": "idle"}]}`, "has no id"},
		{"duplicate id", `{"version": 1, "analyses": [{"id": "a", "source_text": "x", "state": "idle"}, {"id": "a", "source_text": "y", "state": "idle"}]}`, "appears twice"},
		{"bad state", `{"version": 1, "analyses": [{"id": "a", "source_text": "x", "state": "done"}]}`, "unknown state"},
		{"empty text", `{"version": 1, "analyses": [{"id": "a", "source_text": "  ", "state": "idle"}]}`, "empty source text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Import(strings.NewReader(tt.doc))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not contain %q", err, tt.want)
			}
		})
	}
}
