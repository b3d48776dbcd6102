package store

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/timvw/fallacy-patrol/internal/model"
)

// documentVersion is bumped when the export layout changes.
const documentVersion = 1

// Document is the JSON export of a set of analyses.
type Document struct {
	Version    int                      `json:"version"`
	ExportedAt time.Time                `json:"exported_at"`
	Analyses   []*model.AnalysisRequest `json:"analyses"`
}

// Export writes reqs as an indented JSON document.
func Export(w io.Writer, reqs []*model.AnalysisRequest, now time.Time) error {
	doc := Document{
		Version:    documentVersion,
		ExportedAt: now.UTC(),
		Analyses:   reqs,
	}
	if doc.Analyses == nil {
		doc.Analyses = []*model.AnalysisRequest{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// Import reads a document written by Export and normalizes every request so
// it satisfies the lifecycle invariants: requests caught in progress become
// idle, findings exist only on completed requests, and every finding
// references its parent by id.
func Import(r io.Reader) ([]*model.AnalysisRequest, error) {
	var doc Document
	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode export document: %w", err)
	}
	if doc.Version > documentVersion {
		return nil, fmt.Errorf("export document version %d is newer than supported version %d", doc.Version, documentVersion)
	}

	seen := make(map[string]bool, len(doc.Analyses))
	out := make([]*model.AnalysisRequest, 0, len(doc.Analyses))
	for i, req := range doc.Analyses {
		if req == nil {
			return nil, fmt.Errorf("analysis %d is null", i)
		}
		if strings.TrimSpace(req.ID) == "" {
			return nil, fmt.Errorf("analysis %d has no id", i)
		}
		if seen[req.ID] {
			return nil, fmt.Errorf("analysis %s appears twice", req.ID)
		}
		seen[req.ID] = true
		if !req.State.Valid() {
			return nil, fmt.Errorf("analysis %s has unknown state %q", req.ID, req.State)
		}
		if strings.TrimSpace(req.SourceText) == "" {
			return nil, fmt.Errorf("analysis %s has empty source text", req.ID)
		}
		normalize(req)
		out = append(out, req)
	}
	return out, nil
}

func normalize(r *model.AnalysisRequest) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	switch r.State {
	case model.StateInProgress:
		r.State = model.StateIdle
		r.Findings = nil
		r.ErrorMessage = ""
	case model.StateIdle:
		r.Findings = nil
		r.ErrorMessage = ""
	case model.StateFailed:
		r.Findings = nil
		if r.ErrorMessage == "" {
			r.ErrorMessage = model.FailureMessage
		}
	case model.StateCompleted:
		r.ErrorMessage = ""
	}
	for i := range r.Findings {
		f := &r.Findings[i]
		f.RequestID = r.ID
		imported := model.NewFinding(r.ID, f.Fallacy, f.Excerpt, f.Avoidance, f.Counter, f.Reference)
		if f.ID == "" {
			f.ID = imported.ID
		}
		f.Reference = imported.Reference
	}
}
