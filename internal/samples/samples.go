// Package samples serves the built-in example passages and analyses.
//
// Both lists are cycled round-robin. The position is an explicit cursor kept
// in the store, so it survives restarts and is shared by every process using
// the same database.
package samples

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/timvw/fallacy-patrol/internal/model"
)

// Cursor names under which positions are stored.
const (
	PassageCursor  = "samples.passage"
	AnalysisCursor = "samples.analysis"
)

// ErrNoSamples is returned when a catalog list is empty.
var ErrNoSamples = errors.New("no samples available")

//go:embed data/passages.yaml
var passagesYAML []byte

//go:embed data/analyses.yaml
var analysesYAML []byte

// Cursors persists named positions.
type Cursors interface {
	Cursor(ctx context.Context, name string) (int, bool, error)
	SetCursor(ctx context.Context, name string, value int) error
}

// Analysis is a precomputed analysis of one passage.
type Analysis struct {
	SourceText string          `yaml:"source_text"`
	Findings   []SampleFinding `yaml:"findings"`
}

// SampleFinding is one finding of a sample analysis.
type SampleFinding struct {
	Fallacy   string `yaml:"fallacy"`
	Excerpt   string `yaml:"excerpt"`
	Avoidance string `yaml:"avoidance"`
	Counter   string `yaml:"counter"`
	Reference string `yaml:"reference"`
}

// Catalog holds the sample lists.
type Catalog struct {
	Passages []string
	Analyses []Analysis
}

// Load parses the embedded catalog.
func Load() (*Catalog, error) {
	return Parse(passagesYAML, analysesYAML)
}

// Parse builds a catalog from YAML lists of passages and analyses.
func Parse(passages, analyses []byte) (*Catalog, error) {
	c := &Catalog{}
	if err := yaml.Unmarshal(passages, &c.Passages); err != nil {
		return nil, fmt.Errorf("parse sample passages: %w", err)
	}
	if err := yaml.Unmarshal(analyses, &c.Analyses); err != nil {
		return nil, fmt.Errorf("parse sample analyses: %w", err)
	}
	for i, p := range c.Passages {
		if strings.TrimSpace(p) == "" {
			return nil, fmt.Errorf("sample passage %d is empty", i)
		}
	}
	for i, a := range c.Analyses {
		if strings.TrimSpace(a.SourceText) == "" {
			return nil, fmt.Errorf("sample analysis %d has no source text", i)
		}
		for j, f := range a.Findings {
			if !strings.Contains(a.SourceText, f.Excerpt) {
				return nil, fmt.Errorf("sample analysis %d finding %d: excerpt not in source text", i, j)
			}
		}
	}
	return c, nil
}

// Provider hands out samples in order.
type Provider struct {
	catalog *Catalog
	cursors Cursors
	now     func() time.Time

	mu sync.Mutex
}

// NewProvider serves c using positions stored in cursors.
func NewProvider(c *Catalog, cursors Cursors) *Provider {
	return &Provider{catalog: c, cursors: cursors, now: time.Now}
}

// NextPassage returns the next sample passage. The first call on a fresh
// store returns the first passage.
func (p *Provider) NextPassage(ctx context.Context) (string, error) {
	i, err := p.advance(ctx, PassageCursor, len(p.catalog.Passages))
	if err != nil {
		return "", err
	}
	return p.catalog.Passages[i], nil
}

// NextAnalysis returns the next sample analysis as a new completed request
// with fresh ids. The caller stores it.
func (p *Provider) NextAnalysis(ctx context.Context) (*model.AnalysisRequest, error) {
	i, err := p.advance(ctx, AnalysisCursor, len(p.catalog.Analyses))
	if err != nil {
		return nil, err
	}
	a := p.catalog.Analyses[i]

	r := model.NewRequest(a.SourceText, p.now())
	r.State = model.StateCompleted
	r.Provider = "sample"
	r.Findings = make([]model.Finding, 0, len(a.Findings))
	for _, f := range a.Findings {
		r.Findings = append(r.Findings, model.NewFinding(r.ID, f.Fallacy, f.Excerpt, f.Avoidance, f.Counter, f.Reference))
	}
	return r, nil
}

// advance returns the current index for name and stores the next one.
func (p *Provider) advance(ctx context.Context, name string, n int) (int, error) {
	if n == 0 {
		return 0, ErrNoSamples
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	cur, _, err := p.cursors.Cursor(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("read %s cursor: %w", name, err)
	}
	// The catalog may have shrunk since the cursor was written.
	i := ((cur % n) + n) % n
	if err := p.cursors.SetCursor(ctx, name, (i+1)%n); err != nil {
		return 0, fmt.Errorf("write %s cursor: %w", name, err)
	}
	return i, nil
}
