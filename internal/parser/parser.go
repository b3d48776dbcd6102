// Package parser validates a model's raw completion against the analysis
// output contract and turns it into finding drafts.
//
// The contract is a JSON object with an optional "errorMessage" string and a
// "fallacyInstances" array whose entries carry exactly the five string fields
// "fallacy", "originalText", "avoidance", "counter" and "link" (or
// "reference"). Older prompt revisions asked for a bare array of entries;
// that form is still accepted.
//
// A single malformed entry fails the whole response. Unknown fields are
// ignored everywhere.
package parser

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

var (
	// ErrDecode means the text does not conform to the output contract.
	ErrDecode = errors.New("response does not match the analysis schema")
	// ErrModelReported means the model set a non-blank errorMessage.
	ErrModelReported = errors.New("model reported an analysis error")
	// ErrExcerptMismatch means an excerpt is not a verbatim substring of
	// the analyzed source text.
	ErrExcerptMismatch = errors.New("excerpt not found verbatim in source text")
)

// Draft is one validated finding before it is attached to a request.
type Draft struct {
	Fallacy   string
	Excerpt   string
	Avoidance string
	Counter   string
	// Reference is the raw link as given by the model; it is normalized
	// when the finding is created.
	Reference string
}

// Result is a successfully parsed response. Zero drafts means the model
// found no fallacies.
type Result struct {
	Findings []Draft
	// Format names the accepted shape ("object" or "array").
	Format string
}

// format decodes one accepted response shape. Decode returns ok=false when
// the text is not in this shape at all, so the next format can be tried.
type format interface {
	Name() string
	Decode(text string) (drafts []Draft, ok bool, err error)
}

// Parser tries each accepted format in order.
type Parser struct {
	formats []format
	log     *zap.Logger
}

// New creates a parser that logs every input at debug level.
func New(log *zap.Logger) *Parser {
	if log == nil {
		log = zap.NewNop()
	}
	return &Parser{
		formats: []format{objectFormat{}, arrayFormat{}},
		log:     log,
	}
}

var defaultParser = New(nil)

// Parse validates raw with a parser that does not log.
func Parse(raw string) (*Result, error) {
	return defaultParser.Parse(raw)
}

// Parse validates raw. The returned error wraps ErrDecode or ErrModelReported.
func (p *Parser) Parse(raw string) (*Result, error) {
	p.log.Debug("parsing response", zap.Int("bytes", len(raw)), zap.String("raw", raw))

	text := stripMarkdownFences(raw)
	if text == "" {
		return nil, fmt.Errorf("%w: empty text", ErrDecode)
	}

	for _, f := range p.formats {
		drafts, ok, err := f.Decode(text)
		if !ok {
			continue
		}
		if err != nil {
			p.log.Debug("response rejected", zap.String("format", f.Name()), zap.Error(err))
			return nil, err
		}
		return &Result{Findings: drafts, Format: f.Name()}, nil
	}
	return nil, fmt.Errorf("%w: not a JSON object or array", ErrDecode)
}

// VerifyExcerpts checks that every excerpt occurs byte-for-byte in source.
func VerifyExcerpts(drafts []Draft, source string) error {
	for i, d := range drafts {
		if !strings.Contains(source, d.Excerpt) {
			return fmt.Errorf("%w: finding %d %q", ErrExcerptMismatch, i, preview(d.Excerpt, 60))
		}
	}
	return nil
}

// stripMarkdownFences removes a surrounding ``` or ```json fence.
// Backticks inside the content are left alone.
func stripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
