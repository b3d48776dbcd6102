// Package report renders analyses for a terminal.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/timvw/fallacy-patrol/internal/model"
)

// previewRunes is the length of the source preview in list output.
const previewRunes = 60

// Renderer writes styled reports to w.
type Renderer struct {
	w     io.Writer
	s     styles
	width int
}

// New creates a renderer using theme. width wraps long text; zero disables wrapping.
func New(w io.Writer, theme Theme, width int) *Renderer {
	return &Renderer{w: w, s: newStyles(theme), width: width}
}

// Request renders one request with its findings.
func (r *Renderer) Request(req *model.AnalysisRequest) error {
	var b strings.Builder
	s := r.s

	fmt.Fprintf(&b, "%s %s\n", s.title.Render("Analysis"), s.dim.Render(req.ID))
	fmt.Fprintf(&b, "%s %s", s.label.Render("State:"), s.state(string(req.State)).Render(string(req.State)))
	if req.Provider != "" {
		fmt.Fprintf(&b, "  %s %s", s.label.Render("Model:"), s.text.Render(providerModel(req)))
	}
	if req.DurationMs > 0 {
		fmt.Fprintf(&b, "  %s %s", s.label.Render("Took:"), s.text.Render((time.Duration(req.DurationMs) * time.Millisecond).String()))
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s %s\n\n", s.label.Render("Updated:"), s.dim.Render(req.UpdatedAt.Format(time.RFC3339)))

	b.WriteString(r.wrap(s.text).Render(req.SourceText))
	b.WriteString("\n\n")

	switch req.State {
	case model.StateFailed:
		b.WriteString(s.failed.Render(req.ErrorMessage))
		b.WriteString("\n")
	case model.StateCompleted:
		if len(req.Findings) == 0 {
			b.WriteString(s.completed.Render("No fallacies found."))
			b.WriteString("\n")
		}
		for i, f := range req.Findings {
			r.finding(&b, i+1, f)
		}
	}

	_, err := io.WriteString(r.w, b.String())
	return err
}

func (r *Renderer) finding(b *strings.Builder, n int, f model.Finding) {
	s := r.s
	fmt.Fprintf(b, "%s %s\n", s.dim.Render(fmt.Sprintf("%d.", n)), s.fallacy.Render(f.Fallacy))
	b.WriteString(r.wrap(s.excerpt).Render(f.Excerpt))
	b.WriteString("\n")
	fmt.Fprintf(b, "   %s %s\n", s.label.Render("Avoid:"), r.wrap(s.text).Render(f.Avoidance))
	fmt.Fprintf(b, "   %s %s\n", s.label.Render("Counter:"), r.wrap(s.text).Render(f.Counter))
	fmt.Fprintf(b, "   %s %s\n\n", s.label.Render("Read more:"), s.link.Render(f.Reference))
}

// List renders one line per request, oldest first.
func (r *Renderer) List(reqs []*model.AnalysisRequest) error {
	var b strings.Builder
	s := r.s
	if len(reqs) == 0 {
		b.WriteString(s.dim.Render("No analyses."))
		b.WriteString("\n")
	}
	for _, req := range reqs {
		state := s.state(string(req.State)).Width(12).Render(string(req.State))
		fmt.Fprintf(&b, "%s  %s  %s  %s  %s\n",
			s.dim.Render(req.ID),
			s.dim.Render(req.CreatedAt.Format("2006-01-02 15:04")),
			state,
			s.label.Width(3).Align(lipgloss.Right).Render(fmt.Sprintf("%d", len(req.Findings))),
			s.text.Render(Preview(req.SourceText, previewRunes)))
	}
	_, err := io.WriteString(r.w, b.String())
	return err
}

// Summary renders aggregate counts.
func (r *Renderer) Summary(sum model.Summary) error {
	var b strings.Builder
	s := r.s
	b.WriteString(s.title.Render("Summary"))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s %d\n", s.label.Render("Analyses:"), sum.Analyses)
	fmt.Fprintf(&b, "%s %d\n", s.label.Render("Fallacies:"), sum.Fallacies)

	for _, st := range []model.State{model.StateCompleted, model.StateFailed, model.StateInProgress, model.StateIdle} {
		if n := sum.ByState[st]; n > 0 {
			fmt.Fprintf(&b, "  %s %d\n", s.state(string(st)).Render(string(st)+":"), n)
		}
	}

	if len(sum.ByFallacy) > 0 {
		b.WriteString("\n")
		b.WriteString(s.title.Render("Most frequent"))
		b.WriteString("\n")
		for _, e := range rankFallacies(sum.ByFallacy) {
			fmt.Fprintf(&b, "  %s %s\n", s.label.Width(4).Align(lipgloss.Right).Render(fmt.Sprintf("%d", e.count)), s.fallacy.Render(e.name))
		}
	}

	_, err := io.WriteString(r.w, b.String())
	return err
}

type fallacyCount struct {
	name  string
	count int
}

// rankFallacies sorts by count descending, then name.
func rankFallacies(m map[string]int) []fallacyCount {
	out := make([]fallacyCount, 0, len(m))
	for name, n := range m {
		out = append(out, fallacyCount{name: name, count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].name < out[j].name
	})
	return out
}

func (r *Renderer) wrap(st lipgloss.Style) lipgloss.Style {
	if r.width > 0 {
		return st.Width(r.width)
	}
	return st
}

func providerModel(req *model.AnalysisRequest) string {
	if req.Model == "" {
		return req.Provider
	}
	return req.Provider + "/" + req.Model
}

// Preview flattens whitespace and truncates s to n runes.
func Preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
