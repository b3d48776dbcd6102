// Package prompt renders the fallacy-analysis instruction sent to a model.
//
// The instruction text and the parser's accepted schema are one contract:
// changing a field name here requires the same change in internal/parser.
package prompt

import (
	_ "embed"
	"strings"
)

// Version identifies the current instruction contract. Bump it whenever the
// output schema in prompts/analysis.md changes.
const Version = "2"

// Delimiter surrounds the passage so the model can tell instruction from input.
const Delimiter = `"""`

// Instruction is the fixed instruction text, loaded at compile time.
//
//go:embed prompts/analysis.md
var Instruction string

// Build renders the full prompt for the given passage. The passage is
// embedded byte-for-byte; Build never trims or escapes it.
func Build(source string) string {
	var b strings.Builder
	b.Grow(len(Instruction) + len(source) + 2*len(Delimiter) + 4)
	b.WriteString(strings.TrimRight(Instruction, "\n"))
	b.WriteString("\n")
	b.WriteString(Delimiter)
	b.WriteString("\n")
	b.WriteString(source)
	b.WriteString("\n")
	b.WriteString(Delimiter)
	b.WriteString("\n")
	return b.String()
}
