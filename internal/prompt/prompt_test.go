package prompt

import (
	"strings"
	"testing"
)

func TestInstructionLoaded(t *testing.T) {
	if Instruction == "" {
		t.Fatal("Instruction is empty; embed directive may have failed")
	}
}

func TestInstructionDescribesSchema(t *testing.T) {
	for _, field := range []string{"errorMessage", "fallacyInstances", "fallacy", "originalText", "avoidance", "counter", "link"} {
		if !strings.Contains(Instruction, `"`+field+`"`) {
			t.Errorf("instruction does not mention field %q", field)
		}
	}
	if !strings.Contains(Instruction, "EXACTLY") {
		t.Error("instruction does not demand verbatim excerpts")
	}
	if !strings.Contains(Instruction, `{"fallacyInstances": []}`) {
		t.Error("instruction does not describe the empty result")
	}
}

func TestBuild_ContainsSourceVerbatim(t *testing.T) {
	tests := []struct {
		name   string
		source string
	}{
		{name: "plain sentence", source: "Everyone agrees the policy is good, so it must be good."},
		{name: "leading and trailing whitespace", source: "  indented\ttext \n\n"},
		{name: "unicode", source: "Ünïcödé «quotes» and emoji 🙂"},
		{name: "contains delimiter", source: `He said """stop""" twice.`},
		{name: "json lookalike", source: `{"fallacyInstances":[]}`},
		{name: "empty", source: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Build(tt.source)
			if !strings.Contains(got, tt.source) {
				t.Errorf("Build(%q) does not contain source verbatim", tt.source)
			}
			if !strings.HasPrefix(got, strings.TrimRight(Instruction, "\n")) {
				t.Error("prompt does not start with the instruction")
			}
		})
	}
}

func TestBuild_Deterministic(t *testing.T) {
	src := "If we allow this, soon everything will be allowed."
	first := Build(src)
	for i := 0; i < 10; i++ {
		if got := Build(src); got != first {
			t.Fatalf("Build is not deterministic on call %d", i)
		}
	}
}

func TestBuild_DifferentInputsDiffer(t *testing.T) {
	if Build("a") == Build("b") {
		t.Error("different sources rendered the same prompt")
	}
}
