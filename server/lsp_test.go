package server

import (
	"strings"
	"testing"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/chazu/stackcheck/pkg/opcode"
	"github.com/chazu/stackcheck/pkg/verify"
)

// ---------------------------------------------------------------------------
// LSP text extraction helpers
// ---------------------------------------------------------------------------

func TestExtractPrefix(t *testing.T) {
	tests := []struct {
		name string
		text string
		pos  protocol.Position
		want string
	}{
		{"simple word", "  JUMP_I", protocol.Position{Line: 0, Character: 8}, "JUMP_I"},
		{"after label", "loop: PU", protocol.Position{Line: 0, Character: 8}, "PU"},
		{"multi line", "PUSH\nRET 0\nAD", protocol.Position{Line: 2, Character: 2}, "AD"},
		{"empty line", "", protocol.Position{Line: 0, Character: 0}, ""},
		{"cursor at beginning", "PUSH", protocol.Position{Line: 0, Character: 0}, ""},
		{"line beyond document", "PUSH", protocol.Position{Line: 5, Character: 0}, ""},
		{"column past end", "POP", protocol.Position{Line: 0, Character: 40}, "POP"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractPrefix(tt.text, tt.pos); got != tt.want {
				t.Errorf("extractPrefix = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractWord(t *testing.T) {
	tests := []struct {
		name string
		text string
		pos  protocol.Position
		want string
	}{
		{"middle of mnemonic", "  JUMP_IF done", protocol.Position{Line: 0, Character: 4}, "JUMP_IF"},
		{"operand label", "  JUMP_IF done", protocol.Position{Line: 0, Character: 12}, "done"},
		{"label definition", "done: RET 0", protocol.Position{Line: 0, Character: 1}, "done"},
		{"whitespace", "PUSH   POP", protocol.Position{Line: 0, Character: 5}, ""},
		{"line beyond document", "PUSH", protocol.Position{Line: 3, Character: 0}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractWord(tt.text, tt.pos); got != tt.want {
				t.Errorf("extractWord = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFindLabel(t *testing.T) {
	text := strings.Join([]string{
		".unit a",        // 0
		"done: PUSH",     // 1
		"  JUMP_IF done", // 2
		".unit b",        // 3
		"  JUMP done",    // 4
		"done:",          // 5
		"; done: here",   // 6
	}, "\n")

	if line, ok := findLabel(text, 2, "done"); !ok || line != 1 {
		t.Errorf("unit a: findLabel = %d, %v; want 1", line, ok)
	}
	if line, ok := findLabel(text, 4, "done"); !ok || line != 5 {
		t.Errorf("unit b: findLabel = %d, %v; want 5", line, ok)
	}
	if _, ok := findLabel(text, 4, "missing"); ok {
		t.Error("found a missing label")
	}
	if _, ok := findLabel(text, 99, "done"); ok {
		t.Error("found a label past the end")
	}
}

// ---------------------------------------------------------------------------
// Diagnostics, hover and completion
// ---------------------------------------------------------------------------

func newTestLSP(t *testing.T, reg *opcode.Registry, opts ...verify.Option) *LspServer {
	t.Helper()
	s := NewLSP(reg, opts...)
	t.Cleanup(s.pool.Stop)
	return s
}

func TestDiagnoseClean(t *testing.T) {
	s := newTestLSP(t, nil)
	diags := s.diagnose("clean", "PUSH\nPUSH\nADD\nRET 0\n")
	if len(diags) != 0 {
		t.Errorf("got %d diagnostics: %+v", len(diags), diags)
	}
}

func TestDiagnoseAssemblyError(t *testing.T) {
	s := newTestLSP(t, nil)
	diags := s.diagnose("bad", "PUSH\n\nFROB 3\n")
	if len(diags) != 1 {
		t.Fatalf("got %d diagnostics, want 1", len(diags))
	}
	d := diags[0]
	if d.Range.Start.Line != 2 {
		t.Errorf("line = %d, want 2", d.Range.Start.Line)
	}
	if !strings.Contains(d.Message, "unknown mnemonic") {
		t.Errorf("message = %q", d.Message)
	}
	if d.Severity == nil || *d.Severity != protocol.DiagnosticSeverityError {
		t.Error("severity is not Error")
	}
}

func TestDiagnoseVerifyErrors(t *testing.T) {
	s := newTestLSP(t, nil)
	src := strings.Join([]string{
		".unit ok",       // 0
		"PUSH",           // 1
		".unit conflict", // 2
		"JUMP_IF l",      // 3
		"PUSH",           // 4
		"l: POP 1",       // 5
		".unit deep",     // 6
		".entry 2",       // 7
		"POP 2",          // 8
		"POP 1",          // 9
	}, "\n")

	diags := s.diagnose("multi", src)
	if len(diags) != 2 {
		t.Fatalf("got %d diagnostics, want 2: %+v", len(diags), diags)
	}
	if diags[0].Range.Start.Line != 5 || !strings.Contains(diags[0].Message, "conflict:") {
		t.Errorf("first diagnostic = line %d %q", diags[0].Range.Start.Line, diags[0].Message)
	}
	if diags[1].Range.Start.Line != 9 || !strings.Contains(diags[1].Message, "stack underflow") {
		t.Errorf("second diagnostic = line %d %q", diags[1].Range.Start.Line, diags[1].Message)
	}
}

func TestDiagnoseUsesDefaults(t *testing.T) {
	s := newTestLSP(t, nil, verify.WithExitDepth(0))
	diags := s.diagnose("exit", "PUSH\nRET 0")
	if len(diags) != 1 || !strings.Contains(diags[0].Message, "exit depth mismatch") {
		t.Errorf("diagnostics = %+v", diags)
	}
}

func TestDiagnoseConfiguredEntryDepth(t *testing.T) {
	s := newTestLSP(t, nil, verify.WithEntryDepth(1))
	if diags := s.diagnose("inherit", "POP 1\n"); len(diags) != 0 {
		t.Errorf("unit without .entry: %+v, want the configured depth of 1", diags)
	}

	diags := s.diagnose("zero", ".entry 0\nPOP 1\n")
	if len(diags) != 1 || diags[0].Range.Start.Line != 1 || !strings.Contains(diags[0].Message, "stack underflow") {
		t.Errorf(".entry 0: %+v, want underflow on line 1", diags)
	}
}

func TestHover(t *testing.T) {
	s := newTestLSP(t, nil)

	h := s.hover("call")
	if h == nil {
		t.Fatal("no hover for call")
	}
	value := h.Contents.(protocol.MarkupContent).Value
	for _, want := range []string{"**CALL**", "arity 1", "pops <operand> slots"} {
		if !strings.Contains(value, want) {
			t.Errorf("hover missing %q: %s", want, value)
		}
	}

	if s.hover("loop_label") != nil {
		t.Error("hover for a non-mnemonic")
	}
}

func TestHoverOlderCatalogue(t *testing.T) {
	v1, _ := opcode.NewRegistry(opcode.V1)
	s := newTestLSP(t, v1)

	h := s.hover("FOLD_INT32")
	if h == nil {
		t.Fatal("no hover")
	}
	if value := h.Contents.(protocol.MarkupContent).Value; !strings.Contains(value, "Not available in catalogue v1") {
		t.Errorf("hover = %s", value)
	}
}

func TestComplete(t *testing.T) {
	s := newTestLSP(t, nil)

	items := s.complete("jump")
	var names []string
	for _, it := range items {
		names = append(names, it.Label)
	}
	got := strings.Join(names, ",")
	if got != "JUMP,JUMP_IF,JUMP_IF_NOT,JUMP_TABLE" {
		t.Errorf("completions = %s", got)
	}

	v1, _ := opcode.NewRegistry(opcode.V1)
	s1 := newTestLSP(t, v1)
	for _, it := range s1.complete("MAKE_") {
		if it.Label == "MAKE_ARRAY2" {
			t.Error("V1 completion offered MAKE_ARRAY2")
		}
	}
}
