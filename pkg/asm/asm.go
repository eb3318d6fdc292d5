// Package asm assembles a line-oriented text form into bytecode units.
//
// One instruction per line, written as a mnemonic and an optional operand:
//
//	.unit sum      ; start a new unit
//	.entry 2       ; stack depth on entry
//	loop:
//	    ADD
//	    JUMP_IF loop
//	    RET 0
//
// An operand is a decimal or 0x-prefixed integer, or the name of a label in
// the same unit. Labels resolve to absolute word positions.
package asm

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"github.com/chazu/stackcheck/pkg/bytecode"
	"github.com/chazu/stackcheck/pkg/opcode"
	"github.com/chazu/stackcheck/pkg/verify"
)

// Unit is one assembled body of code.
type Unit struct {
	Name string
	Code bytecode.Words

	// EntryDepth is set by .entry. Nil leaves the caller's default in place,
	// so an explicit ".entry 0" still overrides a configured depth.
	EntryDepth *int

	// Lines maps each instruction's word offset to its 1-based source line.
	Lines map[int]int
}

// Options returns defaults followed by the unit's .entry depth, if it has one.
func (u *Unit) Options(defaults ...verify.Option) []verify.Option {
	opts := append([]verify.Option(nil), defaults...)
	if u.EntryDepth != nil {
		opts = append(opts, verify.WithEntryDepth(*u.EntryDepth))
	}
	return opts
}

// Line returns the source line of the instruction at offset, or 0.
func (u *Unit) Line(offset int) int {
	return u.Lines[offset]
}

// Error is an assembly failure on a source line.
type Error struct {
	File string
	Line int
	Msg  string
}

func (e *Error) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
	}
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// AssembleFile reads and assembles a file. Code before the first .unit
// directive belongs to a unit named after the file.
func AssembleFile(reg *opcode.Registry, path string) ([]Unit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	units, err := Assemble(reg, name, string(data))
	if aerr, ok := err.(*Error); ok {
		aerr.File = path
	}
	return units, err
}

// Assemble assembles src. name labels code that appears before any .unit
// directive. A nil registry means opcode.Default.
func Assemble(reg *opcode.Registry, name, src string) ([]Unit, error) {
	if reg == nil {
		reg = opcode.Default
	}
	a := &assembler{reg: reg}
	a.begin(name)

	sc := bufio.NewScanner(strings.NewReader(src))
	line := 0
	for sc.Scan() {
		line++
		if err := a.line(line, sc.Text()); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading source: %w", err)
	}
	if err := a.end(); err != nil {
		return nil, err
	}
	return a.units, nil
}

// labelRef tracks a label and the first line that mentioned it.
type labelRef struct {
	label    *bytecode.Label
	firstRef int
	defined  bool
}

type assembler struct {
	reg   *opcode.Registry
	units []Unit

	// Current unit
	cur     *Unit
	b       *bytecode.Builder
	labels  map[string]*labelRef
	touched bool // The implicit unit received code or directives
}

func (a *assembler) begin(name string) {
	a.cur = &Unit{Name: name, Lines: make(map[int]int)}
	a.b = bytecode.NewBuilder()
	a.labels = make(map[string]*labelRef)
	a.touched = false
}

// end closes the current unit, failing on labels that were never defined.
// An untouched implicit unit is dropped.
func (a *assembler) end() error {
	var missing string
	for name, ref := range a.labels {
		if !ref.defined && (missing == "" || ref.firstRef < a.labels[missing].firstRef) {
			missing = name
		}
	}
	if missing != "" {
		return &Error{Line: a.labels[missing].firstRef, Msg: fmt.Sprintf("undefined label %q", missing)}
	}
	if !a.touched {
		return nil
	}
	a.cur.Code = a.b.Words()
	a.units = append(a.units, *a.cur)
	return nil
}

func (a *assembler) line(n int, text string) error {
	if i := strings.IndexByte(text, ';'); i >= 0 {
		text = text[:i]
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if strings.HasPrefix(text, ".") {
		return a.directive(n, text)
	}

	// Leading "name:" defines a label; an instruction may follow it.
	if i := strings.IndexByte(text, ':'); i >= 0 {
		name := strings.TrimSpace(text[:i])
		if !isIdent(name) {
			return &Error{Line: n, Msg: fmt.Sprintf("invalid label name %q", name)}
		}
		if err := a.define(n, name); err != nil {
			return err
		}
		text = strings.TrimSpace(text[i+1:])
		if text == "" {
			return nil
		}
	}

	return a.instruction(n, text)
}

func (a *assembler) directive(n int, text string) error {
	fields := strings.Fields(text)
	switch fields[0] {
	case ".unit":
		if len(fields) != 2 {
			return &Error{Line: n, Msg: ".unit takes one name"}
		}
		if err := a.end(); err != nil {
			return err
		}
		a.begin(fields[1])
		a.touched = true
	case ".entry":
		if len(fields) != 2 {
			return &Error{Line: n, Msg: ".entry takes one depth"}
		}
		depth, err := strconv.Atoi(fields[1])
		if err != nil || depth < 0 {
			return &Error{Line: n, Msg: fmt.Sprintf("invalid entry depth %q", fields[1])}
		}
		a.cur.EntryDepth = &depth
		a.touched = true
	default:
		return &Error{Line: n, Msg: fmt.Sprintf("unknown directive %s", fields[0])}
	}
	return nil
}

func (a *assembler) define(n int, name string) error {
	ref := a.ref(name, n)
	if ref.defined {
		return &Error{Line: n, Msg: fmt.Sprintf("label %q already defined", name)}
	}
	ref.defined = true
	a.b.Mark(ref.label)
	a.touched = true
	return nil
}

func (a *assembler) ref(name string, line int) *labelRef {
	ref, ok := a.labels[name]
	if !ok {
		ref = &labelRef{label: a.b.NewLabel(), firstRef: line}
		a.labels[name] = ref
	}
	return ref
}

func (a *assembler) instruction(n int, text string) error {
	fields := strings.Fields(text)
	mnemonic := strings.ToUpper(fields[0])
	op, ok := opcode.Parse(mnemonic)
	if !ok {
		return &Error{Line: n, Msg: fmt.Sprintf("unknown mnemonic %s", fields[0])}
	}
	info, ok := a.reg.Lookup(int(op))
	if !ok {
		return &Error{Line: n, Msg: fmt.Sprintf("%s is not in catalogue v%d", mnemonic, a.reg.Version())}
	}
	if len(fields)-1 != info.Arity {
		return &Error{Line: n, Msg: fmt.Sprintf("%s takes %d operand(s), got %d", mnemonic, info.Arity, len(fields)-1)}
	}

	a.cur.Lines[a.b.Len()] = n
	a.touched = true

	if info.Arity == 0 {
		a.b.Emit(op)
		return nil
	}

	operand := fields[1]
	if isIdent(operand) {
		ref := a.ref(operand, n)
		a.b.EmitJump(op, ref.label)
		return nil
	}
	v, err := strconv.ParseInt(operand, 0, 32)
	if err != nil {
		return &Error{Line: n, Msg: fmt.Sprintf("invalid operand %q", operand)}
	}
	a.b.EmitOperand(op, int32(v))
	return nil
}

// isIdent reports whether s is a label name: a letter or underscore
// followed by letters, digits or underscores.
func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) {
			continue
		}
		if i > 0 && unicode.IsDigit(r) {
			continue
		}
		return false
	}
	return true
}
