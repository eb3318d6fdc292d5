package verify

import (
	"errors"
	"fmt"

	"github.com/chazu/stackcheck/pkg/bytecode"
	"github.com/chazu/stackcheck/pkg/opcode"
)

// Result is the outcome of verifying one unit.
type Result struct {
	MaxDepth int    // Deepest stack reached, for frame sizing
	Depth    int    // Depth when control leaves the unit
	OK       bool   // True if the unit is well formed
	Err      *Error // First failure, nil when OK
}

// Verify checks a decoded unit in a single linear pass. It stops at the
// first failure. A nil registry means opcode.Default.
func Verify(reg *opcode.Registry, instrs []bytecode.Instruction, opts ...Option) Result {
	end := 0
	if n := len(instrs); n > 0 {
		end = instrs[n-1].Next()
	}
	v := newVerifier(reg, NewOptions(opts...), end)
	return v.run(instrs, true)
}

// VerifyStream decodes s and verifies it. When decoding fails part-way, a
// verification failure earlier in the stream takes precedence over the
// decode error.
func VerifyStream(reg *opcode.Registry, s bytecode.Stream, opts ...Option) Result {
	instrs, err := bytecode.Decode(reg, s)
	v := newVerifier(reg, NewOptions(opts...), s.Len())
	if err == nil {
		return v.run(instrs, true)
	}

	decodeErr := fromDecodeError(err)
	res := v.run(instrs, false)
	if res.Err != nil && res.Err.Offset < decodeErr.Offset {
		return res
	}
	res.OK = false
	res.Err = decodeErr
	return res
}

// verifier holds the state of one pass. It is never shared.
type verifier struct {
	reg  *opcode.Registry
	opts Options
	end  int // Word length of the unit

	depth    int
	maxDepth int
	live     bool // The current instruction is reachable
	replay   bool // Walking code first reached by a backward branch
	tail     int  // Depth after the final instruction, once reached
	tailSet  bool

	traps    []int       // Offsets of open Trap instructions, innermost last
	visited  map[int]int // Instruction offset -> depth on arrival
	expected map[int]int // Branch target -> depth recorded by first branch
	source   map[int]int // Branch target -> offset of the first branch
	refs     map[int]int // Every branch target -> offset of its first reference
	handlers map[int]int // Trap handler -> offset of the Trap
	resume   map[int]int // Trap handler -> depth before the first reached Trap
}

func newVerifier(reg *opcode.Registry, opts Options, end int) *verifier {
	if reg == nil {
		reg = opcode.Default
	}
	return &verifier{
		reg:      reg,
		opts:     opts,
		end:      end,
		depth:    opts.EntryDepth,
		maxDepth: opts.EntryDepth,
		live:     true,
		visited:  make(map[int]int),
		expected: make(map[int]int),
		source:   make(map[int]int),
		refs:     make(map[int]int),
		handlers: make(map[int]int),
		resume:   make(map[int]int),
	}
}

func (v *verifier) run(instrs []bytecode.Instruction, complete bool) Result {
	if v.opts.EntryDepth < 0 {
		return v.fail(&Error{Kind: ErrStackUnderflow, Op: opcode.Last, Detail: fmt.Sprintf("entry depth %d", v.opts.EntryDepth)})
	}

	for _, in := range instrs {
		if err := v.step(in); err != nil {
			return v.fail(err)
		}
	}
	if err := v.drain(instrs); err != nil {
		return v.fail(err)
	}

	if complete {
		if err := v.finish(instrs); err != nil {
			return v.fail(err)
		}
	}
	return Result{MaxDepth: v.maxDepth, Depth: v.finalDepth(), OK: true}
}

func (v *verifier) fail(err *Error) Result {
	return Result{MaxDepth: v.maxDepth, Depth: v.depth, Err: err}
}

// finalDepth is the depth when control leaves the unit: at the end of the
// stream if anything reaches it, otherwise after the final instruction.
func (v *verifier) finalDepth() int {
	if d, ok := v.expected[v.end]; ok {
		return d
	}
	if v.tailSet {
		return v.tail
	}
	return v.depth
}

// step applies one instruction to the abstract state.
func (v *verifier) step(in bytecode.Instruction) *Error {
	info, ok := v.reg.Lookup(int(in.Op))
	if !ok {
		return newError(ErrUnknownOpcode, in, "code %d", int(in.Op))
	}
	if len(in.Operands) != info.Arity {
		return newError(ErrTruncatedOperand, in, "%d of %d operands", len(in.Operands), info.Arity)
	}

	// Merge with any depth recorded by an earlier branch to this offset.
	if want, ok := v.expected[in.Offset]; ok {
		if !v.live {
			v.depth = want
			v.live = true
		} else if v.depth != want {
			return newError(ErrStackDepthConflict, in,
				"reached with depth %d, branch at %04d expects %d", v.depth, v.source[in.Offset], want)
		}
	}
	if !v.live {
		// Unwinding resumes a handler at the depth its Trap started from.
		if d, ok := v.resume[in.Offset]; ok {
			v.depth = d
			v.live = true
		}
	}
	if !v.live {
		return v.skip(in, info)
	}
	v.visited[in.Offset] = v.depth

	delta, err := v.delta(in, info)
	if err != nil {
		return err
	}
	if !v.replay {
		if err := v.nesting(in); err != nil {
			return err
		}
	}
	if in.Op == opcode.OpTrap {
		if h := int(in.Operand()); h >= 0 && h <= v.end {
			if _, ok := v.resume[h]; !ok {
				v.resume[h] = v.depth
			}
		}
	}

	v.depth += delta
	if v.depth < 0 {
		return newError(ErrStackUnderflow, in, "depth %d", v.depth)
	}
	if v.depth > v.maxDepth {
		v.maxDepth = v.depth
	}

	if err := v.branches(in, true); err != nil {
		return err
	}

	last := in.Next() == v.end
	if last {
		v.tail, v.tailSet = v.depth, true
	}
	switch {
	case in.Op.IsTerminator():
		v.live = false
	case last:
		return v.arrive(in, v.end)
	}
	return nil
}

// skip checks an instruction no path has reached yet. Its depth is unknown
// until some later branch targets it, so only operands, trap nesting and
// branch targets are checked here.
func (v *verifier) skip(in bytecode.Instruction, info opcode.Info) *Error {
	if _, err := v.delta(in, info); err != nil {
		return err
	}
	if err := v.nesting(in); err != nil {
		return err
	}
	return v.branches(in, false)
}

// drain walks code the linear pass skipped but a later backward branch (or
// a Trap) reaches, starting from the depth that branch carried. Each walk stops at
// a terminator or where it runs into code that was already visited.
func (v *verifier) drain(instrs []bytecode.Instruction) *Error {
	index := make(map[int]int, len(instrs))
	for i, in := range instrs {
		index[in.Offset] = i
	}

	v.replay = true
	defer func() { v.replay = false }()
	for {
		start := -1
		for _, targets := range []map[int]int{v.expected, v.resume} {
			for target := range targets {
				if _, seen := v.visited[target]; seen {
					continue
				}
				if _, ok := index[target]; ok && (start < 0 || target < start) {
					start = target
				}
			}
		}
		if start < 0 {
			return nil
		}

		v.live = false
		for i := index[start]; i < len(instrs); i++ {
			in := instrs[i]
			if got, seen := v.visited[in.Offset]; seen {
				if got != v.depth {
					return newError(ErrStackDepthConflict, in,
						"reached with depth %d, earlier path reached it with %d", v.depth, got)
				}
				break
			}
			if err := v.step(in); err != nil {
				return err
			}
			if !v.live {
				break
			}
		}
	}
}

// nesting tracks Trap/EndTrap pairs in stream order.
func (v *verifier) nesting(in bytecode.Instruction) *Error {
	switch in.Op {
	case opcode.OpTrap:
		v.traps = append(v.traps, in.Offset)
		return v.handler(in)
	case opcode.OpEndTrap:
		if len(v.traps) == 0 {
			return newError(ErrUnbalancedTrap, in, "no open trap")
		}
		v.traps = v.traps[:len(v.traps)-1]
	}
	return nil
}

// delta resolves the instruction's stack effect.
func (v *verifier) delta(in bytecode.Instruction, info opcode.Info) (int, *Error) {
	switch e := info.Effect.(type) {
	case opcode.Fixed:
		return int(e), nil
	case opcode.ParametricPop:
		n := int64(in.Operand())
		if n < 0 || n > v.opts.MaxOperand {
			return 0, newError(ErrInvalidParametricOperand, in, "operand %d outside [0, %d]", n, v.opts.MaxOperand)
		}
		return int(opcode.Delta(e, n)), nil
	default:
		panic(fmt.Sprintf("verify: unhandled effect %T for %s", e, in.Op))
	}
}

// branches handles the targets of a branching instruction. record is false
// for unreached code, whose targets are only range checked.
func (v *verifier) branches(in bytecode.Instruction, record bool) *Error {
	switch in.Op {
	case opcode.OpJump, opcode.OpJumpIf, opcode.OpJumpIfNot:
		return v.branch(in, int(in.Operand()), record)
	case opcode.OpJumpTable:
		n := int64(in.Operand())
		if n < 0 || n > v.opts.MaxOperand {
			return newError(ErrInvalidBranchTarget, in, "jump table size %d", n)
		}
		// The table is n two-word Jump entries; an index outside it
		// continues after the table.
		next := in.Next()
		for i := 0; i <= int(n); i++ {
			if err := v.branch(in, next+2*i, record); err != nil {
				return err
			}
		}
	}
	return nil
}

// branch checks a target and, when record is set, carries the current
// depth to it. The end of the unit is a valid target: it leaves the unit.
func (v *verifier) branch(in bytecode.Instruction, target int, record bool) *Error {
	if target < 0 || target > v.end {
		return newError(ErrInvalidBranchTarget, in, "target %d outside [0, %d]", target, v.end)
	}
	if _, ok := v.refs[target]; !ok {
		v.refs[target] = in.Offset
	}
	if !record {
		return nil
	}
	return v.arrive(in, target)
}

// arrive merges the current depth into target, reached from in.
func (v *verifier) arrive(in bytecode.Instruction, target int) *Error {
	if got, ok := v.visited[target]; ok {
		if got != v.depth {
			return &Error{
				Kind:   ErrStackDepthConflict,
				Offset: target,
				Op:     in.Op,
				Detail: fmt.Sprintf("branch at %04d carries depth %d, target was reached with %d", in.Offset, v.depth, got),
			}
		}
		return nil
	}
	if want, ok := v.expected[target]; ok {
		if want != v.depth {
			return &Error{
				Kind:   ErrStackDepthConflict,
				Offset: target,
				Op:     in.Op,
				Detail: fmt.Sprintf("%04d carries depth %d, branch at %04d carries %d", in.Offset, v.depth, v.source[target], want),
			}
		}
		return nil
	}
	v.expected[target] = v.depth
	v.source[target] = in.Offset
	return nil
}

// handler validates a Trap's handler position. Handlers are entered after
// unwinding, so they take no part in the depth merge; code reached only as
// a handler is walked from the depth recorded in resume.
func (v *verifier) handler(in bytecode.Instruction) *Error {
	target := int(in.Operand())
	if target < 0 || target > v.end {
		return newError(ErrInvalidBranchTarget, in, "handler %d outside [0, %d]", target, v.end)
	}
	if _, ok := v.handlers[target]; !ok {
		v.handlers[target] = in.Offset
	}
	return nil
}

// finish runs the end-of-unit checks.
func (v *verifier) finish(instrs []bytecode.Instruction) *Error {
	starts := make(map[int]bool, len(instrs)+1)
	for _, in := range instrs {
		starts[in.Offset] = true
	}
	starts[v.end] = true

	// Report the earliest offending branch first so results are stable.
	bad := -1
	for target, from := range v.refs {
		if !starts[target] && (bad < 0 || from < v.refs[bad]) {
			bad = target
		}
	}
	if bad >= 0 {
		return &Error{
			Kind:   ErrInvalidBranchTarget,
			Offset: v.refs[bad],
			Op:     v.opAt(instrs, v.refs[bad]),
			Detail: fmt.Sprintf("target %d is not an instruction boundary", bad),
		}
	}
	bad = -1
	for target, from := range v.handlers {
		if !starts[target] && (bad < 0 || from < v.handlers[bad]) {
			bad = target
		}
	}
	if bad >= 0 {
		return &Error{
			Kind:   ErrInvalidBranchTarget,
			Offset: v.handlers[bad],
			Op:     opcode.OpTrap,
			Detail: fmt.Sprintf("handler %d is not an instruction boundary", bad),
		}
	}

	if n := len(v.traps); n > 0 {
		return &Error{
			Kind:   ErrUnbalancedTrap,
			Offset: v.traps[n-1],
			Op:     opcode.OpTrap,
			Detail: fmt.Sprintf("%d trap(s) still open at end of unit", n),
		}
	}

	if want := v.opts.ExitDepth; want != nil {
		if got := v.finalDepth(); got != *want {
			last := bytecode.Instruction{Op: opcode.Last}
			if len(instrs) > 0 {
				last = instrs[len(instrs)-1]
			}
			return newError(ErrExitDepthMismatch, last, "final depth %d, want %d", got, *want)
		}
	}
	return nil
}

func (v *verifier) opAt(instrs []bytecode.Instruction, offset int) opcode.Opcode {
	for _, in := range instrs {
		if in.Offset == offset {
			return in.Op
		}
	}
	return opcode.Last
}

// Failed is a convenience for callers that only need the error value.
func (r Result) Failed() error {
	if r.OK || r.Err == nil {
		return nil
	}
	return r.Err
}

// Is reports whether the result failed with the given kind.
func (r Result) Is(kind error) bool {
	return r.Err != nil && errors.Is(r.Err, kind)
}
