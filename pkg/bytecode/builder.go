package bytecode

import (
	"fmt"

	"github.com/chazu/stackcheck/pkg/opcode"
)

// ---------------------------------------------------------------------------
// Builder: helper for constructing word streams
// ---------------------------------------------------------------------------

// Builder constructs code word by word. Branch operands are absolute word
// positions, so forward references are patched when their label is marked.
type Builder struct {
	words []int32
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{words: make([]int32, 0, 64)}
}

// Words returns the constructed code.
func (b *Builder) Words() Words {
	return b.words
}

// Bytes returns the constructed code as little-endian bytes.
func (b *Builder) Bytes() Bytes {
	return EncodeWords(b.words)
}

// Len returns the current length in words, which is also the position of
// the next emitted instruction.
func (b *Builder) Len() int {
	return len(b.words)
}

// Emit appends an opcode with no operands.
func (b *Builder) Emit(op opcode.Opcode) {
	b.words = append(b.words, int32(op))
}

// EmitRaw appends a raw word.
func (b *Builder) EmitRaw(w int32) {
	b.words = append(b.words, w)
}

// EmitOperand appends an opcode followed by one immediate operand.
func (b *Builder) EmitOperand(op opcode.Opcode, operand int32) {
	b.words = append(b.words, int32(op), operand)
}

// EmitInstruction appends an opcode with operands, panicking if the operand
// count does not match the opcode's arity.
func (b *Builder) EmitInstruction(op opcode.Opcode, operands ...int32) {
	info, ok := opcode.GetInfo(op)
	if !ok {
		panic(fmt.Sprintf("bytecode: emit of unknown opcode %d", op))
	}
	if len(operands) != info.Arity {
		panic(fmt.Sprintf("bytecode: %s takes %d operands, got %d", op, info.Arity, len(operands)))
	}
	b.words = append(b.words, int32(op))
	b.words = append(b.words, operands...)
}

// ---------------------------------------------------------------------------
// Label management for branches
// ---------------------------------------------------------------------------

// Label is a branch target that may be referenced before it is placed.
type Label struct {
	resolved bool
	position int   // target once resolved
	refs     []int // operand positions waiting for the target
}

// NewLabel creates an unresolved label.
func (b *Builder) NewLabel() *Label {
	return &Label{refs: make([]int, 0, 2)}
}

// Mark resolves a label to the current position and patches every earlier
// reference to it.
func (b *Builder) Mark(label *Label) {
	if label.resolved {
		panic("label already resolved")
	}
	label.resolved = true
	label.position = len(b.words)

	for _, ref := range label.refs {
		b.words[ref] = int32(label.position)
	}
	label.refs = nil
}

// Position returns the resolved position of a label, or -1.
func (l *Label) Position() int {
	if !l.resolved {
		return -1
	}
	return l.position
}

// EmitJump emits a branch-style instruction (Jump, JumpIf, JumpIfNot or
// Trap) whose operand is the label's position.
func (b *Builder) EmitJump(op opcode.Opcode, label *Label) {
	b.words = append(b.words, int32(op))
	if label.resolved {
		b.words = append(b.words, int32(label.position))
		return
	}
	label.refs = append(label.refs, len(b.words))
	b.words = append(b.words, 0) // placeholder
}

// Unresolved returns true if any label referenced by this builder has not
// been marked. Callers pass every label they created.
func Unresolved(labels ...*Label) bool {
	for _, l := range labels {
		if !l.resolved && len(l.refs) > 0 {
			return true
		}
	}
	return false
}
