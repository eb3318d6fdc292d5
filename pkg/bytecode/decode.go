package bytecode

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chazu/stackcheck/pkg/opcode"
)

var (
	// ErrUnknownOpcode reports a code at or past the registry's terminal value.
	ErrUnknownOpcode = errors.New("unknown opcode")

	// ErrTruncatedOperand reports a stream that ends before an opcode's
	// declared operands.
	ErrTruncatedOperand = errors.New("truncated operand")
)

// DecodeError is a decode failure at a word offset.
type DecodeError struct {
	Offset int   // Word position of the offending opcode
	Code   int32 // Raw opcode word
	Err    error // ErrUnknownOpcode or ErrTruncatedOperand
}

func (e *DecodeError) Error() string {
	if errors.Is(e.Err, ErrTruncatedOperand) {
		return fmt.Sprintf("%04d: %v for %s", e.Offset, e.Err, opcode.Opcode(e.Code))
	}
	return fmt.Sprintf("%04d: %v %d", e.Offset, e.Err, e.Code)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Instruction is one decoded instruction. It lives only as long as the pass
// that produced it needs it.
type Instruction struct {
	Op       opcode.Opcode
	Operands []int32 // Immediate words, len == arity
	Offset   int     // Word position of the opcode
	Size     int     // Width in words, 1 + arity
}

// Operand returns the first immediate operand, or 0 if there is none.
func (in Instruction) Operand() int32 {
	if len(in.Operands) == 0 {
		return 0
	}
	return in.Operands[0]
}

// Next returns the word position following the instruction.
func (in Instruction) Next() int {
	return in.Offset + in.Size
}

// ByteOffset returns the position of the instruction in bytes.
func (in Instruction) ByteOffset() int {
	return in.Offset * WordSize
}

// ByteLen returns the width of the instruction in bytes.
func (in Instruction) ByteLen() int {
	return in.Size * WordSize
}

// String returns the mnemonic followed by any operands.
func (in Instruction) String() string {
	if len(in.Operands) == 0 {
		return in.Op.String()
	}
	var sb strings.Builder
	sb.WriteString(in.Op.String())
	for _, o := range in.Operands {
		fmt.Fprintf(&sb, " %d", o)
	}
	return sb.String()
}

// DecodeNext decodes the instruction at pos. It returns io.EOF when pos is
// at or past the end of the stream. A nil registry means opcode.Default.
func DecodeNext(reg *opcode.Registry, s Stream, pos int) (Instruction, error) {
	if reg == nil {
		reg = opcode.Default
	}
	if pos < 0 || pos >= s.Len() {
		return Instruction{}, io.EOF
	}

	code := s.Word(pos)
	info, ok := reg.Lookup(int(code))
	if !ok {
		return Instruction{}, &DecodeError{Offset: pos, Code: code, Err: ErrUnknownOpcode}
	}
	if pos+1+info.Arity > s.Len() {
		return Instruction{}, &DecodeError{Offset: pos, Code: code, Err: ErrTruncatedOperand}
	}

	in := Instruction{
		Op:     opcode.Opcode(code),
		Offset: pos,
		Size:   1 + info.Arity,
	}
	if info.Arity > 0 {
		in.Operands = make([]int32, info.Arity)
		for i := range in.Operands {
			in.Operands[i] = s.Word(pos + 1 + i)
		}
	}
	return in, nil
}

// Decoder walks a stream one instruction at a time.
type Decoder struct {
	reg    *opcode.Registry
	stream Stream
	pos    int
}

// NewDecoder creates a decoder positioned at the start of s.
func NewDecoder(reg *opcode.Registry, s Stream) *Decoder {
	if reg == nil {
		reg = opcode.Default
	}
	return &Decoder{reg: reg, stream: s}
}

// Position returns the word position of the next instruction.
func (d *Decoder) Position() int {
	return d.pos
}

// HasMore returns true if there are more words to decode.
func (d *Decoder) HasMore() bool {
	return d.pos < d.stream.Len()
}

// Seek sets the decode position.
func (d *Decoder) Seek(pos int) {
	d.pos = pos
}

// Next decodes the instruction at the current position and advances past
// it. The position does not move on error.
func (d *Decoder) Next() (Instruction, error) {
	in, err := DecodeNext(d.reg, d.stream, d.pos)
	if err != nil {
		return in, err
	}
	d.pos = in.Next()
	return in, nil
}

// Decode decodes an entire stream, stopping at the first error.
func Decode(reg *opcode.Registry, s Stream) ([]Instruction, error) {
	d := NewDecoder(reg, s)
	var out []Instruction
	for d.HasMore() {
		in, err := d.Next()
		if err != nil {
			return out, err
		}
		out = append(out, in)
	}
	return out, nil
}

// Encode re-encodes decoded instructions into words.
func Encode(instrs []Instruction) Words {
	n := 0
	for _, in := range instrs {
		n += in.Size
	}
	out := make(Words, 0, n)
	for _, in := range instrs {
		out = append(out, int32(in.Op))
		out = append(out, in.Operands...)
	}
	return out
}
