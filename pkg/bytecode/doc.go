// Package bytecode decodes and builds instruction streams for the stack VM.
//
// A stream is a sequence of 32-bit words. Each instruction is one opcode
// word followed by the operand words its arity calls for (zero or one).
// Positions are word indices throughout: branch operands, instruction
// offsets and error offsets all count words from the start of the unit.
// ByteOffset converts when a caller needs byte positions.
//
// # Stream Representations
//
//   - Words: an in-memory []int32, as produced by Builder
//   - Bytes: little-endian serialized words, as stored on disk or sent over
//     the wire. Trailing bytes that do not form a whole word are ignored.
//
// # Decoding
//
// DecodeNext decodes one instruction at a position, Decoder walks a stream
// sequentially and Decode returns every instruction. Decoding fails with
// ErrUnknownOpcode for codes outside the registry's catalogue and with
// ErrTruncatedOperand when the stream ends inside an instruction. Both are
// wrapped in a *DecodeError carrying the offset.
//
// # Building
//
// Builder emits instructions with labels for forward branches:
//
//	b := bytecode.NewBuilder()
//	done := b.NewLabel()
//	b.EmitJump(opcode.OpJumpIfNot, done)
//	b.Emit(opcode.OpPush)
//	b.Mark(done)
//	code := b.Words()
package bytecode
