// Package opcode is the instruction catalogue of the stack VM.
//
// Every opcode has a mnemonic, an arity (immediate operand words, 0 or 1)
// and a stack effect. An effect is either Fixed, a constant change in
// depth, or ParametricPop, which removes as many slots as the operand
// says. The catalogue is versioned: a Registry fixes one Version and
// rejects codes introduced after it, so older streams keep decoding the
// same way as the catalogue grows.
package opcode
