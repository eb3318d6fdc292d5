package verify

import (
	"errors"
	"fmt"

	"github.com/chazu/stackcheck/pkg/bytecode"
	"github.com/chazu/stackcheck/pkg/opcode"
)

// Failure kinds. Every *Error unwraps to exactly one of these.
var (
	ErrUnknownOpcode            = bytecode.ErrUnknownOpcode
	ErrTruncatedOperand         = bytecode.ErrTruncatedOperand
	ErrStackUnderflow           = errors.New("stack underflow")
	ErrUnbalancedTrap           = errors.New("unbalanced trap")
	ErrStackDepthConflict       = errors.New("stack depth conflict")
	ErrInvalidParametricOperand = errors.New("invalid parametric operand")
	ErrInvalidBranchTarget      = errors.New("invalid branch target")
	ErrExitDepthMismatch        = errors.New("exit depth mismatch")
)

var kindNames = map[error]string{
	ErrUnknownOpcode:            "UnknownOpcode",
	ErrTruncatedOperand:         "TruncatedOperand",
	ErrStackUnderflow:           "StackUnderflow",
	ErrUnbalancedTrap:           "UnbalancedTrap",
	ErrStackDepthConflict:       "StackDepthConflict",
	ErrInvalidParametricOperand: "InvalidParametricOperand",
	ErrInvalidBranchTarget:      "InvalidBranchTarget",
	ErrExitDepthMismatch:        "ExitDepthMismatch",
}

// kindsByName is the inverse of kindNames, used when decoding reports.
var kindsByName = func() map[string]error {
	m := make(map[string]error, len(kindNames))
	for k, v := range kindNames {
		m[v] = k
	}
	return m
}()

// KindName returns the stable name of a failure kind, or "" if err is not
// one of the kind sentinels.
func KindName(kind error) string {
	return kindNames[kind]
}

// KindByName returns the sentinel for a stable kind name.
func KindByName(name string) (error, bool) {
	k, ok := kindsByName[name]
	return k, ok
}

// Error is a verification failure at a word offset.
type Error struct {
	Kind   error         // One of the Err* sentinels
	Offset int           // Word position of the offending instruction
	Op     opcode.Opcode // Offending opcode, when one was decoded
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%04d %s: %v", e.Offset, e.Op, e.Kind)
	}
	return fmt.Sprintf("%04d %s: %v: %s", e.Offset, e.Op, e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Kind }

// KindName returns the stable name of the failure kind.
func (e *Error) KindName() string {
	return KindName(e.Kind)
}

func newError(kind error, in bytecode.Instruction, format string, args ...any) *Error {
	return &Error{
		Kind:   kind,
		Offset: in.Offset,
		Op:     in.Op,
		Detail: fmt.Sprintf(format, args...),
	}
}

// fromDecodeError converts a decoder failure into a verification failure.
func fromDecodeError(err error) *Error {
	var de *bytecode.DecodeError
	if !errors.As(err, &de) {
		return &Error{Kind: ErrTruncatedOperand, Detail: err.Error()}
	}
	op := opcode.Last
	if errors.Is(de.Err, ErrTruncatedOperand) {
		op = opcode.Opcode(de.Code)
	}
	return &Error{
		Kind:   de.Err,
		Offset: de.Offset,
		Op:     op,
		Detail: fmt.Sprintf("code word %d", de.Code),
	}
}
