package opcode

import "fmt"

// Effect is the declared net change an opcode makes to operand stack depth.
// It is closed over two variants, Fixed and ParametricPop; consumers switch
// on the concrete type and treat anything else as a programming error.
type Effect interface {
	isEffect()
	String() string
}

// Fixed is a constant net change to stack depth.
type Fixed int

func (Fixed) isEffect() {}

func (f Fixed) String() string {
	return fmt.Sprintf("%+d", int(f))
}

// ParametricPop means the opcode removes as many stack slots as its own
// immediate operand says, times CallSlotsPerOperand.
type ParametricPop struct{}

func (ParametricPop) isEffect() {}

func (ParametricPop) String() string {
	return "-P"
}

// CallSlotsPerOperand is how many stack slots one unit of a ParametricPop
// operand removes. It is fixed for the whole opcode set.
const CallSlotsPerOperand = 1

// Delta resolves an effect against an instruction's first operand. Fixed
// effects ignore the operand.
func Delta(e Effect, operand int64) int64 {
	switch e := e.(type) {
	case Fixed:
		return int64(e)
	case ParametricPop:
		return -operand * CallSlotsPerOperand
	default:
		panic(fmt.Sprintf("opcode: unhandled effect %T", e))
	}
}
