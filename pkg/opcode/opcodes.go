package opcode

import "fmt"

// Opcode is the numeric code of an instruction kind. The numbering is the
// wire format of every bytecode artifact: codes are contiguous from zero and
// new opcodes are only ever appended immediately before Last.
type Opcode uint8

const (
	// ========================================================================
	// Folds: produce a value in the accumulator (0-11)
	// ========================================================================

	OpFoldNull    Opcode = iota // acc = null
	OpFoldTrue                  // acc = true
	OpFoldFalse                 // acc = false
	OpFoldThis                  // acc = this
	OpFoldInt                   // acc = <int>
	OpFoldStack                 // acc = stack[<index>]
	OpFoldGlobal                // acc = globals[<index>]
	OpFoldEnv                   // acc = env[<index>]
	OpFoldField                 // acc = acc.<field>
	OpFoldArray                 // acc = pop()[acc]
	OpFoldIndex                 // acc = acc[<index>]
	OpFoldBuiltin               // acc = builtins[<index>]

	// ========================================================================
	// Mutators (12-18)
	// ========================================================================

	OpSetStack  // stack[<index>] = acc
	OpSetGlobal // globals[<index>] = acc
	OpSetEnv    // env[<index>] = acc
	OpSetField  // pop().<field> = acc
	OpSetArray  // pop()[pop()] = acc
	OpSetIndex  // pop()[<index>] = acc
	OpSetThis   // this = acc

	// ========================================================================
	// Stack and calls (19-22)
	// ========================================================================

	OpPush    // push(acc)
	OpPop     // pop <n> values
	OpCall    // call acc with <n> stacked arguments
	OpObjCall // call acc on an object with <n> stacked arguments

	// ========================================================================
	// Control flow and traps (23-28)
	// ========================================================================

	OpJump      // goto <target>
	OpJumpIf    // goto <target> if acc is true
	OpJumpIfNot // goto <target> if acc is not true
	OpTrap      // install handler at <target>, pushes a handler frame
	OpEndTrap   // remove the innermost handler frame
	OpRet       // return acc, discarding <n> stack slots

	// ========================================================================
	// Constructors (29-30)
	// ========================================================================

	OpMakeEnv   // bind <n> stacked values as the environment of acc
	OpMakeArray // build an array from <n> stacked values and acc

	// ========================================================================
	// Unary tests (31-33)
	// ========================================================================

	OpBool
	OpIsNull
	OpIsNotNull

	// ========================================================================
	// Binary arithmetic, bitwise and comparison (34-50)
	// ========================================================================

	OpAdd
	OpSub
	OpMult
	OpDiv
	OpMod
	OpShl
	OpShr
	OpUShr
	OpOr
	OpAnd
	OpXor
	OpEq
	OpNeq
	OpGt
	OpGte
	OpLt
	OpLte

	// ========================================================================
	// Miscellaneous (51-64)
	// ========================================================================

	OpNot
	OpTypeOf
	OpCompare
	OpHash
	OpNew
	OpJumpTable // dispatch on acc into the <n> Jump entries that follow
	OpApply     // partially apply acc to <n> stacked arguments
	OpFoldStack0
	OpFoldStack1
	OpFoldIndex0
	OpFoldIndex1
	OpPhysCompare
	OpTailCall // call acc with <n> stacked arguments, reusing the frame
	OpLoop     // loop check point

	// ========================================================================
	// Catalogue version 2 (65-66)
	// ========================================================================

	OpMakeArray2 // build an array from <n> stacked values
	OpFoldInt32  // acc = <int32>

	// Last is one past the final real opcode. It sizes tables and is
	// never dispatched.
	Last
)

// Version identifies a revision of the opcode catalogue. Each revision
// extends the previous one at the end.
type Version uint16

const (
	V1 Version = 1 // FoldNull .. Loop
	V2 Version = 2 // adds MakeArray2 and FoldInt32

	Latest = V2
)

// Info is the metadata for one opcode.
type Info struct {
	Name   string  // Mnemonic, used for diagnostics and by the assembler
	Arity  int     // Immediate operand words following the opcode (0 or 1)
	Effect Effect  // Net change to operand stack depth
	Since  Version // Catalogue revision that introduced the opcode
}

// pop is the effect of opcodes that remove their own operand's worth of slots.
var pop = ParametricPop{}

// infoTable is indexed by opcode. Every code in [0, Last) must have exactly
// one entry.
var infoTable = [...]Info{
	// Folds
	OpFoldNull:    {"FOLD_NULL", 0, Fixed(0), V1},
	OpFoldTrue:    {"FOLD_TRUE", 0, Fixed(0), V1},
	OpFoldFalse:   {"FOLD_FALSE", 0, Fixed(0), V1},
	OpFoldThis:    {"FOLD_THIS", 0, Fixed(0), V1},
	OpFoldInt:     {"FOLD_INT", 1, Fixed(0), V1},
	OpFoldStack:   {"FOLD_STACK", 1, Fixed(0), V1},
	OpFoldGlobal:  {"FOLD_GLOBAL", 1, Fixed(0), V1},
	OpFoldEnv:     {"FOLD_ENV", 1, Fixed(0), V1},
	OpFoldField:   {"FOLD_FIELD", 1, Fixed(0), V1},
	OpFoldArray:   {"FOLD_ARRAY", 0, Fixed(-1), V1},
	OpFoldIndex:   {"FOLD_INDEX", 1, Fixed(0), V1},
	OpFoldBuiltin: {"FOLD_BUILTIN", 1, Fixed(0), V1},

	// Mutators
	OpSetStack:  {"SET_STACK", 1, Fixed(0), V1},
	OpSetGlobal: {"SET_GLOBAL", 1, Fixed(0), V1},
	OpSetEnv:    {"SET_ENV", 1, Fixed(0), V1},
	OpSetField:  {"SET_FIELD", 1, Fixed(-1), V1},
	OpSetArray:  {"SET_ARRAY", 0, Fixed(-2), V1},
	OpSetIndex:  {"SET_INDEX", 1, Fixed(-1), V1},
	OpSetThis:   {"SET_THIS", 0, Fixed(0), V1},

	// Stack and calls
	OpPush:    {"PUSH", 0, Fixed(1), V1},
	OpPop:     {"POP", 1, pop, V1},
	OpCall:    {"CALL", 1, pop, V1},
	OpObjCall: {"OBJ_CALL", 1, pop, V1},

	// Control flow and traps
	OpJump:      {"JUMP", 1, Fixed(0), V1},
	OpJumpIf:    {"JUMP_IF", 1, Fixed(0), V1},
	OpJumpIfNot: {"JUMP_IF_NOT", 1, Fixed(0), V1},
	OpTrap:      {"TRAP", 1, Fixed(TrapFrameSize), V1},
	OpEndTrap:   {"END_TRAP", 0, Fixed(-TrapFrameSize), V1},
	OpRet:       {"RET", 1, Fixed(0), V1},

	// Constructors
	OpMakeEnv:   {"MAKE_ENV", 1, pop, V1},
	OpMakeArray: {"MAKE_ARRAY", 1, pop, V1},

	// Unary tests
	OpBool:      {"BOOL", 0, Fixed(0), V1},
	OpIsNull:    {"IS_NULL", 0, Fixed(0), V1},
	OpIsNotNull: {"IS_NOT_NULL", 0, Fixed(0), V1},

	// Binary operators: pop one operand, combine with acc
	OpAdd:  {"ADD", 0, Fixed(-1), V1},
	OpSub:  {"SUB", 0, Fixed(-1), V1},
	OpMult: {"MULT", 0, Fixed(-1), V1},
	OpDiv:  {"DIV", 0, Fixed(-1), V1},
	OpMod:  {"MOD", 0, Fixed(-1), V1},
	OpShl:  {"SHL", 0, Fixed(-1), V1},
	OpShr:  {"SHR", 0, Fixed(-1), V1},
	OpUShr: {"USHR", 0, Fixed(-1), V1},
	OpOr:   {"OR", 0, Fixed(-1), V1},
	OpAnd:  {"AND", 0, Fixed(-1), V1},
	OpXor:  {"XOR", 0, Fixed(-1), V1},
	OpEq:   {"EQ", 0, Fixed(-1), V1},
	OpNeq:  {"NEQ", 0, Fixed(-1), V1},
	OpGt:   {"GT", 0, Fixed(-1), V1},
	OpGte:  {"GTE", 0, Fixed(-1), V1},
	OpLt:   {"LT", 0, Fixed(-1), V1},
	OpLte:  {"LTE", 0, Fixed(-1), V1},

	// Miscellaneous
	OpNot:         {"NOT", 0, Fixed(0), V1},
	OpTypeOf:      {"TYPE_OF", 0, Fixed(0), V1},
	OpCompare:     {"COMPARE", 0, Fixed(-1), V1},
	OpHash:        {"HASH", 0, Fixed(0), V1},
	OpNew:         {"NEW", 0, Fixed(0), V1},
	OpJumpTable:   {"JUMP_TABLE", 1, Fixed(0), V1},
	OpApply:       {"APPLY", 1, pop, V1},
	OpFoldStack0:  {"FOLD_STACK0", 0, Fixed(0), V1},
	OpFoldStack1:  {"FOLD_STACK1", 0, Fixed(0), V1},
	OpFoldIndex0:  {"FOLD_INDEX0", 0, Fixed(0), V1},
	OpFoldIndex1:  {"FOLD_INDEX1", 0, Fixed(0), V1},
	OpPhysCompare: {"PHYS_COMPARE", 0, Fixed(-1), V1},
	OpTailCall:    {"TAIL_CALL", 1, pop, V1},
	OpLoop:        {"LOOP", 0, Fixed(0), V1},

	// Version 2
	OpMakeArray2: {"MAKE_ARRAY2", 1, pop, V2},
	OpFoldInt32:  {"FOLD_INT32", 1, Fixed(0), V2},
}

// The table length must equal Last. Either conversion overflows, and the
// package fails to compile, when they differ.
const (
	_ = uint(len(infoTable) - int(Last))
	_ = uint(int(Last) - len(infoTable))
)

// TrapFrameSize is the number of stack slots a Trap handler frame occupies.
const TrapFrameSize = 6

// byName maps mnemonics back to opcodes for the assembler.
var byName map[string]Opcode

func init() {
	byName = make(map[string]Opcode, len(infoTable))
	prev := V1
	for i, info := range infoTable {
		op := Opcode(i)
		if info.Name == "" || info.Effect == nil {
			panic(fmt.Sprintf("opcode: code %d has no metadata", i))
		}
		if info.Arity != 0 && info.Arity != 1 {
			panic(fmt.Sprintf("opcode: %s has arity %d", info.Name, info.Arity))
		}
		if _, ok := info.Effect.(ParametricPop); ok && info.Arity != 1 {
			panic(fmt.Sprintf("opcode: %s pops its operand but takes no operand", info.Name))
		}
		if info.Since < prev || info.Since > Latest {
			panic(fmt.Sprintf("opcode: %s (version %d) breaks append-only ordering", info.Name, info.Since))
		}
		prev = info.Since
		if _, dup := byName[info.Name]; dup {
			panic(fmt.Sprintf("opcode: duplicate mnemonic %s", info.Name))
		}
		byName[info.Name] = op
	}
}

// GetInfo returns the metadata for an opcode and whether it is defined.
func GetInfo(op Opcode) (Info, bool) {
	if op >= Last {
		return Info{}, false
	}
	return infoTable[op], true
}

// String returns the mnemonic of an opcode.
func (op Opcode) String() string {
	if info, ok := GetInfo(op); ok {
		return info.Name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(op))
}

// Valid reports whether op is a real opcode.
func (op Opcode) Valid() bool {
	return op < Last
}

// InstructionLen returns the total width of an instruction in words.
func (op Opcode) InstructionLen() int {
	info, _ := GetInfo(op)
	return 1 + info.Arity
}

// IsBranch returns true if the opcode records a branch target.
func (op Opcode) IsBranch() bool {
	switch op {
	case OpJump, OpJumpIf, OpJumpIfNot, OpJumpTable:
		return true
	}
	return false
}

// IsTerminator returns true if control never falls through to the next
// instruction.
func (op Opcode) IsTerminator() bool {
	switch op {
	case OpJump, OpRet, OpTailCall:
		return true
	}
	return false
}

// IsFold returns true for opcodes that load a value into the accumulator.
func (op Opcode) IsFold() bool {
	switch op {
	case OpFoldNull, OpFoldTrue, OpFoldFalse, OpFoldThis, OpFoldInt,
		OpFoldStack, OpFoldGlobal, OpFoldEnv, OpFoldField, OpFoldArray,
		OpFoldIndex, OpFoldBuiltin, OpFoldStack0, OpFoldStack1,
		OpFoldIndex0, OpFoldIndex1, OpFoldInt32:
		return true
	}
	return false
}

// IsBinary returns true for two-operand arithmetic, bitwise and comparison
// opcodes.
func (op Opcode) IsBinary() bool {
	return (op >= OpAdd && op <= OpLte) || op == OpCompare || op == OpPhysCompare
}

// Parse returns the opcode with the given mnemonic.
func Parse(name string) (Opcode, bool) {
	op, ok := byName[name]
	return op, ok
}

// All returns every defined opcode in code order.
func All() []Opcode {
	ops := make([]Opcode, Last)
	for i := range ops {
		ops[i] = Opcode(i)
	}
	return ops
}
