// Package verify checks that a unit of bytecode keeps the operand stack
// consistent before it is run.
//
// Verification is a single linear pass. Each instruction's effect is
// applied to an abstract depth starting at the entry depth. Branches record
// the depth they carry to their target, and every path into an instruction
// must agree on it. Trap and EndTrap must pair up. The pass stops at the
// first failure and reports it as an *Error with a word offset and a kind
// that errors.Is matches against the Err* sentinels.
//
// Batch runs many units in parallel.
package verify
