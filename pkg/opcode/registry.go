package opcode

import "fmt"

// Registry answers metadata queries for one catalogue version. It is
// immutable, so a single Registry may be shared by any number of goroutines.
type Registry struct {
	version Version
	count   int
}

// NewRegistry returns a registry restricted to the opcodes that exist in
// the given catalogue version.
func NewRegistry(v Version) (*Registry, error) {
	if v < V1 || v > Latest {
		return nil, fmt.Errorf("opcode: unsupported catalogue version %d (latest is %d)", v, Latest)
	}
	return &Registry{version: v, count: CountFor(v)}, nil
}

// Default is the registry for the latest catalogue version.
var Default = &Registry{version: Latest, count: int(Last)}

// CountFor returns the terminal value for a catalogue version: one past the
// highest code that version defines.
func CountFor(v Version) int {
	n := 0
	for n < len(infoTable) && infoTable[n].Since <= v {
		n++
	}
	return n
}

// Version returns the catalogue version the registry serves.
func (r *Registry) Version() Version {
	return r.version
}

// Count returns the terminal sentinel value for this registry.
func (r *Registry) Count() int {
	return r.count
}

// Lookup returns the metadata for a numeric code. Codes outside
// [0, Count()) are not found.
func (r *Registry) Lookup(code int) (Info, bool) {
	if code < 0 || code >= r.count {
		return Info{}, false
	}
	return infoTable[code], true
}

// Mnemonic returns the mnemonic for code, or "" if it is not defined.
func (r *Registry) Mnemonic(code int) string {
	info, _ := r.Lookup(code)
	return info.Name
}

// Arity returns the immediate operand count for code.
func (r *Registry) Arity(code int) (int, bool) {
	info, ok := r.Lookup(code)
	return info.Arity, ok
}

// EffectOf returns the declared stack effect for code.
func (r *Registry) EffectOf(code int) (Effect, bool) {
	info, ok := r.Lookup(code)
	return info.Effect, ok
}

// Opcodes returns the opcodes available in this registry in code order.
func (r *Registry) Opcodes() []Opcode {
	return All()[:r.count]
}
