// Package report is the serialized form of verification results, shared
// by the CLI, the result cache and the verification service.
package report

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/chazu/stackcheck/pkg/bytecode"
	"github.com/chazu/stackcheck/pkg/opcode"
	"github.com/chazu/stackcheck/pkg/verify"
)

// cborEncMode uses canonical mode so equal reports encode identically.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("report: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Hash identifies a unit's code together with everything that affects how
// it verifies.
type Hash [32]byte

func (h Hash) String() string {
	return fmt.Sprintf("%x", h[:])
}

// Short returns the first 8 hex digits.
func (h Hash) Short() string {
	return fmt.Sprintf("%x", h[:4])
}

// Report is the outcome of verifying one named unit.
type Report struct {
	ID     string `cbor:"1,keyasint" json:"id"`
	Unit   string `cbor:"2,keyasint" json:"unit"`
	Hash   Hash   `cbor:"3,keyasint" json:"hash"`
	Result Result `cbor:"4,keyasint" json:"result"`
}

// Result is the wire form of verify.Result.
type Result struct {
	MaxDepth int      `cbor:"1,keyasint" json:"maxDepth"`
	Depth    int      `cbor:"2,keyasint" json:"depth"`
	OK       bool     `cbor:"3,keyasint" json:"ok"`
	Failure  *Failure `cbor:"4,keyasint,omitempty" json:"failure,omitempty"`
}

// Failure is the wire form of *verify.Error. Kind is the stable kind name.
type Failure struct {
	Kind   string `cbor:"1,keyasint" json:"kind"`
	Offset int    `cbor:"2,keyasint" json:"offset"`
	Op     uint8  `cbor:"3,keyasint" json:"op"`
	Detail string `cbor:"4,keyasint,omitempty" json:"detail,omitempty"`
}

// New builds a report with a fresh ID.
func New(unit string, hash Hash, res verify.Result) Report {
	return Report{
		ID:     uuid.NewString(),
		Unit:   unit,
		Hash:   hash,
		Result: FromResult(res),
	}
}

// FromResult converts a verification result to its wire form.
func FromResult(res verify.Result) Result {
	out := Result{MaxDepth: res.MaxDepth, Depth: res.Depth, OK: res.OK}
	if res.Err != nil {
		out.Failure = &Failure{
			Kind:   res.Err.KindName(),
			Offset: res.Err.Offset,
			Op:     uint8(res.Err.Op),
			Detail: res.Err.Detail,
		}
	}
	return out
}

// Verify converts back to a verify.Result. Unknown kind names are an error.
func (r Result) Verify() (verify.Result, error) {
	out := verify.Result{MaxDepth: r.MaxDepth, Depth: r.Depth, OK: r.OK}
	if r.Failure == nil {
		return out, nil
	}
	kind, ok := verify.KindByName(r.Failure.Kind)
	if !ok {
		return out, fmt.Errorf("report: unknown failure kind %q", r.Failure.Kind)
	}
	out.Err = &verify.Error{
		Kind:   kind,
		Offset: r.Failure.Offset,
		Op:     opcode.Opcode(r.Failure.Op),
		Detail: r.Failure.Detail,
	}
	return out, nil
}

// HashUnit hashes code with the catalogue version and options that
// verification depends on. Code is hashed as little-endian words, so Words
// and Bytes forms of the same stream hash alike.
func HashUnit(reg *opcode.Registry, code bytecode.Stream, opts verify.Options) (Hash, error) {
	if reg == nil {
		reg = opcode.Default
	}
	optBytes, err := cborEncMode.Marshal(opts)
	if err != nil {
		return Hash{}, fmt.Errorf("report: hash options: %w", err)
	}

	h := sha256.New()
	var word [bytecode.WordSize]byte
	binary.LittleEndian.PutUint16(word[:2], uint16(reg.Version()))
	h.Write(word[:2])
	h.Write(optBytes)
	for i := 0; i < code.Len(); i++ {
		binary.LittleEndian.PutUint32(word[:], uint32(code.Word(i)))
		h.Write(word[:])
	}

	var out Hash
	copy(out[:], h.Sum(nil))
	return out, nil
}

// MarshalReport serializes a Report to CBOR bytes.
func MarshalReport(r *Report) ([]byte, error) {
	return cborEncMode.Marshal(r)
}

// UnmarshalReport deserializes a Report from CBOR bytes.
func UnmarshalReport(data []byte) (*Report, error) {
	var r Report
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("report: unmarshal report: %w", err)
	}
	return &r, nil
}

// MarshalReports serializes a list of reports to CBOR bytes.
func MarshalReports(rs []Report) ([]byte, error) {
	return cborEncMode.Marshal(rs)
}

// UnmarshalReports deserializes a list of reports from CBOR bytes.
func UnmarshalReports(data []byte) ([]Report, error) {
	var rs []Report
	if err := cbor.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("report: unmarshal reports: %w", err)
	}
	return rs, nil
}
