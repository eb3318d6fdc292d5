package report

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/chazu/stackcheck/pkg/bytecode"
	"github.com/chazu/stackcheck/pkg/opcode"
	"github.com/chazu/stackcheck/pkg/verify"
)

func underflowUnit() bytecode.Words {
	return bytecode.Words{int32(opcode.OpPop), 1, int32(opcode.OpRet), 0}
}

func TestFromResultRoundTrip(t *testing.T) {
	res := verify.VerifyStream(nil, underflowUnit())
	if res.OK {
		t.Fatal("expected failure")
	}

	back, err := FromResult(res).Verify()
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !errors.Is(back.Err, verify.ErrStackUnderflow) {
		t.Errorf("kind = %v, want stack underflow", back.Err.Kind)
	}
	if back.Err.Offset != 0 || back.Err.Op != opcode.OpPop {
		t.Errorf("err = %v", back.Err)
	}
	if back.Err.Error() != res.Err.Error() {
		t.Errorf("message %q, want %q", back.Err.Error(), res.Err.Error())
	}
}

func TestVerifyUnknownKind(t *testing.T) {
	r := Result{Failure: &Failure{Kind: "Gremlins"}}
	if _, err := r.Verify(); err == nil {
		t.Error("unknown kind accepted")
	}
}

func TestMarshalReport(t *testing.T) {
	code := underflowUnit()
	h, err := HashUnit(nil, code, verify.NewOptions())
	if err != nil {
		t.Fatalf("HashUnit: %v", err)
	}
	r := New("main", h, verify.VerifyStream(nil, code))
	if r.ID == "" {
		t.Error("report has no ID")
	}

	data, err := MarshalReport(&r)
	if err != nil {
		t.Fatalf("MarshalReport: %v", err)
	}
	again, err := MarshalReport(&r)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, again) {
		t.Error("encoding is not deterministic")
	}

	got, err := UnmarshalReport(data)
	if err != nil {
		t.Fatalf("UnmarshalReport: %v", err)
	}
	if got.ID != r.ID || got.Unit != "main" || got.Hash != h {
		t.Errorf("got %+v", got)
	}
	if got.Result.Failure == nil || got.Result.Failure.Kind != "StackUnderflow" {
		t.Errorf("failure = %+v", got.Result.Failure)
	}

	if _, err := UnmarshalReport([]byte{0xff}); err == nil {
		t.Error("garbage accepted")
	}
}

func TestMarshalReports(t *testing.T) {
	rs := []Report{
		New("a", Hash{1}, verify.Result{OK: true, MaxDepth: 2, Depth: 1}),
		New("b", Hash{2}, verify.VerifyStream(nil, underflowUnit())),
	}
	data, err := MarshalReports(rs)
	if err != nil {
		t.Fatalf("MarshalReports: %v", err)
	}
	got, err := UnmarshalReports(data)
	if err != nil {
		t.Fatalf("UnmarshalReports: %v", err)
	}
	if len(got) != 2 || got[0].Unit != "a" || !got[0].Result.OK || got[1].Result.OK {
		t.Errorf("got %+v", got)
	}
}

func TestHashUnit(t *testing.T) {
	code := underflowUnit()
	base, _ := HashUnit(nil, code, verify.NewOptions())

	sameBytes, _ := HashUnit(nil, bytecode.EncodeWords(code), verify.NewOptions())
	if sameBytes != base {
		t.Error("Words and Bytes forms hash differently")
	}

	otherOpts, _ := HashUnit(nil, code, verify.NewOptions(verify.WithEntryDepth(1)))
	if otherOpts == base {
		t.Error("entry depth does not affect the hash")
	}

	v1, _ := opcode.NewRegistry(opcode.V1)
	otherVersion, _ := HashUnit(v1, code, verify.NewOptions())
	if otherVersion == base {
		t.Error("catalogue version does not affect the hash")
	}

	otherCode, _ := HashUnit(nil, code[:2], verify.NewOptions())
	if otherCode == base {
		t.Error("code does not affect the hash")
	}
}

func TestWrite(t *testing.T) {
	rs := []Report{
		New("good", Hash{0xab, 0xcd, 0xef, 0x01}, verify.Result{OK: true, MaxDepth: 2, Depth: 1}),
		New("bad", Hash{}, verify.VerifyStream(nil, underflowUnit())),
	}

	var buf bytes.Buffer
	failed, err := Write(&buf, rs, false)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}

	out := buf.String()
	for _, want := range []string{
		"ok    good abcdef01 max=2 depth=1",
		"FAIL  bad 00000000 0000 POP: StackUnderflow",
		"2 units, 1 failed",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("plain output contains escape codes")
	}

	buf.Reset()
	if _, err := Write(&buf, rs, true); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), ansiRed+"FAIL"+ansiReset) {
		t.Errorf("colored output missing red FAIL:\n%q", buf.String())
	}
}
