package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/stackcheck/config"
	"github.com/chazu/stackcheck/pkg/bytecode"
	"github.com/chazu/stackcheck/pkg/opcode"
	"github.com/chazu/stackcheck/report"
	"github.com/chazu/stackcheck/store"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadUnits(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "prog.sasm", []byte("PUSH\nRET 0\n.unit second\n.entry 2\nPOP 2\n"))
	raw := bytecode.EncodeWords([]int32{int32(opcode.OpPush), int32(opcode.OpPop), 1})
	bin := writeFile(t, dir, "raw.bin", append(raw, 0xAA))

	units, err := loadUnits(opcode.Default, []string{src, bin})
	if err != nil {
		t.Fatalf("loadUnits: %v", err)
	}

	var names []string
	for _, u := range units {
		names = append(names, u.Name)
	}
	if got := strings.Join(names, ","); got != "prog,second,raw" {
		t.Fatalf("units = %s", got)
	}
	if units[0].EntryDepth != nil {
		t.Errorf("prog EntryDepth = %d, want unset", *units[0].EntryDepth)
	}
	if units[1].EntryDepth == nil || *units[1].EntryDepth != 2 {
		t.Errorf("second EntryDepth = %v, want 2", units[1].EntryDepth)
	}
	if units[2].Code.Len() != 3 || units[2].Trailing != 1 {
		t.Errorf("raw Len/Trailing = %d/%d, want 3/1", units[2].Code.Len(), units[2].Trailing)
	}
}

func TestCheckLocalTrailingBytes(t *testing.T) {
	dir := t.TempDir()
	raw := bytecode.EncodeWords([]int32{int32(opcode.OpPush), int32(opcode.OpPop), 1})
	whole := writeFile(t, dir, "whole.bin", raw)
	partial := writeFile(t, dir, "partial.bin", append(raw, 0xAA, 0xBB))
	bad := writeFile(t, dir, "bad.bin", append(bytecode.EncodeWords([]int32{int32(opcode.OpPop), 1}), 0xAA))

	units, err := loadUnits(opcode.Default, []string{whole, partial, bad})
	if err != nil {
		t.Fatal(err)
	}
	reports, err := checkLocal(context.Background(), opcode.Default, nil, config.Default(), units, 1)
	if err != nil {
		t.Fatalf("checkLocal: %v", err)
	}

	if !reports[0].Result.OK {
		t.Errorf("whole = %+v", reports[0].Result.Failure)
	}
	f := reports[1].Result.Failure
	if reports[1].Result.OK || f == nil || f.Kind != "TruncatedOperand" || f.Offset != 3 {
		t.Errorf("partial = %+v, want TruncatedOperand at 3", reports[1].Result)
	}
	f = reports[2].Result.Failure
	if f == nil || f.Kind != "StackUnderflow" || f.Offset != 0 {
		t.Errorf("bad = %+v, want the earlier StackUnderflow at 0", reports[2].Result)
	}
}

func TestCheckLocalEntryDepth(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, config.FileName, []byte("[verify]\nentry-depth = 1\n"))
	src := writeFile(t, dir, "entry.sasm", []byte(".unit inherit\nPOP 1\n.unit zero\n.entry 0\nPOP 1\n"))

	cfg, err := loadConfig(dir)
	if err != nil {
		t.Fatal(err)
	}
	units, err := loadUnits(opcode.Default, []string{src})
	if err != nil {
		t.Fatal(err)
	}
	reports, err := checkLocal(context.Background(), opcode.Default, nil, cfg, units, 1)
	if err != nil {
		t.Fatalf("checkLocal: %v", err)
	}
	if !reports[0].Result.OK {
		t.Errorf("inherit = %+v, want the configured entry depth", reports[0].Result.Failure)
	}
	if reports[1].Result.OK || reports[1].Result.Failure.Kind != "StackUnderflow" {
		t.Errorf("zero = %+v, want .entry 0 to override the config", reports[1].Result)
	}
}

func TestLoadUnitsAssemblyError(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "bad.sasm", []byte("PUSH\nFROB\n"))

	_, err := loadUnits(opcode.Default, []string{src})
	if err == nil {
		t.Fatal("expected an assembly error")
	}
	if !strings.Contains(err.Error(), "bad.sasm:2:") {
		t.Errorf("error = %v, want file and line", err)
	}
}

func TestCheckLocal(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "mixed.sasm", []byte(".unit good\nPUSH\nPUSH\nADD\n.unit bad\nPOP 1\n.unit deep\n.entry 1\nPOP 1\n"))

	units, err := loadUnits(opcode.Default, []string{src})
	if err != nil {
		t.Fatal(err)
	}
	reports, err := checkLocal(context.Background(), opcode.Default, nil, config.Default(), units, 2)
	if err != nil {
		t.Fatalf("checkLocal: %v", err)
	}
	if len(reports) != 3 {
		t.Fatalf("got %d reports", len(reports))
	}
	if !reports[0].Result.OK || reports[0].Result.MaxDepth != 2 {
		t.Errorf("good = %+v", reports[0].Result)
	}
	if reports[1].Result.OK || reports[1].Result.Failure.Kind != "StackUnderflow" {
		t.Errorf("bad = %+v", reports[1].Result)
	}
	if !reports[2].Result.OK {
		t.Errorf("deep ignored .entry: %+v", reports[2].Result.Failure)
	}
}

func TestCheckLocalCache(t *testing.T) {
	cache, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer cache.Close()

	units := []sourceUnit{{Name: "a", Code: bytecode.Words{int32(opcode.OpPush)}}}
	cfg := config.Default()

	first, err := checkLocal(context.Background(), opcode.Default, cache, cfg, units, 1)
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := cache.Len(); n != 1 {
		t.Fatalf("cache Len = %d, want 1", n)
	}

	units[0].Name = "b"
	second, err := checkLocal(context.Background(), opcode.Default, cache, cfg, units, 1)
	if err != nil {
		t.Fatal(err)
	}
	if second[0].ID != first[0].ID || second[0].Unit != "b" {
		t.Errorf("second = %+v, want cached report renamed to b", second[0])
	}
}

func TestWriteReports(t *testing.T) {
	units := []sourceUnit{
		{Name: "ok", Code: bytecode.Words{int32(opcode.OpPush)}},
		{Name: "fail", Code: bytecode.Words{int32(opcode.OpPop), 1}},
	}
	reports, err := checkLocal(context.Background(), opcode.Default, nil, config.Default(), units, 1)
	if err != nil {
		t.Fatal(err)
	}

	out, err := os.CreateTemp(t.TempDir(), "out")
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()

	failed, err := writeReports(out, reports, "text")
	if err != nil || failed != 1 {
		t.Fatalf("text: failed = %d, err = %v", failed, err)
	}
	text, _ := os.ReadFile(out.Name())
	if !strings.Contains(string(text), "2 units, 1 failed") {
		t.Errorf("text output = %s", text)
	}

	cborOut, err := os.CreateTemp(t.TempDir(), "cbor")
	if err != nil {
		t.Fatal(err)
	}
	defer cborOut.Close()
	if failed, err := writeReports(cborOut, reports, "CBOR"); err != nil || failed != 1 {
		t.Fatalf("cbor: failed = %d, err = %v", failed, err)
	}
	data, _ := os.ReadFile(cborOut.Name())
	decoded, err := report.UnmarshalReports(data)
	if err != nil {
		t.Fatalf("UnmarshalReports: %v", err)
	}
	if len(decoded) != 2 || decoded[1].Unit != "fail" {
		t.Errorf("decoded = %+v", decoded)
	}

	if _, err := writeReports(out, reports, "yaml"); err == nil {
		t.Error("unknown format accepted")
	}
}

func TestLoadConfigDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, config.FileName, []byte("[verify]\ncatalogue-version = 1\n"))

	cfg, err := loadConfig(dir)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	reg, err := cfg.Registry()
	if err != nil {
		t.Fatal(err)
	}
	if reg.Version() != opcode.V1 {
		t.Errorf("Version = %d, want 1", reg.Version())
	}
}
