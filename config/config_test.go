package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/stackcheck/pkg/opcode"
	"github.com/chazu/stackcheck/pkg/verify"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[verify]
entry-depth = 2
exit-depth = 1
max-operand = 255
catalogue-version = 1

[server]
addr = "localhost:9000"
workers = 8

[cache]
enabled = true
path = "results.db"

[log]
verbosity = 1
file = "stackcheck.log"
`)

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if c.Verify.EntryDepth != 2 {
		t.Errorf("entry-depth = %d, want 2", c.Verify.EntryDepth)
	}
	if c.Verify.ExitDepth == nil || *c.Verify.ExitDepth != 1 {
		t.Errorf("exit-depth = %v, want 1", c.Verify.ExitDepth)
	}
	if c.Verify.MaxOperand != 255 {
		t.Errorf("max-operand = %d, want 255", c.Verify.MaxOperand)
	}
	if c.Server.Addr != "localhost:9000" || c.Server.Workers != 8 {
		t.Errorf("server = %+v", c.Server)
	}
	if got, want := c.CachePath(), filepath.Join(c.Dir, "results.db"); got != want {
		t.Errorf("CachePath = %q, want %q", got, want)
	}
	if p := c.LogFile(); p == nil || *p != filepath.Join(c.Dir, "stackcheck.log") {
		t.Errorf("LogFile = %v", p)
	}

	reg, err := c.Registry()
	if err != nil {
		t.Fatalf("Registry: %v", err)
	}
	if reg.Version() != opcode.V1 {
		t.Errorf("registry version = %d, want 1", reg.Version())
	}

	opts := verify.NewOptions(c.VerifyOptions()...)
	if opts.EntryDepth != 2 || opts.MaxOperand != 255 || opts.ExitDepth == nil || *opts.ExitDepth != 1 {
		t.Errorf("verify options = %+v", opts)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[server]
workers = 2
`)

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if c.Verify.MaxOperand != verify.DefaultMaxOperand {
		t.Errorf("max-operand = %d, want default", c.Verify.MaxOperand)
	}
	if c.Verify.Catalogue != int(opcode.Latest) {
		t.Errorf("catalogue-version = %d, want latest", c.Verify.Catalogue)
	}
	if c.Verify.ExitDepth != nil {
		t.Errorf("exit-depth = %d, want unset", *c.Verify.ExitDepth)
	}
	if c.Server.Addr != ":4567" {
		t.Errorf("addr = %q, want :4567", c.Server.Addr)
	}
	if c.CachePath() != "" {
		t.Errorf("CachePath = %q, want disabled", c.CachePath())
	}
	if c.LogFile() != nil {
		t.Errorf("LogFile = %q, want nil", *c.LogFile())
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"negative entry depth", "[verify]\nentry-depth = -1\n"},
		{"negative exit depth", "[verify]\nexit-depth = -3\n"},
		{"future catalogue", "[verify]\ncatalogue-version = 99\n"},
		{"empty addr", "[server]\naddr = \"\"\n"},
		{"negative workers", "[server]\nworkers = -2\n"},
		{"cache without path", "[cache]\nenabled = true\npath = \"\"\n"},
		{"verbosity out of range", "[log]\nverbosity = 9\n"},
		{"bad toml", "[verify\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, tt.content)
			if _, err := Load(dir); err == nil {
				t.Error("Load succeeded, want error")
			}
		})
	}
}

func TestLoadConfigMissing(t *testing.T) {
	_, err := Load(t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "cannot read") {
		t.Errorf("err = %v, want read error", err)
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "[verify]\nentry-depth = 4\n")

	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	c, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if c.Verify.EntryDepth != 4 {
		t.Errorf("entry-depth = %d, want 4", c.Verify.EntryDepth)
	}
	abs, _ := filepath.Abs(root)
	if c.Dir != abs {
		t.Errorf("Dir = %q, want %q", c.Dir, abs)
	}
}

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}
