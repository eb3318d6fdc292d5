// Package config handles stackcheck.toml configuration.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/BurntSushi/toml"

	"github.com/chazu/stackcheck/pkg/opcode"
	"github.com/chazu/stackcheck/pkg/verify"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "stackcheck.toml"

//go:embed schema.cue
var schemaSource string

// Config represents a stackcheck.toml configuration.
type Config struct {
	Verify VerifyConfig `toml:"verify"`
	Server ServerConfig `toml:"server"`
	Cache  CacheConfig  `toml:"cache"`
	Log    LogConfig    `toml:"log"`

	// Dir is the directory containing the stackcheck.toml file (set at load time).
	Dir string `toml:"-"`
}

// VerifyConfig holds the defaults for every verification pass.
type VerifyConfig struct {
	EntryDepth int   `toml:"entry-depth"`
	ExitDepth  *int  `toml:"exit-depth"`
	MaxOperand int64 `toml:"max-operand"`
	Catalogue  int   `toml:"catalogue-version"`
}

// ServerConfig configures the verification service.
type ServerConfig struct {
	Addr    string `toml:"addr"`
	Workers int    `toml:"workers"`
}

// CacheConfig configures the result cache.
type CacheConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the configuration used when no stackcheck.toml exists.
func Default() *Config {
	return &Config{
		Verify: VerifyConfig{
			MaxOperand: verify.DefaultMaxOperand,
			Catalogue:  int(opcode.Latest),
		},
		Server: ServerConfig{
			Addr: ":4567",
		},
		Cache: CacheConfig{
			Path: filepath.Join(".stackcheck", "cache.db"),
		},
	}
}

// Load parses a stackcheck.toml file from the given directory. Keys missing
// from the file keep their Default values.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	if err := toml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a stackcheck.toml file,
// then loads and returns it. Returns Default() if none is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return Default(), nil
		}
		dir = parent
	}
}

// Validate checks the configuration against the embedded CUE schema.
func (c *Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(fmt.Sprintf("%s\n#Latest: %d\n", schemaSource, opcode.Latest))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("schema: %w", err)
	}

	data := ctx.Encode(c.document())
	if err := data.Err(); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return schema.Unify(data).Validate(cue.Concrete(true))
}

// document mirrors the TOML layout for validation.
func (c *Config) document() map[string]any {
	v := map[string]any{
		"entry-depth":       c.Verify.EntryDepth,
		"max-operand":       c.Verify.MaxOperand,
		"catalogue-version": c.Verify.Catalogue,
	}
	if c.Verify.ExitDepth != nil {
		v["exit-depth"] = *c.Verify.ExitDepth
	}
	l := map[string]any{"verbosity": c.Log.Verbosity}
	if c.Log.File != "" {
		l["file"] = c.Log.File
	}
	return map[string]any{
		"verify": v,
		"server": map[string]any{"addr": c.Server.Addr, "workers": c.Server.Workers},
		"cache":  map[string]any{"enabled": c.Cache.Enabled, "path": c.Cache.Path},
		"log":    l,
	}
}

// Registry returns the opcode registry for the configured catalogue version.
func (c *Config) Registry() (*opcode.Registry, error) {
	return opcode.NewRegistry(opcode.Version(c.Verify.Catalogue))
}

// VerifyOptions returns the configured verification defaults.
func (c *Config) VerifyOptions() []verify.Option {
	opts := []verify.Option{
		verify.WithEntryDepth(c.Verify.EntryDepth),
		verify.WithMaxOperand(c.Verify.MaxOperand),
	}
	if c.Verify.ExitDepth != nil {
		opts = append(opts, verify.WithExitDepth(*c.Verify.ExitDepth))
	}
	return opts
}

// CachePath returns the cache database path, resolved against Dir when
// relative, or "" if the cache is disabled.
func (c *Config) CachePath() string {
	if !c.Cache.Enabled {
		return ""
	}
	if filepath.IsAbs(c.Cache.Path) || c.Dir == "" {
		return c.Cache.Path
	}
	return filepath.Join(c.Dir, c.Cache.Path)
}

// LogFile returns the log file path, or nil for stderr.
func (c *Config) LogFile() *string {
	if c.Log.File == "" {
		return nil
	}
	path := c.Log.File
	if !filepath.IsAbs(path) && c.Dir != "" {
		path = filepath.Join(c.Dir, path)
	}
	return &path
}
