// stackcheck CLI - assembles and verifies stack VM bytecode
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/chazu/stackcheck/config"
	"github.com/chazu/stackcheck/pkg/opcode"
	"github.com/chazu/stackcheck/report"
	"github.com/chazu/stackcheck/server"
	"github.com/chazu/stackcheck/store"

	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("stackcheck.cli")

func main() {
	verbose := flag.Bool("v", false, "Verbose output")
	configDir := flag.String("config", "", "Directory containing stackcheck.toml (default: search upwards from the working directory)")
	format := flag.String("format", "text", "Report format: text or cbor")
	workers := flag.Int("workers", 0, "Verification goroutines (default: from config, then GOMAXPROCS)")
	noCache := flag.Bool("no-cache", false, "Ignore the result cache even if the config enables it")
	remote := flag.String("remote", "", "Verify on a stackcheck server at this URL instead of locally")
	serveMode := flag.Bool("serve", false, "Start the verification server (Connect, application/cbor)")
	servePort := flag.Int("port", 0, "Server port (used with -serve; default: from config)")
	lspMode := flag.Bool("lsp", false, "Run the assembly language server on stdio")
	listOpcodes := flag.Bool("opcodes", false, "List the opcode catalogue and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: stackcheck [options] [files...]\n\n")
		fmt.Fprintf(os.Stderr, "Assembles .sasm files (or reads raw little-endian .bin word streams) and verifies\n")
		fmt.Fprintf(os.Stderr, "the stack discipline of every unit.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  stackcheck prog.sasm                 # Verify every unit in prog.sasm\n")
		fmt.Fprintf(os.Stderr, "  stackcheck -v -workers 4 lib/*.sasm  # Debug logging, four workers\n")
		fmt.Fprintf(os.Stderr, "  stackcheck -format cbor a.bin > r    # Write CBOR reports\n")
		fmt.Fprintf(os.Stderr, "  stackcheck -opcodes                  # Print the catalogue\n")
		fmt.Fprintf(os.Stderr, "\nServers:\n")
		fmt.Fprintf(os.Stderr, "  stackcheck -serve -port 8080         # Verification server on :8080\n")
		fmt.Fprintf(os.Stderr, "  stackcheck -remote http://host:4567 prog.sasm\n")
		fmt.Fprintf(os.Stderr, "  stackcheck -lsp                      # Language server for editors\n")
	}
	flag.Parse()

	cfg, err := loadConfig(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	verbosity := cfg.Log.Verbosity
	if *verbose {
		verbosity = 2
	}
	commonlog.Configure(verbosity, cfg.LogFile())
	if cfg.Dir != "" {
		log.Debugf("loaded %s", filepath.Join(cfg.Dir, config.FileName))
	}

	reg, err := cfg.Registry()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *workers == 0 {
		*workers = cfg.Server.Workers
	}

	if *listOpcodes {
		printOpcodes(reg)
		os.Exit(0)
	}

	// Start language server if requested
	if *lspMode {
		if err := server.NewLSP(reg, cfg.VerifyOptions()...).Run(); err != nil {
			fmt.Fprintf(os.Stderr, "LSP error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	var cache *store.Store
	if path := cfg.CachePath(); path != "" && !*noCache {
		cache, err = store.Open(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer cache.Close()
	}

	// Start verification server if requested
	if *serveMode {
		addr := cfg.Server.Addr
		if *servePort != 0 {
			addr = fmt.Sprintf(":%d", *servePort)
		}
		opts := []server.ServerOption{
			server.WithWorkers(*workers),
			server.WithVerifyOptions(cfg.VerifyOptions()...),
		}
		if cache != nil {
			opts = append(opts, server.WithCache(cache))
		}
		srv := server.New(reg, opts...)
		defer srv.Stop()
		if err := srv.ListenAndServe(addr); err != nil {
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	paths := flag.Args()
	if len(paths) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	units, err := loadUnits(reg, paths)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	log.Infof("loaded %d units from %d files", len(units), len(paths))

	var reports []report.Report
	if *remote != "" {
		reports, err = checkRemote(ctx, *remote, units)
	} else {
		reports, err = checkLocal(ctx, reg, cache, cfg, units, *workers)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	failed, err := writeReports(os.Stdout, reports, *format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// loadConfig loads dir/stackcheck.toml, or searches upwards from the
// working directory when dir is empty.
func loadConfig(dir string) (*config.Config, error) {
	if dir != "" {
		return config.Load(dir)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return config.FindAndLoad(wd)
}

// printOpcodes lists the catalogue as a table.
func printOpcodes(reg *opcode.Registry) {
	fmt.Printf("; catalogue v%d, %d opcodes\n", reg.Version(), reg.Count())
	fmt.Printf("%4s  %-14s %5s  %s\n", "CODE", "MNEMONIC", "ARITY", "EFFECT")
	for _, op := range reg.Opcodes() {
		info, _ := reg.Lookup(int(op))
		fmt.Printf("%4d  %-14s %5d  %s\n", op, info.Name, info.Arity, info.Effect)
	}
}

// writeReports prints reports in the requested format and returns how many
// units failed.
func writeReports(out *os.File, reports []report.Report, format string) (int, error) {
	switch strings.ToLower(format) {
	case "text":
		return report.Write(out, reports, report.ColorEnabled(out))
	case "cbor":
		data, err := report.MarshalReports(reports)
		if err != nil {
			return 0, err
		}
		if _, err := out.Write(data); err != nil {
			return 0, err
		}
		failed := 0
		for _, r := range reports {
			if !r.Result.OK {
				failed++
			}
		}
		return failed, nil
	default:
		return 0, fmt.Errorf("unknown format %q (want text or cbor)", format)
	}
}
