package report

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/chazu/stackcheck/pkg/opcode"
)

const (
	ansiReset = "\x1b[0m"
	ansiRed   = "\x1b[31m"
	ansiGreen = "\x1b[32m"
	ansiDim   = "\x1b[2m"
)

// ColorEnabled reports whether f is a terminal that should get colored
// output. NO_COLOR and TERM=dumb turn color off.
func ColorEnabled(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Write prints one line per report followed by a summary line. It returns
// the number of failed units.
func Write(w io.Writer, reports []Report, color bool) (int, error) {
	paint := func(code, s string) string {
		if !color {
			return s
		}
		return code + s + ansiReset
	}

	failed := 0
	for _, r := range reports {
		res := r.Result
		hash := paint(ansiDim, r.Hash.Short())
		if res.OK {
			if _, err := fmt.Fprintf(w, "%s  %s %s max=%d depth=%d\n",
				paint(ansiGreen, "ok  "), r.Unit, hash, res.MaxDepth, res.Depth); err != nil {
				return failed, err
			}
			continue
		}

		failed++
		if _, err := fmt.Fprintf(w, "%s  %s %s %s\n",
			paint(ansiRed, "FAIL"), r.Unit, hash, describe(res.Failure)); err != nil {
			return failed, err
		}
	}

	summary := fmt.Sprintf("%d units, %d failed", len(reports), failed)
	if failed > 0 {
		summary = paint(ansiRed, summary)
	}
	_, err := fmt.Fprintln(w, summary)
	return failed, err
}

func describe(f *Failure) string {
	if f == nil {
		return "failed"
	}
	s := fmt.Sprintf("%04d %s: %s", f.Offset, opcode.Opcode(f.Op), f.Kind)
	if f.Detail != "" {
		s += ": " + f.Detail
	}
	return s
}
