package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/stackcheck/config"
	"github.com/chazu/stackcheck/pkg/asm"
	"github.com/chazu/stackcheck/pkg/bytecode"
	"github.com/chazu/stackcheck/pkg/opcode"
	"github.com/chazu/stackcheck/pkg/verify"
	"github.com/chazu/stackcheck/report"
	"github.com/chazu/stackcheck/server"
	"github.com/chazu/stackcheck/store"
)

// sourceUnit is one unit to check, from either assembly or a raw stream.
type sourceUnit struct {
	Name       string
	Code       bytecode.Stream
	EntryDepth *int // from .entry; nil keeps the configured depth
	Trailing   int  // bytes after the last whole word of a .bin stream
}

// loadUnits reads every path. Files ending in .bin are raw little-endian
// word streams holding one unit each; anything else is assembled.
func loadUnits(reg *opcode.Registry, paths []string) ([]sourceUnit, error) {
	var units []sourceUnit
	for _, path := range paths {
		if strings.EqualFold(filepath.Ext(path), ".bin") {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("cannot read %s: %w", path, err)
			}
			code := bytecode.Bytes(data)
			name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			units = append(units, sourceUnit{Name: name, Code: code, Trailing: code.Trailing()})
			continue
		}

		assembled, err := asm.AssembleFile(reg, path)
		if err != nil {
			return nil, err
		}
		for _, u := range assembled {
			units = append(units, sourceUnit{Name: u.Name, Code: u.Code, EntryDepth: u.EntryDepth})
		}
	}
	return units, nil
}

// checkLocal verifies units in-process, consulting and filling the cache
// when one is open.
func checkLocal(ctx context.Context, reg *opcode.Registry, cache *store.Store, cfg *config.Config, units []sourceUnit, workers int) ([]report.Report, error) {
	base := cfg.VerifyOptions()
	reports := make([]report.Report, len(units))
	hashes := make([]report.Hash, len(units))

	var (
		pending []verify.Unit
		slots   []int // pending[i] fills reports[slots[i]]
	)
	for i, u := range units {
		opts := verify.NewOptions(base...)
		if u.EntryDepth != nil {
			opts = verify.NewOptions(verify.WithOptions(opts), verify.WithEntryDepth(*u.EntryDepth))
		}

		h, err := report.HashUnit(reg, u.Code, opts)
		if err != nil {
			return nil, err
		}
		hashes[i] = h

		if cache != nil {
			cached, err := cache.Get(h)
			if err == nil {
				log.Debugf("%s: cache hit %s", u.Name, h.Short())
				cached.Unit = u.Name
				reports[i] = *cached
				continue
			}
			if !errors.Is(err, store.ErrNotFound) {
				log.Warningf("%s: cache lookup: %v", u.Name, err)
			}
		}

		pending = append(pending, verify.Unit{Name: u.Name, Code: u.Code, Options: []verify.Option{verify.WithOptions(opts)}})
		slots = append(slots, i)
	}

	results, err := verify.Batch(ctx, reg, pending, workers)
	if err != nil {
		return nil, err
	}
	for j, res := range results {
		i := slots[j]
		reports[i] = report.New(units[i].Name, hashes[i], res)
		if cache != nil {
			if err := cache.Put(&reports[i]); err != nil {
				log.Warningf("%s: cache store: %v", units[i].Name, err)
			}
		}
	}
	for i := range reports {
		markTrailing(units[i], &reports[i])
	}
	return reports, nil
}

// markTrailing fails a unit whose raw stream ends inside a word. The partial
// word is a truncated operand at the end of the stream; an earlier failure
// is kept since it comes first.
func markTrailing(u sourceUnit, r *report.Report) {
	if u.Trailing == 0 || !r.Result.OK {
		return
	}
	r.Result = report.FromResult(verify.Result{
		MaxDepth: r.Result.MaxDepth,
		Depth:    r.Result.Depth,
		Err: &verify.Error{
			Kind:   verify.ErrTruncatedOperand,
			Offset: u.Code.Len(),
			Op:     opcode.Last,
			Detail: fmt.Sprintf("%d trailing bytes after the last word", u.Trailing),
		},
	})
}

// checkRemote sends every unit to a stackcheck server in one request.
func checkRemote(ctx context.Context, baseURL string, units []sourceUnit) ([]report.Report, error) {
	req := &server.VerifyRequest{}
	for _, u := range units {
		req.Units = append(req.Units, server.UnitRequest{
			Name:       u.Name,
			Code:       bytecode.ReadWords(u.Code),
			EntryDepth: u.EntryDepth,
		})
	}

	resp, err := server.NewClient(nil, baseURL).Verify(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("remote verify: %w", err)
	}
	log.Infof("remote request %s: %d reports, %d cached", resp.RequestID, len(resp.Reports), resp.Cached)
	if len(resp.Reports) != len(units) {
		return nil, fmt.Errorf("remote verify: %d reports for %d units", len(resp.Reports), len(units))
	}
	for i := range resp.Reports {
		markTrailing(units[i], &resp.Reports[i])
	}
	return resp.Reports, nil
}
