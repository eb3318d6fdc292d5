package verify

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/chazu/stackcheck/pkg/bytecode"
	"github.com/chazu/stackcheck/pkg/opcode"
)

// Unit is one independently verifiable body of code.
type Unit struct {
	Name    string
	Code    bytecode.Stream
	Options []Option // Applied after the batch-wide options
}

// Batch verifies units in parallel on up to workers goroutines (GOMAXPROCS
// when workers <= 0). Results are returned in unit order. Cancelling ctx
// stops units that have not started; their results are left zero and the
// context error is returned.
func Batch(ctx context.Context, reg *opcode.Registry, units []Unit, workers int, opts ...Option) ([]Result, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	results := make([]Result, len(units))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, u := range units {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			unitOpts := make([]Option, 0, len(opts)+len(u.Options))
			unitOpts = append(unitOpts, opts...)
			unitOpts = append(unitOpts, u.Options...)
			results[i] = VerifyStream(reg, u.Code, unitOpts...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}
