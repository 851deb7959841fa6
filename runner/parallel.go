package runner

import (
	"context"

	"github.com/resumeapi/suiterun/types"
	"github.com/sourcegraph/conc/pool"
)

// runParallel executes independent units on a bounded worker pool. Outcomes
// are recorded after the pool drains, in plan order, so the aggregator is
// still only touched by the calling goroutine.
func (r *Runner) runParallel(ctx context.Context, units []workUnit) error {
	r.log.Info("Running stage with bounded concurrency", "units", len(units), "concurrency", r.concurrency)

	results := make([][]*types.TestOutcome, len(units))
	p := pool.New().WithErrors().WithMaxGoroutines(r.concurrency)
	for i, unit := range units {
		p.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			outcomes, err := r.runUnit(ctx, unit)
			if err != nil {
				return err
			}
			results[i] = outcomes
			return nil
		})
	}
	poolErr := p.Wait()

	var unfinished []workUnit
	for i, outcomes := range results {
		if outcomes == nil {
			unfinished = append(unfinished, units[i])
			continue
		}
		if err := r.recordAll(outcomes); err != nil {
			return err
		}
	}

	if poolErr != nil {
		if ctx.Err() != nil {
			return r.interrupt(unfinished, ctx.Err())
		}
		return poolErr
	}
	return nil
}
