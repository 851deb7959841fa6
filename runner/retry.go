package runner

import (
	"context"

	"github.com/resumeapi/suiterun/types"
)

// runWithRetries executes a case and re-executes it while it keeps failing,
// up to the configured number of extra attempts. Every attempt is logged and
// keeps its own log file; only the final outcome is returned.
func (r *Runner) runWithRetries(ctx context.Context, tc types.TestCase) (*types.TestOutcome, error) {
	var outcome *types.TestOutcome
	for attempt := 1; attempt <= r.retries+1; attempt++ {
		if attempt > 1 {
			r.log.Warn("Retrying test", "test", tc.ID, "attempt", attempt, "maxAttempts", r.retries+1,
				"previousStatus", outcome.Status, "previousLog", outcome.LogPath)
		}
		o, err := r.executor.Execute(ctx, tc)
		if err != nil {
			return nil, err
		}
		o.Attempts = attempt
		outcome = o
		if !o.Status.IsFailure() || ctx.Err() != nil {
			break
		}
	}
	return outcome, nil
}

// runBatchWithRetries runs a batch and re-runs only the failing members.
// Members whose batch never started are retried the same way.
func (r *Runner) runBatchWithRetries(ctx context.Context, batch types.Batch, cases []types.TestCase) ([]*types.TestOutcome, error) {
	outcomes, err := r.batches.ExecuteBatch(ctx, batch, cases)
	if err != nil {
		return nil, err
	}

	index := make(map[string]int, len(outcomes))
	for i, o := range outcomes {
		index[o.ID] = i
	}

	for attempt := 2; attempt <= r.retries+1 && ctx.Err() == nil; attempt++ {
		var failing []types.TestCase
		for _, tc := range cases {
			if outcomes[index[tc.ID]].Status.IsFailure() {
				failing = append(failing, tc)
			}
		}
		if len(failing) == 0 {
			break
		}
		r.log.Warn("Retrying failing batch members", "batch", batch.ID, "tests", len(failing), "attempt", attempt, "maxAttempts", r.retries+1)

		retried, err := r.batches.ExecuteBatch(ctx, batch, failing)
		if err != nil {
			return nil, err
		}
		for _, o := range retried {
			o.Attempts = attempt
			outcomes[index[o.ID]] = o
		}
	}
	return outcomes, nil
}
