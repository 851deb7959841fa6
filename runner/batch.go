package runner

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/resumeapi/suiterun/types"
)

var _ BatchExecutor = (*batchExecutor)(nil)

// BatchExecutor runs several cases in a single subprocess.
type BatchExecutor interface {
	ExecuteBatch(ctx context.Context, batch types.Batch, cases []types.TestCase) ([]*types.TestOutcome, error)
}

// SelectArgsFunc returns extra arguments that narrow a batch command down to
// the given method names. It is only used when a subset of the batch runs.
type SelectArgsFunc func(methods []string) []string

// PytestSelectArgs narrows a pytest invocation with a -k expression.
func PytestSelectArgs(methods []string) []string {
	return []string{"-k", strings.Join(methods, " or ")}
}

type batchExecutor struct {
	exec       *testExecutor
	selectArgs SelectArgsFunc
	log        log.Logger
}

// NewBatchExecutor creates a batch executor sharing the single-test process handling.
func NewBatchExecutor(cfg ExecutorConfig, selectArgs SelectArgsFunc) (BatchExecutor, error) {
	e, err := newTestExecutor(cfg)
	if err != nil {
		return nil, err
	}
	if selectArgs == nil {
		selectArgs = PytestSelectArgs
	}
	return &batchExecutor{
		exec:       e,
		selectArgs: selectArgs,
		log:        e.log.New("component", "batch-executor"),
	}, nil
}

// ExecuteBatch runs the batch command once and returns one outcome per case,
// in the order the cases were given.
func (b *batchExecutor) ExecuteBatch(ctx context.Context, batch types.Batch, cases []types.TestCase) ([]*types.TestOutcome, error) {
	if len(cases) == 0 {
		return nil, nil
	}
	if len(batch.Command) == 0 {
		return nil, fmt.Errorf("batch %s has no command", batch.ID)
	}
	table, err := NewMarkerTable(cases)
	if err != nil {
		return nil, fmt.Errorf("batch %s: %w", batch.ID, err)
	}

	argv := append([]string{}, batch.Command...)
	if batch.Size > 0 && len(cases) < batch.Size {
		argv = append(argv, b.selectArgs(table.Methods())...)
	}

	b.log.Info("Running batch", "batch", batch.ID, "tests", len(cases), "timeout", batch.Timeout)
	res, err := b.exec.run(ctx, batch.ID, "batch "+batch.ID, argv, batch.Timeout)
	if err != nil {
		return nil, err
	}

	logData, err := os.Open(res.logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to reopen batch log: %w", err)
	}
	attribution, err := table.Attribute(logData)
	_ = logData.Close()
	if err != nil {
		return nil, err
	}

	for _, method := range attribution.Unmapped {
		b.log.Debug("Ignoring marker for unmapped method", "batch", batch.ID, "method", method)
	}

	collectionFailure := !res.interrupted && (res.startErr != nil ||
		(len(attribution.Statuses) == 0 && (res.exitCode != 0 || len(attribution.CollectionErrors) > 0) && !res.timedOut))

	share := res.duration
	if n := time.Duration(len(cases)); n > 0 {
		share = res.duration / n
	}

	outcomes := make([]*types.TestOutcome, 0, len(cases))
	for _, tc := range cases {
		o := &types.TestOutcome{
			ID:       tc.ID,
			Duration: share,
			LogPath:  res.logPath,
			Category: tc.Category,
			Priority: tc.Priority,
			Module:   tc.Module,
			Attempts: 1,
			Batch:    batch.ID,
		}

		status, found := attribution.Statuses[tc.ID]
		switch {
		case collectionFailure:
			o.Status = types.TestStatusFailed
			o.CollectionFailure = true
			o.Reason = collectionReason(res, attribution)
		case found:
			o.Status = status
			if status == types.TestStatusFailed {
				o.Reason = "reported failed by batch output"
			}
		case res.interrupted:
			o.Status = types.TestStatusSkipped
			o.Reason = ReasonInterrupted
		case res.timedOut:
			o.Status = types.TestStatusTimedOut
			o.Reason = fmt.Sprintf("batch timed out after %s before reporting", batch.Timeout)
		default:
			o.Status = types.TestStatusFailed
			o.Reason = ReasonMarkerMissing
			b.log.Warn("Marker not found in batch output", "batch", batch.ID, "test", tc.ID, "method", tc.Method)
		}
		if o.Status.IsFailure() {
			o.Stdout = res.tail.lastLines(stdoutSnippetLines)
		}
		outcomes = append(outcomes, o)
	}

	if collectionFailure {
		b.log.Error("Batch failed before running any test", "batch", batch.ID, "tests", len(cases), "log", res.logPath)
	} else {
		b.log.Info("Batch finished", "batch", batch.ID, "attributed", len(attribution.Statuses), "missing", len(attribution.Missing), "duration", res.duration.Truncate(time.Millisecond))
	}
	return outcomes, nil
}

func collectionReason(res *processResult, a *Attribution) string {
	switch {
	case res.startErr != nil:
		return fmt.Sprintf("%s: failed to start: %v", ReasonCollection, res.startErr)
	case len(a.CollectionErrors) > 0:
		return fmt.Sprintf("%s: %s", ReasonCollection, a.CollectionErrors[0])
	}
	return fmt.Sprintf("%s: exit code %d", ReasonCollection, res.exitCode)
}
