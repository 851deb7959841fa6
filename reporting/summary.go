package reporting

import (
	"encoding/json"
	"fmt"

	"github.com/resumeapi/suiterun/logging"
	"github.com/resumeapi/suiterun/types"
)

// NewSummary flattens a finished report into the persisted summary shape.
func NewSummary(report *types.RunReport, exitCode int, opts types.SelectorSnapshot) types.RunSummary {
	failed := append([]string{}, report.FailedIDs...)
	return types.RunSummary{
		RunID:           report.RunID,
		Timestamp:       report.StartedAt.UTC(),
		RunType:         report.RunType,
		RegistryVersion: report.RegistryVersion,
		Total:           report.Totals.Total,
		Passed:          report.Totals.Passed,
		Failed:          report.Totals.Failed,
		TimedOut:        report.Totals.TimedOut,
		Skipped:         report.Totals.Skipped,
		Expected:        report.Expected,
		DurationMs:      report.TotalDuration.Milliseconds(),
		ExitCode:        exitCode,
		FailedIDs:       failed,
		LogFile:         report.LogFile,
		Options:         opts,
	}
}

// WriteSummary stores the summary as {runType}_summary_{timestamp}.json and
// returns its path.
func WriteSummary(store *logging.Store, summary types.RunSummary) (string, error) {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal run summary: %w", err)
	}

	f, artifact, err := store.Create(logging.SummaryPattern(summary.RunType))
	if err != nil {
		return "", err
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("failed to write run summary: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close run summary: %w", err)
	}
	return artifact.Path, nil
}
