package reporting

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/resumeapi/suiterun/logging"
	"github.com/resumeapi/suiterun/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteSummary(t *testing.T) {
	dir := t.TempDir()
	store, err := logging.NewStore(dir, 5, log.NewLogger(log.DiscardHandler()))
	require.NoError(t, err)

	report := scenarioReport(t)
	opts := types.SelectorSnapshot{Stage: "", Verbose: true, Retries: 1, Concurrency: 1, Registry: "embedded"}
	path, err := WriteSummary(store, NewSummary(report, 1, opts))
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))
	assert.Regexp(t, `^all_summary_\d{8}_\d{6}\.json$`, filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"run_id", "timestamp", "run_type", "registry_version", "total", "passed", "failed", "timed_out", "skipped", "expected", "duration_ms", "exit_code", "failed_ids", "log_file", "options"} {
		assert.Contains(t, raw, key)
	}

	var summary types.RunSummary
	require.NoError(t, json.Unmarshal(data, &summary))
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 1, summary.Passed)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.TimedOut)
	assert.Equal(t, 1, summary.ExitCode)
	assert.Equal(t, []string{"B", "C"}, summary.FailedIDs)
	assert.Equal(t, opts, summary.Options)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), summary.Timestamp)
}

func TestNewSummaryEmptyRun(t *testing.T) {
	s := NewSummary(&types.RunReport{RunType: "e2e"}, 2, types.SelectorSnapshot{Stage: "e2e"})
	assert.Zero(t, s.Total)
	assert.Equal(t, 2, s.ExitCode)
	assert.NotNil(t, s.FailedIDs, "failed_ids is always an array")
}
