package suiterun

import (
	"bytes"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resumeapi/suiterun/runner"
	"github.com/resumeapi/suiterun/types"
)

func failingReport(t *testing.T) *types.RunReport {
	t.Helper()
	plan := []types.TestCase{
		{ID: "A", Category: types.CategoryUnit, Priority: types.PriorityP0, Module: "calc"},
		{ID: "B", Category: types.CategoryUnit, Priority: types.PriorityP1, Module: "calc"},
	}
	agg := runner.NewAggregator(runner.RunMeta{RunID: "run-1", RunType: "unit", RegistryVersion: "v1.0.0", Expected: 2}, plan)
	require.NoError(t, agg.Record(types.TestOutcome{ID: "A", Status: types.TestStatusFailed, Duration: time.Second, LogPath: "logs/test_A.log"}))
	require.NoError(t, agg.Record(types.TestOutcome{ID: "B", Status: types.TestStatusPassed, Duration: time.Second}))
	return agg.Snapshot()
}

func TestConsoleResultFormatter_FormatResults(t *testing.T) {
	text.EnableColors()
	var console, runLog bytes.Buffer
	formatter := NewConsoleResultFormatter(log.NewLogger(log.DiscardHandler()), &console, &runLog, true)

	require.NoError(t, formatter.FormatResults(failingReport(t)))

	assert.Contains(t, console.String(), "CRITICAL P0 FAILURES (1): A")
	assert.Contains(t, console.String(), "\x1b[")
	assert.Contains(t, runLog.String(), "CRITICAL P0 FAILURES (1): A")
	assert.Contains(t, runLog.String(), "logs/test_A.log")
	assert.NotContains(t, runLog.String(), "\x1b[")
}

func TestConsoleResultFormatter_NoRunLog(t *testing.T) {
	var console bytes.Buffer
	formatter := NewConsoleResultFormatter(log.NewLogger(log.DiscardHandler()), &console, nil, false)

	require.NoError(t, formatter.FormatResults(failingReport(t)))
	assert.Contains(t, console.String(), "Results by Priority")
	assert.NotContains(t, console.String(), "\x1b[")
}
