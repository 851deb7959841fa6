package suiterun

import (
	"github.com/resumeapi/suiterun/metrics"
	"github.com/resumeapi/suiterun/types"
)

// MetricsReporter is responsible for reporting metrics from test outcomes and runs.
type MetricsReporter interface {
	ReportOutcome(runType string, outcome types.TestOutcome)
	ReportRun(runType string, report *types.RunReport, exitCode int)
}

// DefaultMetricsReporter implements the MetricsReporter interface.
type DefaultMetricsReporter struct{}

// NewDefaultMetricsReporter creates a new DefaultMetricsReporter.
func NewDefaultMetricsReporter() *DefaultMetricsReporter {
	return &DefaultMetricsReporter{}
}

// ReportOutcome records one outcome as soon as the aggregator accepted it.
func (r *DefaultMetricsReporter) ReportOutcome(runType string, outcome types.TestOutcome) {
	metrics.RecordOutcome(runType, outcome)
}

// ReportRun records the final counts of a run.
func (r *DefaultMetricsReporter) ReportRun(runType string, report *types.RunReport, exitCode int) {
	metrics.RecordRun(runType, report, exitCode)
}
