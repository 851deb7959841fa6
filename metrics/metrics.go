package metrics

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/resumeapi/suiterun/types"
)

const (
	MetricsNamespace = "suiterun"
)

var (
	Debug                bool = true
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	testOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "test_outcomes_total",
		Help:      "Count of recorded test outcomes",
	}, []string{
		"run_type",
		"category",
		"priority",
		"status",
	})

	testDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "test_duration_seconds",
		Help:      "Duration of executed tests",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	}, []string{
		"category",
	})

	collectionFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "batch_collection_failures_total",
		Help:      "Count of batches that failed before running any test",
	}, []string{
		"batch",
	})

	runTests = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_tests",
		Help:      "Tests of the last run by status",
	}, []string{
		"run_type",
		"status",
	})

	runDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Duration of the last run",
	}, []string{
		"run_type",
	})

	runExitCode = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_exit_code",
		Help:      "Exit code of the last run",
	}, []string{
		"run_type",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

// RecordOutcome counts one recorded outcome. Skipped outcomes are counted but
// contribute no duration sample.
func RecordOutcome(runType string, outcome types.TestOutcome) {
	if !outcome.Status.IsValid() {
		log.Error("RecordOutcome - invalid status", "test", outcome.ID, "status", outcome.Status)
		return
	}
	if Debug {
		log.Debug("metric inc",
			"m", "test_outcomes_total",
			"run_type", runType,
			"test", outcome.ID,
			"category", outcome.Category,
			"priority", outcome.Priority,
			"status", outcome.Status)
	}
	testOutcomesTotal.WithLabelValues(runType, string(outcome.Category), string(outcome.Priority), string(outcome.Status)).Inc()
	if outcome.Status != types.TestStatusSkipped {
		testDuration.WithLabelValues(string(outcome.Category)).Observe(outcome.Duration.Seconds())
	}
}

// RecordRun publishes the totals of a finished run.
func RecordRun(runType string, report *types.RunReport, exitCode int) {
	runTests.WithLabelValues(runType, string(types.TestStatusPassed)).Set(float64(report.Totals.Passed))
	runTests.WithLabelValues(runType, string(types.TestStatusFailed)).Set(float64(report.Totals.Failed))
	runTests.WithLabelValues(runType, string(types.TestStatusTimedOut)).Set(float64(report.Totals.TimedOut))
	runTests.WithLabelValues(runType, string(types.TestStatusSkipped)).Set(float64(report.Totals.Skipped))
	runDuration.WithLabelValues(runType).Set(report.TotalDuration.Seconds())
	runExitCode.WithLabelValues(runType).Set(float64(exitCode))
	for _, batch := range report.CollectionFailures {
		collectionFailuresTotal.WithLabelValues(batch).Inc()
	}
}
