package types

import (
	"fmt"
	"time"
)

// BucketCounts holds outcome totals for one slice of a run.
// Total counts every recorded outcome including skipped ones.
type BucketCounts struct {
	Passed   int `json:"passed"`
	Failed   int `json:"failed"`
	TimedOut int `json:"timed_out"`
	Skipped  int `json:"skipped"`
	Total    int `json:"total"`
}

// Add counts a single outcome status.
func (b *BucketCounts) Add(status TestStatus) {
	switch status {
	case TestStatusPassed:
		b.Passed++
	case TestStatusFailed:
		b.Failed++
	case TestStatusTimedOut:
		b.TimedOut++
	case TestStatusSkipped:
		b.Skipped++
	}
	b.Total++
}

// Failures returns failed plus timed out outcomes.
func (b BucketCounts) Failures() int {
	return b.Failed + b.TimedOut
}

// Executed returns the number of outcomes that actually ran.
func (b BucketCounts) Executed() int {
	return b.Total - b.Skipped
}

// PassRate returns the integer pass percentage using floor division.
// An empty bucket reports 0.
func (b BucketCounts) PassRate() int {
	if b.Total == 0 {
		return 0
	}
	return b.Passed * 100 / b.Total
}

func (b BucketCounts) String() string {
	return fmt.Sprintf("%d/%d (%d%%)", b.Passed, b.Total, b.PassRate())
}

// RunReport is the aggregated state of a run. Only the aggregator builds it.
type RunReport struct {
	RunID           string
	RunType         string
	RegistryVersion string
	Environment     map[string]string
	StartedAt       time.Time
	TotalDuration   time.Duration

	Totals     BucketCounts
	ByCategory map[Category]BucketCounts
	ByPriority map[Priority]BucketCounts
	ByModule   map[string]BucketCounts
	Matrix     map[Category]map[Priority]BucketCounts

	// Outcomes in the order they were recorded
	Outcomes []TestOutcome
	// FailedIDs holds failed and timed out ids in record order
	FailedIDs []string
	// CollectionFailures lists batches that failed before any case ran
	CollectionFailures []string

	Expected int
	LogFile  string
}

// Outcome looks up the recorded outcome for an id.
func (r *RunReport) Outcome(id string) (TestOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.ID == id {
			return o, true
		}
	}
	return TestOutcome{}, false
}

// CriticalFailures returns failing outcomes at P0 priority.
func (r *RunReport) CriticalFailures() []TestOutcome {
	var out []TestOutcome
	for _, id := range r.FailedIDs {
		if o, ok := r.Outcome(id); ok && o.Priority.IsCritical() {
			out = append(out, o)
		}
	}
	return out
}

// Passed is true when something ran and nothing failed.
func (r *RunReport) Passed() bool {
	return r.Totals.Executed() > 0 && r.Totals.Failures() == 0
}
