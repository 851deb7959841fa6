package types

import (
	"fmt"
	"strings"
	"time"
)

// DefaultTestTimeout applies when neither the test nor its stage sets a timeout.
const DefaultTestTimeout = 2 * time.Minute

// Category is the stage a test case belongs to. Stages double as run selectors.
type Category string

const (
	CategoryUnit        Category = "unit"
	CategoryIntegration Category = "integration"
	CategoryPerformance Category = "performance"
	CategoryE2E         Category = "e2e"
)

// Categories lists every category in canonical stage order.
var Categories = []Category{CategoryUnit, CategoryIntegration, CategoryPerformance, CategoryE2E}

func (c Category) IsValid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory converts user input into a Category, ignoring case.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// Priority is the business-criticality tier of a test case.
type Priority string

const (
	PriorityP0 Priority = "P0"
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
)

// Priorities lists every priority from most to least critical.
var Priorities = []Priority{PriorityP0, PriorityP1, PriorityP2}

func (p Priority) IsValid() bool {
	return p == PriorityP0 || p == PriorityP1 || p == PriorityP2
}

// IsCritical reports whether a failure at this priority gates a release.
func (p Priority) IsCritical() bool {
	return p == PriorityP0
}

// ParsePriority converts user input into a Priority, ignoring case.
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToUpper(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", fmt.Errorf("unknown priority %q", s)
	}
	return p, nil
}

// TestStatus represents the possible states of a test execution
type TestStatus string

const (
	TestStatusPassed   TestStatus = "passed"
	TestStatusFailed   TestStatus = "failed"
	TestStatusTimedOut TestStatus = "timedOut"
	TestStatusSkipped  TestStatus = "skipped"
)

// IsFailure is true for failed and timed out outcomes.
func (s TestStatus) IsFailure() bool {
	return s == TestStatusFailed || s == TestStatusTimedOut
}

func (s TestStatus) IsValid() bool {
	switch s {
	case TestStatusPassed, TestStatusFailed, TestStatusTimedOut, TestStatusSkipped:
		return true
	}
	return false
}

// TestCase is a registered, executable unit of testing work.
// It is immutable once the registry has been loaded.
type TestCase struct {
	ID          string
	Description string
	Command     []string // argv used when the case runs on its own
	Category    Category
	Priority    Priority
	Module      string
	Timeout     time.Duration
	Aliases     []string

	// Batch membership. Batch is empty for standalone cases.
	Batch  string
	Method string // runner-reported name used to attribute batch output
}

// InBatch reports whether the case is executed as part of a batch.
func (tc TestCase) InBatch() bool {
	return tc.Batch != ""
}

// Batch groups cases that one subprocess invocation executes together.
type Batch struct {
	ID       string
	Command  []string
	Category Category
	Target   string // source file holding the batch's test methods
	Timeout  time.Duration
	Size     int // number of registered members
}

// TestOutcome captures the result of one executed test case.
type TestOutcome struct {
	ID       string
	Status   TestStatus
	Duration time.Duration
	LogPath  string

	// Classification copied from the registry when the outcome is recorded
	Category Category
	Priority Priority
	Module   string

	Attempts          int
	Reason            string // human readable cause for failures and skips
	Batch             string
	CollectionFailure bool   // the whole batch failed before any case ran
	Stdout            string // tail of the output for failing cases
}

// DurationMs returns the duration in whole milliseconds.
func (o TestOutcome) DurationMs() int64 {
	if o.Duration < 0 {
		return 0
	}
	return o.Duration.Milliseconds()
}
