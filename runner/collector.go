package runner

import (
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/resumeapi/suiterun/types"
)

// RunMeta is the run metadata copied into every snapshot.
type RunMeta struct {
	RunID           string
	RunType         string
	RegistryVersion string
	Environment     map[string]string
	StartedAt       time.Time
	Expected        int
	LogFile         string
}

// Aggregator owns the counts of one run. Record is called by the single
// execution thread; Snapshot may be called from anywhere.
type Aggregator struct {
	mu       sync.RWMutex
	catalog  map[string]types.TestCase
	recorded map[string]bool
	report   types.RunReport
	clock    func() time.Time
}

// NewAggregator creates an aggregator accepting outcomes for the planned cases.
func NewAggregator(meta RunMeta, plan []types.TestCase) *Aggregator {
	catalog := make(map[string]types.TestCase, len(plan))
	for _, tc := range plan {
		catalog[tc.ID] = tc
	}
	if meta.StartedAt.IsZero() {
		meta.StartedAt = time.Now()
	}
	return &Aggregator{
		catalog:  catalog,
		recorded: make(map[string]bool, len(plan)),
		clock:    time.Now,
		report: types.RunReport{
			RunID:           meta.RunID,
			RunType:         meta.RunType,
			RegistryVersion: meta.RegistryVersion,
			Environment:     maps.Clone(meta.Environment),
			StartedAt:       meta.StartedAt,
			Expected:        meta.Expected,
			LogFile:         meta.LogFile,
			ByCategory:      make(map[types.Category]types.BucketCounts),
			ByPriority:      make(map[types.Priority]types.BucketCounts),
			ByModule:        make(map[string]types.BucketCounts),
			Matrix:          make(map[types.Category]map[types.Priority]types.BucketCounts),
		},
	}
}

// Record adds an outcome. Each planned id may be recorded exactly once;
// classification always comes from the registry entry, not the outcome.
func (a *Aggregator) Record(outcome types.TestOutcome) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	tc, ok := a.catalog[outcome.ID]
	if !ok {
		return fmt.Errorf("outcome for %s which is not part of the run", outcome.ID)
	}
	if a.recorded[outcome.ID] {
		return fmt.Errorf("outcome for %s recorded twice", outcome.ID)
	}
	if !outcome.Status.IsValid() {
		return fmt.Errorf("outcome for %s has invalid status %q", outcome.ID, outcome.Status)
	}
	a.recorded[outcome.ID] = true

	outcome.Category = tc.Category
	outcome.Priority = tc.Priority
	outcome.Module = tc.Module
	if outcome.Duration < 0 {
		outcome.Duration = 0
	}

	r := &a.report
	r.Totals.Add(outcome.Status)
	addTo(r.ByCategory, tc.Category, outcome.Status)
	addTo(r.ByPriority, tc.Priority, outcome.Status)
	addTo(r.ByModule, tc.Module, outcome.Status)
	if r.Matrix[tc.Category] == nil {
		r.Matrix[tc.Category] = make(map[types.Priority]types.BucketCounts)
	}
	addTo(r.Matrix[tc.Category], tc.Priority, outcome.Status)

	r.Outcomes = append(r.Outcomes, outcome)
	if outcome.Status.IsFailure() {
		r.FailedIDs = append(r.FailedIDs, outcome.ID)
	}
	if outcome.CollectionFailure && !contains(r.CollectionFailures, outcome.Batch) {
		r.CollectionFailures = append(r.CollectionFailures, outcome.Batch)
	}

	if elapsed := a.clock().Sub(r.StartedAt); elapsed > r.TotalDuration {
		r.TotalDuration = elapsed
	}
	return nil
}

// Snapshot returns a deep copy of the current report. It never mutates state,
// so two calls without a Record in between return equal values.
func (a *Aggregator) Snapshot() *types.RunReport {
	a.mu.RLock()
	defer a.mu.RUnlock()

	r := a.report
	r.Environment = maps.Clone(a.report.Environment)
	r.ByCategory = maps.Clone(a.report.ByCategory)
	r.ByPriority = maps.Clone(a.report.ByPriority)
	r.ByModule = maps.Clone(a.report.ByModule)
	r.Matrix = make(map[types.Category]map[types.Priority]types.BucketCounts, len(a.report.Matrix))
	for c, row := range a.report.Matrix {
		r.Matrix[c] = maps.Clone(row)
	}
	r.Outcomes = append([]types.TestOutcome(nil), a.report.Outcomes...)
	r.FailedIDs = append([]string(nil), a.report.FailedIDs...)
	r.CollectionFailures = append([]string(nil), a.report.CollectionFailures...)
	return &r
}

// Pending returns planned ids without an outcome, in the given plan order.
func (a *Aggregator) Pending(plan []types.TestCase) []types.TestCase {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []types.TestCase
	for _, tc := range plan {
		if _, planned := a.catalog[tc.ID]; planned && !a.recorded[tc.ID] {
			out = append(out, tc)
		}
	}
	return out
}

func addTo[K comparable](m map[K]types.BucketCounts, key K, status types.TestStatus) {
	b := m[key]
	b.Add(status)
	m[key] = b
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
