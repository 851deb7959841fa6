package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucketCountsPassRate(t *testing.T) {
	tests := []struct {
		name   string
		bucket BucketCounts
		want   int
	}{
		{name: "empty bucket", bucket: BucketCounts{}, want: 0},
		{name: "one of three floors", bucket: BucketCounts{Passed: 1, Failed: 2, Total: 3}, want: 33},
		{name: "two of three floors", bucket: BucketCounts{Passed: 2, Failed: 1, Total: 3}, want: 66},
		{name: "all passed", bucket: BucketCounts{Passed: 4, Total: 4}, want: 100},
		{name: "half", bucket: BucketCounts{Passed: 1, TimedOut: 1, Total: 2}, want: 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.bucket.PassRate())
		})
	}
}

func TestBucketCountsAdd(t *testing.T) {
	var b BucketCounts
	for _, s := range []TestStatus{TestStatusPassed, TestStatusFailed, TestStatusTimedOut, TestStatusSkipped} {
		b.Add(s)
	}
	assert.Equal(t, BucketCounts{Passed: 1, Failed: 1, TimedOut: 1, Skipped: 1, Total: 4}, b)
	assert.Equal(t, 2, b.Failures())
	assert.Equal(t, 3, b.Executed())
	assert.Equal(t, "1/4 (25%)", b.String())
}

func TestParseCategoryAndPriority(t *testing.T) {
	c, err := ParseCategory(" Performance ")
	require.NoError(t, err)
	assert.Equal(t, CategoryPerformance, c)

	_, err = ParseCategory("smoke")
	require.Error(t, err)

	p, err := ParsePriority("p1")
	require.NoError(t, err)
	assert.Equal(t, PriorityP1, p)
	assert.False(t, p.IsCritical())
	assert.True(t, PriorityP0.IsCritical())

	_, err = ParsePriority("P9")
	require.Error(t, err)
}

func TestRunReportCriticalFailures(t *testing.T) {
	report := &RunReport{
		Outcomes: []TestOutcome{
			{ID: "A", Status: TestStatusPassed, Priority: PriorityP0},
			{ID: "B", Status: TestStatusFailed, Priority: PriorityP1},
			{ID: "C", Status: TestStatusTimedOut, Priority: PriorityP0},
		},
		FailedIDs: []string{"B", "C"},
		Totals:    BucketCounts{Passed: 1, Failed: 1, TimedOut: 1, Total: 3},
	}

	critical := report.CriticalFailures()
	require.Len(t, critical, 1)
	assert.Equal(t, "C", critical[0].ID)
	assert.False(t, report.Passed())

	_, ok := report.Outcome("missing")
	assert.False(t, ok)
}

func TestStatusIsFailure(t *testing.T) {
	assert.True(t, TestStatusFailed.IsFailure())
	assert.True(t, TestStatusTimedOut.IsFailure())
	assert.False(t, TestStatusPassed.IsFailure())
	assert.False(t, TestStatusSkipped.IsFailure())
	assert.False(t, TestStatus("pass").IsValid())
}
