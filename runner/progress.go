package runner

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/resumeapi/suiterun/types"
)

// ProgressIndicator interface for UI updates
type ProgressIndicator interface {
	StartStage(category types.Category, totalTests int)
	StartTest(id string)
	UpdateTest(id string, status types.TestStatus)
	CompleteStage(category types.Category)
	Stop()
}

// noOpProgressIndicator provides a no-op implementation of ProgressIndicator
type noOpProgressIndicator struct{}

// NewNoOpProgressIndicator creates a progress indicator that does nothing
func NewNoOpProgressIndicator() ProgressIndicator {
	return &noOpProgressIndicator{}
}

func (n *noOpProgressIndicator) StartStage(types.Category, int) {}
func (n *noOpProgressIndicator) StartTest(string) {}
func (n *noOpProgressIndicator) UpdateTest(string, types.TestStatus) {}
func (n *noOpProgressIndicator) CompleteStage(types.Category) {}
func (n *noOpProgressIndicator) Stop() {}

// consoleProgressIndicator logs periodic progress updates
type consoleProgressIndicator struct {
	logger   log.Logger
	ticker   *time.Ticker
	stopCh   chan struct{}
	stopOnce sync.Once
	mu       sync.RWMutex

	agg            *Aggregator
	runTotal       int
	currentStage   types.Category
	stageTotal     int
	stageCompleted int
	stageFailed    int
	stageStartTime time.Time

	runningTests map[string]time.Time // id -> start time
}

// NewConsoleProgressIndicator creates a progress indicator for a run of
// runTotal tests. Run level counts are read from the aggregator's snapshot.
func NewConsoleProgressIndicator(logger log.Logger, agg *Aggregator, runTotal int, updateInterval time.Duration) ProgressIndicator {
	if updateInterval <= 0 {
		updateInterval = DefaultProgressInterval
	}

	indicator := &consoleProgressIndicator{
		logger:       logger,
		ticker:       time.NewTicker(updateInterval),
		stopCh:       make(chan struct{}),
		agg:          agg,
		runTotal:     runTotal,
		runningTests: make(map[string]time.Time),
	}

	go indicator.progressReporter()

	return indicator
}

func (c *consoleProgressIndicator) StartStage(category types.Category, totalTests int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.currentStage = category
	c.stageTotal = totalTests
	c.stageCompleted = 0
	c.stageFailed = 0
	c.stageStartTime = time.Now()
	c.runningTests = make(map[string]time.Time)

	c.logger.Info("Starting stage", "stage", category, "tests", totalTests)
}

// StartTest tracks when a test starts running
func (c *consoleProgressIndicator) StartTest(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.runningTests[id] = time.Now()
	c.logger.Debug("Test started", "test", id, "runningTests", len(c.runningTests))
}

func (c *consoleProgressIndicator) UpdateTest(id string, status types.TestStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.runningTests, id)
	c.stageCompleted++
	if status.IsFailure() {
		c.stageFailed++
	}

	c.logger.Debug("Test completed", "test", id, "status", status, "stageCompleted", c.stageCompleted, "stageTotal", c.stageTotal)
}

func (c *consoleProgressIndicator) CompleteStage(category types.Category) {
	c.mu.Lock()
	defer c.mu.Unlock()

	duration := time.Since(c.stageStartTime).Truncate(time.Second)
	c.logger.Info("Completed stage", "stage", category, "completed", c.stageCompleted, "failed", c.stageFailed, "duration", duration)
	c.currentStage = ""
	c.runningTests = make(map[string]time.Time)
}

func (c *consoleProgressIndicator) progressReporter() {
	for {
		select {
		case <-c.ticker.C:
			c.reportProgress()
		case <-c.stopCh:
			return
		}
	}
}

// runCounts returns the run totals recorded so far.
func (c *consoleProgressIndicator) runCounts() types.BucketCounts {
	if c.agg == nil {
		return types.BucketCounts{}
	}
	return c.agg.Snapshot().Totals
}

func (c *consoleProgressIndicator) reportProgress() {
	totals := c.runCounts()

	c.mu.RLock()
	defer c.mu.RUnlock()

	percent := 0
	if c.runTotal > 0 {
		percent = totals.Total * 100 / c.runTotal
	}

	c.logger.Info("Progress update",
		"stage", c.currentStage,
		"stageCompleted", c.stageCompleted,
		"stageTotal", c.stageTotal,
		"completed", totals.Total,
		"failing", totals.Failed+totals.TimedOut,
		"total", c.runTotal,
		"percent", fmt.Sprintf("%d%%", percent),
		"numRunning", len(c.runningTests),
		"longestRunning", formatRunningTests(c.runningTests, 3),
	)
}

// Stop stops the progress indicator
func (c *consoleProgressIndicator) Stop() {
	c.stopOnce.Do(func() {
		c.ticker.Stop()
		close(c.stopCh)
	})
}

// formatRunningTests lists the longest running tests first
func formatRunningTests(runningTests map[string]time.Time, maxShow int) string {
	if len(runningTests) == 0 {
		return ""
	}

	type runningTest struct {
		name     string
		duration time.Duration
	}

	var running []runningTest
	now := time.Now()
	for name, startTime := range runningTests {
		running = append(running, runningTest{name: name, duration: now.Sub(startTime)})
	}

	sort.Slice(running, func(i, j int) bool {
		if running[i].duration == running[j].duration {
			return running[i].name < running[j].name
		}
		return running[i].duration > running[j].duration
	})

	var parts []string
	for i, test := range running {
		if i >= maxShow {
			break
		}
		parts = append(parts, fmt.Sprintf("%s (%v)", test.name, test.duration.Truncate(time.Second)))
	}
	if len(running) > maxShow {
		parts = append(parts, fmt.Sprintf("+%d more", len(running)-maxShow))
	}

	return strings.Join(parts, ", ")
}
