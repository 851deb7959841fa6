package types

import "time"

// RunSummary is the machine-readable artifact written at the end of a run.
// Downstream tooling depends on this shape, so fields are only ever added.
type RunSummary struct {
	RunID           string           `json:"run_id"`
	Timestamp       time.Time        `json:"timestamp"`
	RunType         string           `json:"run_type"`
	RegistryVersion string           `json:"registry_version"`
	Total           int              `json:"total"`
	Passed          int              `json:"passed"`
	Failed          int              `json:"failed"`
	TimedOut        int              `json:"timed_out"`
	Skipped         int              `json:"skipped"`
	Expected        int              `json:"expected"`
	DurationMs      int64            `json:"duration_ms"`
	ExitCode        int              `json:"exit_code"`
	FailedIDs       []string         `json:"failed_ids"`
	LogFile         string           `json:"log_file"`
	Options         SelectorSnapshot `json:"options"`
}

// SelectorSnapshot records the options a run was started with.
type SelectorSnapshot struct {
	Stage       string        `json:"stage,omitempty"`
	PerfTest    string        `json:"perf_test,omitempty"`
	TestIDs     []string      `json:"test_ids,omitempty"`
	Background  bool          `json:"background"`
	Verbose     bool          `json:"verbose"`
	Retries     int           `json:"retries"`
	Concurrency int           `json:"concurrency"`
	MinInterval time.Duration `json:"min_interval_ns"`
	Registry    string        `json:"registry"`
}
