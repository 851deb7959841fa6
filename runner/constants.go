package runner

import "time"

const (
	// DefaultKillGrace is how long a timed out process group gets between
	// SIGTERM and SIGKILL.
	DefaultKillGrace = 5 * time.Second

	// DefaultProgressInterval is used when the progress indicator gets no interval.
	DefaultProgressInterval = 30 * time.Second

	// MaxReasonableConcurrency caps the opt-in worker count
	MaxReasonableConcurrency = 16

	// Reasons attached to outcomes
	ReasonStopOnFailure = "not executed: stop-on-failure after %s"
	ReasonInterrupted   = "not executed: run interrupted"
	ReasonAborted       = "not executed: stage %s precondition failed"
	ReasonMarkerMissing = "no result marker found in batch output"
	ReasonCollection    = "batch failed before running any test"
)
