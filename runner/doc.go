// Package runner executes registered test cases and aggregates their outcomes.
//
// The main components are:
//   - TestExecutor: runs one test case as a subprocess under a hard timeout
//   - BatchExecutor: runs many cases in one subprocess and attributes the
//     combined output back to test ids through a MarkerTable
//   - Aggregator: owns the run's counts and produces RunReport snapshots
//   - Runner: drives stages in order, applying stop-on-failure, explicit
//     retries, pacing and opt-in bounded concurrency
//   - ProgressIndicator: periodic progress logging
package runner
