// Package exitcodes defines the exit codes used by suiterun.
package exitcodes

// Exit code constants used by suiterun.
//
// * Success (0): every selected test passed
// * TestFailure (1): at least one selected test failed or timed out
// * UsageErr (1): bad command line input, nothing was run
// * RuntimeErr (2): environment, configuration or internal errors
// * Shortfall (2): fewer tests executed than the registry expects for the
//   selector, including nothing executed at all
const (
	Success     = 0
	TestFailure = 1
	UsageErr    = 1
	RuntimeErr  = 2
	Shortfall   = 2
)
