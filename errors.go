package suiterun

import (
	"errors"
	"fmt"

	"github.com/resumeapi/suiterun/exitcodes"
)

// UsageError represents bad command line input. Nothing has been run when it
// is returned (exit code 1).
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("usage error: %v", e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *UsageError) Unwrap() error {
	return e.Err
}

// NewUsageError creates a new UsageError
func NewUsageError(err error) *UsageError {
	return &UsageError{Err: err}
}

// IsUsageError checks if the error is or wraps a UsageError
func IsUsageError(err error) bool {
	var usageErr *UsageError
	return err != nil && errors.As(err, &usageErr)
}

// EnvironmentError represents missing configuration, credentials or an
// unhealthy dependency. The run is aborted (exit code 2).
type EnvironmentError struct {
	Err error
}

func (e *EnvironmentError) Error() string {
	return fmt.Sprintf("environment error: %v", e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *EnvironmentError) Unwrap() error {
	return e.Err
}

// NewEnvironmentError creates a new EnvironmentError
func NewEnvironmentError(err error) *EnvironmentError {
	return &EnvironmentError{Err: err}
}

// IsEnvironmentError checks if the error is or wraps an EnvironmentError
func IsEnvironmentError(err error) bool {
	var envErr *EnvironmentError
	return err != nil && errors.As(err, &envErr)
}

// RuntimeError represents an operational error that should lead to exit code 2
// Examples include an unreadable registry, an unwritable log directory, etc.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewRuntimeError creates a new RuntimeError
func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

// IsRuntimeError checks if the error is or wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}

// TestFailureError represents at least one failed or timed out test (exit code 1)
type TestFailureError struct {
	Message string
}

func (e *TestFailureError) Error() string {
	return fmt.Sprintf("test failure: %s", e.Message)
}

// NewTestFailureError creates a new TestFailureError
func NewTestFailureError(message string) *TestFailureError {
	return &TestFailureError{Message: message}
}

// IsTestFailureError checks if the error is or wraps a TestFailureError
func IsTestFailureError(err error) bool {
	var testErr *TestFailureError
	return err != nil && errors.As(err, &testErr)
}

// ShortfallError reports that fewer tests executed than the registry expects
// for the selector. Nothing executed at all is a shortfall too (exit code 2).
type ShortfallError struct {
	Executed int
	Expected int
}

func (e *ShortfallError) Error() string {
	if e.Executed == 0 {
		return fmt.Sprintf("shortfall: no tests executed (expected %d)", e.Expected)
	}
	return fmt.Sprintf("shortfall: executed %d of %d expected tests", e.Executed, e.Expected)
}

// NewShortfallError creates a new ShortfallError
func NewShortfallError(executed, expected int) *ShortfallError {
	return &ShortfallError{Executed: executed, Expected: expected}
}

// IsShortfallError checks if the error is or wraps a ShortfallError
func IsShortfallError(err error) bool {
	var shortErr *ShortfallError
	return err != nil && errors.As(err, &shortErr)
}

// ExitCode maps an error returned by the controller to the process exit code.
// Errors of unknown type exit with 1, like any other bad invocation.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return exitcodes.Success
	case IsUsageError(err):
		return exitcodes.UsageErr
	case IsEnvironmentError(err), IsRuntimeError(err):
		return exitcodes.RuntimeErr
	case IsShortfallError(err):
		return exitcodes.Shortfall
	case IsTestFailureError(err):
		return exitcodes.TestFailure
	default:
		return exitcodes.UsageErr
	}
}

// errorForExitCode turns the exit code of a detached run back into an error
// of the matching class.
func errorForExitCode(code int, logPath string) error {
	switch code {
	case exitcodes.Success:
		return nil
	case exitcodes.TestFailure:
		return NewTestFailureError(fmt.Sprintf("detached run failed, see %s", logPath))
	case exitcodes.RuntimeErr:
		return NewRuntimeError(fmt.Errorf("detached run exited with code %d, see %s", code, logPath))
	default:
		return NewRuntimeError(fmt.Errorf("detached run exited with unexpected code %d, see %s", code, logPath))
	}
}
