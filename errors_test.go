package suiterun

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/resumeapi/suiterun/exitcodes"
)

func TestErrorClassification(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		code int
	}{
		{"nil", nil, exitcodes.Success},
		{"usage", NewUsageError(errors.New("bad flag")), exitcodes.UsageErr},
		{"environment", NewEnvironmentError(errors.New("API_KEY missing")), exitcodes.RuntimeErr},
		{"runtime", NewRuntimeError(errors.New("disk full")), exitcodes.RuntimeErr},
		{"test failure", NewTestFailureError("1 of 3 failed"), exitcodes.TestFailure},
		{"shortfall", NewShortfallError(2, 3), exitcodes.Shortfall},
		{"wrapped shortfall", fmt.Errorf("failed to start: %w", NewShortfallError(0, 3)), exitcodes.Shortfall},
		{"joined environment", errors.Join(fmt.Errorf("failed to start: %w", NewEnvironmentError(errors.New("x"))), nil), exitcodes.RuntimeErr},
		{"unknown", errors.New("flag provided but not defined: -nope"), exitcodes.UsageErr},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.code, ExitCode(tc.err))
		})
	}
}

func TestErrorHelpers(t *testing.T) {
	inner := errors.New("inner")

	usage := NewUsageError(inner)
	assert.True(t, IsUsageError(usage))
	assert.False(t, IsRuntimeError(usage))
	assert.ErrorIs(t, usage, inner)

	env := NewEnvironmentError(inner)
	assert.True(t, IsEnvironmentError(env))
	assert.False(t, IsUsageError(env))
	assert.ErrorIs(t, env, inner)
	assert.Equal(t, "environment error: inner", env.Error())

	assert.False(t, IsTestFailureError(nil))
	assert.False(t, IsShortfallError(nil))
	assert.Equal(t, "shortfall: no tests executed (expected 4)", NewShortfallError(0, 4).Error())
	assert.Equal(t, "shortfall: executed 3 of 4 expected tests", NewShortfallError(3, 4).Error())
}

func TestErrorForExitCode(t *testing.T) {
	assert.NoError(t, errorForExitCode(0, "bg.log"))

	err := errorForExitCode(1, "bg.log")
	assert.True(t, IsTestFailureError(err))
	assert.Contains(t, err.Error(), "bg.log")

	assert.True(t, IsRuntimeError(errorForExitCode(2, "bg.log")))
	assert.True(t, IsRuntimeError(errorForExitCode(-1, "bg.log")))
	assert.Equal(t, exitcodes.RuntimeErr, ExitCode(errorForExitCode(2, "bg.log")))
}
