package flags

import (
	"strings"
	"testing"
	"time"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

// TestOptionalFlagsDontSetRequired asserts that all flags deemed optional set
// the Required field to false.
func TestOptionalFlagsDontSetRequired(t *testing.T) {
	for _, flag := range optionalFlags {
		reqFlag, ok := flag.(cli.RequiredFlag)
		require.True(t, ok)
		require.False(t, reqFlag.IsRequired())
	}
}

// TestUniqueFlags asserts that all flag names are unique, to avoid accidental conflicts between the many flags.
func TestUniqueFlags(t *testing.T) {
	seenCLI := make(map[string]struct{})
	for _, flag := range Flags {
		name := flag.Names()[0]
		if _, ok := seenCLI[name]; ok {
			t.Errorf("duplicate flag %s", name)
			continue
		}
		seenCLI[name] = struct{}{}
	}
}

func TestEnvVarFormat(t *testing.T) {
	for _, flag := range Flags {
		flagName := flag.Names()[0]

		t.Run(flagName, func(t *testing.T) {
			envFlagGetter, ok := flag.(interface {
				GetEnvVars() []string
			})
			require.True(t, ok, "must be able to cast the flag to an EnvVar interface")
			envFlags := envFlagGetter.GetEnvVars()
			require.Equal(t, 1, len(envFlags), "flags should have exactly one env var")
			require.Equal(t, opservice.FlagNameToEnvVarName(flagName, EnvVarPrefix), envFlags[0])
			require.True(t, strings.HasPrefix(envFlags[0], EnvVarPrefix+"_"))
		})
	}
}

func TestStageFlagValidation(t *testing.T) {
	testCases := []struct {
		name        string
		args        []string
		shouldError bool
	}{
		{"unit", []string{"app", "--stage", "unit"}, false},
		{"e2e", []string{"app", "--stage", "e2e"}, false},
		{"case insensitive", []string{"app", "--stage", "Performance"}, false},
		{"no flag", []string{"app"}, false},
		{"unknown stage", []string{"app", "--stage", "smoke"}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			app := &cli.App{
				Flags:  []cli.Flag{Stage},
				Action: func(ctx *cli.Context) error { return nil },
			}
			err := app.Run(tc.args)
			if tc.shouldError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "stage must be one of")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTestsFlagSplitsCommas(t *testing.T) {
	var got []string
	app := &cli.App{
		Flags: []cli.Flag{Tests},
		Action: func(ctx *cli.Context) error {
			got = ctx.StringSlice(Tests.Name)
			return nil
		},
	}
	require.NoError(t, app.Run([]string{"app", "--tests", "API-GAP-001-UT,API-GAP-002-UT"}))
	assert.Equal(t, []string{"API-GAP-001-UT", "API-GAP-002-UT"}, got)
}

func TestValidateDurations(t *testing.T) {
	testCases := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "defaults", args: []string{"app"}},
		{name: "negative interval", args: []string{"app", "--min-interval", "-1s"}, wantErr: "min-interval cannot be negative"},
		{name: "zero timeout", args: []string{"app", "--default-timeout", "0s"}, wantErr: "default-timeout must be positive"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			app := &cli.App{
				Flags:  Flags,
				Action: ValidateDurations,
			}
			err := app.Run(tc.args)
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestDefaults(t *testing.T) {
	app := &cli.App{
		Flags: Flags,
		Action: func(ctx *cli.Context) error {
			assert.Equal(t, "logs", ctx.String(LogDir.Name))
			assert.Equal(t, 5, ctx.Int(KeepLogs.Name))
			assert.Equal(t, 1, ctx.Int(Concurrency.Name))
			assert.Equal(t, 2*time.Minute, ctx.Duration(DefaultTimeout.Name))
			assert.False(t, ctx.Bool(Background.Name))
			return nil
		},
	}
	require.NoError(t, app.Run([]string{"app"}))
}
