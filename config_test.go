package suiterun

import (
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/resumeapi/suiterun/flags"
	"github.com/resumeapi/suiterun/registry"
	"github.com/resumeapi/suiterun/types"
)

// parseConfig runs a throwaway app so NewConfig sees a real cli.Context.
func parseConfig(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	var (
		cfg    *Config
		cfgErr error
	)
	app := cli.NewApp()
	app.Flags = flags.Flags
	app.Action = func(ctx *cli.Context) error {
		cfg, cfgErr = NewConfig(ctx, log.NewLogger(log.DiscardHandler()))
		return nil
	}
	require.NoError(t, app.Run(append([]string{"suiterun"}, args...)))
	return cfg, cfgErr
}

func TestNewConfigDefaults(t *testing.T) {
	t.Setenv(DetachedChildEnv, "")

	cfg, err := parseConfig(t)
	require.NoError(t, err)

	assert.Equal(t, "", cfg.Stage)
	assert.Equal(t, registry.All(), cfg.Selector())
	assert.Equal(t, "all", cfg.RunType())
	assert.True(t, filepath.IsAbs(cfg.WorkDir))
	assert.True(t, filepath.IsAbs(cfg.LogDir))
	assert.Equal(t, "logs", filepath.Base(cfg.LogDir))
	assert.Equal(t, 5, cfg.KeepLogs)
	assert.Equal(t, 1, cfg.Concurrency)
	assert.Equal(t, 0, cfg.Retries)
	assert.Equal(t, types.DefaultTestTimeout, cfg.DefaultTimeout)
	assert.Equal(t, "0.0.0.0:7310", cfg.StatusAddr)
	assert.False(t, cfg.Background)
	assert.False(t, cfg.DetachedChild)
	assert.Equal(t, registry.DefaultSource, cfg.Snapshot().Registry)
}

func TestNewConfigSelectors(t *testing.T) {
	t.Setenv(DetachedChildEnv, "")

	cfg, err := parseConfig(t, "--stage", "Integration")
	require.NoError(t, err)
	assert.Equal(t, registry.ForCategory("integration"), cfg.Selector())
	assert.Equal(t, "integration", cfg.RunType())

	cfg, err = parseConfig(t, "--stage", "performance", "--perf-test", "P50")
	require.NoError(t, err)
	assert.Equal(t, registry.ForAlias(types.CategoryPerformance, "P50"), cfg.Selector())
	assert.Equal(t, "performance", cfg.RunType())

	cfg, err = parseConfig(t, "--tests", "A-1, B-2", "--tests", "C-3")
	require.NoError(t, err)
	assert.Equal(t, registry.ForIDs("A-1", "B-2", "C-3"), cfg.Selector())
	assert.Equal(t, "selected", cfg.RunType())
	assert.Equal(t, []string{"A-1", "B-2", "C-3"}, cfg.Snapshot().TestIDs)
}

func TestNewConfigUsageErrors(t *testing.T) {
	t.Setenv(DetachedChildEnv, "")

	testCases := []struct {
		name string
		args []string
	}{
		{"perf test without stage", []string{"--perf-test", "p50"}},
		{"perf test with other stage", []string{"--stage", "unit", "--perf-test", "p50"}},
		{"tests with stage", []string{"--stage", "unit", "--tests", "A-1"}},
		{"follow without background", []string{"--follow"}},
		{"zero keep logs", []string{"--keep-logs", "0"}},
		{"negative retries", []string{"--retries", "-1"}},
		{"zero concurrency", []string{"--concurrency", "0"}},
		{"negative min interval", []string{"--min-interval", "-1s"}},
		{"positional argument", []string{"unit"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseConfig(t, tc.args...)
			require.Error(t, err)
			assert.True(t, IsUsageError(err), "expected usage error, got %v", err)
			assert.Equal(t, 1, ExitCode(err))
		})
	}
}

func TestNewConfigDetachedChild(t *testing.T) {
	t.Setenv(DetachedChildEnv, "1")

	cfg, err := parseConfig(t, "--background", "--follow", "--log.color")
	require.NoError(t, err)
	assert.True(t, cfg.DetachedChild)
	assert.False(t, cfg.Background)
	assert.False(t, cfg.Follow)
	assert.False(t, cfg.LogConfig.Color)
	assert.True(t, cfg.Snapshot().Background)
}

func TestNewConfigResolvesPaths(t *testing.T) {
	t.Setenv(DetachedChildEnv, "")
	dir := t.TempDir()

	cfg, err := parseConfig(t,
		"--registry", filepath.Join(dir, "registry.yaml"),
		"--workdir", dir,
		"--log-dir", filepath.Join(dir, "out"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "registry.yaml"), cfg.RegistryFile)
	assert.Equal(t, dir, cfg.WorkDir)
	assert.Equal(t, filepath.Join(dir, "out"), cfg.LogDir)
	assert.Equal(t, cfg.RegistryFile, cfg.Snapshot().Registry)
}
