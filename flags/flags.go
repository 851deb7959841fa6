package flags

import (
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
	"github.com/resumeapi/suiterun/logging"
	"github.com/resumeapi/suiterun/runner"
	"github.com/resumeapi/suiterun/service"
	"github.com/resumeapi/suiterun/types"
)

const EnvVarPrefix = "SUITERUN"

var (
	Stage = &cli.StringFlag{
		Name:    "stage",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "STAGE"),
		Usage:   "Run only one stage: " + stageNames(),
		Action: func(ctx *cli.Context, v string) error {
			return validateStage(v)
		},
	}
	Background = &cli.BoolFlag{
		Name:    "background",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "BACKGROUND"),
		Usage:   "Run detached; combined output goes to a background log in the log directory",
	}
	Follow = &cli.BoolFlag{
		Name:    "follow",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "FOLLOW"),
		Usage:   "With --background, tail the background log until the detached run exits",
	}
	Verbose = &cli.BoolFlag{
		Name:    "verbose",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "VERBOSE"),
		Usage:   "Keep logs of passing tests",
	}
	PerfTest = &cli.StringFlag{
		Name:    "perf-test",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PERF_TEST"),
		Usage:   "Run a single performance test by id or alias (eg. 'p50'). Requires --stage performance",
	}
	Tests = &cli.StringSliceFlag{
		Name:    "tests",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TESTS"),
		Usage:   "Comma separated list of test ids to run",
	}
	Registry = &cli.StringFlag{
		Name:    "registry",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "REGISTRY"),
		Usage:   "Path to a registry file (.yaml or .toml). Uses the built-in registry when empty",
	}
	WorkDir = &cli.StringFlag{
		Name:    "workdir",
		Value:   ".",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "WORKDIR"),
		Usage:   "Directory test commands run in",
	}
	LogDir = &cli.StringFlag{
		Name:    "log-dir",
		Value:   "logs",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LOG_DIR"),
		Usage:   "Directory for run logs, test logs and summaries",
	}
	KeepLogs = &cli.IntFlag{
		Name:    "keep-logs",
		Value:   logging.DefaultKeep,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "KEEP_LOGS"),
		Usage:   "Number of most recent artifacts kept per naming pattern",
	}
	DefaultTimeout = &cli.DurationFlag{
		Name:    "default-timeout",
		Value:   types.DefaultTestTimeout,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "DEFAULT_TIMEOUT"),
		Usage:   "Timeout for tests that declare none in the registry",
	}
	KillGrace = &cli.DurationFlag{
		Name:    "kill-grace",
		Value:   runner.DefaultKillGrace,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "KILL_GRACE"),
		Usage:   "Time between SIGTERM and SIGKILL for a timed out test's process group",
	}
	Retries = &cli.IntFlag{
		Name:    "retries",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RETRIES"),
		Usage:   "Extra attempts for failed or timed out tests. Every attempt is logged",
	}
	Concurrency = &cli.IntFlag{
		Name:    "concurrency",
		Value:   1,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CONCURRENCY"),
		Usage:   "Workers for stages marked parallel in the registry. 1 keeps execution sequential",
	}
	MinInterval = &cli.DurationFlag{
		Name:    "min-interval",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "MIN_INTERVAL"),
		Usage:   "Minimum time between two test launches (eg. '2s' against a rate limited API)",
	}
	SummaryJSON = &cli.BoolFlag{
		Name:    "summary-json",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SUMMARY_JSON"),
		Usage:   "Write a machine-readable JSON summary next to the run log",
	}
	ProgressInterval = &cli.DurationFlag{
		Name:    "progress-interval",
		Value:   runner.DefaultProgressInterval,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PROGRESS_INTERVAL"),
		Usage:   "Interval between progress log lines. 0 disables progress output",
	}
	StatusEnabled = &cli.BoolFlag{
		Name:    "status.enabled",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "STATUS_ENABLED"),
		Usage:   "Serve /healthz, /status and /metrics while the run is in progress",
	}
	StatusAddr = &cli.StringFlag{
		Name:    "status.addr",
		Value:   service.DefaultHost,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "STATUS_ADDR"),
		Usage:   "Status server listening address",
	}
	StatusPort = &cli.IntFlag{
		Name:    "status.port",
		Value:   service.DefaultPort,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "STATUS_PORT"),
		Usage:   "Status server listening port",
	}
)

var optionalFlags = []cli.Flag{
	Stage,
	Background,
	Follow,
	Verbose,
	PerfTest,
	Tests,
	Registry,
	WorkDir,
	LogDir,
	KeepLogs,
	DefaultTimeout,
	KillGrace,
	Retries,
	Concurrency,
	MinInterval,
	SummaryJSON,
	ProgressInterval,
	StatusEnabled,
	StatusAddr,
	StatusPort,
}
var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = optionalFlags
}

func stageNames() string {
	names := make([]string, 0, len(types.Categories))
	for _, c := range types.Categories {
		names = append(names, string(c))
	}
	return strings.Join(names, ", ")
}

// validateStage accepts category names case-insensitively
func validateStage(v string) error {
	if v == "" {
		return nil
	}
	if _, err := types.ParseCategory(v); err != nil {
		return fmt.Errorf("stage must be one of: %s, got %q", stageNames(), v)
	}
	return nil
}

// ValidateDurations rejects negative durations that urfave accepts.
func ValidateDurations(ctx *cli.Context) error {
	for _, f := range []*cli.DurationFlag{DefaultTimeout, KillGrace, MinInterval, ProgressInterval} {
		if d := ctx.Duration(f.Name); d < 0 {
			return fmt.Errorf("flag %s cannot be negative, got %s", f.Name, d)
		}
	}
	if d := ctx.Duration(DefaultTimeout.Name); d == 0 {
		return fmt.Errorf("flag %s must be positive, got %s", DefaultTimeout.Name, time.Duration(0))
	}
	return nil
}
