package suiterun

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
	"github.com/resumeapi/suiterun/flags"
	"github.com/resumeapi/suiterun/registry"
	"github.com/resumeapi/suiterun/types"
)

// DetachedChildEnv is set in the environment of a detached run so that it
// neither detaches again nor colors its output.
const DetachedChildEnv = "SUITERUN_DETACHED_CHILD"

// Config holds the application configuration
type Config struct {
	Stage            string        // selected category, empty for all
	PerfTest         string        // id or alias within the performance stage
	TestIDs          []string      // explicit id list
	Background       bool          // detach the run into its own process
	Follow           bool          // tail the detached run's log until it exits
	DetachedChild    bool          // this process is the detached run
	Verbose          bool          // keep logs of passing tests
	RegistryFile     string        // empty selects the embedded registry
	WorkDir          string        // directory test commands run in
	LogDir           string        // directory for every artifact of a run
	KeepLogs         int           // artifacts kept per naming pattern
	DefaultTimeout   time.Duration // timeout for tests without one
	KillGrace        time.Duration // SIGTERM to SIGKILL delay on timeout
	Retries          int           // explicit extra attempts for failing tests
	Concurrency      int           // workers for parallel-safe stages
	MinInterval      time.Duration // minimum spacing between test launches
	SummaryJSON      bool          // write the JSON summary
	ProgressInterval time.Duration // 0 disables progress logging
	StatusEnabled    bool
	StatusAddr       string
	LogConfig        oplog.CLIConfig
	MetricsConfig    opmetrics.CLIConfig
	Args             []string  // command line, re-used by detached runs
	Out              io.Writer // console
	Log              log.Logger
}

// NewConfig creates a new Config from cli context. Invalid flag values and
// combinations are returned as UsageError.
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if ctx.Args().Len() > 0 {
		return nil, NewUsageError(fmt.Errorf("unexpected arguments: %s", strings.Join(ctx.Args().Slice(), " ")))
	}
	if err := flags.ValidateDurations(ctx); err != nil {
		return nil, NewUsageError(err)
	}

	stage := strings.ToLower(strings.TrimSpace(ctx.String(flags.Stage.Name)))
	if stage != "" {
		if _, err := types.ParseCategory(stage); err != nil {
			return nil, NewUsageError(err)
		}
	}

	var testIDs []string
	for _, v := range ctx.StringSlice(flags.Tests.Name) {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				testIDs = append(testIDs, id)
			}
		}
	}

	cfg := &Config{
		Stage:            stage,
		PerfTest:         strings.TrimSpace(ctx.String(flags.PerfTest.Name)),
		TestIDs:          testIDs,
		Background:       ctx.Bool(flags.Background.Name),
		Follow:           ctx.Bool(flags.Follow.Name),
		DetachedChild:    os.Getenv(DetachedChildEnv) != "",
		Verbose:          ctx.Bool(flags.Verbose.Name),
		RegistryFile:     ctx.String(flags.Registry.Name),
		WorkDir:          ctx.String(flags.WorkDir.Name),
		LogDir:           ctx.String(flags.LogDir.Name),
		KeepLogs:         ctx.Int(flags.KeepLogs.Name),
		DefaultTimeout:   ctx.Duration(flags.DefaultTimeout.Name),
		KillGrace:        ctx.Duration(flags.KillGrace.Name),
		Retries:          ctx.Int(flags.Retries.Name),
		Concurrency:      ctx.Int(flags.Concurrency.Name),
		MinInterval:      ctx.Duration(flags.MinInterval.Name),
		SummaryJSON:      ctx.Bool(flags.SummaryJSON.Name),
		ProgressInterval: ctx.Duration(flags.ProgressInterval.Name),
		StatusEnabled:    ctx.Bool(flags.StatusEnabled.Name),
		StatusAddr:       net.JoinHostPort(ctx.String(flags.StatusAddr.Name), strconv.Itoa(ctx.Int(flags.StatusPort.Name))),
		LogConfig:        oplog.ReadCLIConfig(ctx),
		MetricsConfig:    opmetrics.ReadCLIConfig(ctx),
		Args:             os.Args,
		Out:              ctx.App.Writer,
		Log:              log,
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.DetachedChild {
		// The parent already detached; a SUITERUN_BACKGROUND in the inherited
		// environment must not fork again.
		cfg.Background = false
		cfg.Follow = false
		cfg.LogConfig.Color = false
	}

	if err := cfg.Check(); err != nil {
		return nil, NewUsageError(err)
	}
	if err := cfg.resolvePaths(); err != nil {
		return nil, NewRuntimeError(err)
	}
	return cfg, nil
}

// Check validates flag values and their combinations.
func (c *Config) Check() error {
	if c.PerfTest != "" && c.Stage != string(types.CategoryPerformance) {
		return fmt.Errorf("--%s is only valid with --%s %s", flags.PerfTest.Name, flags.Stage.Name, types.CategoryPerformance)
	}
	if len(c.TestIDs) > 0 && c.Stage != "" {
		return fmt.Errorf("--%s cannot be combined with --%s", flags.Tests.Name, flags.Stage.Name)
	}
	if c.Follow && !c.Background {
		return fmt.Errorf("--%s requires --%s", flags.Follow.Name, flags.Background.Name)
	}
	if c.KeepLogs < 1 {
		return fmt.Errorf("--%s must be at least 1, got %d", flags.KeepLogs.Name, c.KeepLogs)
	}
	if c.Retries < 0 {
		return fmt.Errorf("--%s cannot be negative, got %d", flags.Retries.Name, c.Retries)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("--%s must be at least 1, got %d", flags.Concurrency.Name, c.Concurrency)
	}
	if c.LogDir == "" {
		return errors.New("log directory cannot be empty")
	}
	return nil
}

func (c *Config) resolvePaths() error {
	var err error
	if c.RegistryFile != "" {
		if c.RegistryFile, err = filepath.Abs(c.RegistryFile); err != nil {
			return fmt.Errorf("failed to resolve absolute path for registry '%s': %w", c.RegistryFile, err)
		}
	}
	if c.WorkDir == "" {
		c.WorkDir = "."
	}
	if c.WorkDir, err = filepath.Abs(c.WorkDir); err != nil {
		return fmt.Errorf("failed to resolve absolute path for work directory '%s': %w", c.WorkDir, err)
	}
	if c.LogDir, err = filepath.Abs(c.LogDir); err != nil {
		return fmt.Errorf("failed to resolve absolute path for log directory '%s': %w", c.LogDir, err)
	}
	return nil
}

// Selector builds the registry selector for the configured flags.
func (c *Config) Selector() registry.Selector {
	switch {
	case c.PerfTest != "":
		return registry.ForAlias(types.CategoryPerformance, c.PerfTest)
	case len(c.TestIDs) > 0:
		return registry.ForIDs(c.TestIDs...)
	case c.Stage != "":
		return registry.ForCategory(c.Stage)
	}
	return registry.All()
}

// RunType names the run in artifact file names: the stage, "selected" for an
// explicit id list, or "all".
func (c *Config) RunType() string {
	switch {
	case c.Stage != "":
		return c.Stage
	case len(c.TestIDs) > 0:
		return "selected"
	}
	return "all"
}

// Snapshot returns the options recorded in the JSON summary.
func (c *Config) Snapshot() types.SelectorSnapshot {
	return types.SelectorSnapshot{
		Stage:       c.Stage,
		PerfTest:    c.PerfTest,
		TestIDs:     c.TestIDs,
		Background:  c.Background || c.DetachedChild,
		Verbose:     c.Verbose,
		Retries:     c.Retries,
		Concurrency: c.Concurrency,
		MinInterval: c.MinInterval,
		Registry:    c.registryName(),
	}
}

func (c *Config) registryName() string {
	if c.RegistryFile == "" {
		return registry.DefaultSource
	}
	return c.RegistryFile
}
