package suiterun

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	"github.com/resumeapi/suiterun/envcheck"
	"github.com/resumeapi/suiterun/exitcodes"
	"github.com/resumeapi/suiterun/logging"
	"github.com/resumeapi/suiterun/metrics"
	"github.com/resumeapi/suiterun/registry"
	"github.com/resumeapi/suiterun/reporting"
	"github.com/resumeapi/suiterun/runner"
	"github.com/resumeapi/suiterun/service"
	"github.com/resumeapi/suiterun/types"
)

var (
	_ cliapp.Lifecycle       = (*Controller)(nil)
	_ service.StatusProvider = (*Controller)(nil)
)

// State is the phase a run is in.
type State int32

const (
	StateIdle State = iota
	StateEnvironmentCheck
	StateExecuting
	StateReporting
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEnvironmentCheck:
		return "environment_check"
	case StateExecuting:
		return "executing"
	case StateReporting:
		return "reporting"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateAborted
}

var transitions = map[State][]State{
	StateIdle:             {StateEnvironmentCheck, StateAborted},
	StateEnvironmentCheck: {StateExecuting, StateAborted},
	StateExecuting:        {StateReporting, StateAborted},
	StateReporting:        {StateDone},
}

func canTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

// Controller resolves a run plan and drives the runner, the aggregator and
// the report through one run. It implements cliapp.Lifecycle: Start performs
// the whole run and the app is closed once it is done.
type Controller struct {
	ctx        context.Context
	config     *Config
	version    string
	registry   *registry.Registry
	store      *logging.Store
	metrics    MetricsReporter
	httpClient *http.Client

	state   atomic.Int32
	agg     atomic.Pointer[runner.Aggregator]
	running atomic.Bool

	mu      sync.Mutex
	task    Task
	servers []*service.Service
	result  *Result

	shutdownCallback func(error) // Callback to signal application shutdown
}

// New loads the registry and prepares the log directory.
func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*Controller, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.Log == nil {
		config.Log = log.New()
	}
	if config.Out == nil {
		config.Out = os.Stdout
	}
	if shutdownCallback == nil {
		shutdownCallback = func(error) {}
	}

	config.Log.Debug("Creating controller with config",
		"registry", config.registryName(),
		"workDir", config.WorkDir,
		"logDir", config.LogDir,
		"selector", config.Selector(),
		"background", config.Background)

	reg, err := registry.NewRegistry(registry.Config{
		Log:            config.Log,
		File:           config.RegistryFile,
		DefaultTimeout: config.DefaultTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}

	store, err := logging.NewStore(config.LogDir, config.KeepLogs, config.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to create log store: %w", err)
	}
	config.Log.Info("controller.New: loaded registry", "version", reg.Version(), "tests", len(reg.Tests()))

	return &Controller{
		ctx:              ctx,
		config:           config,
		version:          version,
		registry:         reg,
		store:            store,
		metrics:          NewDefaultMetricsReporter(),
		httpClient:       &http.Client{Timeout: envcheck.DefaultHealthTimeout},
		shutdownCallback: shutdownCallback,
	}, nil
}

// Start performs the run. A detached start returns as soon as the child is
// running unless the log is followed.
// Start implements the cliapp.Lifecycle interface.
func (c *Controller) Start(ctx context.Context) error {
	// Set up panic recovery to ensure we exit with code 2 for runtime errors
	defer func() {
		if r := recover(); r != nil {
			c.config.Log.Error("Runtime error occurred", "error", r)
			os.Exit(exitcodes.RuntimeErr)
		}
	}()

	c.ctx = ctx
	c.running.Store(true)

	if c.config.Background {
		return c.startDetached(ctx)
	}

	if err := c.startServers(ctx); err != nil {
		return NewRuntimeError(err)
	}

	task := startForeground(ctx, c.execute)
	c.setTask(task)
	result, err := task.Wait()

	c.mu.Lock()
	c.result = result
	c.mu.Unlock()

	if err != nil {
		c.config.Log.Warn("Run finished unsuccessfully", "state", c.State(), "exit_code", ExitCode(err), "err", err)
		return err
	}

	c.config.Log.Info("Run completed, exiting", "state", c.State())
	go func() {
		c.shutdownCallback(nil)
	}()
	return nil
}

// startDetached re-executes this binary without --background in its own
// session and hands back control once it is running.
func (c *Controller) startDetached(ctx context.Context) error {
	exe, err := os.Executable()
	if err != nil {
		return NewRuntimeError(fmt.Errorf("failed to locate executable: %w", err))
	}
	out, _, err := c.store.Create(logging.BackgroundPattern(c.config.RunType()))
	if err != nil {
		return NewRuntimeError(err)
	}

	var args []string
	if len(c.config.Args) > 1 {
		args = detachedArgs(c.config.Args[1:])
	}
	env := append(os.Environ(), DetachedChildEnv+"=1")
	task, err := startDetached(exe, args, env, "", out)
	if closeErr := out.Close(); closeErr != nil {
		c.config.Log.Warn("Failed to close background log handle", "err", closeErr)
	}
	if err != nil {
		return NewRuntimeError(err)
	}
	c.setTask(task)

	fmt.Fprintf(c.config.Out, "Started detached run\n  pid: %d\n  log: %s\n", task.Pid(), task.LogPath())
	c.config.Log.Info("Started detached run", "pid", task.Pid(), "log", task.LogPath())

	if removed, err := c.store.Prune(logging.BackgroundPattern(c.config.RunType()), c.config.KeepLogs); err != nil {
		c.config.Log.Warn("Failed to prune background logs", "err", err)
	} else if len(removed) > 0 {
		c.config.Log.Debug("Pruned background logs", "removed", len(removed))
	}

	if !c.config.Follow {
		go func() {
			c.shutdownCallback(nil)
		}()
		return nil
	}

	follower := NewLogFollower(task.LogPath(), DefaultFollowInterval, c.config.Out, c.config.Log)
	if err := follower.Follow(ctx, task.Done()); err != nil {
		if ctx.Err() != nil {
			c.config.Log.Info("Stopped following, detached run continues", "pid", task.Pid(), "log", task.LogPath())
			return nil
		}
		return NewRuntimeError(err)
	}

	result, err := task.Wait()
	c.mu.Lock()
	c.result = result
	c.mu.Unlock()
	if err != nil {
		return err
	}
	go func() {
		c.shutdownCallback(nil)
	}()
	return nil
}

func (c *Controller) startServers(ctx context.Context) error {
	var addrs []string
	if c.config.StatusEnabled {
		addrs = append(addrs, c.config.StatusAddr)
	}
	if m := c.config.MetricsConfig; m.Enabled {
		addrs = append(addrs, net.JoinHostPort(m.ListenAddr, strconv.Itoa(m.ListenPort)))
	}
	for _, addr := range addrs {
		svc := service.New(c, c.config.Log)
		if err := svc.Start(ctx, addr); err != nil {
			return err
		}
		c.mu.Lock()
		c.servers = append(c.servers, svc)
		c.mu.Unlock()
	}
	return nil
}

// execute walks one run through the state machine and returns its result.
// Per-test failures are outcomes; only the returned error carries the
// run's classification.
func (c *Controller) execute(ctx context.Context) (*Result, error) {
	cfg := c.config
	sel := cfg.Selector()
	startedAt := time.Now()

	// Resolving first means an unknown selector fails before anything is spawned.
	plan, err := c.registry.Resolve(sel)
	if err != nil {
		c.transition(StateAborted)
		if registry.IsUnknownSelector(err) {
			return &Result{ExitCode: exitcodes.UsageErr}, NewUsageError(err)
		}
		return &Result{ExitCode: exitcodes.RuntimeErr}, NewRuntimeError(err)
	}
	expected := c.registry.Expected(sel, plan)
	runType := cfg.RunType()

	runLog, artifact, err := c.store.OpenRunLog(runType)
	if err != nil {
		c.transition(StateAborted)
		metrics.RecordErrorDetails("open_run_log", err)
		return &Result{ExitCode: exitcodes.RuntimeErr}, NewRuntimeError(err)
	}
	defer func() {
		if err := runLog.Close(); err != nil {
			cfg.Log.Warn("Failed to close run log", "path", artifact.Path, "err", err)
		}
	}()

	runID := uuid.New().String()
	logger := oplog.NewLogger(io.MultiWriter(cfg.Out, runLog), cfg.LogConfig).New("run_id", runID)
	logger.Info("Starting run",
		"selector", sel,
		"tests", len(plan),
		"expected", expected,
		"registry", c.registry.Version(),
		"log", artifact.Path)

	c.transition(StateEnvironmentCheck)
	checker := envcheck.New(logger, envcheck.ForPlan(c.registry, plan, cfg.WorkDir)...)
	if err := checker.Run(ctx); err != nil {
		c.transition(StateAborted)
		metrics.RecordErrorDetails("environment_check", err)
		logger.Error("Environment check failed, no test was run", "err", err)
		c.prune(runType, plan, logger)
		return &Result{ExitCode: exitcodes.RuntimeErr, LogFile: artifact.Path}, NewEnvironmentError(err)
	}

	c.transition(StateExecuting)
	agg := runner.NewAggregator(runner.RunMeta{
		RunID:           runID,
		RunType:         runType,
		RegistryVersion: c.registry.Version(),
		Environment:     c.environment(sel, plan),
		StartedAt:       startedAt,
		Expected:        expected,
		LogFile:         artifact.Path,
	}, plan)
	c.agg.Store(agg)

	runErr := c.runPlan(ctx, plan, agg, runType, logger)
	report := agg.Snapshot()
	// Measured from before the environment check.
	report.TotalDuration = time.Since(startedAt)

	exitCode, verdict := Verdict(report)
	var pre *runner.PreconditionError
	switch {
	case runErr == nil:
		c.transition(StateReporting)
	case errors.As(runErr, &pre):
		c.transition(StateAborted)
		logger.Error("Stage precondition failed, run aborted", "stage", pre.Stage, "err", pre.Err)
		exitCode, verdict = exitcodes.RuntimeErr, NewEnvironmentError(runErr)
	default:
		c.transition(StateAborted)
		logger.Error("Run aborted", "err", runErr)
		metrics.RecordErrorDetails("run", runErr)
		exitCode, verdict = exitcodes.RuntimeErr, NewRuntimeError(runErr)
	}

	result := &Result{Report: report, ExitCode: exitCode, LogFile: artifact.Path}
	formatter := NewConsoleResultFormatter(logger, cfg.Out, runLog, cfg.LogConfig.Color)
	if err := formatter.FormatResults(report); err != nil {
		logger.Warn("Failed to write report", "err", err)
	}
	if cfg.SummaryJSON {
		path, err := reporting.WriteSummary(c.store, reporting.NewSummary(report, exitCode, cfg.Snapshot()))
		if err != nil {
			logger.Warn("Failed to write JSON summary", "err", err)
		} else {
			result.SummaryFile = path
			logger.Info("Wrote JSON summary", "path", path)
		}
	}
	c.metrics.ReportRun(runType, report, exitCode)

	if State(c.state.Load()) == StateReporting {
		c.transition(StateDone)
	}
	c.prune(runType, plan, logger)
	logger.Info("Run finished", "state", c.State(), "exit_code", exitCode, "totals", report.Totals.String())
	return result, verdict
}

// runPlan builds the executors and the runner for one plan and runs it.
func (c *Controller) runPlan(ctx context.Context, plan []types.TestCase, agg *runner.Aggregator, runType string, logger log.Logger) error {
	cfg := c.config
	execCfg := runner.ExecutorConfig{
		Store:     c.store,
		WorkDir:   cfg.WorkDir,
		KillGrace: cfg.KillGrace,
		Log:       logger,
	}
	executor, err := runner.NewTestExecutor(execCfg)
	if err != nil {
		return fmt.Errorf("failed to create test executor: %w", err)
	}
	batches, err := runner.NewBatchExecutor(execCfg, runner.PytestSelectArgs)
	if err != nil {
		return fmt.Errorf("failed to create batch executor: %w", err)
	}

	progress := runner.NewNoOpProgressIndicator()
	if cfg.ProgressInterval > 0 {
		progress = runner.NewConsoleProgressIndicator(logger, agg, len(plan), cfg.ProgressInterval)
	}
	defer progress.Stop()

	r, err := runner.NewRunner(runner.Config{
		Registry:    c.registry,
		Executor:    executor,
		Batches:     batches,
		Aggregator:  agg,
		Store:       c.store,
		Progress:    progress,
		Log:         logger,
		Verbose:     cfg.Verbose,
		Retries:     cfg.Retries,
		Concurrency: cfg.Concurrency,
		MinInterval: cfg.MinInterval,
		BeforeStage: envcheck.StageHealthCheck(c.httpClient),
		OnOutcome: func(o types.TestOutcome) {
			c.metrics.ReportOutcome(runType, o)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create runner: %w", err)
	}
	return r.Run(ctx, plan)
}

// Verdict classifies a finished report. Failures win over a shortfall as long
// as anything executed; nothing executed is never a pass.
func Verdict(report *types.RunReport) (int, error) {
	executed := report.Totals.Executed()
	switch {
	case executed == 0:
		return exitcodes.Shortfall, NewShortfallError(0, report.Expected)
	case report.Totals.Failures() > 0:
		msg := fmt.Sprintf("%d of %d executed tests failed", report.Totals.Failures(), executed)
		if critical := report.CriticalFailures(); len(critical) > 0 {
			ids := make([]string, 0, len(critical))
			for _, o := range critical {
				ids = append(ids, o.ID)
			}
			msg += fmt.Sprintf(", critical: %v", ids)
		}
		return exitcodes.TestFailure, NewTestFailureError(msg)
	case executed < report.Expected:
		return exitcodes.Shortfall, NewShortfallError(executed, report.Expected)
	}
	return exitcodes.Success, nil
}

// environment is the run metadata shown in the report header. Required
// variables are only reported as set or missing.
func (c *Controller) environment(sel registry.Selector, plan []types.TestCase) map[string]string {
	env := map[string]string{
		"selector": sel.String(),
		"workdir":  c.config.WorkDir,
	}
	if c.version != "" {
		env["version"] = c.version
	}
	if host, err := os.Hostname(); err == nil {
		env["host"] = host
	}
	seen := make(map[types.Category]bool)
	for _, tc := range plan {
		if seen[tc.Category] {
			continue
		}
		seen[tc.Category] = true
		for _, name := range c.registry.Stage(tc.Category).RequiredEnv {
			if _, ok := os.LookupEnv(name); ok {
				env[name] = "set"
			} else {
				env[name] = "missing"
			}
		}
	}
	return env
}

// prune applies retention to every pattern this run wrote to: its run log,
// its summary and the detail logs of every planned test and batch.
func (c *Controller) prune(runType string, plan []types.TestCase, logger log.Logger) {
	patterns := []logging.Pattern{
		logging.RunLogPattern(runType),
		logging.SummaryPattern(runType),
	}
	batches := make(map[string]bool)
	for _, tc := range plan {
		patterns = append(patterns, logging.TestLogPattern(tc.ID))
		if tc.InBatch() && !batches[tc.Batch] {
			batches[tc.Batch] = true
			patterns = append(patterns, logging.TestLogPattern(tc.Batch))
		}
	}
	removed, err := c.store.PruneAll(patterns...)
	if err != nil {
		logger.Warn("Failed to prune log artifacts", "err", err)
	}
	if len(removed) > 0 {
		logger.Debug("Pruned log artifacts", "removed", len(removed), "keep", c.store.Keep())
	}
}

func (c *Controller) transition(to State) {
	from := State(c.state.Load())
	if !canTransition(from, to) {
		c.config.Log.Error("Invalid state transition", "from", from, "to", to)
		return
	}
	c.state.Store(int32(to))
	c.config.Log.Debug("State transition", "from", from, "to", to)
}

func (c *Controller) setTask(t Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.task = t
}

// State returns the current run state.
// State implements the service.StatusProvider interface.
func (c *Controller) State() string {
	return State(c.state.Load()).String()
}

// Snapshot returns the live report, nil before the plan is resolved.
// Snapshot implements the service.StatusProvider interface.
func (c *Controller) Snapshot() *types.RunReport {
	agg := c.agg.Load()
	if agg == nil {
		return nil
	}
	return agg.Snapshot()
}

// Result returns the result of a finished run, nil before that.
func (c *Controller) Result() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Stop interrupts a foreground run and shuts the status servers down. A
// detached run is left alone.
// Stop implements the cliapp.Lifecycle interface.
func (c *Controller) Stop(ctx context.Context) error {
	c.config.Log.Info("Stopping suiterun")

	// Check if we're already stopped
	if !c.running.Load() {
		c.config.Log.Debug("Service already stopped, nothing to do")
		return nil
	}
	c.running.Store(false)

	c.mu.Lock()
	task := c.task
	servers := c.servers
	c.servers = nil
	c.mu.Unlock()

	if fg, ok := task.(*foregroundTask); ok && !State(c.state.Load()).Terminal() {
		c.config.Log.Info("Interrupting run", "state", c.State())
		fg.Cancel()
		select {
		case <-fg.Done():
		case <-ctx.Done():
			c.config.Log.Warn("Timed out waiting for the run to stop", "error", ctx.Err())
		}
	}

	var errs []error
	for _, svc := range servers {
		if err := svc.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	c.config.Log.Info("suiterun stopped successfully")
	return errors.Join(errs...)
}

// Stopped returns true if the controller is stopped.
// Stopped implements the cliapp.Lifecycle interface.
func (c *Controller) Stopped() bool {
	return !c.running.Load()
}
