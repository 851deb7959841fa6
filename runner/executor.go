package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"al.essio.dev/pkg/shellescape"
	"github.com/ethereum/go-ethereum/log"
	"github.com/resumeapi/suiterun/logging"
	"github.com/resumeapi/suiterun/types"
)

var _ TestExecutor = (*testExecutor)(nil)

// CommandBuilder creates the command for an execution. Builders must use
// exec.CommandContext so the executor can enforce timeouts.
type CommandBuilder func(ctx context.Context, name string, arg ...string) (*exec.Cmd, func())

// TestExecutor runs a single registered test case.
type TestExecutor interface {
	// Execute runs the case under its timeout and always leaves a log file
	// behind. The error is reserved for problems outside the test itself.
	Execute(ctx context.Context, tc types.TestCase) (*types.TestOutcome, error)
}

// ExecutorConfig holds what the executors need to spawn processes.
type ExecutorConfig struct {
	Store      *logging.Store
	WorkDir    string
	Env        []string // appended to the current environment
	CmdBuilder CommandBuilder
	KillGrace  time.Duration
	Log        log.Logger
}

// testExecutor implements TestExecutor
type testExecutor struct {
	store      *logging.Store
	cmdBuilder CommandBuilder
	killGrace  time.Duration
	log        log.Logger
}

// NewTestExecutor creates a new test executor
func NewTestExecutor(cfg ExecutorConfig) (TestExecutor, error) {
	return newTestExecutor(cfg)
}

func newTestExecutor(cfg ExecutorConfig) (*testExecutor, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = DefaultKillGrace
	}
	if cfg.CmdBuilder == nil {
		cfg.CmdBuilder = DefaultCommandBuilder(cfg.WorkDir, cfg.Env)
	}
	return &testExecutor{
		store:      cfg.Store,
		cmdBuilder: cfg.CmdBuilder,
		killGrace:  cfg.KillGrace,
		log:        cfg.Log.New("component", "executor"),
	}, nil
}

// DefaultCommandBuilder runs commands in workDir with extra environment.
func DefaultCommandBuilder(workDir string, env []string) CommandBuilder {
	return func(ctx context.Context, name string, arg ...string) (*exec.Cmd, func()) {
		cmd := exec.CommandContext(ctx, name, arg...)
		cmd.Dir = workDir
		if len(env) > 0 {
			cmd.Env = append(os.Environ(), env...)
		}
		return cmd, func() {}
	}
}

// Execute runs a single test
func (e *testExecutor) Execute(ctx context.Context, tc types.TestCase) (*types.TestOutcome, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context cannot be nil")
	}
	if len(tc.Command) == 0 {
		return nil, fmt.Errorf("test %s has no command", tc.ID)
	}

	e.log.Info("Running test", "test", tc.ID, "category", tc.Category, "priority", tc.Priority, "timeout", tc.Timeout)

	res, err := e.run(ctx, tc.ID, tc.ID, tc.Command, tc.Timeout)
	if err != nil {
		return nil, err
	}

	outcome := &types.TestOutcome{
		ID:       tc.ID,
		Duration: res.duration,
		LogPath:  res.logPath,
		Category: tc.Category,
		Priority: tc.Priority,
		Module:   tc.Module,
		Attempts: 1,
	}

	switch {
	case res.interrupted:
		outcome.Status = types.TestStatusSkipped
		outcome.Reason = ReasonInterrupted
	case res.timedOut:
		outcome.Status = types.TestStatusTimedOut
		outcome.Reason = fmt.Sprintf("timed out after %s", tc.Timeout)
	case res.startErr != nil:
		outcome.Status = types.TestStatusFailed
		outcome.Reason = fmt.Sprintf("failed to start: %v", res.startErr)
	case res.exitCode != 0:
		outcome.Status = types.TestStatusFailed
		outcome.Reason = fmt.Sprintf("exit code %d", res.exitCode)
	default:
		outcome.Status = types.TestStatusPassed
	}
	if outcome.Status.IsFailure() {
		outcome.Stdout = res.tail.lastLines(stdoutSnippetLines)
		if res.tail.Truncated() {
			e.log.Debug("Output snippet taken from the tail of a large log", "test", tc.ID, "bytes", res.tail.TotalBytes())
		}
	}

	e.log.Info("Test finished", "test", tc.ID, "status", outcome.Status, "duration", outcome.Duration.Truncate(time.Millisecond), "log", outcome.LogPath)
	return outcome, nil
}

// processResult describes how one subprocess ended.
type processResult struct {
	exitCode int
	startErr error
	timedOut bool
	// interrupted is set when the run context ended while the process ran.
	interrupted bool
	duration time.Duration
	logPath  string
	tail     *tailBuffer
}

// run spawns argv with combined output going to a fresh log file for logID.
func (e *testExecutor) run(ctx context.Context, logID, label string, argv []string, timeout time.Duration) (*processResult, error) {
	logFile, artifact, err := e.store.CreateTestLog(logID)
	if err != nil {
		return nil, fmt.Errorf("failed to create log for %s: %w", logID, err)
	}
	defer logFile.Close()

	fmt.Fprintf(logFile, "=== %s\n=== command: %s\n=== timeout: %s\n=== started: %s\n\n",
		label, shellescape.QuoteCommand(argv), timeout, artifact.CreatedAt.Format(time.RFC3339))

	runCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	cmd, cleanup := e.cmdBuilder(runCtx, argv[0], argv[1:]...)
	defer cleanup()

	tail := newTailBuffer(defaultStdoutTailBytes)
	out := io.MultiWriter(logging.StripWriter{W: logFile}, tail)
	cmd.Stdout = out
	cmd.Stderr = out
	configureProcessGroup(cmd, e.killGrace)

	res := &processResult{logPath: artifact.Path, tail: tail}

	start := time.Now()
	runErr := cmd.Run()
	res.duration = time.Since(start)

	res.interrupted = runErr != nil && ctx.Err() != nil
	res.timedOut = timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) && !res.interrupted
	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
	case res.interrupted:
		res.exitCode = -1
	case errors.Is(runErr, exec.ErrWaitDelay):
		// exited cleanly but a descendant kept the output open
	case errors.As(runErr, &exitErr):
		res.exitCode = exitErr.ExitCode()
	case res.timedOut:
		res.exitCode = -1
	default:
		res.startErr = runErr
		res.exitCode = -1
		fmt.Fprintf(logFile, "failed to start: %v\n", runErr)
	}

	status := fmt.Sprintf("exit code %d", res.exitCode)
	switch {
	case res.interrupted:
		status = "interrupted, process group terminated"
	case res.timedOut:
		status = fmt.Sprintf("timed out after %s, process group terminated", timeout)
	}
	fmt.Fprintf(logFile, "\n=== finished: %s in %s, %d bytes of output\n", status, res.duration.Truncate(time.Millisecond), tail.TotalBytes())

	return res, nil
}
