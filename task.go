package suiterun

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/resumeapi/suiterun/types"
)

// Result is what a finished run hands back to its caller.
type Result struct {
	Report      *types.RunReport // nil for detached runs
	ExitCode    int
	LogFile     string
	SummaryFile string
}

// Task is a started run. Foreground and detached runs are both tasks so the
// controller waits on them the same way; the log file is only where a
// detached run's output can be observed.
type Task interface {
	Pid() int
	Done() <-chan struct{}
	// Wait blocks until the run is finished. The error classifies the run
	// the same way ExitCode does.
	Wait() (*Result, error)
	Cancel()
}

var (
	_ Task = (*foregroundTask)(nil)
	_ Task = (*detachedTask)(nil)
)

// foregroundTask runs fn in this process.
type foregroundTask struct {
	cancel context.CancelFunc
	done   chan struct{}
	result *Result
	err    error
}

func startForeground(ctx context.Context, fn func(context.Context) (*Result, error)) *foregroundTask {
	ctx, cancel := context.WithCancel(ctx)
	t := &foregroundTask{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(t.done)
		defer cancel()
		t.result, t.err = fn(ctx)
	}()
	return t
}

func (t *foregroundTask) Pid() int { return os.Getpid() }

func (t *foregroundTask) Done() <-chan struct{} { return t.done }

func (t *foregroundTask) Wait() (*Result, error) {
	<-t.done
	return t.result, t.err
}

// Cancel interrupts the run. Tests that have not started are recorded as
// skipped and the partial report is still rendered.
func (t *foregroundTask) Cancel() { t.cancel() }

// detachedTask is a run re-executed in its own session. It keeps running
// when this process exits.
type detachedTask struct {
	cmd     *exec.Cmd
	logPath string

	once   sync.Once
	done   chan struct{}
	result *Result
	err    error
}

// startDetached starts exe with args in a new session. stdout and stderr of
// the child both go to out, which the caller may close once this returns.
func startDetached(exe string, args, env []string, dir string, out *os.File) (*detachedTask, error) {
	cmd := exec.Command(exe, args...)
	cmd.Env = env
	cmd.Dir = dir
	cmd.Stdout = out
	cmd.Stderr = out
	detach(cmd)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start detached run: %w", err)
	}

	t := &detachedTask{
		cmd:     cmd,
		logPath: out.Name(),
		done:    make(chan struct{}),
	}
	go t.wait()
	return t, nil
}

func (t *detachedTask) wait() {
	defer close(t.done)
	code := 0
	var exitErr *exec.ExitError
	if err := t.cmd.Wait(); errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	} else if err != nil {
		t.result = &Result{ExitCode: code, LogFile: t.logPath}
		t.err = NewRuntimeError(fmt.Errorf("waiting for detached run: %w", err))
		return
	}
	t.result = &Result{ExitCode: code, LogFile: t.logPath}
	t.err = errorForExitCode(code, t.logPath)
}

func (t *detachedTask) Pid() int { return t.cmd.Process.Pid }

func (t *detachedTask) LogPath() string { return t.logPath }

func (t *detachedTask) Done() <-chan struct{} { return t.done }

func (t *detachedTask) Wait() (*Result, error) {
	<-t.done
	return t.result, t.err
}

// Cancel terminates the detached run's whole session.
func (t *detachedTask) Cancel() {
	t.once.Do(func() {
		_ = terminate(t.cmd)
	})
}

// detachedArgs strips the flags that would make the child detach or follow
// again. args must not contain the program name.
func detachedArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for i, arg := range args {
		if arg == "--" {
			return append(out, args[i:]...)
		}
		name := strings.TrimLeft(arg, "-")
		if name != arg {
			if i := strings.IndexByte(name, '='); i >= 0 {
				name = name[:i]
			}
			if name == "background" || name == "follow" {
				continue
			}
		}
		out = append(out, arg)
	}
	return out
}
