package suiterun

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// DefaultFollowInterval is how often a followed log is polled for new output.
const DefaultFollowInterval = 250 * time.Millisecond

// LogFollower copies a growing log file to a writer, like tail -f.
type LogFollower struct {
	path     string
	interval time.Duration
	out      io.Writer
	logger   log.Logger
}

// NewLogFollower creates a new LogFollower.
func NewLogFollower(path string, interval time.Duration, out io.Writer, logger log.Logger) *LogFollower {
	if interval <= 0 {
		interval = DefaultFollowInterval
	}
	return &LogFollower{
		path:     path,
		interval: interval,
		out:      out,
		logger:   logger,
	}
}

// Follow copies everything written to the log until done is closed, then
// drains what is left and returns. Canceling ctx stops following early
// without affecting the writer of the log.
func (f *LogFollower) Follow(ctx context.Context, done <-chan struct{}) error {
	file, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("failed to open followed log: %w", err)
	}
	defer file.Close()

	f.logger.Debug("Following log", "path", f.path, "interval", f.interval)
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		if _, err := io.Copy(f.out, file); err != nil {
			return fmt.Errorf("failed to copy followed log: %w", err)
		}

		select {
		case <-ticker.C:
		case <-done:
			f.logger.Debug("Writer finished, draining followed log", "path", f.path)
			if _, err := io.Copy(f.out, file); err != nil {
				return fmt.Errorf("failed to copy followed log: %w", err)
			}
			return nil
		case <-ctx.Done():
			f.logger.Debug("Context canceled, stopped following log", "path", f.path)
			return ctx.Err()
		}
	}
}
