package suiterun

import (
	"io"

	"github.com/ethereum/go-ethereum/log"

	"github.com/resumeapi/suiterun/reporting"
	"github.com/resumeapi/suiterun/types"
)

// ResultFormatter is responsible for formatting and displaying run reports.
type ResultFormatter interface {
	FormatResults(report *types.RunReport) error
}

// ConsoleResultFormatter writes the rendered report to the console and to
// the run log. Only the console copy is colored.
type ConsoleResultFormatter struct {
	logger  log.Logger
	console io.Writer
	runLog  io.Writer
	color   bool
}

// NewConsoleResultFormatter creates a new ConsoleResultFormatter. runLog may be nil.
func NewConsoleResultFormatter(logger log.Logger, console, runLog io.Writer, color bool) *ConsoleResultFormatter {
	return &ConsoleResultFormatter{
		logger:  logger,
		console: console,
		runLog:  runLog,
		color:   color,
	}
}

// FormatResults renders the report once per destination.
func (f *ConsoleResultFormatter) FormatResults(report *types.RunReport) error {
	f.logger.Info("Printing results...")
	if err := reporting.NewRenderer(f.color).Write(report, reporting.NewStreamWriter(f.console)); err != nil {
		return err
	}
	if f.runLog == nil {
		return nil
	}
	return reporting.NewRenderer(false).Write(report, reporting.NewStreamWriter(f.runLog))
}
