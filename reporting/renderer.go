package reporting

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/resumeapi/suiterun/types"
	"github.com/resumeapi/suiterun/ui"
)

// CollectionFailureMarker tags failures of tests whose batch never ran them.
const CollectionFailureMarker = "BatchCollectionFailure"

const headerWidth = 72

// StatusDisplay represents display information for a test status
type StatusDisplay struct {
	Text   string
	Colors text.Colors
}

// getStatusDisplay returns the short status text and its console colors
func getStatusDisplay(status types.TestStatus) StatusDisplay {
	switch status {
	case types.TestStatusPassed:
		return StatusDisplay{Text: "PASS", Colors: text.Colors{text.FgGreen}}
	case types.TestStatusFailed:
		return StatusDisplay{Text: "FAIL", Colors: text.Colors{text.FgRed}}
	case types.TestStatusTimedOut:
		return StatusDisplay{Text: "TIMEOUT", Colors: text.Colors{text.FgMagenta}}
	case types.TestStatusSkipped:
		return StatusDisplay{Text: "SKIP", Colors: text.Colors{text.FgYellow}}
	default:
		return StatusDisplay{Text: "UNKNOWN"}
	}
}

// formatDuration formats a duration for display
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Truncate(time.Millisecond).String()
}

// ReportWriter writes rendered reports to a destination
type ReportWriter interface {
	Write(content string) error
}

// StreamWriter writes reports to any io.Writer, such as stdout or the run log.
type StreamWriter struct {
	w io.Writer
}

// NewStreamWriter creates a writer for w
func NewStreamWriter(w io.Writer) *StreamWriter {
	return &StreamWriter{w: w}
}

func (sw *StreamWriter) Write(content string) error {
	_, err := io.WriteString(sw.w, content)
	return err
}

// Renderer turns a run report into the text report shown at the end of a run.
type Renderer struct {
	color bool
}

// NewRenderer creates a renderer. Color only affects the banner and status
// cells; file sinks strip escape sequences on their own.
func NewRenderer(color bool) *Renderer {
	return &Renderer{color: color}
}

// Render produces the report sections in order: header, category table,
// priority table, category by priority matrix, module table, failed tests
// and the final banner.
func (r *Renderer) Render(report *types.RunReport) string {
	var sb strings.Builder
	sb.WriteString(r.header(report))
	sb.WriteString("\n")
	sb.WriteString(r.categoryTable(report))
	sb.WriteString("\n\n")
	sb.WriteString(r.priorityTable(report))
	sb.WriteString("\n\n")
	sb.WriteString(r.matrixTable(report))
	sb.WriteString("\n\n")
	if len(report.ByModule) > 0 {
		sb.WriteString(r.moduleTable(report))
		sb.WriteString("\n\n")
	}
	if failed := r.failedSection(report); failed != "" {
		sb.WriteString(failed)
		sb.WriteString("\n\n")
	}
	sb.WriteString(r.Banner(report))
	sb.WriteString("\n")
	return sb.String()
}

// Write renders the report and hands it to every writer.
func (r *Renderer) Write(report *types.RunReport, writers ...ReportWriter) error {
	content := r.Render(report)
	for _, w := range writers {
		if err := w.Write(content); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
	}
	return nil
}

func (r *Renderer) header(report *types.RunReport) string {
	lines := []string{
		"Run ID:    " + report.RunID,
		"Started:   " + report.StartedAt.Format(time.RFC3339),
		"Duration:  " + formatDuration(report.TotalDuration),
		"Registry:  " + report.RegistryVersion,
	}
	if report.LogFile != "" {
		lines = append(lines, "Run log:   "+report.LogFile)
	}
	keys := make([]string, 0, len(report.Environment))
	for k := range report.Environment {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("Env:       %s=%s", k, report.Environment[k]))
	}
	return ui.BuildBox(fmt.Sprintf("Test Run Report: %s", report.RunType), lines, headerWidth)
}

func countsHeader(first string) table.Row {
	return table.Row{first, "Passed", "Failed", "Timed Out", "Skipped", "Total", "Rate"}
}

func countsRow(label string, b types.BucketCounts) table.Row {
	return table.Row{
		label,
		b.Passed,
		b.Failed,
		b.TimedOut,
		b.Skipped,
		b.Total,
		fmt.Sprintf("%d/%d (%d%%)", b.Passed, b.Total, b.PassRate()),
	}
}

func newCountsTable(title, first string) table.Writer {
	t := table.NewWriter()
	t.SetTitle(title)
	t.AppendHeader(countsHeader(first))
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Timed Out", Align: text.AlignRight},
		{Name: "Skipped", Align: text.AlignRight},
		{Name: "Total", Align: text.AlignRight},
		{Name: "Rate", Align: text.AlignRight},
	})
	t.SetStyle(table.StyleLight)
	return t
}

func (r *Renderer) categoryTable(report *types.RunReport) string {
	t := newCountsTable("Results by Category", "Category")
	for _, c := range types.Categories {
		b, ok := report.ByCategory[c]
		if !ok {
			continue
		}
		t.AppendRow(countsRow(string(c), b))
	}
	t.AppendFooter(countsRow("TOTAL", report.Totals))
	return t.Render()
}

func (r *Renderer) priorityTable(report *types.RunReport) string {
	t := newCountsTable("Results by Priority", "Priority")
	for _, p := range types.Priorities {
		b, ok := report.ByPriority[p]
		if !ok {
			continue
		}
		label := string(p)
		if p.IsCritical() {
			label += " (critical)"
		}
		t.AppendRow(countsRow(label, b))
	}
	t.AppendFooter(countsRow("TOTAL", report.Totals))
	return t.Render()
}

// matrixTable shows passed/total per category and priority cell.
func (r *Renderer) matrixTable(report *types.RunReport) string {
	t := table.NewWriter()
	t.SetTitle("Category x Priority")
	header := table.Row{"Category"}
	for _, p := range types.Priorities {
		header = append(header, string(p))
	}
	header = append(header, "All")
	t.AppendHeader(header)

	for _, c := range types.Categories {
		row, ok := report.Matrix[c]
		if !ok {
			continue
		}
		cells := table.Row{string(c)}
		for _, p := range types.Priorities {
			b, ok := row[p]
			if !ok {
				cells = append(cells, "-")
				continue
			}
			cells = append(cells, fmt.Sprintf("%d/%d", b.Passed, b.Total))
		}
		cells = append(cells, report.ByCategory[c].String())
		t.AppendRow(cells)
	}
	t.SetStyle(table.StyleLight)
	return t.Render()
}

func (r *Renderer) moduleTable(report *types.RunReport) string {
	t := newCountsTable("Results by Module", "Module")
	modules := make([]string, 0, len(report.ByModule))
	for m := range report.ByModule {
		modules = append(modules, m)
	}
	sort.Strings(modules)
	for _, m := range modules {
		label := m
		if label == "" {
			label = "(none)"
		}
		t.AppendRow(countsRow(label, report.ByModule[m]))
	}
	return t.Render()
}

// failedSection lists every failing id with its log reference. Tests that
// never ran because their batch failed to collect are tagged distinctly.
func (r *Renderer) failedSection(report *types.RunReport) string {
	if len(report.FailedIDs) == 0 {
		return ""
	}

	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("Failed Tests (%d)", len(report.FailedIDs)))
	t.AppendHeader(table.Row{"ID", "Status", "Priority", "Category", "Duration", "Log", "Reason"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Reason", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
	})
	for _, id := range report.FailedIDs {
		o, ok := report.Outcome(id)
		if !ok {
			continue
		}
		status := getStatusDisplay(o.Status).Text
		if o.CollectionFailure {
			status = CollectionFailureMarker
		}
		if r.color {
			status = getStatusDisplay(o.Status).Colors.Sprint(status)
		}
		logPath := o.LogPath
		if logPath == "" {
			logPath = "-"
		}
		t.AppendRow(table.Row{o.ID, status, string(o.Priority), string(o.Category), formatDuration(o.Duration), logPath, o.Reason})
	}
	t.SetStyle(table.StyleLight)

	var sb strings.Builder
	sb.WriteString(t.Render())
	for _, batch := range report.CollectionFailures {
		var members []string
		for _, o := range report.Outcomes {
			if o.Batch == batch && o.CollectionFailure {
				members = append(members, o.ID)
			}
		}
		root := fmt.Sprintf("%s: batch %s failed before running any test; its tests did not run individually", CollectionFailureMarker, batch)
		sb.WriteString("\n" + ui.BuildTreeLines(root, members))
	}
	return sb.String()
}

// Banner is the final verdict line. Critical failures get their own line so
// they stand out from lower priority ones.
func (r *Renderer) Banner(report *types.RunReport) string {
	var lines []string
	executed := report.Totals.Executed()

	switch {
	case executed == 0:
		lines = append(lines, r.paint("NO TESTS EXECUTED", text.BgYellow, text.FgBlack, text.Bold))
	case report.Passed():
		lines = append(lines, r.paint(fmt.Sprintf("ALL TESTS PASSED (%s)", report.Totals), text.BgGreen, text.FgBlack, text.Bold))
	default:
		if critical := report.CriticalFailures(); len(critical) > 0 {
			ids := make([]string, 0, len(critical))
			for _, o := range critical {
				ids = append(ids, o.ID)
			}
			lines = append(lines, r.paint(fmt.Sprintf("CRITICAL P0 FAILURES (%d): %s", len(ids), strings.Join(ids, ", ")), text.BgRed, text.FgWhite, text.Bold))
		}
		if other := report.Totals.Failures() - len(report.CriticalFailures()); other > 0 {
			lines = append(lines, r.paint(fmt.Sprintf("FAILURES (P1/P2): %d", other), text.BgRed, text.FgWhite))
		}
		lines = append(lines, fmt.Sprintf("TESTS FAILED (%s, %d timed out)", report.Totals, report.Totals.TimedOut))
	}

	if report.Expected > 0 && executed < report.Expected {
		lines = append(lines, r.paint(fmt.Sprintf("SHORTFALL: executed %d of %d expected tests", executed, report.Expected), text.BgYellow, text.FgBlack))
	}
	return strings.Join(lines, "\n")
}

func (r *Renderer) paint(s string, colors ...text.Color) string {
	if !r.color {
		return s
	}
	return text.Colors(colors).Sprint(s)
}
