package suite

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"crucible/internal/engine"
	pkgstrings "crucible/pkg/strings"
)

// Reporter renders suite results and reports to a console.
type Reporter struct {
	out io.Writer
}

// NewReporter creates a console reporter writing to stdout.
func NewReporter() *Reporter {
	return &Reporter{out: os.Stdout}
}

// NewReporterTo creates a console reporter writing to the given writer.
func NewReporterTo(out io.Writer) *Reporter {
	return &Reporter{out: out}
}

// PrintResults renders one row per executed test in execution order.
func (r *Reporter) PrintResults(results []*engine.TestResult) {
	t := r.createTable()
	t.AppendHeader(table.Row{
		text.FgHiCyan.Sprint("TEST"),
		text.FgHiCyan.Sprint("KIND"),
		text.FgHiCyan.Sprint("SEVERITY"),
		text.FgHiCyan.Sprint("STATUS"),
		text.FgHiCyan.Sprint("DURATION"),
		text.FgHiCyan.Sprint("DETAIL"),
	})
	for _, result := range results {
		kind, severity := engine.KindStandard, engine.SeverityMedium
		name := result.ID
		if result.Case != nil {
			kind = result.Case.Kind
			severity = result.Case.Severity
			if result.Case.Name != "" {
				name = result.Case.Name
			}
		}
		detail := pkgstrings.TruncateDetail(result.Error, pkgstrings.DefaultDetailMaxLen)
		t.AppendRow(table.Row{
			name,
			kind,
			severity,
			statusCell(result.Status),
			result.Duration().Round(time.Millisecond),
			detail,
		})
	}
	t.Render()
}

// PrintReport renders the aggregated report: the overall tally, then one
// section per severity, then the failure list.
func (r *Reporter) PrintReport(report *Report) {
	fmt.Fprintf(r.out, "\n%s %d total, %s, %s, %s, %s (%.1f%% pass rate, %v)\n",
		text.FgHiWhite.Sprint("Suite:"),
		report.Total,
		text.FgGreen.Sprintf("%d passed", report.Passed),
		text.FgRed.Sprintf("%d failed", report.Failed),
		text.FgYellow.Sprintf("%d skipped", report.Skipped),
		text.FgHiRed.Sprintf("%d errored", report.Errored),
		report.PassRate,
		report.Duration.Round(time.Millisecond))

	for _, severity := range []engine.Severity{
		engine.SeverityCritical, engine.SeverityHigh, engine.SeverityMedium, engine.SeverityLow,
	} {
		summaries := report.BySeverity[severity]
		if len(summaries) == 0 {
			continue
		}
		fmt.Fprintf(r.out, "\n%s\n", text.FgHiCyan.Sprint(severity))
		t := r.createTable()
		for _, summary := range summaries {
			t.AppendRow(table.Row{
				summary.Name,
				statusCell(summary.Status),
				summary.Duration.Round(time.Millisecond),
			})
		}
		t.Render()
	}

	if len(report.Failures) > 0 {
		fmt.Fprintf(r.out, "\n%s %s\n", "❌", text.FgRed.Sprint("Failures"))
		for _, failure := range report.Failures {
			fmt.Fprintf(r.out, "  %s (%s, %v): %s\n",
				failure.Name, failure.Status, failure.Duration.Round(time.Millisecond), failure.Error)
		}
	}
}

func (r *Reporter) createTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetStyle(table.StyleRounded)
	return t
}

func statusCell(status engine.Status) string {
	switch status {
	case engine.StatusPassed:
		return text.FgGreen.Sprint(status)
	case engine.StatusFailed:
		return text.FgRed.Sprint(status)
	case engine.StatusError:
		return text.FgHiRed.Sprint(status)
	case engine.StatusSkipped:
		return text.FgYellow.Sprint(status)
	default:
		return string(status)
	}
}
