package harness

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/MongooseMoo/moo-conformance-tests/internal/suite"
)

// Reporter receives run progress. Implementations must tolerate being
// called from a single goroutine only.
type Reporter interface {
	RunStarted(total int)
	SuiteStarted(s *suite.Suite)
	TestFinished(result TestResult)
	RunFinished(report *RunReport)
}

// ConsoleReporter prints progress to Out. Quiet suppresses the per-test
// lines, leaving only the final summary table.
type ConsoleReporter struct {
	Out   io.Writer
	Quiet bool
}

func (r *ConsoleReporter) RunStarted(total int) {
	if r.Quiet {
		return
	}
	fmt.Fprintf(r.Out, "🧪 Running %d conformance tests\n", total)
}

func (r *ConsoleReporter) SuiteStarted(s *suite.Suite) {
	if r.Quiet {
		return
	}
	fmt.Fprintf(r.Out, "\n📦 %s", s.Name)
	if s.Description != "" {
		fmt.Fprintf(r.Out, " — %s", s.Description)
	}
	fmt.Fprintln(r.Out)
}

func (r *ConsoleReporter) TestFinished(result TestResult) {
	if r.Quiet {
		return
	}
	switch result.Status {
	case StatusPassed:
		fmt.Fprintf(r.Out, "   ✅ %s (%v)\n", result.Test, result.Duration.Round(1e6))
	case StatusFailed:
		fmt.Fprintf(r.Out, "   ❌ %s: %s\n", result.Test, result.Message)
	case StatusSkipped:
		fmt.Fprintf(r.Out, "   ⏭️  %s: %s\n", result.Test, result.SkipReason)
	case StatusError:
		fmt.Fprintf(r.Out, "   💥 %s: %s\n", result.Test, result.Message)
	}
}

func (r *ConsoleReporter) RunFinished(report *RunReport) {
	t := table.NewWriter()
	t.SetOutputMirror(r.Out)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Outcome", "Count"})
	t.AppendRows([]table.Row{
		{"✅ Passed", report.Passed},
		{"❌ Failed", report.Failed},
		{"⏭️ Skipped", report.Skipped},
		{"💥 Errors", report.Errors},
	})
	t.AppendFooter(table.Row{"Total", report.Tests})
	fmt.Fprintln(r.Out)
	// Heading above the table: a title wider than the table wraps mid-word.
	fmt.Fprintln(r.Out, text.FgHiCyan.Sprint("Conformance Run Summary"))
	t.Render()
	fmt.Fprintf(r.Out, "Run %s finished in %v\n", report.RunID, report.Duration.Round(1e6))

	if report.Failed > 0 || report.Errors > 0 {
		fmt.Fprintln(r.Out, "\nFailures:")
		for _, res := range report.Results {
			if res.Status == StatusFailed || res.Status == StatusError {
				fmt.Fprintf(r.Out, "   %s: %s\n", res.ID, res.Message)
			}
		}
	}
}

// nopReporter discards everything; the MCP tools use it.
type nopReporter struct{}

func (nopReporter) RunStarted(int)            {}
func (nopReporter) SuiteStarted(*suite.Suite) {}
func (nopReporter) TestFinished(TestResult)   {}
func (nopReporter) RunFinished(*RunReport)    {}
