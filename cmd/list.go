package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/MongooseMoo/moo-conformance-tests/internal/config"
	"github.com/MongooseMoo/moo-conformance-tests/internal/suite"
)

var (
	listSuiteDir string
	listTests    bool
	listJSON     bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List available suites and tests",
	Long: `Lists the conformance suites discovered in the suite directory. With
--tests, every test is listed with its capability wiring.`,
	RunE: runList,
}

type listedTest struct {
	ID          string   `json:"id"`
	Suite       string   `json:"suite"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Provides    string   `json:"provides,omitempty"`
	Assumes     []string `json:"assumes,omitempty"`
	Skip        bool     `json:"skip,omitempty"`
}

type listedSuite struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Tests       int    `json:"tests"`
	Skip        bool   `json:"skip,omitempty"`
	Path        string `json:"path"`
}

func runList(cmd *cobra.Command, args []string) error {
	suites, err := suite.Load(listSuiteDir)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if listTests {
		var tests []listedTest
		for _, s := range suites {
			for _, t := range s.Tests {
				tests = append(tests, listedTest{
					ID:          s.TestID(t),
					Suite:       s.Stem,
					Name:        t.Name,
					Description: t.Description,
					Provides:    s.ProvidesFor(t),
					Assumes:     s.AssumesFor(t),
					Skip:        t.Skip.Active() || s.Skip.Active(),
				})
			}
		}
		if listJSON {
			return printJSON(out, tests)
		}
		tw := table.NewWriter()
		tw.SetOutputMirror(out)
		tw.SetStyle(table.StyleRounded)
		tw.SetTitle(text.FgHiCyan.Sprint("Tests"))
		tw.AppendHeader(table.Row{"ID", "Provides", "Assumes", "Skip"})
		for _, t := range tests {
			skip := ""
			if t.Skip {
				skip = "yes"
			}
			tw.AppendRow(table.Row{t.ID, t.Provides, strings.Join(t.Assumes, ", "), skip})
		}
		tw.Render()
		fmt.Fprintf(out, "%d tests in %d suites\n", len(tests), len(suites))
		return nil
	}

	var rows []listedSuite
	for _, s := range suites {
		rows = append(rows, listedSuite{
			Name:        s.Stem,
			Description: s.Description,
			Tests:       len(s.Tests),
			Skip:        s.Skip.Active(),
			Path:        s.Path,
		})
	}
	if listJSON {
		return printJSON(out, rows)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.SetStyle(table.StyleRounded)
	tw.SetTitle(text.FgHiCyan.Sprint("Suites"))
	tw.AppendHeader(table.Row{"Suite", "Tests", "Description"})
	total := 0
	for _, s := range rows {
		name := s.Name
		if s.Skip {
			name += " (skipped)"
		}
		tw.AppendRow(table.Row{name, s.Tests, s.Description})
		total += s.Tests
	}
	tw.AppendFooter(table.Row{"Total", total, ""})
	tw.Render()
	return nil
}

func printJSON(out io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = out.Write(data)
	return err
}

func init() {
	listCmd.Flags().StringVar(&listSuiteDir, "suite-dir", config.DefaultSuiteDir, "Directory of suite YAML files")
	listCmd.Flags().BoolVar(&listTests, "tests", false, "List individual tests instead of suites")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(listCmd)
}
