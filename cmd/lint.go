package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MongooseMoo/moo-conformance-tests/internal/config"
	"github.com/MongooseMoo/moo-conformance-tests/internal/lint"
)

var (
	lintSuiteDir string
	lintKeep     string
	lintFix      bool
)

var lintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Find duplicate and malformed tests in the suite files",
	Long: `Scans the suite directory for tests with duplicated names, tests whose
content is identical across files, and files that fail validation.

With --fix, duplicates are removed in place. The --keep strategy decides
which occurrence of an identical group survives: first, last,
longest-name, or most-described.`,
	RunE: runLint,
}

func runLint(cmd *cobra.Command, args []string) error {
	strategy, err := lint.ParseStrategy(lintKeep)
	if err != nil {
		return err
	}

	report, err := lint.Run(lintSuiteDir, strategy)
	if err != nil {
		return err
	}
	report.Render(cmd.OutOrStdout())

	if lintFix {
		if err := lint.Apply(report); err != nil {
			return err
		}
		removed := 0
		for _, indices := range report.Removals() {
			removed += len(indices)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d duplicate test(s)\n", removed)
		return nil
	}

	if !report.Clean() {
		return fmt.Errorf("lint found issues in %s", lintSuiteDir)
	}
	return nil
}

func init() {
	lintCmd.Flags().StringVar(&lintSuiteDir, "suite-dir", config.DefaultSuiteDir, "Directory of suite YAML files")
	lintCmd.Flags().StringVar(&lintKeep, "keep", "first", "Which duplicate to keep (first, last, longest-name, most-described)")
	lintCmd.Flags().BoolVar(&lintFix, "fix", false, "Remove duplicate tests in place")
	rootCmd.AddCommand(lintCmd)
}
