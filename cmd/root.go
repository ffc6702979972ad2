package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/MongooseMoo/moo-conformance-tests/pkg/logging"
)

var logLevel string

// rootCmd is the entry point for the mooconf CLI.
var rootCmd = &cobra.Command{
	Use:   "mooconf",
	Short: "Conformance test harness for MOO servers",
	Long: `mooconf runs a YAML-described conformance suite against a live MOO
server over its line protocol, verifying wire behavior, value semantics,
and error handling across server implementations.`,
	// SilenceUsage keeps handled errors from dumping the usage text.
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.InitForCLI(logging.ParseLevel(logLevel), os.Stderr)
	},
}

// SetVersion injects the build version, typically from main via -ldflags.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the injected build version.
func GetVersion() string {
	return rootCmd.Version
}

// Execute runs the CLI. Called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "mooconf version %s\n" .Version}}`)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"Log level (debug, info, warn, error)")
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
}
