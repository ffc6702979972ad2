package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/MongooseMoo/moo-conformance-tests/internal/client"
	"github.com/MongooseMoo/moo-conformance-tests/internal/config"
	"github.com/MongooseMoo/moo-conformance-tests/internal/engine"
	"github.com/MongooseMoo/moo-conformance-tests/internal/harness"
	"github.com/MongooseMoo/moo-conformance-tests/internal/server"
	"github.com/MongooseMoo/moo-conformance-tests/internal/suite"
	"github.com/MongooseMoo/moo-conformance-tests/pkg/logging"
)

var (
	testHost          string
	testPort          int
	testUser          string
	testSuiteDir      string
	testName          string
	testExpression    string
	testFailFast      bool
	testQuiet         bool
	testReportPath    string
	testWatch         bool
	testServerCommand string
	testServerDB      string
)

// completeTestNameFlag completes --name with the IDs of discoverable tests.
func completeTestNameFlag(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	suites, err := suite.Load(testSuiteDir)
	if err != nil {
		return nil, cobra.ShellCompDirectiveDefault
	}
	var ids []string
	for _, s := range suites {
		for _, t := range s.Tests {
			ids = append(ids, s.TestID(t))
		}
	}
	return ids, cobra.ShellCompDirectiveDefault
}

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Run conformance suites against a MOO server",
	Long: `Runs the YAML conformance suites against a MOO server and reports
pass/fail/skip per test.

The target server is either externally managed (connect to --host/--port)
or launched by the harness when --server-command is given. The command
template substitutes {port} and {db}:

  mooconf test --server-command='./moo {db} {port}' --db=minimal.db

Tests can be filtered by name substring or by a boolean expression over
the test's fields:

  mooconf test --name=division
  mooconf test --expression='provides != "" or "fork" in assumes'

With --watch, the harness re-runs whenever a suite file changes.`,
	RunE: runTest,
}

func runTest(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	filter, err := suite.BuildExpression(testName, testExpression)
	if err != nil {
		return err
	}

	var mgr *server.Manager
	if cfg.Managed() {
		mgr, err = startManagedServer(cfg)
		if err != nil {
			return err
		}
		defer mgr.Stop()
		cfg.Port = mgr.Port()
	}

	c := client.New(client.Config{Host: cfg.Host, Port: cfg.Port})
	if err := c.Connect(cfg.User); err != nil {
		return fmt.Errorf("connecting to %s: %w", cfg.Address(), err)
	}
	defer c.Close()

	runOnce := func(ctx context.Context) (*harness.RunReport, error) {
		suites, err := suite.Load(cfg.SuiteDir)
		if err != nil {
			return nil, err
		}
		if len(suites) == 0 {
			return nil, fmt.Errorf("no suites found in %s", cfg.SuiteDir)
		}
		reporter := &harness.ConsoleReporter{Out: cmd.OutOrStdout(), Quiet: testQuiet}
		h := harness.New(engine.WrapClient(c), reporter, harness.Options{FailFast: testFailFast})
		return h.Run(ctx, suites, filter)
	}

	if testWatch {
		return watchLoop(ctx, cfg.SuiteDir, runOnce)
	}

	report, err := runOnce(ctx)
	if err != nil {
		return err
	}
	if testReportPath != "" {
		if err := writeReport(testReportPath, report); err != nil {
			return err
		}
	}
	if !report.Success() {
		return fmt.Errorf("%d of %d tests did not pass", report.Failed+report.Errors, report.Tests)
	}
	return nil
}

// resolveConfig layers the command's flags over the file/env config. Only
// flags the user actually set override.
func resolveConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if cmd.Flags().Changed("host") {
		cfg.Host = testHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = testPort
	}
	if cmd.Flags().Changed("user") {
		cfg.User = testUser
	}
	if cmd.Flags().Changed("suite-dir") {
		cfg.SuiteDir = testSuiteDir
	}
	if cmd.Flags().Changed("server-command") {
		cfg.Server.Command = testServerCommand
	}
	if cmd.Flags().Changed("db") {
		cfg.Server.DB = testServerDB
	}
	return cfg, nil
}

func startManagedServer(cfg config.Config) (*server.Manager, error) {
	mgr, err := server.New(server.Config{
		Command: cfg.Server.Command,
		DBPath:  cfg.Server.DB,
		Host:    cfg.Host,
	})
	if err != nil {
		return nil, err
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " Starting MOO server..."
	s.Start()
	err = mgr.Start()
	s.Stop()
	if err != nil {
		return nil, err
	}
	return mgr, nil
}

// watchLoop runs the suites, then re-runs on every suite file change until
// the context is cancelled. Run failures are reported and watched past;
// only watcher breakage ends the loop early.
func watchLoop(ctx context.Context, dir string, runOnce func(context.Context) (*harness.RunReport, error)) error {
	runs := make(chan struct{}, 1)
	runs <- struct{}{}

	w, err := suite.NewWatcher(dir, func() {
		select {
		case runs <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return err
	}

	watchErr := make(chan error, 1)
	go func() { watchErr <- w.Run(ctx) }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-watchErr:
			return err
		case <-runs:
			if _, err := runOnce(ctx); err != nil {
				logging.Error("Test", err, "Run failed")
			}
			fmt.Println("\n👀 Watching for suite changes (Ctrl+C to stop)...")
		}
	}
}

func writeReport(path string, report *harness.RunReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func init() {
	testCmd.Flags().StringVar(&testHost, "host", "localhost", "Server host")
	testCmd.Flags().IntVar(&testPort, "port", config.DefaultPort, "Server port")
	testCmd.Flags().StringVar(&testUser, "user", config.DefaultUser, "Login to run tests as")
	testCmd.Flags().StringVar(&testSuiteDir, "suite-dir", config.DefaultSuiteDir, "Directory of suite YAML files")
	testCmd.Flags().StringVar(&testName, "name", "", "Run tests whose ID contains this substring")
	testCmd.Flags().StringVar(&testExpression, "expression", "", "Run tests matching this boolean expression")
	testCmd.Flags().BoolVar(&testFailFast, "fail-fast", false, "Stop on first failure")
	testCmd.Flags().BoolVar(&testQuiet, "quiet", false, "Only print the summary")
	testCmd.Flags().StringVar(&testReportPath, "report", "", "Write the run report as JSON to this file")
	testCmd.Flags().BoolVar(&testWatch, "watch", false, "Re-run when suite files change")
	testCmd.Flags().StringVar(&testServerCommand, "server-command", "", "Launch a managed server from this template ({port}, {db})")
	testCmd.Flags().StringVar(&testServerDB, "db", "", "Database file for the managed server")

	testCmd.MarkFlagsMutuallyExclusive("watch", "report")
	testCmd.MarkFlagsRequiredTogether("server-command", "db")
	_ = testCmd.RegisterFlagCompletionFunc("name", completeTestNameFlag)

	rootCmd.AddCommand(testCmd)
}
