// Package logging provides a structured logging system for mooconf with
// unified log handling and level filtering.
//
// This package is built on Go's standard slog package. All log entries
// include a timestamp, a level, a subsystem identifier, the message, and
// optional error information.
//
// # Usage
//
//	import "github.com/MongooseMoo/moo-conformance-tests/pkg/logging"
//
//	// Initialize with Info level logging to stderr
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//
//	// Log messages
//	logging.Info("Harness", "Running %d suites", count)
//	logging.Debug("Client", "Sent eval line: %s", line)
//	logging.Warn("Suite", "Skipping malformed file %s", path)
//	logging.Error("Server", err, "Server did not accept connections")
//
// # Subsystem Organization
//
// Logs are organized by subsystem to enable filtering and categorization:
//
//   - **Client**: Wire protocol sessions, login, evaluation round trips
//   - **Engine**: Step execution, captures, verification
//   - **Harness**: Test ordering, capability gating, run reporting
//   - **Suite**: YAML discovery, validation, watching
//   - **Server**: Managed server lifecycle
//   - **Lint**: Duplicate detection and fix plans
//   - **Config**: Configuration loading
//   - **MCP**: MCP server mode
//
// Level filtering happens at the handler, so filtered-out messages cost no
// allocation. Logging before InitForCLI is called is suppressed.
package logging
