package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/MongooseMoo/moo-conformance-tests/internal/client"
	"github.com/MongooseMoo/moo-conformance-tests/internal/config"
	"github.com/MongooseMoo/moo-conformance-tests/internal/harness"
	"github.com/MongooseMoo/moo-conformance-tests/internal/server"
)

var (
	mcpHost          string
	mcpPort          int
	mcpUser          string
	mcpSuiteDir      string
	mcpServerCommand string
	mcpServerDB      string
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the harness as an MCP server on stdio",
	Long: `Exposes the conformance harness over the Model Context Protocol so
agent tooling can list suites, run tests, and evaluate MOO code. The
server speaks MCP on stdin/stdout; logs go to stderr.`,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("host") {
		cfg.Host = mcpHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = mcpPort
	}
	if cmd.Flags().Changed("user") {
		cfg.User = mcpUser
	}
	if cmd.Flags().Changed("suite-dir") {
		cfg.SuiteDir = mcpSuiteDir
	}
	if cmd.Flags().Changed("server-command") {
		cfg.Server.Command = mcpServerCommand
	}
	if cmd.Flags().Changed("db") {
		cfg.Server.DB = mcpServerDB
	}

	var mgr *server.Manager
	if cfg.Managed() {
		mgr, err = server.New(server.Config{
			Command: cfg.Server.Command,
			DBPath:  cfg.Server.DB,
			Host:    cfg.Host,
		})
		if err != nil {
			return err
		}
		if err := mgr.Start(); err != nil {
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

	status := func() harness.ServerStatus {
		return serverStatus(cfg, c, mgr)
	}

	srv := harness.NewMCPServer(GetVersion(), cfg.SuiteDir, c, status)
	return srv.Serve()
}

// serverStatus snapshots the target server for the server_status tool. An
// unmanaged target is assumed running: the client is connected to it.
func serverStatus(cfg config.Config, c *client.Client, mgr *server.Manager) harness.ServerStatus {
	st := harness.ServerStatus{
		Host: cfg.Host,
		Port: cfg.Port,
		User: c.User(),
	}
	if mgr == nil {
		st.Running = true
		return st
	}
	st.Managed = true
	st.Running = mgr.Running()
	st.LogPath = mgr.LogPath()
	if at := mgr.StartedAt(); !at.IsZero() {
		st.StartedAt = at.Format(time.RFC3339)
	}
	return st
}

func init() {
	mcpCmd.Flags().StringVar(&mcpHost, "host", "localhost", "Server host")
	mcpCmd.Flags().IntVar(&mcpPort, "port", config.DefaultPort, "Server port")
	mcpCmd.Flags().StringVar(&mcpUser, "user", config.DefaultUser, "Login to run tests as")
	mcpCmd.Flags().StringVar(&mcpSuiteDir, "suite-dir", config.DefaultSuiteDir, "Directory of suite YAML files")
	mcpCmd.Flags().StringVar(&mcpServerCommand, "server-command", "", "Launch a managed server from this template ({port}, {db})")
	mcpCmd.Flags().StringVar(&mcpServerDB, "db", "", "Database file for the managed server")
	mcpCmd.MarkFlagsRequiredTogether("server-command", "db")
	rootCmd.AddCommand(mcpCmd)
}
