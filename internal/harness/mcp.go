package harness

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/MongooseMoo/moo-conformance-tests/internal/client"
	"github.com/MongooseMoo/moo-conformance-tests/internal/engine"
	"github.com/MongooseMoo/moo-conformance-tests/internal/moo"
	"github.com/MongooseMoo/moo-conformance-tests/internal/suite"
)

// ServerStatus describes the target server for the server_status tool.
type ServerStatus struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Managed   bool   `json:"managed"`
	Running   bool   `json:"running"`
	User      string `json:"user,omitempty"`
	LogPath   string `json:"log_path,omitempty"`
	StartedAt string `json:"started_at,omitempty"`
}

// MCPServer exposes the harness over MCP stdio so tool callers can list
// suites, run them, and evaluate code against the target server.
type MCPServer struct {
	suiteDir  string
	client    *client.Client
	status    func() ServerStatus
	mcpServer *server.MCPServer
}

// NewMCPServer builds the MCP surface. The client must already be
// connected; status is consulted on every server_status call.
func NewMCPServer(version, suiteDir string, c *client.Client, status func() ServerStatus) *MCPServer {
	mcpServer := server.NewMCPServer(
		"mooconf",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithPromptCapabilities(false),
	)

	m := &MCPServer{
		suiteDir:  suiteDir,
		client:    c,
		status:    status,
		mcpServer: mcpServer,
	}
	m.registerTools()
	return m
}

// Serve runs the stdio transport until the peer disconnects.
func (m *MCPServer) Serve() error {
	return server.ServeStdio(m.mcpServer)
}

func (m *MCPServer) registerTools() {
	listTool := mcp.NewTool("list_suites",
		mcp.WithDescription("List conformance suites with their tests and capabilities"),
	)
	m.mcpServer.AddTool(listTool, m.handleListSuites)

	runSuiteTool := mcp.NewTool("run_suite",
		mcp.WithDescription("Run every test in one suite and return the run report"),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Suite name (the file stem)"),
		),
		mcp.WithBoolean("fail_fast",
			mcp.Description("Stop on first failure"),
		),
	)
	m.mcpServer.AddTool(runSuiteTool, m.handleRunSuite)

	runTestTool := mcp.NewTool("run_test",
		mcp.WithDescription("Run a single test by suite and test name"),
		mcp.WithString("suite",
			mcp.Required(),
			mcp.Description("Suite name (the file stem)"),
		),
		mcp.WithString("test",
			mcp.Required(),
			mcp.Description("Test name within the suite"),
		),
	)
	m.mcpServer.AddTool(runTestTool, m.handleRunTest)

	evalTool := mcp.NewTool("eval",
		mcp.WithDescription("Evaluate MOO code on the target server"),
		mcp.WithString("code",
			mcp.Required(),
			mcp.Description("MOO code, semicolon-complete"),
		),
		mcp.WithString("user",
			mcp.Description("Login to evaluate as (default: current session user)"),
		),
	)
	m.mcpServer.AddTool(evalTool, m.handleEval)

	statusTool := mcp.NewTool("server_status",
		mcp.WithDescription("Report the target server's connection details"),
	)
	m.mcpServer.AddTool(statusTool, m.handleServerStatus)
}

func (m *MCPServer) handleListSuites(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	suites, err := suite.Load(m.suiteDir)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load suites: %v", err)), nil
	}

	type testInfo struct {
		Name        string   `json:"name"`
		Description string   `json:"description,omitempty"`
		Provides    string   `json:"provides,omitempty"`
		Assumes     []string `json:"assumes,omitempty"`
		Steps       int      `json:"steps,omitempty"`
	}
	type suiteInfo struct {
		Name        string     `json:"name"`
		Description string     `json:"description,omitempty"`
		Path        string     `json:"path"`
		Tests       []testInfo `json:"tests"`
	}

	out := make([]suiteInfo, 0, len(suites))
	for _, s := range suites {
		info := suiteInfo{Name: s.Name, Description: s.Description, Path: s.Path}
		for _, t := range s.Tests {
			info.Tests = append(info.Tests, testInfo{
				Name:        t.Name,
				Description: t.Description,
				Provides:    s.ProvidesFor(t),
				Assumes:     s.AssumesFor(t),
				Steps:       len(t.Steps),
			})
		}
		out = append(out, info)
	}
	return jsonResult(out)
}

func (m *MCPServer) handleRunSuite(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	name, ok := args["name"].(string)
	if !ok || name == "" {
		return mcp.NewToolResultError("name argument is required"), nil
	}
	failFast, _ := args["fail_fast"].(bool)

	suites, err := suite.Load(m.suiteDir)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load suites: %v", err)), nil
	}
	var selected []*suite.Suite
	for _, s := range suites {
		if s.Stem == name || s.Name == name {
			selected = append(selected, s)
		}
	}
	if len(selected) == 0 {
		return mcp.NewToolResultError(fmt.Sprintf("Suite not found: %s", name)), nil
	}

	h := New(engine.WrapClient(m.client), nil, Options{FailFast: failFast})
	report, err := h.Run(ctx, selected, nil)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Run aborted: %v", err)), nil
	}
	return jsonResult(report)
}

func (m *MCPServer) handleRunTest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	suiteName, ok := args["suite"].(string)
	if !ok || suiteName == "" {
		return mcp.NewToolResultError("suite argument is required"), nil
	}
	testName, ok := args["test"].(string)
	if !ok || testName == "" {
		return mcp.NewToolResultError("test argument is required"), nil
	}

	suites, err := suite.Load(m.suiteDir)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load suites: %v", err)), nil
	}
	for _, s := range suites {
		if s.Stem != suiteName && s.Name != suiteName {
			continue
		}
		for _, t := range s.Tests {
			if t.Name != testName {
				continue
			}
			single := *s
			single.Tests = []*suite.Test{t}
			h := New(engine.WrapClient(m.client), nil, Options{})
			report, err := h.Run(ctx, []*suite.Suite{&single}, nil)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("Run aborted: %v", err)), nil
			}
			return jsonResult(report)
		}
	}
	return mcp.NewToolResultError(fmt.Sprintf("Test not found: %s::%s", suiteName, testName)), nil
}

func (m *MCPServer) handleEval(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	code, ok := args["code"].(string)
	if !ok || code == "" {
		return mcp.NewToolResultError("code argument is required"), nil
	}
	if user, ok := args["user"].(string); ok && user != "" {
		if err := m.client.SwitchUser(user); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Switching user: %v", err)), nil
		}
	}

	result, err := m.client.Evaluate(code)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Eval transport failure: %v", err)), nil
	}

	out := struct {
		Success       bool     `json:"success"`
		Value         string   `json:"value,omitempty"`
		Type          string   `json:"type,omitempty"`
		Error         string   `json:"error,omitempty"`
		Notifications []string `json:"notifications,omitempty"`
	}{Success: result.Success, Notifications: result.Notifications}
	if result.Success {
		if result.Value != nil {
			out.Value = result.Value.String()
			out.Type = moo.TypeName(result.Value)
		}
	} else {
		out.Error = result.FailureText()
	}
	return jsonResult(out)
}

func (m *MCPServer) handleServerStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := m.status()
	status.User = m.client.User()
	return jsonResult(status)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
