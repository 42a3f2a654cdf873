// Package mcpcmd implements the `speedgauge mcp` subcommand: an MCP (Model
// Context Protocol) server over stdio that lets agents drive the gauge.
package mcpcmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/saveenergy/speedgauge/internal/api"
	"github.com/saveenergy/speedgauge/internal/cli"
	"github.com/saveenergy/speedgauge/internal/logging"
	"github.com/saveenergy/speedgauge/pkg/session"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultRunTimeout = 60
	maxRunTimeout     = 300
	settleTimeout     = 2 * time.Second
)

type args struct {
	cli.Common

	version string
}

func (a args) Version() string { return "speedgauge " + a.version }

func (args) Description() string {
	return "Serve the gauge as MCP tools over stdio."
}

// Run starts the MCP stdio server. Blocks until stdin closes or a signal is
// received.
func Run(argv []string, version string) int {
	a := args{version: version}
	if code, ok := cli.Parse(&a, "speedgauge mcp", argv, os.Stdout, os.Stderr); !ok {
		return code
	}

	// stdout carries the protocol; logs stay on stderr or the log file.
	cfg, logCloser, err := cli.Setup(a.Common, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "speedgauge mcp: %v\n", err)
		return 1
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl, release, err := cli.NewController(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "speedgauge mcp: %v\n", err)
		return 1
	}
	defer release()

	ctrlCtx, stopCtrl := context.WithCancel(ctx)
	go ctrl.Run(ctrlCtx)
	defer func() {
		stopCtrl()
		<-ctrl.Done()
	}()

	s := server.NewMCPServer("speedgauge", version, server.WithToolCapabilities(true))
	newToolset(ctrl).register(s)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "speedgauge mcp: error: %v\n", err)
		return 1
	}
	return 0
}

// ToolDefinitions lists the tools the server exposes.
func ToolDefinitions() []mcp.Tool {
	return []mcp.Tool{
		mcp.NewTool("get_display",
			mcp.WithDescription("Current gauge display: download and upload rates, progress, ping, jitter, session state, and a grade once a run has completed."),
		),
		mcp.NewTool("start_test",
			mcp.WithDescription("Start a measurement and return immediately. Does nothing if one is already running. Poll get_display to follow it."),
		),
		mcp.NewTool("abort_test",
			mcp.WithDescription("Abort the running measurement and reset the display to zero."),
		),
		mcp.NewTool("run_test",
			mcp.WithDescription("Run a full measurement and wait for it to finish. Returns the final readings with a grade (A-F), suitability and concerns."),
			mcp.WithNumber("timeout_seconds",
				mcp.Description("Abort the run if it takes longer than this, 1-300 (default: 60)"),
			),
		),
	}
}

type toolset struct {
	ctrl *session.Controller
}

func newToolset(ctrl *session.Controller) *toolset {
	return &toolset{ctrl: ctrl}
}

func (t *toolset) register(s *server.MCPServer) {
	handlers := map[string]server.ToolHandlerFunc{
		"get_display": t.handleGetDisplay,
		"start_test":  t.handleStart,
		"abort_test":  t.handleAbort,
		"run_test":    t.handleRun,
	}
	for _, tool := range ToolDefinitions() {
		s.AddTool(tool, handlers[tool.Name])
	}
}

// --- Tool Handlers ---

func (t *toolset) handleGetDisplay(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(api.NewDisplayResponse(t.ctrl.Snapshot()))
}

func (t *toolset) handleStart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	before := t.ctrl.Snapshot()
	if !t.ctrl.Start() {
		return mcp.NewToolResultError("Start failed: controller stopped"), nil
	}
	after, err := t.settle(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Start failed: %v", err)), nil
	}
	started := after.SessionID != "" && after.SessionID != before.SessionID &&
		(after.Display.Running() || after.Outcome == session.OutcomeCompleted)
	if !started && !after.Display.Running() {
		return mcp.NewToolResultError("Start failed: engine did not start"), nil
	}
	return jsonResult(api.SessionResponse{Started: started, DisplayResponse: api.NewDisplayResponse(after)})
}

func (t *toolset) handleAbort(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !t.ctrl.Abort() {
		return mcp.NewToolResultError("Abort failed: controller stopped"), nil
	}
	after, err := t.settle(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Abort failed: %v", err)), nil
	}
	return jsonResult(api.NewDisplayResponse(after))
}

func (t *toolset) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	timeout := req.GetInt("timeout_seconds", defaultRunTimeout)
	if timeout < 1 {
		timeout = 1
	}
	if timeout > maxRunTimeout {
		timeout = maxRunTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	snap, err := t.ctrl.Measure(runCtx, nil)
	if err != nil {
		logging.Warn("mcp run_test failed", logging.Field{Key: "error", Value: err})
		return mcp.NewToolResultError(fmt.Sprintf("Measurement failed: %v", err)), nil
	}
	return jsonResult(api.NewDisplayResponse(snap))
}

func (t *toolset) settle(ctx context.Context) (session.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()
	if err := t.ctrl.Flush(ctx); err != nil {
		return session.Snapshot{}, err
	}
	return t.ctrl.Snapshot(), nil
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("JSON encoding failed: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
