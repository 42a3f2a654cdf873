package mcpcmd

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saveenergy/speedgauge/internal/api"
	"github.com/saveenergy/speedgauge/internal/engine/enginetest"
	"github.com/saveenergy/speedgauge/pkg/session"
)

func newTestToolset(t *testing.T) (*toolset, *enginetest.Engine) {
	t.Helper()
	eng := enginetest.New()
	ctrl := session.NewController(eng)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = ctrl.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-ctrl.Done()
	})
	return newToolset(ctrl), eng
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "content is %T", res.Content[0])
	return text.Text
}

func decodeDisplay(t *testing.T, res *mcp.CallToolResult) api.SessionResponse {
	t.Helper()
	var resp api.SessionResponse
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &resp))
	return resp
}

func TestStartAndAbortTools(t *testing.T) {
	ts, eng := newTestToolset(t)
	ctx := context.Background()

	res, err := ts.handleStart(ctx, mcp.CallToolRequest{})
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))
	resp := decodeDisplay(t, res)
	assert.True(t, resp.Started)
	assert.Equal(t, session.StateRunning, resp.Display.State)

	res, err = ts.handleStart(ctx, mcp.CallToolRequest{})
	require.NoError(t, err)
	assert.False(t, decodeDisplay(t, res).Started)
	assert.Equal(t, 1, eng.Starts())

	res, err = ts.handleAbort(ctx, mcp.CallToolRequest{})
	require.NoError(t, err)
	resp = decodeDisplay(t, res)
	assert.Equal(t, session.DefaultDisplay(), resp.Display)
	assert.Equal(t, session.OutcomeAborted, resp.Outcome)
}

func TestStartToolReportsEngineFailure(t *testing.T) {
	ts, eng := newTestToolset(t)
	eng.StartErr = assert.AnError

	res, err := ts.handleStart(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestRunToolWaitsForCompletion(t *testing.T) {
	ts, eng := newTestToolset(t)
	eng.OnStart = func(sink session.Sink) {
		sink.Update(enginetest.Sample("94.35", 1, "41.20", 1, "12.3", "1.0"))
		sink.End()
	}

	res, err := ts.handleRun(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))
	resp := decodeDisplay(t, res)
	assert.Equal(t, session.OutcomeCompleted, resp.Outcome)
	assert.Equal(t, "94.35", resp.Display.DownloadRate)
	require.NotNil(t, resp.Interpretation)
	assert.Equal(t, "A", resp.Interpretation.Grade)
}

func TestRunToolTimesOut(t *testing.T) {
	ts, eng := newTestToolset(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := mcp.CallToolRequest{Params: mcp.CallToolParams{Arguments: map[string]any{"timeout_seconds": 1}}}
	res, err := ts.handleRun(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, 1, eng.Aborts())
}

func TestGetDisplayTool(t *testing.T) {
	ts, _ := newTestToolset(t)
	res, err := ts.handleGetDisplay(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), `"action_label": "Start"`)
}

func TestToolDefinitions(t *testing.T) {
	tools := ToolDefinitions()
	require.Len(t, tools, 4)
	for _, tool := range tools {
		assert.NotEmpty(t, strings.TrimSpace(tool.Description), tool.Name)
	}
	_, ok := tools[3].InputSchema.Properties["timeout_seconds"]
	assert.True(t, ok)
}
