package mcpserver

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peterje/obsidianki-mcp/internal/control"
	"github.com/peterje/obsidianki-mcp/internal/registry"
)

func newTestHandlers(t *testing.T) *handlers {
	t.Helper()
	ctrl := control.New(control.Config{
		Command:   "sh",
		Grace:     300 * time.Millisecond,
		PollGrace: 50 * time.Millisecond,
		StopGrace: 2 * time.Second,
	}, registry.New(), nil)
	t.Cleanup(func() {
		if sess := ctrl.Registry().Current(); sess != nil {
			sess.Kill()
		}
	})
	return &handlers{ctrl: ctrl, runTimeout: 10 * time.Second}
}

func callReq(name string, arguments map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = arguments
	return req
}

func textOf(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	return tc.Text
}

// sh stands in for obsidianki; scripts ride in via additional_args.
func shArgs(script string, extra map[string]any) map[string]any {
	arguments := map[string]any{"additional_args": []any{"-c", script}}
	for k, v := range extra {
		arguments[k] = v
	}
	return arguments
}

func TestRunReportsPIDAndOutput(t *testing.T) {
	h := newTestHandlers(t)

	res, err := h.handleRun(context.Background(),
		callReq("run_obsidianki", shArgs(`echo ready; sleep 5`, nil)))
	require.NoError(t, err)
	require.False(t, res.IsError)

	text := textOf(t, res)
	assert.Contains(t, text, "Started obsidianki process (PID: ")
	assert.Contains(t, text, "ready")
}

func TestRunConflictMessage(t *testing.T) {
	h := newTestHandlers(t)

	_, err := h.handleRun(context.Background(),
		callReq("run_obsidianki", shArgs(`sleep 30`, nil)))
	require.NoError(t, err)

	res, err := h.handleRun(context.Background(),
		callReq("run_obsidianki", shArgs(`echo nope`, nil)))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, textOf(t, res), "already running")
}

func TestRespondRoundTrip(t *testing.T) {
	h := newTestHandlers(t)

	_, err := h.handleRun(context.Background(),
		callReq("run_obsidianki", shArgs(`read line; echo "got $line"`, nil)))
	require.NoError(t, err)

	res, err := h.handleRespond(context.Background(),
		callReq("respond_to_obsidianki", map[string]any{"response": "Y"}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	text := textOf(t, res)
	assert.Contains(t, text, "Response sent. Process completed.")
	assert.Contains(t, text, "got Y")
}

func TestRespondWithoutProcess(t *testing.T) {
	h := newTestHandlers(t)

	res, err := h.handleRespond(context.Background(),
		callReq("respond_to_obsidianki", map[string]any{"response": "Y"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, textOf(t, res), "No active obsidianki process")
}

func TestRespondMissingArgument(t *testing.T) {
	h := newTestHandlers(t)

	res, err := h.handleRespond(context.Background(),
		callReq("respond_to_obsidianki", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestGetOutputWithoutProcess(t *testing.T) {
	h := newTestHandlers(t)

	res, err := h.handleGetOutput(context.Background(), callReq("get_obsidianki_output", nil))
	require.NoError(t, err)
	assert.Equal(t, "No active obsidianki process.", textOf(t, res))
}

func TestGetOutputStatusLine(t *testing.T) {
	h := newTestHandlers(t)

	_, err := h.handleRun(context.Background(),
		callReq("run_obsidianki", shArgs(`echo working; exit 0`, nil)))
	require.NoError(t, err)

	var text string
	require.Eventually(t, func() bool {
		res, err := h.handleGetOutput(context.Background(), callReq("get_obsidianki_output", nil))
		require.NoError(t, err)
		text = textOf(t, res)
		return strings.Contains(text, "completed (exit code:")
	}, 5*time.Second, 50*time.Millisecond)
	assert.Contains(t, text, "completed (exit code: 0)")
}

func TestStopWithoutProcess(t *testing.T) {
	h := newTestHandlers(t)

	res, err := h.handleStop(context.Background(), callReq("stop_obsidianki", nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, textOf(t, res), "No active obsidianki process to stop.")
}

func TestStopReportsExitCode(t *testing.T) {
	h := newTestHandlers(t)

	_, err := h.handleRun(context.Background(),
		callReq("run_obsidianki", shArgs(`sleep 30`, nil)))
	require.NoError(t, err)

	res, err := h.handleStop(context.Background(), callReq("stop_obsidianki", nil))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, textOf(t, res), "Obsidianki process stopped (exit code:")
}

func TestGenerateAnnotatesStreams(t *testing.T) {
	h := newTestHandlers(t)

	res, err := h.handleGenerate(context.Background(),
		callReq("generate_flashcards", shArgs(`echo out; echo err 1>&2`, map[string]any{
			"query": "biology",
		})))
	require.NoError(t, err)
	require.False(t, res.IsError)

	text := textOf(t, res)
	assert.Contains(t, text, "[STDOUT] out")
	assert.Contains(t, text, "[STDERR] err")
	assert.Contains(t, text, "Process completed with exit code: 0")
}

func TestGenerateTimeout(t *testing.T) {
	h := newTestHandlers(t)

	res, err := h.handleGenerate(context.Background(),
		callReq("generate_flashcards", shArgs(`echo partial; sleep 30`, map[string]any{
			"query":           "biology",
			"timeout_seconds": float64(1),
		})))
	require.NoError(t, err)
	require.False(t, res.IsError)

	text := textOf(t, res)
	assert.Contains(t, text, "TIMEOUT after 1s")
	assert.Contains(t, text, "[STDOUT] partial")
}

func TestGenerateRequiresQuery(t *testing.T) {
	h := newTestHandlers(t)

	res, err := h.handleGenerate(context.Background(), callReq("generate_flashcards", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
