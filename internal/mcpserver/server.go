// Package mcpserver exposes the control-plane operations as MCP tools over
// stdio.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/peterje/obsidianki-mcp/internal/args"
	"github.com/peterje/obsidianki-mcp/internal/control"
	"github.com/peterje/obsidianki-mcp/internal/proc"
	"github.com/peterje/obsidianki-mcp/internal/registry"
)

type handlers struct {
	ctrl       *control.Controller
	runTimeout time.Duration
}

// New builds the MCP server with the obsidianki tool set.
func New(ctrl *control.Controller, version string, runTimeout time.Duration) *server.MCPServer {
	h := &handlers{ctrl: ctrl, runTimeout: runTimeout}

	s := server.NewMCPServer("obsidianki-mcp", version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s.AddTool(mcp.NewTool("run_obsidianki",
		mcp.WithDescription("Run obsidianki with arguments. Creates a persistent subprocess for the duration of flashcard creation."),
		mcp.WithString("query", mcp.Description("Query/topic for flashcard generation")),
		mcp.WithNumber("cards", mcp.Description("Number of flashcards to create")),
		mcp.WithArray("notes", mcp.Description("Note path patterns to generate cards from"),
			mcp.Items(map[string]any{"type": "string"})),
		mcp.WithString("deck", mcp.Description("Target Anki deck name")),
		mcp.WithBoolean("skip_approval", mcp.Description("Pass --mcp to skip approval prompts")),
		mcp.WithBoolean("dry_run", mcp.Description("Generate cards without writing them")),
		mcp.WithBoolean("pty", mcp.Description("Run obsidianki under a pseudo-terminal")),
		mcp.WithArray("additional_args", mcp.Description("Additional command line arguments"),
			mcp.Items(map[string]any{"type": "string"})),
	), h.handleRun)

	s.AddTool(mcp.NewTool("respond_to_obsidianki",
		mcp.WithDescription("Send a response (Y/n) to an active obsidianki prompt"),
		mcp.WithString("response", mcp.Required(),
			mcp.Description("User response to send to obsidianki (e.g., 'Y', 'n', 'yes', 'no')")),
	), h.handleRespond)

	s.AddTool(mcp.NewTool("get_obsidianki_output",
		mcp.WithDescription("Get any pending output from the active obsidianki process"),
	), h.handleGetOutput)

	s.AddTool(mcp.NewTool("stop_obsidianki",
		mcp.WithDescription("Stop the active obsidianki process"),
	), h.handleStop)

	s.AddTool(mcp.NewTool("generate_flashcards",
		mcp.WithDescription("Generate flashcards with obsidianki's --mcp flag (skips approval prompts). Runs to completion or until the deadline, whichever comes first."),
		mcp.WithString("query", mcp.Required(),
			mcp.Description("Query/topic for flashcard generation")),
		mcp.WithNumber("cards", mcp.Description("Number of flashcards to create (default 1)")),
		mcp.WithArray("notes", mcp.Description("Note path patterns to generate cards from"),
			mcp.Items(map[string]any{"type": "string"})),
		mcp.WithString("deck", mcp.Description("Target Anki deck name")),
		mcp.WithNumber("timeout_seconds", mcp.Description("Deadline in seconds (default 60)")),
		mcp.WithArray("additional_args", mcp.Description("Additional command line arguments"),
			mcp.Items(map[string]any{"type": "string"})),
	), h.handleGenerate)

	return s
}

func (h *handlers) handleRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	spec := args.SpawnSpec{
		Query:        request.GetString("query", ""),
		Cards:        request.GetInt("cards", 0),
		Notes:        request.GetStringSlice("notes", nil),
		Deck:         request.GetString("deck", ""),
		SkipApproval: request.GetBool("skip_approval", false),
		DryRun:       request.GetBool("dry_run", false),
		ExtraArgs:    request.GetStringSlice("additional_args", nil),
	}

	res, err := h.ctrl.Start(ctx, spec, request.GetBool("pty", false))
	if err != nil {
		if errors.Is(err, registry.ErrAlreadyRunning) {
			return mcp.NewToolResultError("Error: An obsidianki process is already running. Use stop_obsidianki first or respond_to_obsidianki to interact with it."), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Error: Failed to start obsidianki: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Started obsidianki process (PID: %d)\n\nOutput:\n%s",
		res.PID, joinLines(res.Output))), nil
}

func (h *handlers) handleRespond(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	response, err := request.RequireString("response")
	if err != nil {
		return mcp.NewToolResultError("Missing or invalid 'response' argument"), nil
	}

	res, err := h.ctrl.SendInput(ctx, strings.TrimSpace(response))
	if err != nil {
		switch {
		case errors.Is(err, proc.ErrNotRunning):
			return mcp.NewToolResultError("Error: No active obsidianki process. Start one with run_obsidianki first."), nil
		case errors.Is(err, proc.ErrInputClosed):
			return mcp.NewToolResultError("Error: The obsidianki process is not accepting input."), nil
		default:
			return mcp.NewToolResultError(fmt.Sprintf("Error: Failed to send response: %v", err)), nil
		}
	}

	if res.Exited {
		return mcp.NewToolResultText(fmt.Sprintf("Response sent. Process completed.\n\nOutput:\n%s",
			joinLines(res.Output))), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Response sent.\n\nOutput:\n%s", joinLines(res.Output))), nil
}

func (h *handlers) handleGetOutput(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res := h.ctrl.GetOutput(ctx)
	if res.Status == control.StatusNone {
		return mcp.NewToolResultText("No active obsidianki process."), nil
	}

	status := res.Status
	if status == control.StatusCompleted {
		status = fmt.Sprintf("completed (exit code: %d)", res.ExitCode)
	}
	output := joinLines(res.Output)
	if output == "" {
		output = "(no new output)"
	}
	return mcp.NewToolResultText(fmt.Sprintf("Process status: %s\n\nOutput:\n%s", status, output)), nil
}

func (h *handlers) handleStop(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := h.ctrl.Stop()
	if err != nil {
		if errors.Is(err, proc.ErrNotRunning) {
			return mcp.NewToolResultError("No active obsidianki process to stop."), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Error: Failed to stop obsidianki: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Obsidianki process stopped (exit code: %d)", res.ExitCode)), nil
}

func (h *handlers) handleGenerate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("Missing or invalid 'query' argument"), nil
	}

	spec := args.SpawnSpec{
		Query:        query,
		Cards:        request.GetInt("cards", 1),
		Notes:        request.GetStringSlice("notes", nil),
		Deck:         request.GetString("deck", ""),
		SkipApproval: true,
		ExtraArgs:    request.GetStringSlice("additional_args", nil),
	}

	timeout := h.runTimeout
	if secs := request.GetInt("timeout_seconds", 0); secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}

	res, err := h.ctrl.RunToCompletion(ctx, spec, timeout)
	if err != nil {
		if errors.Is(err, registry.ErrAlreadyRunning) {
			return mcp.NewToolResultError("Error: An obsidianki process is already running. Stop it before running generate_flashcards."), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Error: %v", err)), nil
	}

	if res.TimedOut {
		output := annotateLines(res.Output)
		if output == "" {
			output = "No output captured"
		}
		return mcp.NewToolResultText(fmt.Sprintf("TIMEOUT after %.0fs\n\nOutput before timeout:\n%s",
			timeout.Seconds(), output)), nil
	}

	output := annotateLines(res.Output)
	if output == "" {
		output = "No output"
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s\n\nProcess completed with exit code: %d",
		output, res.ExitCode)), nil
}

// joinLines renders drained output verbatim in arrival order.
func joinLines(lines []proc.Line) string {
	texts := make([]string, len(lines))
	for i, l := range lines {
		texts[i] = l.Text
	}
	return strings.Join(texts, "\n")
}

// annotateLines prefixes each line with its source stream.
func annotateLines(lines []proc.Line) string {
	texts := make([]string, len(lines))
	for i, l := range lines {
		texts[i] = fmt.Sprintf("[%s] %s", strings.ToUpper(string(l.Source)), l.Text)
	}
	return strings.Join(texts, "\n")
}
