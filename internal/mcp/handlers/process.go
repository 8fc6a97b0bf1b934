package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/courier/internal/task"
)

const (
	longPollInterval = 500 * time.Millisecond
	longPollMaxWait  = 30
)

// StartProcess returns a handler that launches the demo process for a session.
func StartProcess(tm *task.Manager) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		sessionID, _ := args["session_id"].(string)
		if sessionID == "" {
			return mcp.NewToolResultError("session_id is required"), nil
		}
		target, _ := args["target"].(string)

		// Capture MCP session for push notifications
		var mcpSessionID string
		if sess := server.ClientSessionFromContext(ctx); sess != nil {
			mcpSessionID = sess.SessionID()
		}

		t, err := tm.Launch(sessionID, target, mcpSessionID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Cannot start process: %s", err)), nil
		}

		var b strings.Builder
		b.WriteString("Process started\n\n")
		fmt.Fprintf(&b, "- ID: %s\n", t.ID)
		fmt.Fprintf(&b, "- Session: %s\n", sessionID)
		if target != "" {
			fmt.Fprintf(&b, "- Target: %s\n", target)
		}
		fmt.Fprintf(&b, "\nUse check_process with ID '%s' to monitor progress.", t.ID)

		return mcp.NewToolResultText(b.String()), nil
	}
}

// CheckProcess returns a handler that reports a process's current status.
// When wait_seconds > 0 and the process is still running, it long-polls
// until the status changes or the timeout expires.
func CheckProcess(tm *task.Manager) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		id, _ := args["process_id"].(string)
		if id == "" {
			return mcp.NewToolResultError("process_id is required"), nil
		}

		t, err := tm.Get(id)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Process not found: %s", err)), nil
		}

		waitSeconds := 0
		if w, ok := args["wait_seconds"].(float64); ok && w > 0 {
			waitSeconds = min(int(w), longPollMaxWait)
		}

		snap := t.Snapshot()
		if waitSeconds > 0 && !t.IsTerminal() {
			snap = waitForChange(ctx, t, snap, time.Duration(waitSeconds)*time.Second)
		}

		return mcp.NewToolResultText(formatCheckResponse(snap)), nil
	}
}

// waitForChange polls the task until its status changes, it finishes, or
// the timeout expires. Progress-only changes do not return early.
func waitForChange(ctx context.Context, t *task.Task, initial task.Snapshot, timeout time.Duration) task.Snapshot {
	deadline := time.After(timeout)
	ticker := time.NewTicker(longPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return t.Snapshot()
		case <-t.Done():
			return t.Snapshot()
		case <-deadline:
			return t.Snapshot()
		case <-ticker.C:
			snap := t.Snapshot()
			if snap.Status != initial.Status {
				return snap
			}
		}
	}
}

func formatCheckResponse(snap task.Snapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Status: %s\n", snap.Status)
	fmt.Fprintf(&b, "Session: %s\n", snap.SessionID)

	switch snap.Status {
	case task.StatusRunning:
		fmt.Fprintf(&b, "Duration: %s\n", snap.FormatDuration())
		if snap.Progress != "" {
			fmt.Fprintf(&b, "Progress: %s (step %d)\n", snap.Progress, snap.Steps)
		}
	case task.StatusCompleted:
		fmt.Fprintf(&b, "Duration: %s\n", snap.FormatDuration())
		fmt.Fprintf(&b, "Steps: %d\n", snap.Steps)
	case task.StatusFailed:
		fmt.Fprintf(&b, "Duration: %s\n", snap.FormatDuration())
		if snap.Error != "" {
			fmt.Fprintf(&b, "Error: %s\n", snap.Error)
		}
	case task.StatusCancelled:
		fmt.Fprintf(&b, "Duration: %s\n", snap.FormatDuration())
	}

	return b.String()
}

// ListProcesses returns a handler that lists processes with optional filters.
func ListProcesses(tm *task.Manager) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		filter := task.Filter{Limit: 20}
		if status, ok := args["status"].(string); ok {
			filter.Status = status
		}
		if sessionID, ok := args["session_id"].(string); ok {
			filter.SessionID = sessionID
		}
		if limit, ok := args["limit"].(float64); ok && limit > 0 {
			filter.Limit = int(limit)
		}

		procs := tm.List(filter)
		if len(procs) == 0 {
			return mcp.NewToolResultText("No processes found matching the given filters."), nil
		}

		var b strings.Builder
		fmt.Fprintf(&b, "Processes (%d found)\n\n", len(procs))
		for _, p := range procs {
			fmt.Fprintf(&b, "%s %s: %s\n", statusIcon(p.Status), p.ID, p.Status)
			fmt.Fprintf(&b, "  Session: %s", p.SessionID)
			if p.Target != "" {
				fmt.Fprintf(&b, " | Target: %s", p.Target)
			}
			b.WriteString("\n")
			if p.Status == task.StatusRunning && p.Progress != "" {
				fmt.Fprintf(&b, "  Progress: %s\n", p.Progress)
			}
			if p.Error != "" {
				fmt.Fprintf(&b, "  Error: %s\n", p.Error)
			}
			b.WriteString("\n")
		}

		return mcp.NewToolResultText(b.String()), nil
	}
}

// CancelProcess returns a handler that cancels a running process.
func CancelProcess(tm *task.Manager) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		id, _ := args["process_id"].(string)
		if id == "" {
			return mcp.NewToolResultError("process_id is required"), nil
		}

		if err := tm.Cancel(id); err != nil {
			if errors.Is(err, task.ErrNotFound) {
				return mcp.NewToolResultError(fmt.Sprintf("Process not found: %s", id)), nil
			}
			return mcp.NewToolResultError(fmt.Sprintf("Cannot cancel: %s", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Process %s cancelled", id)), nil
	}
}

func statusIcon(s task.Status) string {
	switch s {
	case task.StatusPending:
		return "⏳"
	case task.StatusRunning:
		return "🔄"
	case task.StatusCompleted:
		return "✅"
	case task.StatusFailed:
		return "❌"
	case task.StatusCancelled:
		return "🚫"
	default:
		return "❓"
	}
}
