package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/courier/internal/mcp/handlers"
)

func registerTools(s *server.MCPServer, deps *Deps) {
	s.AddTool(
		mcp.NewTool("add_message",
			mcp.WithDescription("Append a progress message to a session's log. Every stream and poll client of the session receives it."),
			mcp.WithString("session_id",
				mcp.Required(),
				mcp.Description("Session the message belongs to"),
			),
			mcp.WithString("message",
				mcp.Description("Message text"),
			),
			mcp.WithString("type",
				mcp.Description("Message type (default: info)"),
				mcp.Enum("info", "success", "warning", "error"),
			),
			mcp.WithString("target",
				mcp.Description("Display target (default: default)"),
			),
			mcp.WithObject("fields",
				mcp.Description("Extra fields stored with the message"),
			),
		),
		handlers.AddMessage(deps.Broker),
	)

	s.AddTool(
		mcp.NewTool("get_messages",
			mcp.WithDescription("Read a session's log in append order."),
			mcp.WithString("session_id",
				mcp.Required(),
				mcp.Description("Session to read"),
			),
			mcp.WithString("target",
				mcp.Description("Only messages for this target"),
			),
			mcp.WithNumber("last_timestamp",
				mcp.Description("Only messages strictly newer than this epoch-seconds timestamp"),
			),
		),
		handlers.GetMessages(deps.Broker),
	)

	s.AddTool(
		mcp.NewTool("clear_messages",
			mcp.WithDescription("Remove a target's messages, or the whole log when target is omitted."),
			mcp.WithString("session_id",
				mcp.Required(),
				mcp.Description("Session to clear"),
			),
			mcp.WithString("target",
				mcp.Description("Target to clear; omit to clear everything"),
			),
		),
		handlers.ClearMessages(deps.Broker),
	)

	s.AddTool(
		mcp.NewTool("start_process",
			mcp.WithDescription("Start the demo process for a session. Returns immediately with a process ID; its steps are appended to the session's log."),
			mcp.WithString("session_id",
				mcp.Required(),
				mcp.Description("Session that receives the progress messages"),
			),
			mcp.WithString("target",
				mcp.Description("Display target for the progress messages"),
			),
		),
		handlers.StartProcess(deps.Tasks),
	)

	s.AddTool(
		mcp.NewTool("check_process",
			mcp.WithDescription("Check the status of a process. Supports long-polling with wait_seconds."),
			mcp.WithString("process_id",
				mcp.Required(),
				mcp.Description("The ID returned by start_process"),
			),
			mcp.WithNumber("wait_seconds",
				mcp.Description("Wait up to N seconds for a status change before responding. 0 for immediate response."),
			),
		),
		handlers.CheckProcess(deps.Tasks),
	)

	s.AddTool(
		mcp.NewTool("list_processes",
			mcp.WithDescription("List processes with optional filters."),
			mcp.WithString("status",
				mcp.Description("Filter by status"),
				mcp.Enum("all", "pending", "running", "completed", "failed", "cancelled"),
			),
			mcp.WithString("session_id",
				mcp.Description("Filter by session"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of processes to return (default: 20)"),
			),
		),
		handlers.ListProcesses(deps.Tasks),
	)

	s.AddTool(
		mcp.NewTool("cancel_process",
			mcp.WithDescription("Cancel a running process."),
			mcp.WithString("process_id",
				mcp.Required(),
				mcp.Description("The process ID to cancel"),
			),
		),
		handlers.CancelProcess(deps.Tasks),
	)
}
