package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/courier/internal/broker"
	"github.com/btouchard/courier/internal/task"
)

// Deps holds shared dependencies injected into MCP handlers.
type Deps struct {
	Broker  *broker.Manager
	Tasks   *task.Manager
	Version string
}

// NewServer creates and configures the MCP server with all tools registered.
func NewServer(deps *Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"Courier",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithLogging(),
	)

	registerTools(s, deps)

	return s
}

// NewHTTPHandler serves s over the streamable HTTP transport.
func NewHTTPHandler(s *server.MCPServer) *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(s)
}
