package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all EtherSentinel tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("ethersentinel", "1.0.0")
	client := NewGatewayClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolCheckAddress, h.HandleCheckAddress)
	s.AddTool(ToolCheckTransaction, h.HandleCheckTransaction)
	s.AddTool(ToolCheckBatch, h.HandleCheckBatch)
	s.AddTool(ToolModelHealth, h.HandleModelHealth)
	s.AddTool(ToolRecentAssessments, h.HandleRecentAssessments)

	return s
}
