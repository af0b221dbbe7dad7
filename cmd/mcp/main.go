// EtherSentinel MCP Server - Exposes risk assessment tools for LLMs
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/ethersentinel/sentinel/internal/mcpserver"
)

func main() {
	cfg := mcpserver.Config{
		GatewayURL: envOrDefault("SENTINEL_GATEWAY_URL", "http://localhost:5000"),
	}

	s := mcpserver.NewMCPServer(cfg)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
