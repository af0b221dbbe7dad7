package mcpserver

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// Tool definitions for the EtherSentinel MCP server.

var ToolCheckAddress = mcp.NewTool("check_address",
	mcp.WithDescription("Assess the fraud risk of an Ethereum address. Returns the risk category, "+
		"risk level, confidence and per-category scores. The result notes whether it came from the "+
		"scoring model or a degraded local fallback."),
	mcp.WithString("address",
		mcp.Required(),
		mcp.Description("The Ethereum address to assess (0x-prefixed, 40 hex characters)"),
	),
)

var ToolCheckTransaction = mcp.NewTool("check_transaction",
	mcp.WithDescription("Assess the fraud risk of an Ethereum transaction. Returns the risk "+
		"category, risk level and confidence for the transaction hash."),
	mcp.WithString("tx_hash",
		mcp.Required(),
		mcp.Description("The transaction hash to assess (0x-prefixed, 64 hex characters)"),
	),
)

var ToolCheckBatch = mcp.NewTool("check_batch",
	mcp.WithDescription("Assess the fraud risk of several Ethereum addresses in one call. "+
		"Accepts up to 100 addresses and returns one assessment per address, in order."),
	mcp.WithString("addresses",
		mcp.Required(),
		mcp.Description("Comma-separated list of Ethereum addresses to assess"),
	),
)

var ToolModelHealth = mcp.NewTool("model_health",
	mcp.WithDescription("Check whether the scoring model behind the gateway is reachable and "+
		"loaded. When the model is down, assessments still succeed but are served by the "+
		"deterministic fallback and flagged as degraded."),
)

var ToolRecentAssessments = mcp.NewTool("recent_assessments",
	mcp.WithDescription("List the most recent risk assessments recorded by the gateway, "+
		"newest first."),
	mcp.WithString("limit",
		mcp.Description("Maximum number of assessments to return (default 10, max 200)"),
	),
)
