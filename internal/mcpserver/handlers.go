package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ethersentinel/sentinel/internal/validation"
)

// Handlers holds the tool handlers and their dependencies.
type Handlers struct {
	client *GatewayClient
}

// NewHandlers creates tool handlers backed by the given gateway client.
func NewHandlers(client *GatewayClient) *Handlers {
	return &Handlers{client: client}
}

// HandleCheckAddress assesses a single address.
func (h *Handlers) HandleCheckAddress(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address := req.GetString("address", "")
	if address == "" {
		return mcp.NewToolResultError("address is required"), nil
	}
	if !validation.IsValidAddress(address) {
		return mcp.NewToolResultError(fmt.Sprintf("invalid Ethereum address: %s", address)), nil
	}

	result, err := h.client.AnalyzeAddress(ctx, validation.NormalizeAddress(address))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to assess address: %v", err)), nil
	}

	return mcp.NewToolResultText(formatAssessment(result)), nil
}

// HandleCheckTransaction assesses a single transaction hash.
func (h *Handlers) HandleCheckTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	txHash := req.GetString("tx_hash", "")
	if txHash == "" {
		return mcp.NewToolResultError("tx_hash is required"), nil
	}
	if !validation.IsValidTxHash(txHash) {
		return mcp.NewToolResultError(fmt.Sprintf("invalid transaction hash: %s", txHash)), nil
	}

	result, err := h.client.AnalyzeTransaction(ctx, validation.NormalizeTxHash(txHash))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to assess transaction: %v", err)), nil
	}

	return mcp.NewToolResultText(formatAssessment(result)), nil
}

// HandleCheckBatch assesses a comma-separated list of addresses.
func (h *Handlers) HandleCheckBatch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw := req.GetString("addresses", "")
	if raw == "" {
		return mcp.NewToolResultError("addresses is required"), nil
	}

	var addresses []string
	for _, a := range strings.Split(raw, ",") {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if !validation.IsValidAddress(a) {
			return mcp.NewToolResultError(fmt.Sprintf("invalid Ethereum address: %s", a)), nil
		}
		addresses = append(addresses, validation.NormalizeAddress(a))
	}
	if len(addresses) == 0 {
		return mcp.NewToolResultError("addresses is required"), nil
	}
	if len(addresses) > validation.MaxBatchSize {
		return mcp.NewToolResultError(fmt.Sprintf("too many addresses: %d (max %d)", len(addresses), validation.MaxBatchSize)), nil
	}

	result, err := h.client.AnalyzeBatch(ctx, addresses)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to assess batch: %v", err)), nil
	}

	return mcp.NewToolResultText(formatBatch(result)), nil
}

// HandleModelHealth reports model availability.
func (h *Handlers) HandleModelHealth(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := h.client.ModelHealth(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to check model health: %v", err)), nil
	}

	return mcp.NewToolResultText(formatModelHealth(result)), nil
}

// HandleRecentAssessments lists recent assessments.
func (h *Handlers) HandleRecentAssessments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := 10
	if s := req.GetString("limit", ""); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return mcp.NewToolResultError(fmt.Sprintf("invalid limit: %s", s)), nil
		}
		limit = n
	}

	result, err := h.client.RecentAssessments(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list assessments: %v", err)), nil
	}

	return mcp.NewToolResultText(formatAssessmentList(result)), nil
}

// assessmentView is the subset of assessment fields the formatters care about.
type assessmentView struct {
	Subject     string             `json:"subject"`
	Kind        string             `json:"kind"`
	RiskType    string             `json:"risk_type"`
	RiskLevel   string             `json:"risk_level"`
	Confidence  float64            `json:"confidence"`
	Description string             `json:"description"`
	Scores      map[string]float64 `json:"prediction_scores"`
	Timestamp   string             `json:"timestamp"`
	Degraded    bool               `json:"degraded"`
}

func formatAssessment(raw json.RawMessage) string {
	var a assessmentView
	if err := json.Unmarshal(raw, &a); err != nil {
		return string(raw)
	}

	var sb strings.Builder
	writeAssessmentLines(&sb, &a)
	return sb.String()
}

func formatBatch(raw json.RawMessage) string {
	var resp struct {
		Assessments []assessmentView `json:"assessments"`
		Count       int              `json:"count"`
		Degraded    bool             `json:"degraded"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return string(raw)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Batch assessment: %d addresses\n", resp.Count))
	if resp.Degraded {
		sb.WriteString("Warning: one or more results were served by the local fallback\n")
	}
	for i := range resp.Assessments {
		a := &resp.Assessments[i]
		sb.WriteString(fmt.Sprintf("\n%d. %s\n", i+1, a.Subject))
		sb.WriteString(fmt.Sprintf("   Risk: %s (%s), confidence %.2f\n", a.RiskType, a.RiskLevel, a.Confidence))
		if a.Degraded {
			sb.WriteString("   Served by fallback\n")
		}
	}
	return sb.String()
}

func formatModelHealth(raw json.RawMessage) string {
	var data struct {
		Available   bool   `json:"available"`
		ModelLoaded bool   `json:"model_loaded"`
		Device      string `json:"device"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return string(raw)
	}

	var sb strings.Builder
	sb.WriteString("Model health\n")
	sb.WriteString(fmt.Sprintf("Available: %t\n", data.Available))
	sb.WriteString(fmt.Sprintf("Model loaded: %t\n", data.ModelLoaded))
	if data.Device != "" {
		sb.WriteString(fmt.Sprintf("Device: %s\n", data.Device))
	}
	if !data.Available {
		sb.WriteString("Assessments will be served by the local fallback\n")
	}
	return sb.String()
}

func formatAssessmentList(raw json.RawMessage) string {
	var resp struct {
		Assessments []assessmentView `json:"assessments"`
		Count       int              `json:"count"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return string(raw)
	}
	if resp.Count == 0 {
		return "No assessments recorded yet"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Recent assessments (%d)\n", resp.Count))
	for i := range resp.Assessments {
		a := &resp.Assessments[i]
		sb.WriteString(fmt.Sprintf("\n%d. [%s] %s\n", i+1, a.Kind, a.Subject))
		sb.WriteString(fmt.Sprintf("   Risk: %s (%s), confidence %.2f\n", a.RiskType, a.RiskLevel, a.Confidence))
		if a.Timestamp != "" {
			sb.WriteString(fmt.Sprintf("   At: %s\n", a.Timestamp))
		}
		if a.Degraded {
			sb.WriteString("   Served by fallback\n")
		}
	}
	return sb.String()
}

func writeAssessmentLines(sb *strings.Builder, a *assessmentView) {
	label := "Address"
	if a.Kind == "transaction" {
		label = "Transaction"
	}
	sb.WriteString(fmt.Sprintf("%s: %s\n", label, a.Subject))
	sb.WriteString(fmt.Sprintf("Risk type: %s\n", a.RiskType))
	sb.WriteString(fmt.Sprintf("Risk level: %s\n", a.RiskLevel))
	sb.WriteString(fmt.Sprintf("Confidence: %.2f\n", a.Confidence))
	if a.Description != "" {
		sb.WriteString(fmt.Sprintf("Description: %s\n", a.Description))
	}
	if len(a.Scores) > 0 {
		sb.WriteString("Scores:\n")
		for _, cat := range sortedKeys(a.Scores) {
			sb.WriteString(fmt.Sprintf("  %s: %.2f\n", cat, a.Scores[cat]))
		}
	}
	if a.Degraded {
		sb.WriteString("Note: served by the local fallback, not the scoring model\n")
	}
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
