package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the configuration for connecting to the EtherSentinel gateway.
type Config struct {
	GatewayURL string // Base URL, e.g. "http://localhost:5000"
}

// GatewayClient is a pure HTTP client for the EtherSentinel gateway API.
type GatewayClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewGatewayClient creates a new client for the gateway.
func NewGatewayClient(cfg Config) *GatewayClient {
	return &GatewayClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute, // assessments can sit out full retry cycles
		},
	}
}

// apiError represents an error response from the gateway.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the gateway and returns the response body.
func (c *GatewayClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.GatewayURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// AnalyzeAddress runs a risk assessment for an address.
func (c *GatewayClient) AnalyzeAddress(ctx context.Context, address string) (json.RawMessage, error) {
	body := map[string]string{"address": address}
	return c.doRequest(ctx, http.MethodPost, "/api/analyze/address", nil, body)
}

// AnalyzeTransaction runs a risk assessment for a transaction hash.
func (c *GatewayClient) AnalyzeTransaction(ctx context.Context, txHash string) (json.RawMessage, error) {
	body := map[string]string{"tx_hash": txHash}
	return c.doRequest(ctx, http.MethodPost, "/api/analyze/transaction", nil, body)
}

// AnalyzeBatch runs risk assessments for a set of addresses.
func (c *GatewayClient) AnalyzeBatch(ctx context.Context, addresses []string) (json.RawMessage, error) {
	body := map[string][]string{"addresses": addresses}
	return c.doRequest(ctx, http.MethodPost, "/api/analyze/batch", nil, body)
}

// ModelHealth reports scoring model availability as seen by the gateway.
func (c *GatewayClient) ModelHealth(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/api/model/health", nil, nil)
}

// RecentAssessments lists the most recent assessments.
func (c *GatewayClient) RecentAssessments(ctx context.Context, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/api/assessments/recent", q, nil)
}
