// Package inference implements the resilient client for the remote risk
// scoring service.
//
// The Dispatcher makes exactly one outbound call per invocation and
// classifies failures; the Client layers the retry policy, circuit
// breaker, and rule engine fallback on top. Callers of the Client always
// receive a risk.Assessment, whichever path served it.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ethersentinel/sentinel/internal/metrics"
)

// Endpoint is a logical model server endpoint.
type Endpoint string

const (
	EndpointHealth      Endpoint = "health"
	EndpointAddress     Endpoint = "assess-address"
	EndpointTransaction Endpoint = "assess-transaction"
	EndpointBatch       Endpoint = "batch"
)

// path maps a logical endpoint to its wire path.
func (e Endpoint) path() string {
	switch e {
	case EndpointHealth:
		return "/api/model/health"
	case EndpointAddress:
		return "/api/model/predict_address"
	case EndpointTransaction:
		return "/api/model/predict_transaction"
	case EndpointBatch:
		return "/api/model/batch_predict"
	default:
		return ""
	}
}

func (e Endpoint) method() string {
	if e == EndpointHealth {
		return http.MethodGet
	}
	return http.MethodPost
}

// FailureKind classifies why a dispatch failed.
type FailureKind string

const (
	FailureTimeout   FailureKind = "timeout"
	FailureTransport FailureKind = "transport"
	FailureRemote    FailureKind = "remote_error"
)

// DispatchError is the classified failure of a single dispatch attempt.
type DispatchError struct {
	Endpoint Endpoint
	Kind     FailureKind
	Status   int // HTTP status for FailureRemote, zero otherwise
	Message  string
	Err      error // underlying cause, nil for FailureRemote
}

func (e *DispatchError) Error() string {
	if e.Kind == FailureRemote {
		return fmt.Sprintf("%s: remote error (%d): %s", e.Endpoint, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Endpoint, e.Kind, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Dispatcher issues a single call to the model server per invocation.
// Retries are the caller's concern, not the dispatcher's.
type Dispatcher struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

// NewDispatcher creates a dispatcher for a model server base URL with a
// fixed per-attempt timeout. The underlying transport pools connections
// and is safe for concurrent use.
func NewDispatcher(baseURL string, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{
		baseURL: baseURL,
		timeout: timeout,
		// No client-level Timeout: the per-attempt deadline is applied
		// through the request context so a caller deadline can cut it short.
		httpClient: &http.Client{},
	}
}

// Dispatch makes exactly one call to the endpoint and returns the raw
// response body on success. Failures come back as a *DispatchError
// classified as timeout, transport, or remote error.
func (d *Dispatcher) Dispatch(ctx context.Context, ep Endpoint, payload any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	body, err := d.do(ctx, ep, payload)
	metrics.DispatchDuration.WithLabelValues(string(ep)).Observe(time.Since(start).Seconds())

	outcome := "success"
	if err != nil {
		var de *DispatchError
		if errors.As(err, &de) {
			outcome = string(de.Kind)
		} else {
			outcome = string(FailureTransport)
		}
	}
	metrics.DispatchAttemptsTotal.WithLabelValues(string(ep), outcome).Inc()

	return body, err
}

func (d *Dispatcher) do(ctx context.Context, ep Endpoint, payload any) (json.RawMessage, error) {
	u, err := url.JoinPath(d.baseURL, ep.path())
	if err != nil {
		return nil, &DispatchError{Endpoint: ep, Kind: FailureTransport, Err: err}
	}

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, &DispatchError{Endpoint: ep, Kind: FailureTransport, Err: fmt.Errorf("marshal request: %w", err)}
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, ep.method(), u, reqBody)
	if err != nil {
		return nil, &DispatchError{Endpoint: ep, Kind: FailureTransport, Err: err}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, &DispatchError{Endpoint: ep, Kind: classifyTransport(err), Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &DispatchError{Endpoint: ep, Kind: classifyTransport(err), Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var env envelope
		msg := string(respBody)
		if json.Unmarshal(respBody, &env) == nil && env.Error != "" {
			msg = env.Error
		}
		return nil, &DispatchError{Endpoint: ep, Kind: FailureRemote, Status: resp.StatusCode, Message: msg}
	}

	return json.RawMessage(respBody), nil
}

// classifyTransport separates deadline expiry from other transport
// failures. The retry policy counts them identically but they are logged
// and measured apart.
func classifyTransport(err error) FailureKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) && ne.Timeout() {
		return FailureTimeout
	}
	return FailureTransport
}
