package inference

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/ethersentinel/sentinel/internal/circuitbreaker"
	"github.com/ethersentinel/sentinel/internal/idgen"
	"github.com/ethersentinel/sentinel/internal/logging"
	"github.com/ethersentinel/sentinel/internal/metrics"
	"github.com/ethersentinel/sentinel/internal/retry"
	"github.com/ethersentinel/sentinel/internal/risk"
	"github.com/ethersentinel/sentinel/internal/traces"
	"go.opentelemetry.io/otel/trace"
)

// Health reports model server availability as seen by the client.
type Health struct {
	Available   bool   `json:"available"`
	ModelLoaded bool   `json:"model_loaded"`
	Device      string `json:"device,omitempty"`
}

// Client is the resilient inference client. It dispatches to the model
// server under a bounded retry policy and serves every failure from the
// fallback rule engine instead: Assess* methods never return an error.
// The only caller-visible difference between the two paths is the
// Degraded flag on the assessment.
//
// The client holds no mutable per-call state, so it is safe for
// concurrent use.
type Client struct {
	dispatcher *Dispatcher
	policy     retry.Policy
	sleep      retry.Sleeper
	fallback   *risk.Engine
	breaker    *circuitbreaker.Breaker
}

// Option configures optional client behavior.
type Option func(*Client)

// WithBreaker short-circuits dispatch through a circuit breaker: while
// an endpoint's circuit is open the client skips the network entirely
// and serves the fallback immediately.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// WithSleeper replaces the inter-attempt wait. Tests inject a no-op
// sleeper to exercise retry counts without real delays.
func WithSleeper(s retry.Sleeper) Option {
	return func(c *Client) { c.sleep = s }
}

// NewClient creates a resilient inference client. The policy is fixed for
// the client's lifetime; the fallback engine is required.
func NewClient(d *Dispatcher, policy retry.Policy, fallback *risk.Engine, opts ...Option) *Client {
	c := &Client{
		dispatcher: d,
		policy:     policy,
		sleep:      retry.Sleep,
		fallback:   fallback,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AssessAddress scores an address, with optional auxiliary transaction
// data passed through to the model untouched.
func (c *Client) AssessAddress(ctx context.Context, address string, txData map[string]any) *risk.Assessment {
	ctx, span := traces.StartSpan(ctx, "inference.assess_address",
		traces.Subject(address), traces.SubjectKind(string(risk.KindAddress)))
	defer span.End()

	raw, err := c.dispatch(ctx, EndpointAddress, addressRequest{Address: address, TransactionData: txData})
	if err != nil {
		return c.degrade(ctx, span, address, risk.KindAddress, err)
	}

	a, ok := normalizeAddress(raw, address)
	if !ok {
		return c.degrade(ctx, span, address, risk.KindAddress, errBadResponse)
	}
	c.recordServed(span, a)
	return a
}

// AssessTransaction scores a transaction hash.
func (c *Client) AssessTransaction(ctx context.Context, txHash string, txData map[string]any) *risk.Assessment {
	ctx, span := traces.StartSpan(ctx, "inference.assess_transaction",
		traces.Subject(txHash), traces.SubjectKind(string(risk.KindTransaction)))
	defer span.End()

	raw, err := c.dispatch(ctx, EndpointTransaction, transactionRequest{TxHash: txHash, TxData: txData})
	if err != nil {
		return c.degrade(ctx, span, txHash, risk.KindTransaction, err)
	}

	a, ok := normalizeTransaction(raw, txHash)
	if !ok {
		return c.degrade(ctx, span, txHash, risk.KindTransaction, errBadResponse)
	}
	c.recordServed(span, a)
	return a
}

// AssessBatch scores a set of addresses in one model call. The result is
// order-preserving with exactly one assessment per input; subjects the
// model could not score fall back individually, and a whole-call failure
// falls back for every subject. A failure on one address never aborts
// the batch.
func (c *Client) AssessBatch(ctx context.Context, addresses []string) []*risk.Assessment {
	ctx, span := traces.StartSpan(ctx, "inference.assess_batch",
		traces.BatchSize(len(addresses)))
	defer span.End()

	metrics.BatchSize.Observe(float64(len(addresses)))

	raw, err := c.dispatch(ctx, EndpointBatch, batchRequest{Addresses: addresses})
	if err != nil {
		out := make([]*risk.Assessment, len(addresses))
		for i, addr := range addresses {
			out[i] = c.degrade(ctx, span, addr, risk.KindAddress, err)
		}
		return out
	}

	var env envelope
	var results []addressResult
	if jerr := json.Unmarshal(raw, &env); jerr == nil {
		_ = json.Unmarshal(env.Data, &results)
	}

	out := make([]*risk.Assessment, len(addresses))
	for i, addr := range addresses {
		if i >= len(results) || results[i].Error != "" {
			out[i] = c.degrade(ctx, span, addr, risk.KindAddress, errBadResponse)
			continue
		}
		a, ok := normalizeAddressResult(results[i], addr)
		if !ok {
			out[i] = c.degrade(ctx, span, addr, risk.KindAddress, errBadResponse)
			continue
		}
		c.recordServed(span, a)
		out[i] = a
	}
	return out
}

// HealthCheck reports model server availability. It makes a single
// attempt and never fails: any dispatch error is reported as unavailable.
func (c *Client) HealthCheck(ctx context.Context) Health {
	ctx, span := traces.StartSpan(ctx, "inference.health_check")
	defer span.End()

	raw, err := c.dispatcher.Dispatch(ctx, EndpointHealth, nil)
	if err != nil {
		logging.L(ctx).Warn("model health check failed", "error", err)
		return Health{Available: false}
	}

	// Health is a bare object, not wrapped in the predict envelope.
	var hp healthPayload
	if json.Unmarshal(raw, &hp) != nil {
		return Health{Available: false}
	}
	return Health{
		Available:   hp.Status == "healthy",
		ModelLoaded: hp.ModelLoaded,
		Device:      hp.Device,
	}
}

// errBadResponse marks a 2xx response the client could not interpret.
// Treated like any other failure: serve the fallback.
var errBadResponse = errors.New("unusable model response")

// dispatch runs the retry loop around the dispatcher for one endpoint.
// A context cancellation during the inter-attempt wait aborts remaining
// retries and is returned like any other failure, so the caller falls
// through to the fallback instead of surfacing the cancellation.
func (c *Client) dispatch(ctx context.Context, ep Endpoint, payload any) (json.RawMessage, error) {
	if c.breaker != nil && !c.breaker.Allow(string(ep)) {
		return nil, errCircuitOpen
	}

	var raw json.RawMessage
	err := retry.Do(ctx, c.policy, c.sleep, func(attempt int) error {
		body, derr := c.dispatcher.Dispatch(ctx, ep, payload)
		if derr != nil {
			var de *DispatchError
			kind := FailureTransport
			if errors.As(derr, &de) {
				kind = de.Kind
			}
			logging.L(ctx).Warn("model dispatch failed",
				logging.Endpoint(string(ep)),
				logging.Attempt(attempt, c.policy.MaxAttempts),
				slog.String("failure", string(kind)),
				slog.Any("error", derr))
			return derr
		}
		raw = body
		return nil
	})
	if err != nil {
		if c.breaker != nil {
			c.breaker.RecordFailure(string(ep))
		}
		return nil, err
	}

	if c.breaker != nil {
		c.breaker.RecordSuccess(string(ep))
	}
	return raw, nil
}

var errCircuitOpen = errors.New("model circuit open")

// degrade serves a subject from the fallback rule engine.
func (c *Client) degrade(ctx context.Context, span trace.Span, subject string, kind risk.Kind, cause error) *risk.Assessment {
	reason := fallbackReason(cause)
	metrics.FallbacksTotal.WithLabelValues(string(kind), reason).Inc()
	logging.L(ctx).Info("serving fallback assessment",
		logging.Subject(subject),
		logging.Kind(string(kind)),
		slog.String("reason", reason))

	a := c.fallback.Assess(subject, kind)
	c.recordServed(span, a)
	return a
}

// recordServed tags the span and counters for a completed assessment.
func (c *Client) recordServed(span trace.Span, a *risk.Assessment) {
	path := "model"
	if a.Degraded {
		path = "fallback"
	}
	span.SetAttributes(traces.Degraded(a.Degraded))
	metrics.AssessmentsTotal.WithLabelValues(string(a.Kind), string(a.Category), path).Inc()
}

func fallbackReason(err error) string {
	switch {
	case errors.Is(err, errCircuitOpen):
		return "circuit_open"
	case errors.Is(err, errBadResponse):
		return "bad_response"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	var de *DispatchError
	if errors.As(err, &de) {
		return string(de.Kind)
	}
	return "error"
}

// normalizeAddress maps a model predict_address response into the shared
// assessment shape.
func normalizeAddress(raw json.RawMessage, address string) (*risk.Assessment, bool) {
	var env envelope
	if json.Unmarshal(raw, &env) != nil {
		return nil, false
	}
	var res addressResult
	if json.Unmarshal(env.Data, &res) != nil || res.Error != "" {
		return nil, false
	}
	return normalizeAddressResult(res, address)
}

func normalizeAddressResult(res addressResult, address string) (*risk.Assessment, bool) {
	cat := risk.Category(res.RiskType)
	if !validCategory(cat, risk.AddressCategories) {
		return nil, false
	}
	if res.Confidence < 0 || res.Confidence > 1 {
		return nil, false
	}

	scores := make(map[risk.Category]float64, len(risk.AddressCategories))
	for _, c := range risk.AddressCategories {
		scores[c] = res.PredictionScores[string(c)]
	}

	desc := res.Description
	if desc == "" {
		desc = risk.Describe(cat)
	}

	return &risk.Assessment{
		ID:          idgen.WithPrefix("asmt_"),
		Subject:     address,
		Kind:        risk.KindAddress,
		Category:    cat,
		Level:       risk.LevelFor(cat),
		Confidence:  res.Confidence,
		Description: desc,
		Scores:      scores,
		Timestamp:   parseTimestamp(res.Timestamp),
		Degraded:    false,
	}, true
}

// normalizeTransaction maps a predict_transaction response. The coarse
// scale carries a single risk_score, so the per-category breakdown is
// rebuilt with the same crude weights the fallback uses.
func normalizeTransaction(raw json.RawMessage, txHash string) (*risk.Assessment, bool) {
	var env envelope
	if json.Unmarshal(raw, &env) != nil {
		return nil, false
	}
	var res transactionResult
	if json.Unmarshal(env.Data, &res) != nil {
		return nil, false
	}

	cat := risk.Category(res.RiskType)
	if !validCategory(cat, risk.TransactionCategories) {
		return nil, false
	}
	if res.RiskScore < 0 || res.RiskScore > 1 {
		return nil, false
	}

	desc := res.Description
	if desc == "" {
		desc = risk.Describe(cat)
	}

	return &risk.Assessment{
		ID:          idgen.WithPrefix("asmt_"),
		Subject:     txHash,
		Kind:        risk.KindTransaction,
		Category:    cat,
		Level:       risk.LevelFor(cat),
		Confidence:  res.RiskScore,
		Description: desc,
		Scores:      risk.CrudeScores(risk.TransactionCategories, cat, res.RiskScore),
		Timestamp:   parseTimestamp(res.Timestamp),
		Degraded:    false,
	}, true
}

func validCategory(c risk.Category, scale []risk.Category) bool {
	for _, s := range scale {
		if c == s {
			return true
		}
	}
	return false
}
