package inference

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethersentinel/sentinel/internal/circuitbreaker"
	"github.com/ethersentinel/sentinel/internal/retry"
	"github.com/ethersentinel/sentinel/internal/risk"
)

// noSleep skips inter-attempt delays so retry counts are exercised
// without real waiting.
func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func testClient(t *testing.T, baseURL string, maxAttempts int, opts ...Option) *Client {
	t.Helper()
	d := NewDispatcher(baseURL, 2*time.Second)
	policy := retry.Policy{MaxAttempts: maxAttempts, Delay: time.Second}
	opts = append([]Option{WithSleeper(noSleep)}, opts...)
	return NewClient(d, policy, risk.NewEngine(), opts...)
}

func addressBody(addr string, cat risk.Category, confidence float64) map[string]any {
	return map[string]any{
		"status": "success",
		"data": map[string]any{
			"address":     addr,
			"risk_type":   string(cat),
			"risk_level":  string(risk.LevelFor(cat)),
			"confidence":  confidence,
			"description": risk.Describe(cat),
			"prediction_scores": map[string]float64{
				"normal": 0.3, "phishing": confidence, "scam": 0.4,
			},
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}
}

func TestAssessAddressSuccess(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		json.NewEncoder(w).Encode(addressBody("0xabc", risk.CategoryPhishing, 0.91))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, 3)
	a := c.AssessAddress(context.Background(), "0xabc", nil)

	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if a.Degraded {
		t.Error("successful dispatch marked degraded")
	}
	if a.Category != risk.CategoryPhishing {
		t.Errorf("category = %s, want phishing", a.Category)
	}
	if a.Level != risk.LevelHigh {
		t.Errorf("level = %s, want high", a.Level)
	}
	if a.Confidence != 0.91 {
		t.Errorf("confidence = %v, want 0.91", a.Confidence)
	}
	if a.Subject != "0xabc" {
		t.Errorf("subject = %s, want echo of input", a.Subject)
	}
	if len(a.Scores) != len(risk.AddressCategories) {
		t.Errorf("scores has %d keys, want %d", len(a.Scores), len(risk.AddressCategories))
	}
}

func TestAssessAddressRetriesThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(addressBody("0xabc", risk.CategoryNormal, 0.12))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, 3)
	a := c.AssessAddress(context.Background(), "0xabc", nil)

	if attempts != 3 {
		t.Errorf("attempts = %d, want exactly 3", attempts)
	}
	if a.Degraded {
		t.Error("recovered dispatch marked degraded")
	}
	if a.Category != risk.CategoryNormal {
		t.Errorf("category = %s, want normal", a.Category)
	}
}

func TestAssessAddressExhaustionFallsBack(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, 3)
	a := c.AssessAddress(context.Background(), "0xABC", nil)

	if attempts != 3 {
		t.Errorf("attempts = %d, want exactly 3", attempts)
	}
	if !a.Degraded {
		t.Fatal("fallback result not marked degraded")
	}

	// Must agree with the rule engine for the same subject.
	want := risk.NewEngine().AssessAddress("0xABC")
	if a.Category != want.Category || a.Level != want.Level || a.Confidence != want.Confidence {
		t.Errorf("fallback mismatch: got %s/%s/%v, want %s/%s/%v",
			a.Category, a.Level, a.Confidence, want.Category, want.Level, want.Confidence)
	}
}

func TestAssessAddressUnreachableHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := testClient(t, srv.URL, 2)
	a := c.AssessAddress(context.Background(), "0xabc", nil)
	if a == nil {
		t.Fatal("assess returned nil")
	}
	if !a.Degraded {
		t.Error("unreachable host should serve the fallback")
	}
}

func TestAssessAddressBadResponseFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json at all"))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, 1)
	a := c.AssessAddress(context.Background(), "0xabc", nil)
	if !a.Degraded {
		t.Error("unparseable 2xx response should serve the fallback")
	}
}

func TestAssessAddressCancellationFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Real sleeper: the cancelled context must abort the retry wait.
	d := NewDispatcher(srv.URL, 2*time.Second)
	c := NewClient(d, retry.Policy{MaxAttempts: 3, Delay: time.Minute}, risk.NewEngine())

	done := make(chan *risk.Assessment, 1)
	go func() { done <- c.AssessAddress(ctx, "0xabc", nil) }()

	select {
	case a := <-done:
		if !a.Degraded {
			t.Error("cancelled call should serve the fallback")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cancellation did not abort retries")
	}
}

func TestAssessTransactionSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status": "success",
			"data": map[string]any{
				"tx_hash":    "0xdeadbeef",
				"risk_type":  "high_risk",
				"risk_score": 0.88,
				"timestamp":  time.Now().Format(time.RFC3339),
			},
		})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, 3)
	a := c.AssessTransaction(context.Background(), "0xdeadbeef", nil)

	if a.Degraded {
		t.Error("successful dispatch marked degraded")
	}
	if a.Kind != risk.KindTransaction {
		t.Errorf("kind = %s", a.Kind)
	}
	if a.Category != risk.CategoryHighRisk {
		t.Errorf("category = %s, want high_risk", a.Category)
	}
	if a.Confidence != 0.88 {
		t.Errorf("confidence = %v, want risk_score 0.88", a.Confidence)
	}
	// The coarse scale has no remote breakdown: it is rebuilt locally and
	// must cover exactly the transaction categories.
	for _, cat := range risk.TransactionCategories {
		if _, ok := a.Scores[cat]; !ok {
			t.Errorf("scores missing %s", cat)
		}
	}
	if a.Scores[risk.CategoryHighRisk] != 0.88 {
		t.Errorf("dominant score = %v, want 0.88", a.Scores[risk.CategoryHighRisk])
	}
}

func TestAssessTransactionFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, 2)
	a := c.AssessTransaction(context.Background(), "0xfeed", nil)

	if !a.Degraded {
		t.Fatal("fallback not marked degraded")
	}
	want := risk.NewEngine().AssessTransaction("0xfeed")
	if a.Category != want.Category {
		t.Errorf("category = %s, want %s", a.Category, want.Category)
	}
}

func TestAssessBatchPerItemFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req batchRequest
		json.NewDecoder(r.Body).Decode(&req)

		results := make([]map[string]any, 0, len(req.Addresses))
		for i, addr := range req.Addresses {
			if i == 1 {
				// Middle subject unscorable: per-item error entry.
				results = append(results, map[string]any{"address": addr, "error": "scoring failed"})
				continue
			}
			results = append(results, map[string]any{
				"address":     addr,
				"risk_type":   "normal",
				"risk_level":  "safe",
				"confidence":  0.1,
				"description": "ok",
				"prediction_scores": map[string]float64{
					"normal": 0.9, "phishing": 0.3, "scam": 0.4,
				},
				"timestamp": time.Now().Format(time.RFC3339),
			})
		}
		json.NewEncoder(w).Encode(map[string]any{"status": "success", "data": results, "count": len(results)})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, 3)
	addrs := []string{"0xaaa", "0xbbb", "0xccc"}
	out := c.AssessBatch(context.Background(), addrs)

	if len(out) != 3 {
		t.Fatalf("got %d results, want 3", len(out))
	}
	for i, a := range out {
		if a.Subject != addrs[i] {
			t.Errorf("result %d subject = %s, want %s (order must be preserved)", i, a.Subject, addrs[i])
		}
	}
	if out[0].Degraded || out[2].Degraded {
		t.Error("scored subjects marked degraded")
	}
	if !out[1].Degraded {
		t.Error("unscorable subject not served by fallback")
	}
}

func TestAssessBatchWholeCallFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, 2)
	addrs := []string{"0xaaa", "0xbbb"}
	out := c.AssessBatch(context.Background(), addrs)

	if len(out) != 2 {
		t.Fatalf("got %d results, want 2", len(out))
	}
	for i, a := range out {
		if !a.Degraded {
			t.Errorf("result %d not degraded", i)
		}
		if a.Subject != addrs[i] {
			t.Errorf("result %d subject = %s, want %s", i, a.Subject, addrs[i])
		}
	}
}

func TestHealthCheck(t *testing.T) {
	// Health is a bare object on the wire, not a {status, data} envelope.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status":       "healthy",
			"model_loaded": true,
			"device":       "cpu",
			"timestamp":    time.Now().Format(time.RFC3339),
		})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, 3)
	h := c.HealthCheck(context.Background())
	if !h.Available {
		t.Error("healthy server reported unavailable")
	}
	if !h.ModelLoaded {
		t.Error("model_loaded lost in translation")
	}
	if h.Device != "cpu" {
		t.Errorf("device = %s", h.Device)
	}
}

func TestHealthCheckDegradedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status":       "degraded",
			"model_loaded": false,
			"device":       "cpu",
			"timestamp":    time.Now().Format(time.RFC3339),
		})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, 3)
	h := c.HealthCheck(context.Background())
	if h.Available {
		t.Error("degraded status must report unavailable")
	}
	if h.ModelLoaded {
		t.Error("model_loaded should be false")
	}
}

func TestHealthCheckUnreachableNeverFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := testClient(t, srv.URL, 3)
	h := c.HealthCheck(context.Background())
	if h.Available {
		t.Error("unreachable host reported available")
	}
}

func TestBreakerShortCircuits(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	breaker := circuitbreaker.New(2, time.Hour)
	c := testClient(t, srv.URL, 1, WithBreaker(breaker))

	// Two failing calls trip the circuit.
	c.AssessAddress(context.Background(), "0xabc", nil)
	c.AssessAddress(context.Background(), "0xabc", nil)
	if state := breaker.State(string(EndpointAddress)); state != circuitbreaker.StateOpen {
		t.Fatalf("breaker state = %s, want open", state)
	}

	before := attempts
	a := c.AssessAddress(context.Background(), "0xabc", nil)
	if attempts != before {
		t.Errorf("open circuit still dispatched (%d new attempts)", attempts-before)
	}
	if !a.Degraded {
		t.Error("short-circuited call not served by fallback")
	}
}

func TestAssessIdempotentPerSubject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(addressBody("0xabc", risk.CategoryScam, 0.55))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, 3)
	a := c.AssessAddress(context.Background(), "0xabc", nil)
	b := c.AssessAddress(context.Background(), "0xabc", nil)

	if a.Category != b.Category || a.Level != b.Level || a.Confidence != b.Confidence {
		t.Errorf("repeated assessment drifted: %+v vs %+v", a, b)
	}
}
