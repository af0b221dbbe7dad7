package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ethersentinel/sentinel/internal/config"
	"github.com/ethersentinel/sentinel/internal/inference"
	"github.com/ethersentinel/sentinel/internal/retry"
	"github.com/ethersentinel/sentinel/internal/risk"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testAddress = "0x1234567890abcdef1234567890abcdef12345678"

// testConfig returns a minimal config for testing
func testConfig(modelURL string) *config.Config {
	return &config.Config{
		Port:                "0",
		Env:                 "development",
		LogLevel:            "error",
		ModelServerURL:      modelURL,
		RequestTimeout:      time.Second,
		MaxRetries:          2,
		RetryDelay:          0,
		BreakerThreshold:    5,
		BreakerOpenDuration: time.Minute,
		RateLimitRPM:        10000,
	}
}

// fakeModelServer serves the model API wire shapes for gateway tests.
func fakeModelServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/model/health", func(w http.ResponseWriter, r *http.Request) {
		// Health is a bare object; only the predict endpoints use the envelope.
		json.NewEncoder(w).Encode(map[string]any{
			"status": "healthy", "model_loaded": true, "device": "cpu",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("/api/model/predict_address", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(map[string]any{
			"status": "success",
			"data": map[string]any{
				"address": req["address"], "risk_type": "phishing", "risk_level": "high",
				"confidence": 0.92, "description": "Phishing activity detected",
				"prediction_scores": map[string]float64{"normal": 0.3, "phishing": 0.92, "scam": 0.4},
				"timestamp":         time.Now().Format(time.RFC3339),
			},
		})
	})
	mux.HandleFunc("/api/model/batch_predict", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Addresses []string `json:"addresses"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		results := make([]map[string]any, len(req.Addresses))
		for i, addr := range req.Addresses {
			results[i] = map[string]any{
				"address": addr, "risk_type": "normal", "risk_level": "safe",
				"confidence": 0.1, "description": "ok",
				"prediction_scores": map[string]float64{"normal": 0.9, "phishing": 0.3, "scam": 0.4},
				"timestamp":         time.Now().Format(time.RFC3339),
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"status": "success", "data": results, "count": len(results)})
	})
	return httptest.NewServer(mux)
}

// newTestServer wires the gateway against a fake model server with no
// retry delay.
func newTestServer(t *testing.T, modelURL string) *Server {
	t.Helper()
	cfg := testConfig(modelURL)

	d := inference.NewDispatcher(modelURL, cfg.RequestTimeout)
	client := inference.NewClient(d,
		retry.Policy{MaxAttempts: cfg.MaxRetries, Delay: 0},
		risk.NewEngine(),
	)

	s, err := New(cfg, WithClient(client))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

func postJSON(t *testing.T, s *Server, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	s.Router().ServeHTTP(w, req)

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response %q: %v", w.Body.String(), err)
	}
	return w, resp
}

func TestAnalyzeAddress(t *testing.T) {
	model := fakeModelServer(t)
	defer model.Close()
	s := newTestServer(t, model.URL)

	w, resp := postJSON(t, s, "/api/analyze/address", map[string]any{"address": testAddress})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %v", w.Code, resp)
	}
	if resp["risk_type"] != "phishing" {
		t.Errorf("risk_type = %v", resp["risk_type"])
	}
	if resp["degraded"] != false {
		t.Error("model-served result marked degraded")
	}
	if resp["subject"] != testAddress {
		t.Errorf("subject = %v", resp["subject"])
	}
}

func TestAnalyzeAddressNormalizes(t *testing.T) {
	model := fakeModelServer(t)
	defer model.Close()
	s := newTestServer(t, model.URL)

	upper := "0x1234567890ABCDEF1234567890ABCDEF12345678"
	w, resp := postJSON(t, s, "/api/analyze/address", map[string]any{"address": upper})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if resp["subject"] != testAddress {
		t.Errorf("subject = %v, want lowercased address", resp["subject"])
	}
}

func TestAnalyzeAddressInvalid(t *testing.T) {
	model := fakeModelServer(t)
	defer model.Close()
	s := newTestServer(t, model.URL)

	w, resp := postJSON(t, s, "/api/analyze/address", map[string]any{"address": "garbage"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if resp["error"] != "invalid_address" {
		t.Errorf("error = %v", resp["error"])
	}
}

func TestAnalyzeAddressMissingBody(t *testing.T) {
	model := fakeModelServer(t)
	defer model.Close()
	s := newTestServer(t, model.URL)

	w, _ := postJSON(t, s, "/api/analyze/address", map[string]any{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestAnalyzeAddressModelDown(t *testing.T) {
	model := fakeModelServer(t)
	model.Close() // unreachable from the start
	s := newTestServer(t, model.URL)

	w, resp := postJSON(t, s, "/api/analyze/address", map[string]any{"address": testAddress})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, gateway must degrade instead of failing", w.Code)
	}
	if resp["degraded"] != true {
		t.Error("fallback result not marked degraded")
	}
}

func TestAnalyzeTransaction(t *testing.T) {
	model := fakeModelServer(t)
	defer model.Close()
	s := newTestServer(t, model.URL)

	// The fake server has no transaction route, so this exercises the
	// fallback path end to end.
	txHash := "0x" + "00aa11bb22cc33dd44ee55ff66aa77bb88cc99dd00ee11ff22aa33bb44cc55dd"
	w, resp := postJSON(t, s, "/api/analyze/transaction", map[string]any{"tx_hash": txHash})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %v", w.Code, resp)
	}
	if resp["kind"] != "transaction" {
		t.Errorf("kind = %v", resp["kind"])
	}
	if resp["degraded"] != true {
		t.Error("missing model route should degrade")
	}
}

func TestAnalyzeTransactionInvalid(t *testing.T) {
	model := fakeModelServer(t)
	defer model.Close()
	s := newTestServer(t, model.URL)

	w, _ := postJSON(t, s, "/api/analyze/transaction", map[string]any{"tx_hash": "0x1234"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestAnalyzeBatch(t *testing.T) {
	model := fakeModelServer(t)
	defer model.Close()
	s := newTestServer(t, model.URL)

	addrs := []string{
		"0x1111111111111111111111111111111111111111",
		"0x2222222222222222222222222222222222222222",
	}
	w, resp := postJSON(t, s, "/api/analyze/batch", map[string]any{"addresses": addrs})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %v", w.Code, resp)
	}
	if resp["count"].(float64) != 2 {
		t.Errorf("count = %v", resp["count"])
	}
	if resp["degraded"] != false {
		t.Error("fully model-served batch marked degraded")
	}

	list := resp["assessments"].([]any)
	for i, item := range list {
		a := item.(map[string]any)
		if a["subject"] != addrs[i] {
			t.Errorf("result %d subject = %v, want %v", i, a["subject"], addrs[i])
		}
	}
}

func TestAnalyzeBatchInvalidEntry(t *testing.T) {
	model := fakeModelServer(t)
	defer model.Close()
	s := newTestServer(t, model.URL)

	w, resp := postJSON(t, s, "/api/analyze/batch", map[string]any{
		"addresses": []string{testAddress, "nope"},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if resp["address"] != "nope" {
		t.Errorf("rejected address = %v", resp["address"])
	}
}

func TestAnalyzeBatchEmpty(t *testing.T) {
	model := fakeModelServer(t)
	defer model.Close()
	s := newTestServer(t, model.URL)

	w, _ := postJSON(t, s, "/api/analyze/batch", map[string]any{"addresses": []string{}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	model := fakeModelServer(t)
	defer model.Close()
	s := newTestServer(t, model.URL)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/health", nil)
	s.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("/health status = %d", w.Code)
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["model_available"] != true {
		t.Error("model_available should be true with fake server up")
	}
	if resp["degraded_mode"] != false {
		t.Error("degraded_mode should be false")
	}

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/health/live", nil)
	s.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("/health/live status = %d", w.Code)
	}

	// Not ready until Run has started.
	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/health/ready", nil)
	s.Router().ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("/health/ready status = %d, want 503 before Run", w.Code)
	}
}

func TestHealthDegradedWhenModelDown(t *testing.T) {
	model := fakeModelServer(t)
	model.Close()
	s := newTestServer(t, model.URL)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/health", nil)
	s.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("/health status = %d, gateway stays healthy without the model", w.Code)
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["degraded_mode"] != true {
		t.Error("degraded_mode should be true with model down")
	}
}

func TestAssessmentHistoryAfterAnalyze(t *testing.T) {
	model := fakeModelServer(t)
	defer model.Close()
	s := newTestServer(t, model.URL)

	postJSON(t, s, "/api/analyze/address", map[string]any{"address": testAddress})

	// Recording is async; give it a moment.
	deadline := time.Now().Add(2 * time.Second)
	for {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/api/assessments/"+testAddress, nil)
		s.Router().ServeHTTP(w, req)

		var resp map[string]any
		json.Unmarshal(w.Body.Bytes(), &resp)
		if count, ok := resp["count"].(float64); ok && count >= 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("assessment never appeared in history")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	model := fakeModelServer(t)
	defer model.Close()
	s := newTestServer(t, model.URL)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/metrics", nil)
	s.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("/metrics status = %d", w.Code)
	}
}

func TestRequestIDHeader(t *testing.T) {
	model := fakeModelServer(t)
	defer model.Close()
	s := newTestServer(t, model.URL)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/health/live", nil)
	s.Router().ServeHTTP(w, req)
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID response header")
	}

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "req_fixed")
	s.Router().ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "req_fixed" {
		t.Errorf("X-Request-ID = %s, want echo of caller value", got)
	}
}
