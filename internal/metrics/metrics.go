// Package metrics provides Prometheus instrumentation for the EtherSentinel services.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ethersentinel",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ethersentinel",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// DispatchAttemptsTotal counts model server dispatch attempts by endpoint and outcome.
	DispatchAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ethersentinel",
			Name:      "dispatch_attempts_total",
			Help:      "Model server dispatch attempts by endpoint and outcome (ok, timeout, transport, remote_error).",
		},
		[]string{"endpoint", "outcome"},
	)

	// DispatchDuration observes single-attempt dispatch latency by endpoint.
	DispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ethersentinel",
			Name:      "dispatch_duration_seconds",
			Help:      "Single model server dispatch attempt duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// FallbacksTotal counts assessments served by the rule engine instead of the model.
	FallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ethersentinel",
			Name:      "fallbacks_total",
			Help:      "Assessments served by the local rule engine, by subject kind and reason.",
		},
		[]string{"kind", "reason"},
	)

	// AssessmentsTotal counts completed assessments by kind, category, and serving path.
	AssessmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ethersentinel",
			Name:      "assessments_total",
			Help:      "Completed risk assessments by subject kind, category, and path (model or fallback).",
		},
		[]string{"kind", "category", "path"},
	)

	// BatchSize observes the number of subjects per batch assessment.
	BatchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ethersentinel",
		Name:      "batch_size",
		Help:      "Number of subjects per batch assessment request.",
		Buckets:   []float64{1, 2, 5, 10, 20, 50, 100},
	})

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ethersentinel",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// ModelPredictionsTotal counts predictions served by the model server itself.
	ModelPredictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ethersentinel",
			Name:      "model_predictions_total",
			Help:      "Predictions served by the model server, by endpoint and status.",
		},
		[]string{"endpoint", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		DispatchAttemptsTotal,
		DispatchDuration,
		FallbacksTotal,
		AssessmentsTotal,
		BatchSize,
		ActiveWebSocketClients,
		ModelPredictionsTotal,
	)
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
