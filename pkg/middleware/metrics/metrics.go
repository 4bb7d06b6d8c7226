// middleware/metrics/metrics.go
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

var (
	responseTime = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "response_time",
			Help:    "http response time.",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60},
		},
	)

	totalHttpRequestsToUri = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "total_http_requests_to_uri", Help: "http requests to uri"},
		[]string{"code", "uri", "method"},
	)

	totalHttpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "total_http_requests", Help: "http requests by code and method"},
		[]string{"code", "method"},
	)

	totalCallerIdentities = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "total_caller_identities", Help: "resolved caller identities by kind"},
		[]string{"kind"}, // "verified" | "guest" | "none"
	)

	upstreamAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "upstream_attempts_total", Help: "upstream call attempts by outcome"},
		[]string{"outcome"}, // "ok" | "timeout" | "rate_limited" | "error"
	)

	streamedBytes = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "relay_streamed_bytes_total", Help: "bytes relayed downstream -> caller"},
	)
)

// ObserveUpstreamAttempt records one attempt of a resilient upstream call.
func ObserveUpstreamAttempt(outcome string) { upstreamAttempts.WithLabelValues(outcome).Inc() }

// AddStreamedBytes accounts bytes copied through the streaming relay.
func AddStreamedBytes(n int64) { streamedBytes.Add(float64(n)) }

func NewPromHttpHandler() http.Handler { return promhttp.Handler() }
func ProvideMetrics() http.Handler     { return NewPromHttpHandler() }

func init() {
	prometheus.MustRegister(
		responseTime,
		totalHttpRequestsToUri,
		totalHttpRequests,
		totalCallerIdentities,
		upstreamAttempts,
		streamedBytes,
	)
}

var Module = fx.Options(
	fx.Provide(fx.Annotate(ProvideMetrics, fx.ResultTags(`name:"metrics"`))),
)
