package gateway

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Label constants for metrics, carried from the teacher's metrics.go
// and relabeled for the gateway's route/method/status taxonomy.
const (
	labelRoute      = "route"
	labelMethod     = "method"
	labelStatusCode = "status_code"
)

var (
	requestLabels       = []string{labelRoute, labelMethod}
	requestStatusLabels = []string{labelRoute, labelMethod, labelStatusCode}

	//nolint:gochecknoglobals // prometheus collectors are package-level by convention.
	gatewayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ferragate_requests_total",
			Help: "Total number of requests accepted by the gateway",
		},
		requestLabels,
	)

	//nolint:gochecknoglobals
	gatewayRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ferragate_request_duration_seconds",
			Help:    "End-to-end duration of proxied requests in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		requestLabels,
	)

	//nolint:gochecknoglobals
	gatewayResponsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ferragate_responses_total",
			Help: "Total number of responses by status code",
		},
		requestStatusLabels,
	)

	//nolint:gochecknoglobals
	gatewayUpstreamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ferragate_upstream_errors_total",
			Help: "Total number of upstream dispatch errors",
		},
		[]string{"path"},
	)

	//nolint:gochecknoglobals
	gatewayHealthCheckStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ferragate_health_check_status",
			Help: "Most recent result of a registered health check (1=pass, 0=fail)",
		},
		[]string{"check"},
	)
)

func init() {
	prometheus.MustRegister(
		gatewayRequestsTotal,
		gatewayRequestDuration,
		gatewayResponsesTotal,
		gatewayUpstreamErrorsTotal,
		gatewayHealthCheckStatus,
	)
}

func recordRequest(route, method string) {
	gatewayRequestsTotal.WithLabelValues(route, method).Inc()
}

func recordDuration(route, method string, d time.Duration) {
	gatewayRequestDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

func recordResponse(route, method string, status int, _ time.Duration) {
	gatewayResponsesTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
}

func recordUpstreamError(path string) {
	gatewayUpstreamErrorsTotal.WithLabelValues(path).Inc()
}

func recordHealthCheck(name string, ok bool) {
	v := 0.0
	if ok {
		v = 1.0
	}
	gatewayHealthCheckStatus.WithLabelValues(name).Set(v)
}
