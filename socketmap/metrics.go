package socketmap

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the protocol-level collectors for both the socketmap and
// policy-delegation embedders,
// variable block but scoped to an instance instead of package globals, so
// cmd/sfnetd controls exactly when and into which registry they register.
type Metrics struct {
	RequestDuration *prometheus.HistogramVec
	RequestsTotal   *prometheus.CounterVec

	PolicyRequestsTotal   *prometheus.CounterVec
	PolicyRequestDuration *prometheus.HistogramVec
	QuotaExceededTotal    prometheus.Counter
	QuotaChecksTotal      *prometheus.CounterVec

	TrackedSenders prometheus.GaugeFunc

	httpClientDuration      *prometheus.HistogramVec
	httpClientRequestsTotal *prometheus.CounterVec
}

// NewMetrics constructs the embedder's collectors. trackedSenders is a
// closure over whichever RateLimiter backs the running process, matching
// prometheus.NewGaugeFunc for a value it can't
// observe passively.
func NewMetrics(trackedSenders func() float64) *Metrics {
	return &Metrics{
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sfnet_socketmap_request_duration_seconds",
			Help:    "Duration of socketmap requests.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		}, []string{"handler", "status"}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sfnet_socketmap_requests_total",
			Help: "Total number of socketmap requests.",
		}, []string{"handler", "status"}),
		PolicyRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sfnet_policy_requests_total",
			Help: "Total number of policy delegation requests.",
		}, []string{"stage", "action"}),
		PolicyRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sfnet_policy_request_duration_seconds",
			Help:    "Duration of policy delegation requests.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		}, []string{"stage", "action"}),
		QuotaExceededTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sfnet_quota_exceeded_total",
			Help: "Total number of messages rejected due to quota.",
		}),
		QuotaChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sfnet_quota_checks_total",
			Help: "Total number of quota checks performed.",
		}, []string{"result"}),
		TrackedSenders: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "sfnet_tracked_senders",
			Help: "Number of senders currently tracked by the rate limiter.",
		}, trackedSenders),
		httpClientDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sfnet_userli_client_duration_seconds",
			Help:    "Duration of HTTP requests to the Userli API.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}, []string{"endpoint", "status_code"}),
		httpClientRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sfnet_userli_client_requests_total",
			Help: "Total number of HTTP requests to the Userli API.",
		}, []string{"endpoint", "status_code"}),
	}
}

// Collectors returns every protocol-level metric for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.RequestDuration,
		m.RequestsTotal,
		m.PolicyRequestsTotal,
		m.PolicyRequestDuration,
		m.QuotaExceededTotal,
		m.QuotaChecksTotal,
		m.TrackedSenders,
		m.httpClientDuration,
		m.httpClientRequestsTotal,
	}
}
