package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the Prometheus collectors for the request core. A private
// registry keeps test processes from colliding on duplicate registration.
type Registry struct {
	reg *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestLatency   *prometheus.HistogramVec
	RateLimited      prometheus.Counter
	ProviderFailures *prometheus.CounterVec
	FallbackDepth    prometheus.Histogram
	SlotQueueDepth   prometheus.Gauge
	SlotActiveWeight prometheus.Gauge
	CostUSD          *prometheus.CounterVec
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "corvid_requests_total",
			Help: "Total HTTP requests handled by the pipeline",
		}, []string{"method", "path", "status"}),
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "corvid_request_latency_ms",
			Help:    "Request latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		}, []string{"method", "path"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "corvid_rate_limited_total",
			Help: "Requests rejected with 429",
		}),
		ProviderFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "corvid_provider_failures_total",
			Help: "Provider completion failures by provider and class",
		}, []string{"provider", "class"}),
		FallbackDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "corvid_fallback_depth",
			Help:    "Chain position of the entry that served each completion",
			Buckets: prometheus.LinearBuckets(1, 1, 6),
		}),
		SlotQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "corvid_local_slot_queue_depth",
			Help: "Waiters queued on the local-model slot scheduler",
		}),
		SlotActiveWeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "corvid_local_slot_active_weight",
			Help: "Weight currently admitted by the local-model slot scheduler",
		}),
		CostUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "corvid_cost_usd_total",
			Help: "Estimated USD cost of completions",
		}, []string{"model", "provider"}),
	}
	reg.MustRegister(
		m.RequestsTotal,
		m.RequestLatency,
		m.RateLimited,
		m.ProviderFailures,
		m.FallbackDepth,
		m.SlotQueueDepth,
		m.SlotActiveWeight,
		m.CostUSD,
	)
	return m
}

func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
