package prometheus

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var (
	registry    = prometheus.NewRegistry()
	initOnce    sync.Once
	defaultInst *GuardMetrics
)

var (
	// Latency buckets in milliseconds. Guard calls are bounded by the
	// endpoint timeout, 10s by default.
	latencyBuckets = []float64{
		5, 10, 25,
		50, 100, 250,
		500, 1000, 2500,
		5000, 10000, 30000,
	}
)

// Status label values for trace_guardrails_requests_total.
const (
	StatusOK         = "ok"
	StatusTriggered  = "triggered"
	StatusSuppressed = "suppressed"
	StatusTimeout    = "timeout"
	StatusConnection = "connection_error"
	StatusResponse   = "response_error"
	StatusRejected   = "circuit_open"
)

type MetricsConfig struct {
	EnableLatency    bool // per-target latency histogram
	EnableViolations bool // per-type violation counter
}

func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		EnableLatency:    true,
		EnableViolations: true,
	}
}

// GuardMetrics records the outcome of every guard call. A nil *GuardMetrics
// records nothing. Disabled collectors are never registered.
type GuardMetrics struct {
	requests   *prometheus.CounterVec
	violations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

func NewGuardMetrics(reg prometheus.Registerer, cfg MetricsConfig) *GuardMetrics {
	factory := promauto.With(reg)
	m := &GuardMetrics{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trace_guardrails_requests_total",
				Help: "Total number of guardrails calls by target and outcome",
			},
			[]string{"target", "status"},
		),
	}
	if cfg.EnableViolations {
		m.violations = factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trace_guardrails_violations_total",
				Help: "Total number of detected guardrails by target and type",
			},
			[]string{"target", "type"},
		)
	}
	if cfg.EnableLatency {
		m.latency = factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trace_guardrails_latency_ms",
				Help:    "Guardrails call latency in milliseconds",
				Buckets: latencyBuckets,
			},
			[]string{"target"},
		)
	}
	return m
}

// Default returns the metrics built by Initialize, or nil before it ran.
func Default() *GuardMetrics {
	return defaultInst
}

func (m *GuardMetrics) ObserveRequest(target, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(target, status).Inc()
	if m.latency != nil {
		m.latency.WithLabelValues(target).Observe(float64(elapsed.Microseconds()) / 1000)
	}
}

func (m *GuardMetrics) ObserveViolation(target, guardrailType string) {
	if m == nil || m.violations == nil {
		return
	}
	m.violations.WithLabelValues(target, guardrailType).Inc()
}

// Initialize registers the process collector and the guard metrics selected
// by cfg on the package registry, and makes it the default registerer and
// gatherer. Only the first call has an effect.
func Initialize(cfg MetricsConfig) *GuardMetrics {
	initOnce.Do(func() {
		registry.MustRegister(
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		defaultInst = NewGuardMetrics(registry, cfg)

		prometheus.DefaultRegisterer = registry
		prometheus.DefaultGatherer = registry
	})
	return defaultInst
}

// Gatherer exposes the package registry.
func Gatherer() prometheus.Gatherer {
	return registry
}

// Handler serves the package registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// FastHTTPHandler serves Handler on a fasthttp server.
func FastHTTPHandler() fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(Handler())
}
