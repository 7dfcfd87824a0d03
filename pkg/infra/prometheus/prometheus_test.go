package prometheus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func gatheredNames(t *testing.T, g prometheus.Gatherer) []string {
	t.Helper()
	families, err := g.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	return names
}

func TestGuardMetrics_ObserveRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewGuardMetrics(reg, DefaultMetricsConfig())

	m.ObserveRequest("prompt", StatusOK, 12*time.Millisecond)
	m.ObserveRequest("prompt", StatusOK, 30*time.Millisecond)
	m.ObserveRequest("response", StatusTriggered, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("prompt", StatusOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("response", StatusTriggered)))
	assert.Equal(t, 2, testutil.CollectAndCount(m.latency, "trace_guardrails_latency_ms"))
}

func TestGuardMetrics_DisabledCollectorsAreNotGathered(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewGuardMetrics(reg, MetricsConfig{})

	m.ObserveViolation("prompt", "pii")
	m.ObserveRequest("prompt", StatusOK, time.Millisecond)

	names := gatheredNames(t, reg)
	assert.Equal(t, []string{"trace_guardrails_requests_total"}, names)
}

func TestGuardMetrics_LatencyDisabledViolationsEnabled(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewGuardMetrics(reg, MetricsConfig{EnableViolations: true})

	m.ObserveViolation("response", "custom")
	m.ObserveRequest("response", StatusSuppressed, time.Millisecond)

	names := gatheredNames(t, reg)
	assert.Contains(t, names, "trace_guardrails_violations_total")
	assert.NotContains(t, names, "trace_guardrails_latency_ms")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.violations.WithLabelValues("response", "custom")))
}

func TestInitialize_ServesThroughFastHTTP(t *testing.T) {
	m := Initialize(MetricsConfig{EnableLatency: true})
	require.Same(t, m, Default())
	require.Same(t, m, Initialize(DefaultMetricsConfig()))

	m.ObserveRequest("prompt", StatusOK, 3*time.Millisecond)

	var ctx fasthttp.RequestCtx
	ctx.Request.SetRequestURI("/metrics")
	ctx.Request.Header.SetMethod(fasthttp.MethodGet)
	FastHTTPHandler()(&ctx)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	body := string(ctx.Response.Body())
	assert.Contains(t, body, "trace_guardrails_requests_total")
	assert.Contains(t, body, "trace_guardrails_latency_ms")
	assert.NotContains(t, body, "trace_guardrails_violations_total")
	assert.Contains(t, gatheredNames(t, Gatherer()), "trace_guardrails_requests_total")
}

func TestGuardMetrics_NilIsNoop(t *testing.T) {
	var m *GuardMetrics
	assert.NotPanics(t, func() {
		m.ObserveRequest("prompt", StatusOK, time.Millisecond)
		m.ObserveViolation("prompt", "pii")
	})
}
