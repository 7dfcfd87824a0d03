package guardrails

import (
	"crypto/tls"

	"github.com/coralogix/llm-tracekit-sub000/pkg/infra/httpx"
	"github.com/coralogix/llm-tracekit-sub000/pkg/infra/logger"
	"github.com/coralogix/llm-tracekit-sub000/pkg/infra/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/coralogix/llm-tracekit-sub000/pkg/guardrails"

type options struct {
	httpClient     httpx.Client
	logger         *logrus.Logger
	tracerProvider trace.TracerProvider
	metrics        *prometheus.GuardMetrics
	breaker        httpx.CircuitBreaker
	tlsConfig      *tls.Config
}

type Option func(*options)

// WithHTTPClient replaces the pooled fasthttp client opened per session.
// The client is shared by every session and is never closed by Close.
func WithHTTPClient(client httpx.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

func WithLogger(l *logrus.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithTracerProvider defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracerProvider = tp
	}
}

func WithMetrics(m *prometheus.GuardMetrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithCircuitBreaker makes guard calls fail fast with a ConnectionError while
// the breaker is open. Calls are never retried.
func WithCircuitBreaker(cb httpx.CircuitBreaker) Option {
	return func(o *options) {
		o.breaker = cb
	}
}

// WithTLSConfig applies to the HTTP pool each session opens. It is ignored
// when WithHTTPClient is set.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(o *options) {
		o.tlsConfig = cfg
	}
}

func newOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logger.Discard()
	}
	if o.tracerProvider == nil {
		o.tracerProvider = otel.GetTracerProvider()
	}
	return o
}
