package guardrails

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/coralogix/llm-tracekit-sub000/pkg/config"
	"github.com/coralogix/llm-tracekit-sub000/pkg/infra/httpx"
	"github.com/coralogix/llm-tracekit-sub000/pkg/infra/prometheus"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	guardPath = "/api/v1/guardrails/guard"

	HeaderAuth            = "X-Coralogix-Auth"
	HeaderApplicationName = "cx-application-name"
	HeaderSubsystemName   = "cx-subsystem-name"

	maxResponseBody = 10 * 1024 * 1024
)

// sender performs a single guard call: one POST, no retries.
type sender struct {
	cfg     config.GuardrailsConfig
	url     string
	host    string
	breaker httpx.CircuitBreaker
	logger  *logrus.Logger
	tracer  trace.Tracer
	metrics *prometheus.GuardMetrics
}

func newSender(cfg config.GuardrailsConfig, o *options) (*sender, error) {
	u, err := url.Parse(cfg.Endpoint + guardPath)
	if err != nil {
		return nil, &ConfigError{Key: "endpoint", EnvVar: config.EnvEndpoint, Reason: err.Error()}
	}
	return &sender{
		cfg:     cfg,
		url:     u.String(),
		host:    u.Host,
		breaker: o.breaker,
		logger:  o.logger,
		tracer:  o.tracerProvider.Tracer(tracerName),
		metrics: o.metrics,
	}, nil
}

func (s *sender) send(ctx context.Context, client httpx.Client, req *Request) (*Response, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "guardrails."+string(req.Target), trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	guardID := uuid.NewString()
	log := s.logger.WithFields(logrus.Fields{
		"guard_id": guardID,
		"target":   req.Target,
	})

	prompts, responses := req.split()
	span.SetAttributes(
		attribute.String(AttrGuardID, guardID),
		attribute.String(AttrTarget, string(req.Target)),
	)
	span.SetAttributes(RequestAttributes(req.Application, req.Subsystem, prompts, responses)...)

	resp, err := s.execute(ctx, client, req)
	if err != nil {
		s.metrics.ObserveRequest(string(req.Target), statusLabel(err), time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("guardrails call failed")
		}
		return nil, err
	}

	span.SetAttributes(ResponseAttributes(resp, req.Target)...)

	violations, err := checkViolations(resp, req.Target, s.cfg.Suppressed())
	span.SetAttributes(attribute.Bool(AttrTriggered, len(violations) > 0))
	for _, v := range violations {
		span.AddEvent(EventTriggered, trace.WithAttributes(violationAttributes(v)...))
		s.metrics.ObserveViolation(string(req.Target), string(v.Type))
	}

	status := prometheus.StatusOK
	if len(violations) > 0 {
		log.WithFields(logrus.Fields{
			"violations": len(violations),
			"suppressed": s.cfg.Suppressed(),
		}).Warn("guardrails triggered")
		status = prometheus.StatusSuppressed
	}
	if err != nil {
		status = prometheus.StatusTriggered
		span.SetStatus(codes.Error, "guardrails triggered")
	}
	s.metrics.ObserveRequest(string(req.Target), status, time.Since(start))

	return resp, err
}

func (s *sender) execute(ctx context.Context, client httpx.Client, req *Request) (*Response, error) {
	if s.breaker == nil {
		return s.post(ctx, client, req)
	}
	var (
		resp    *Response
		callErr error
	)
	err := s.breaker.Execute(func() error {
		resp, callErr = s.post(ctx, client, req)
		return callErr
	})
	if callErr != nil {
		return nil, callErr
	}
	if err != nil {
		return nil, &ConnectionError{Host: s.host, Err: err}
	}
	return resp, nil
}

func (s *sender) post(ctx context.Context, client httpx.Client, req *Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal guardrails request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create guardrails request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept-Encoding", httpx.AcceptEncoding)
	httpReq.Header.Set(HeaderAuth, "Bearer "+s.cfg.APIKey)
	httpReq.Header.Set(HeaderApplicationName, s.cfg.ApplicationName)
	httpReq.Header.Set(HeaderSubsystemName, s.cfg.SubsystemName)

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, s.transportError(ctx, callCtx, err)
	}

	respBody, err := httpx.ReadBody(httpResp, maxResponseBody)
	if err != nil {
		if callCtx.Err() != nil {
			return nil, s.transportError(ctx, callCtx, err)
		}
		return nil, &ResponseError{StatusCode: httpResp.StatusCode, Body: string(respBody), Message: err.Error()}
	}

	if httpResp.StatusCode >= http.StatusBadRequest {
		return nil, &ResponseError{StatusCode: httpResp.StatusCode, Body: string(respBody)}
	}

	resp, err := ParseResponse(respBody)
	if err != nil {
		return nil, &ResponseError{StatusCode: httpResp.StatusCode, Body: string(respBody), Message: err.Error()}
	}
	return resp, nil
}

// transportError tells a caller cancellation apart from the per-call
// deadline and from plain network failures.
func (s *sender) transportError(ctx, callCtx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		if !errors.Is(err, context.Canceled) {
			err = fmt.Errorf("%w: %v", context.Canceled, err)
		}
		return &ConnectionError{Host: s.host, Err: err}
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		return &TimeoutError{Timeout: s.cfg.Timeout, Err: err}
	}
	return &ConnectionError{Host: s.host, Err: err}
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

func statusLabel(err error) string {
	var (
		timeoutErr  *TimeoutError
		responseErr *ResponseError
	)
	switch {
	case httpx.IsOpen(err):
		return prometheus.StatusRejected
	case errors.As(err, &timeoutErr):
		return prometheus.StatusTimeout
	case errors.As(err, &responseErr):
		return prometheus.StatusResponse
	default:
		return prometheus.StatusConnection
	}
}
