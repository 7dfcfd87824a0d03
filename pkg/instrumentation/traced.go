package instrumentation

import (
	"context"

	"github.com/coralogix/llm-tracekit-sub000/pkg/infra/providers"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/coralogix/llm-tracekit-sub000/pkg/instrumentation"

// TracedClient records one client span per completion.
type TracedClient struct {
	next   providers.Client
	tracer trace.Tracer

	// CaptureContent adds prompt and completion text to the span.
	CaptureContent bool
}

// NewTracedClient wraps next. A nil tp uses the global tracer provider.
func NewTracedClient(next providers.Client, tp trace.TracerProvider, captureContent bool) *TracedClient {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &TracedClient{
		next:           next,
		tracer:         tp.Tracer(tracerName),
		CaptureContent: captureContent,
	}
}

func (c *TracedClient) Name() string {
	return c.next.Name()
}

func (c *TracedClient) Complete(
	ctx context.Context,
	config *providers.Config,
	messages []providers.Message,
) (*providers.CompletionResponse, error) {
	name := operationChat
	if config.Model != "" {
		name += " " + config.Model
	}
	ctx, span := c.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(requestAttributes(c.next.Name(), config)...)
	if c.CaptureContent {
		span.SetAttributes(promptAttributes(config, messages)...)
	}

	resp, err := c.next.Complete(ctx, config, messages)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(responseAttributes(resp, c.CaptureContent)...)
	return resp, nil
}

var _ providers.Client = (*TracedClient)(nil)
