package telemetry

import (
	"context"
	"errors"
	"fmt"

	"github.com/coralogix/llm-tracekit-sub000/pkg/config"
	"github.com/coralogix/llm-tracekit-sub000/pkg/infra/telemetry/kafka"
	"github.com/coralogix/llm-tracekit-sub000/pkg/infra/telemetry/otlp"
	"github.com/coralogix/llm-tracekit-sub000/pkg/infra/telemetry/stdout"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// DefaultLocator knows every exporter shipped with the module.
func DefaultLocator() *ExporterLocator {
	return NewExporterLocator(
		WithExporter(otlp.GRPCExporterName, otlp.NewGRPCExporter()),
		WithExporter(otlp.HTTPExporterName, otlp.NewHTTPExporter()),
		WithExporter(stdout.ExporterName, stdout.NewExporter()),
		WithExporter(kafka.ExporterName, kafka.NewKafkaExporter()),
	)
}

// NewTracerProvider batches spans to every configured exporter. Exporters
// are validated before any of them is built.
func NewTracerProvider(ctx context.Context, cfg config.TelemetryConfig, locator *ExporterLocator) (*sdktrace.TracerProvider, error) {
	if locator == nil {
		locator = DefaultLocator()
	}
	var errs []error
	for _, exp := range cfg.Exporters {
		if err := locator.ValidateExporter(exp); err != nil {
			errs = append(errs, fmt.Errorf("exporter %s: %w", exp.Name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		// No schema URL, so the merge never conflicts with the SDK default.
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	built := make([]sdktrace.SpanExporter, 0, len(cfg.Exporters))
	for _, exp := range cfg.Exporters {
		spanExporter, err := locator.GetExporter(ctx, exp)
		if err != nil {
			for _, b := range built {
				_ = b.Shutdown(ctx)
			}
			return nil, err
		}
		built = append(built, spanExporter)
		opts = append(opts, sdktrace.WithBatcher(spanExporter))
	}

	return sdktrace.NewTracerProvider(opts...), nil
}
