package telemetry

import (
	"context"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Exporter builds a span exporter from loosely typed settings, usually the
// telemetry.exporters section of the config file.
type Exporter interface {
	Name() string
	ValidateConfig(settings map[string]any) error
	WithSettings(ctx context.Context, settings map[string]any) (sdktrace.SpanExporter, error)
}
