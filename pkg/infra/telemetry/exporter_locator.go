package telemetry

import (
	"context"
	"fmt"
	"sort"

	"github.com/coralogix/llm-tracekit-sub000/pkg/config"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type ExporterLocator struct {
	exporters map[string]Exporter
}

func NewExporterLocator(opts ...ExporterLocatorOption) *ExporterLocator {
	el := &ExporterLocator{
		exporters: make(map[string]Exporter),
	}
	for _, opt := range opts {
		opt(el)
	}
	return el
}

func (p *ExporterLocator) GetExporter(ctx context.Context, exporter config.ExporterConfig) (sdktrace.SpanExporter, error) {
	base, ok := p.exporters[exporter.Name]
	if !ok {
		return nil, fmt.Errorf("unknown exporter: %s", exporter.Name)
	}
	if err := base.ValidateConfig(exporter.Settings); err != nil {
		return nil, err
	}
	spanExporter, err := base.WithSettings(ctx, exporter.Settings)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s exporter: %w", exporter.Name, err)
	}
	return spanExporter, nil
}

func (p *ExporterLocator) ValidateExporter(exporter config.ExporterConfig) error {
	base, ok := p.exporters[exporter.Name]
	if !ok {
		return fmt.Errorf("unknown exporter: %s", exporter.Name)
	}
	return base.ValidateConfig(exporter.Settings)
}

// Names lists the registered exporters in alphabetical order.
func (p *ExporterLocator) Names() []string {
	names := make([]string, 0, len(p.exporters))
	for name := range p.exporters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
