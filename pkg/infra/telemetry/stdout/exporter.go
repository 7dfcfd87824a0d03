package stdout

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mitchellh/mapstructure"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const ExporterName = "stdout"

type Config struct {
	PrettyPrint bool `mapstructure:"pretty_print"`
	// Stderr writes spans to stderr so they do not mix with command output.
	Stderr bool `mapstructure:"stderr"`
}

type Exporter struct {
	writer io.Writer
}

func NewExporter() *Exporter {
	return &Exporter{}
}

// NewExporterWithWriter is used by tests to capture output.
func NewExporterWithWriter(w io.Writer) *Exporter {
	return &Exporter{writer: w}
}

func (e *Exporter) Name() string {
	return ExporterName
}

func (e *Exporter) ValidateConfig(settings map[string]any) error {
	var conf Config
	if err := mapstructure.WeakDecode(settings, &conf); err != nil {
		return fmt.Errorf("invalid stdout config: %w", err)
	}
	return nil
}

func (e *Exporter) WithSettings(_ context.Context, settings map[string]any) (sdktrace.SpanExporter, error) {
	var conf Config
	if err := mapstructure.WeakDecode(settings, &conf); err != nil {
		return nil, fmt.Errorf("invalid stdout config: %w", err)
	}
	writer := e.writer
	if writer == nil {
		writer = os.Stdout
		if conf.Stderr {
			writer = os.Stderr
		}
	}
	opts := []stdouttrace.Option{stdouttrace.WithWriter(writer)}
	if conf.PrettyPrint {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
	}
	return exporter, nil
}
