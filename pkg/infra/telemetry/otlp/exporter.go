package otlp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"

	"github.com/mitchellh/mapstructure"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const (
	GRPCExporterName = "otlp"
	HTTPExporterName = "otlp_http"
)

// Config is shared by the gRPC and HTTP exporters. URLPath is only used over
// HTTP.
type Config struct {
	Endpoint string            `mapstructure:"endpoint"`
	Insecure bool              `mapstructure:"insecure"`
	URLPath  string            `mapstructure:"url_path"`
	Headers  map[string]string `mapstructure:"headers"`
}

func decode(settings map[string]any) (Config, error) {
	var conf Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &conf,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return conf, err
	}
	if err := decoder.Decode(settings); err != nil {
		return conf, fmt.Errorf("invalid otlp config: %w", err)
	}
	return conf, nil
}

func validate(settings map[string]any) error {
	conf, err := decode(settings)
	if err != nil {
		return err
	}
	if conf.Endpoint == "" {
		return errors.New("otlp endpoint is required")
	}
	return nil
}

type GRPCExporter struct{}

func NewGRPCExporter() *GRPCExporter {
	return &GRPCExporter{}
}

func (e *GRPCExporter) Name() string {
	return GRPCExporterName
}

func (e *GRPCExporter) ValidateConfig(settings map[string]any) error {
	return validate(settings)
}

func (e *GRPCExporter) WithSettings(ctx context.Context, settings map[string]any) (sdktrace.SpanExporter, error) {
	conf, err := decode(settings)
	if err != nil {
		return nil, err
	}
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(conf.Endpoint)}
	if conf.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	if len(conf.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(conf.Headers))
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP gRPC exporter: %w", err)
	}
	return exporter, nil
}

type HTTPExporter struct{}

func NewHTTPExporter() *HTTPExporter {
	return &HTTPExporter{}
}

func (e *HTTPExporter) Name() string {
	return HTTPExporterName
}

func (e *HTTPExporter) ValidateConfig(settings map[string]any) error {
	return validate(settings)
}

func (e *HTTPExporter) WithSettings(ctx context.Context, settings map[string]any) (sdktrace.SpanExporter, error) {
	conf, err := decode(settings)
	if err != nil {
		return nil, err
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(conf.Endpoint)}
	if conf.URLPath != "" {
		opts = append(opts, otlptracehttp.WithURLPath(conf.URLPath))
	}
	if conf.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	} else {
		opts = append(opts, otlptracehttp.WithTLSClientConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
		}))
	}
	if len(conf.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(conf.Headers))
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP HTTP exporter: %w", err)
	}
	return exporter, nil
}
