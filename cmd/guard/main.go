package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coralogix/llm-tracekit-sub000/pkg/config"
	"github.com/coralogix/llm-tracekit-sub000/pkg/guardrails"
	"github.com/coralogix/llm-tracekit-sub000/pkg/infra/httpx"
	"github.com/coralogix/llm-tracekit-sub000/pkg/infra/logger"
	"github.com/coralogix/llm-tracekit-sub000/pkg/infra/prometheus"
	"github.com/coralogix/llm-tracekit-sub000/pkg/infra/telemetry"
	"github.com/coralogix/llm-tracekit-sub000/pkg/version"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/valyala/fasthttp"
	"go.opentelemetry.io/otel"
)

const (
	exitOK = iota
	exitError
	exitTriggered
)

type cliOptions struct {
	ConfigFile  string
	EnvFile     string
	Target      string
	Prompt      string
	Response    string
	MetricsAddr string
	LogLevel    string
	LogFile     string
	Breaker     bool
	Version     bool
}

func parseFlags(args []string) (*cliOptions, error) {
	opts := &cliOptions{EnvFile: ".env", Target: string(guardrails.TargetPrompt)}

	fs := pflag.NewFlagSet("guard", pflag.ContinueOnError)
	fs.StringVarP(&opts.ConfigFile, "config", "c", "", "YAML file with client settings, policies and telemetry")
	fs.StringVar(&opts.EnvFile, "env-file", opts.EnvFile, "dotenv file loaded before resolving CX_* variables")
	fs.StringVarP(&opts.Target, "target", "t", opts.Target, "what to guard: prompt or response")
	fs.StringVarP(&opts.Prompt, "prompt", "p", "", "user prompt")
	fs.StringVarP(&opts.Response, "response", "r", "", "assistant response (response target)")
	fs.StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	fs.StringVar(&opts.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.StringVar(&opts.LogFile, "log-file", "", "also append logs to this file")
	fs.BoolVar(&opts.Breaker, "circuit-breaker", false, "fail fast after repeated connection failures")
	fs.BoolVar(&opts.Version, "version", false, "print version information and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if opts.Version {
		return opts, nil
	}

	switch guardrails.Target(opts.Target) {
	case guardrails.TargetPrompt:
		if opts.Prompt == "" {
			return nil, errors.New("--prompt is required")
		}
	case guardrails.TargetResponse:
		if opts.Response == "" {
			return nil, errors.New("--response is required for the response target")
		}
	default:
		return nil, fmt.Errorf("unknown target %q", opts.Target)
	}
	return opts, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(exitOK)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitError)
	}

	if opts.Version {
		_ = writeJSON(os.Stdout, version.GetInfo())
		os.Exit(exitOK)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, opts, os.Stdout)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, opts *cliOptions, out io.Writer) int {
	if err := config.LoadDotEnv(opts.EnvFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitError
	}

	log, logCloser, err := logger.NewLogger(logger.Options{Level: opts.LogLevel, File: opts.LogFile})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitError
	}
	defer func() { _ = logCloser.Close() }()

	fileCfg := config.DefaultFileConfig()
	policies := defaultPolicies()
	if opts.ConfigFile != "" {
		if fileCfg, err = config.Load(opts.ConfigFile); err != nil {
			log.WithError(err).Error("failed to load config")
			return exitError
		}
		if len(fileCfg.Guardrails.Policies) > 0 {
			if policies, err = guardrails.LoadPolicies(opts.ConfigFile); err != nil {
				log.WithError(err).Error("failed to load policies")
				return exitError
			}
		}
	}

	if fileCfg.Telemetry.Enabled {
		if fileCfg.Telemetry.ServiceVersion == "" {
			fileCfg.Telemetry.ServiceVersion = version.Version
		}
		tp, err := telemetry.NewTracerProvider(ctx, fileCfg.Telemetry, telemetry.DefaultLocator())
		if err != nil {
			log.WithError(err).Error("failed to initialize telemetry")
			return exitError
		}
		otel.SetTracerProvider(tp)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				log.WithError(err).Warn("failed to flush spans")
			}
		}()
	}

	clientOpts := []guardrails.Option{guardrails.WithLogger(log)}
	if fileCfg.Metrics.Enabled || opts.MetricsAddr != "" {
		metrics := prometheus.Initialize(metricsConfig(fileCfg.Metrics))
		clientOpts = append(clientOpts, guardrails.WithMetrics(metrics))
	}
	if opts.MetricsAddr != "" {
		srv, _, err := serveMetrics(opts.MetricsAddr, log)
		if err != nil {
			log.WithError(err).Error("failed to start metrics server")
			return exitError
		}
		defer func() { _ = srv.Shutdown() }()
	}
	tlsCfg, err := config.BuildClientTLSConfig(fileCfg.Guardrails.TLS)
	if err != nil {
		log.WithError(err).Error("invalid tls settings")
		return exitError
	}
	if tlsCfg != nil {
		clientOpts = append(clientOpts, guardrails.WithTLSConfig(tlsCfg))
	}
	if opts.Breaker {
		clientOpts = append(clientOpts, guardrails.WithCircuitBreaker(
			httpx.NewCircuitBreaker("guardrails", 30*time.Second, 5),
		))
	}

	client, err := guardrails.New(fileCfg.Guardrails.Client, clientOpts...)
	if err != nil {
		log.WithError(err).Error("failed to create guardrails client")
		return exitError
	}
	log.WithField("client", client.String()).Debug("guardrails client ready")

	var resp *guardrails.Response
	if guardrails.Target(opts.Target) == guardrails.TargetResponse {
		resp, err = client.GuardResponse(ctx, policies, opts.Response, opts.Prompt)
	} else {
		resp, err = client.GuardPrompt(ctx, policies, opts.Prompt)
	}

	var triggered *guardrails.TriggeredError
	switch {
	case errors.As(err, &triggered):
		_ = writeJSON(out, map[string]any{"triggered": true, "target": triggered.Target, "violations": triggered.Violations})
		return exitTriggered
	case err != nil:
		fmt.Fprintln(os.Stderr, err)
		return exitError
	}

	if resp == nil {
		resp = &guardrails.Response{}
	}
	if err := writeJSON(out, resp); err != nil {
		log.WithError(err).Error("failed to write result")
		return exitError
	}
	return exitOK
}

func defaultPolicies() []guardrails.GuardrailConfig {
	pii, _ := guardrails.NewPII(guardrails.DefaultThreshold)
	injection, _ := guardrails.NewPromptInjection(guardrails.DefaultThreshold)
	return []guardrails.GuardrailConfig{pii, injection}
}

func metricsConfig(cfg config.MetricsConfig) prometheus.MetricsConfig {
	return prometheus.MetricsConfig{
		EnableLatency:    cfg.EnableLatency,
		EnableViolations: cfg.EnableViolations,
	}
}

// serveMetrics exposes /metrics on addr until the returned server is shut
// down.
func serveMetrics(addr string, log *logrus.Logger) (*fasthttp.Server, net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}
	metricsHandler := prometheus.FastHTTPHandler()
	srv := &fasthttp.Server{
		Name:        version.AppName,
		ReadTimeout: 5 * time.Second,
		Handler: func(ctx *fasthttp.RequestCtx) {
			if string(ctx.Path()) != "/metrics" {
				ctx.Error("not found", fasthttp.StatusNotFound)
				return
			}
			metricsHandler(ctx)
		},
	}
	go func() {
		if err := srv.Serve(ln); err != nil {
			log.WithError(err).Error("metrics server stopped")
		}
	}()
	log.WithField("addr", ln.Addr().String()).Info("serving metrics")
	return srv, ln.Addr(), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
