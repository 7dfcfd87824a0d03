package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/coralogix/llm-tracekit-sub000/pkg/config"
	"github.com/coralogix/llm-tracekit-sub000/pkg/infra/logger"
	"github.com/coralogix/llm-tracekit-sub000/pkg/infra/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags([]string{"-p", "hi", "--config", "g.yaml", "--log-level", "debug", "--log-file", "guard.log"})
	require.NoError(t, err)
	assert.Equal(t, "prompt", opts.Target)
	assert.Equal(t, "hi", opts.Prompt)
	assert.Equal(t, "g.yaml", opts.ConfigFile)
	assert.Equal(t, ".env", opts.EnvFile)
	assert.Equal(t, "debug", opts.LogLevel)
	assert.Equal(t, "guard.log", opts.LogFile)
}

func TestParseFlags_Version(t *testing.T) {
	opts, err := parseFlags([]string{"--version"})
	require.NoError(t, err)
	assert.True(t, opts.Version)
}

func TestParseFlags_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		msg  string
	}{
		{"missing prompt", nil, "--prompt is required"},
		{"missing response", []string{"-t", "response", "-p", "q"}, "--response is required"},
		{"bad target", []string{"-t", "both", "-p", "q"}, `unknown target "both"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFlags(tt.args)
			assert.ErrorContains(t, err, tt.msg)
		})
	}
}

func writeConfig(t *testing.T, endpoint string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "guardrails.yaml")
	body := `
guardrails:
  client:
    endpoint: ` + endpoint + `
    application_name: cli
    timeout: 2s
  policies:
    - type: pii
      threshold: 0.8
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRun(t *testing.T) {
	t.Setenv(config.EnvEndpoint, "")
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"results":[{"type":"pii","detected":false,"score":0.1,"threshold":0.8}]}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	code := run(context.Background(), &cliOptions{
		ConfigFile: writeConfig(t, srv.URL),
		EnvFile:    filepath.Join(t.TempDir(), "missing.env"),
		Target:     "prompt",
		Prompt:     "hello",
		LogLevel:   "error",
	}, &out)

	assert.Equal(t, exitOK, code)
	assert.JSONEq(t, `{"results":[{"type":"pii","detected":false,"score":0.1,"threshold":0.8}]}`, out.String())
	assert.Equal(t, "prompt", got["target"])
	assert.Equal(t, "cli", got["application"])
}

func TestRun_Triggered(t *testing.T) {
	t.Setenv(config.EnvEndpoint, "")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"type":"pii","detected":true,"score":0.9,"threshold":0.8,"detected_categories":["email_address"]}]}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	code := run(context.Background(), &cliOptions{
		ConfigFile: writeConfig(t, srv.URL),
		Target:     "response",
		Prompt:     "contact?",
		Response:   "a@b.co",
		LogLevel:   "error",
	}, &out)

	assert.Equal(t, exitTriggered, code)
	var result struct {
		Triggered  bool   `json:"triggered"`
		Target     string `json:"target"`
		Violations []struct {
			Type string `json:"type"`
		} `json:"violations"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	assert.True(t, result.Triggered)
	assert.Equal(t, "response", result.Target)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, "pii", result.Violations[0].Type)
}

func TestRun_MissingEndpoint(t *testing.T) {
	t.Setenv(config.EnvEndpoint, "")
	code := run(context.Background(), &cliOptions{
		EnvFile:  filepath.Join(t.TempDir(), "missing.env"),
		Target:   "prompt",
		Prompt:   "hello",
		LogLevel: "panic",
	}, &bytes.Buffer{})
	assert.Equal(t, exitError, code)
}

func TestRun_LogFile(t *testing.T) {
	t.Setenv(config.EnvEndpoint, "")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	logFile := filepath.Join(t.TempDir(), "logs", "guard.log")
	code := run(context.Background(), &cliOptions{
		ConfigFile: writeConfig(t, srv.URL),
		EnvFile:    filepath.Join(t.TempDir(), "missing.env"),
		Target:     "prompt",
		Prompt:     "hello",
		LogLevel:   "debug",
		LogFile:    logFile,
	}, &bytes.Buffer{})
	require.Equal(t, exitOK, code)

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "guardrails client ready")
}

func TestMetricsConfig(t *testing.T) {
	got := metricsConfig(config.MetricsConfig{Enabled: true, EnableLatency: false, EnableViolations: true})
	assert.Equal(t, prometheus.MetricsConfig{EnableViolations: true}, got)
	assert.Equal(t, prometheus.DefaultMetricsConfig(), metricsConfig(config.DefaultFileConfig().Metrics))
}

func TestServeMetrics(t *testing.T) {
	metrics := prometheus.Initialize(prometheus.DefaultMetricsConfig())
	metrics.ObserveRequest("prompt", prometheus.StatusOK, 0)

	srv, addr, err := serveMetrics("127.0.0.1:0", logger.Discard())
	require.NoError(t, err)
	defer func() { assert.NoError(t, srv.Shutdown()) }()

	resp, err := http.Get("http://" + addr.String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "trace_guardrails_requests_total")

	resp, err = http.Get("http://" + addr.String() + "/other")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
