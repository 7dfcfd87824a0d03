package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type FileConfig struct {
	Guardrails GuardrailsFileConfig `mapstructure:"guardrails"`
	Telemetry  TelemetryConfig      `mapstructure:"telemetry"`
	Metrics    MetricsConfig        `mapstructure:"metrics"`
}

// GuardrailsFileConfig holds the client settings and the policy list. Policies
// stay as raw maps; the guardrails package owns their decoding.
type GuardrailsFileConfig struct {
	Client   GuardrailsConfig `mapstructure:"client"`
	TLS      ClientTLSConfig  `mapstructure:"tls"`
	Policies []map[string]any `mapstructure:"policies"`
}

type TelemetryConfig struct {
	Enabled        bool             `mapstructure:"enabled"`
	ServiceName    string           `mapstructure:"service_name"`
	ServiceVersion string           `mapstructure:"service_version"`
	Exporters      []ExporterConfig `mapstructure:"exporters"`
}

type ExporterConfig struct {
	Name     string         `mapstructure:"name"`
	Settings map[string]any `mapstructure:"settings"`
}

type MetricsConfig struct {
	Enabled          bool `mapstructure:"enabled"`
	EnableLatency    bool `mapstructure:"enable_latency"`
	EnableViolations bool `mapstructure:"enable_violations"`
}

// DefaultFileConfig is used when no config file is given. It matches the
// defaults Load applies.
func DefaultFileConfig() *FileConfig {
	return &FileConfig{
		Telemetry: TelemetryConfig{ServiceName: "llm-tracekit"},
		Metrics:   MetricsConfig{EnableLatency: true, EnableViolations: true},
	}
}

// Load reads a YAML config file. Values can be overridden by environment
// variables using the upper-cased key path with "." replaced by "_"
// (e.g. TELEMETRY_SERVICE_NAME).
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("guardrails")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("telemetry.service_name", "llm-tracekit")
	v.SetDefault("metrics.enable_latency", true)
	v.SetDefault("metrics.enable_violations", true)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("config file %s not found", displayName(path))
		}
		return nil, fmt.Errorf("error reading config file %s: %w", displayName(path), err)
	}

	var cfg FileConfig
	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsDurationHook(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hooks); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s config: %w", displayName(path), err)
	}
	return &cfg, nil
}

func displayName(path string) string {
	if path == "" {
		return "guardrails.yaml"
	}
	return filepath.Base(path)
}

var durationType = reflect.TypeOf(time.Duration(0))

// secondsDurationHook reads bare numbers as seconds, the unit of
// CX_GUARDRAILS_TIMEOUT. Strings with a unit ("750ms") go through
// time.ParseDuration.
func secondsDurationHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		if to != durationType || from == durationType {
			return data, nil
		}
		switch from.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
			reflect.Float32, reflect.Float64:
			seconds := reflect.ValueOf(data).Convert(reflect.TypeOf(float64(0))).Float()
			return secondsToDuration(seconds), nil
		case reflect.String:
			str := strings.TrimSpace(reflect.ValueOf(data).String())
			if str == "" {
				return time.Duration(0), nil
			}
			if seconds, err := strconv.ParseFloat(str, 64); err == nil {
				return secondsToDuration(seconds), nil
			}
			d, err := time.ParseDuration(str)
			if err != nil {
				return nil, fmt.Errorf("invalid duration %q", str)
			}
			return d, nil
		}
		return data, nil
	}
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
