package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvToken             = "CX_GUARDRAILS_TOKEN"
	EnvEndpoint          = "CX_GUARDRAILS_ENDPOINT"
	EnvApplicationName   = "CX_APPLICATION_NAME"
	EnvSubsystemName     = "CX_SUBSYSTEM_NAME"
	EnvTimeout           = "CX_GUARDRAILS_TIMEOUT"
	EnvSuppressTriggered = "CX_GUARDRAILS_SUPPRESS_TRIGGERED"

	DefaultApplicationName = "Unknown"
	DefaultSubsystemName   = "Unknown"
	DefaultTimeout         = 10 * time.Second
)

// GuardrailsConfig is resolved once when a guardrails client is built and is
// passed by value afterwards. A nil SuppressTriggered falls back to the
// environment; an explicit false overrides it.
type GuardrailsConfig struct {
	APIKey            string        `mapstructure:"token"`
	Endpoint          string        `mapstructure:"endpoint"`
	ApplicationName   string        `mapstructure:"application_name"`
	SubsystemName     string        `mapstructure:"subsystem_name"`
	Timeout           time.Duration `mapstructure:"timeout"`
	SuppressTriggered *bool         `mapstructure:"suppress_triggered"`
}

// Suppressed reports whether detections are returned instead of raised.
func (c GuardrailsConfig) Suppressed() bool {
	return c.SuppressTriggered != nil && *c.SuppressTriggered
}

func Bool(b bool) *bool {
	return &b
}

type ConfigError struct {
	Key    string
	EnvVar string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.EnvVar != "" {
		return fmt.Sprintf("config %s: %s (set it explicitly or via %s)", e.Key, e.Reason, e.EnvVar)
	}
	return fmt.Sprintf("config %s: %s", e.Key, e.Reason)
}

// Resolve fills every zero field of explicit from the environment and then
// from defaults.
func Resolve(explicit GuardrailsConfig) (GuardrailsConfig, error) {
	v := newEnvViper()

	cfg := explicit
	if cfg.APIKey == "" {
		cfg.APIKey = v.GetString("token")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = v.GetString("endpoint")
	}
	if cfg.ApplicationName == "" {
		cfg.ApplicationName = v.GetString("application_name")
	}
	if cfg.SubsystemName == "" {
		cfg.SubsystemName = v.GetString("subsystem_name")
	}
	if cfg.SuppressTriggered == nil {
		cfg.SuppressTriggered = Bool(v.GetBool("suppress_triggered"))
	}
	if cfg.Timeout == 0 {
		seconds := v.GetFloat64("timeout")
		if seconds <= 0 {
			return GuardrailsConfig{}, &ConfigError{
				Key:    "timeout",
				EnvVar: EnvTimeout,
				Reason: fmt.Sprintf("invalid value %q", v.GetString("timeout")),
			}
		}
		cfg.Timeout = secondsToDuration(seconds)
	}
	if cfg.Timeout < 0 {
		return GuardrailsConfig{}, &ConfigError{Key: "timeout", Reason: "must be positive"}
	}

	endpoint, err := NormalizeEndpoint(cfg.Endpoint)
	if err != nil {
		return GuardrailsConfig{}, err
	}
	cfg.Endpoint = endpoint

	return cfg, nil
}

// NormalizeEndpoint guarantees an explicit scheme, defaulting to https.
func NormalizeEndpoint(endpoint string) (string, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", &ConfigError{Key: "endpoint", EnvVar: EnvEndpoint, Reason: "missing"}
	}
	lower := strings.ToLower(endpoint)
	if !strings.HasPrefix(lower, "https://") && !strings.HasPrefix(lower, "http://") {
		endpoint = "https://" + endpoint
	}
	endpoint = strings.TrimRight(endpoint, "/")
	if endpoint == "https:" || endpoint == "http:" {
		return "", &ConfigError{Key: "endpoint", EnvVar: EnvEndpoint, Reason: "missing host"}
	}
	return endpoint, nil
}

func newEnvViper() *viper.Viper {
	v := viper.New()
	_ = v.BindEnv("token", EnvToken)
	_ = v.BindEnv("endpoint", EnvEndpoint)
	_ = v.BindEnv("application_name", EnvApplicationName)
	_ = v.BindEnv("subsystem_name", EnvSubsystemName)
	_ = v.BindEnv("timeout", EnvTimeout)
	_ = v.BindEnv("suppress_triggered", EnvSuppressTriggered)

	v.SetDefault("application_name", DefaultApplicationName)
	v.SetDefault("subsystem_name", DefaultSubsystemName)
	v.SetDefault("timeout", DefaultTimeout.Seconds())
	v.SetDefault("suppress_triggered", false)
	return v
}

// LoadDotEnv loads variables from an env file without overriding the ones
// already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}
