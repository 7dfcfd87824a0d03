package guardrails

import (
	"fmt"

	"github.com/coralogix/llm-tracekit-sub000/pkg/config"
)

// LoadPolicies reads the guardrails.policies list of a YAML config file.
func LoadPolicies(path string) ([]GuardrailConfig, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	policies, err := DecodeGuardrailConfigs(cfg.Guardrails.Policies)
	if err != nil {
		return nil, fmt.Errorf("invalid policies in %s: %w", path, err)
	}
	return policies, nil
}
