package guardrails

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/mitchellh/mapstructure"
)

type GuardrailType string

const (
	TypePII             GuardrailType = "pii"
	TypePromptInjection GuardrailType = "prompt_injection"
	TypeCustom          GuardrailType = "custom"
)

const DefaultThreshold = 0.7

type PIICategory string

const (
	PIIEmailAddress PIICategory = "email_address"
	PIIPhoneNumber  PIICategory = "phone_number"
	PIICreditCard   PIICategory = "credit_card"
	PIIIBANCode     PIICategory = "iban_code"
	PIIUSSSN        PIICategory = "us_ssn"
)

func AllPIICategories() []PIICategory {
	return []PIICategory{PIIEmailAddress, PIIPhoneNumber, PIICreditCard, PIIIBANCode, PIIUSSSN}
}

func ParsePIICategory(s string) (PIICategory, error) {
	c := PIICategory(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllPIICategories() {
		if c == known {
			return c, nil
		}
	}
	return "", newValidationError("categories", "unknown pii category %q", s)
}

// GuardrailConfig is one of PII, PromptInjection or Custom.
type GuardrailConfig interface {
	Type() GuardrailType
	GetThreshold() float64
	Validate() error
	guardrailConfig()
}

type PII struct {
	Threshold  float64
	Categories []PIICategory
}

type PromptInjection struct {
	Threshold float64
}

type Custom struct {
	Threshold float64
	Name      string
	Criteria  string
}

func NewPII(threshold float64, categories ...PIICategory) (PII, error) {
	if len(categories) == 0 {
		categories = AllPIICategories()
	}
	cfg := PII{Threshold: threshold, Categories: categories}
	return cfg, cfg.Validate()
}

func NewPromptInjection(threshold float64) (PromptInjection, error) {
	cfg := PromptInjection{Threshold: threshold}
	return cfg, cfg.Validate()
}

func NewCustom(name, criteria string, threshold float64) (Custom, error) {
	cfg := Custom{Name: name, Criteria: criteria, Threshold: threshold}
	return cfg, cfg.Validate()
}

func (PII) Type() GuardrailType             { return TypePII }
func (PromptInjection) Type() GuardrailType { return TypePromptInjection }
func (Custom) Type() GuardrailType          { return TypeCustom }

func (c PII) GetThreshold() float64             { return c.Threshold }
func (c PromptInjection) GetThreshold() float64 { return c.Threshold }
func (c Custom) GetThreshold() float64          { return c.Threshold }

func (PII) guardrailConfig()             {}
func (PromptInjection) guardrailConfig() {}
func (Custom) guardrailConfig()          {}

func (c PII) Validate() error {
	if err := validateUnit("threshold", c.Threshold); err != nil {
		return err
	}
	for _, cat := range c.Categories {
		if _, err := ParsePIICategory(string(cat)); err != nil {
			return err
		}
	}
	return nil
}

func (c PromptInjection) Validate() error {
	return validateUnit("threshold", c.Threshold)
}

func (c Custom) Validate() error {
	if err := validateUnit("threshold", c.Threshold); err != nil {
		return err
	}
	if strings.TrimSpace(c.Name) == "" {
		return newValidationError("name", "custom guardrail requires a name")
	}
	if strings.TrimSpace(c.Criteria) == "" {
		return newValidationError("criteria", "custom guardrail %q requires criteria", c.Name)
	}
	return nil
}

func (c PII) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type       GuardrailType `json:"type"`
		Threshold  float64       `json:"threshold"`
		Categories []PIICategory `json:"categories,omitempty"`
	}{TypePII, c.Threshold, c.Categories})
}

func (c PromptInjection) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      GuardrailType `json:"type"`
		Threshold float64       `json:"threshold"`
	}{TypePromptInjection, c.Threshold})
}

func (c Custom) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      GuardrailType `json:"type"`
		Name      string        `json:"name"`
		Criteria  string        `json:"criteria"`
		Threshold float64       `json:"threshold"`
	}{TypeCustom, c.Name, c.Criteria, c.Threshold})
}

func validateUnit(field string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return newValidationError(field, "%v is outside [0, 1]", v)
	}
	return nil
}

type guardrailSettings struct {
	Type       string   `mapstructure:"type"`
	Threshold  *float64 `mapstructure:"threshold"`
	Categories []string `mapstructure:"categories"`
	Name       string   `mapstructure:"name"`
	Criteria   string   `mapstructure:"criteria"`
}

// DecodeGuardrailConfigs builds configs from loosely typed settings, such as
// policies read from a YAML file. A missing threshold means DefaultThreshold.
func DecodeGuardrailConfigs(settings []map[string]any) ([]GuardrailConfig, error) {
	out := make([]GuardrailConfig, 0, len(settings))
	for i, s := range settings {
		cfg, err := decodeGuardrailConfig(s)
		if err != nil {
			return nil, fmt.Errorf("guardrail %d: %w", i, err)
		}
		out = append(out, cfg)
	}
	return out, nil
}

func decodeGuardrailConfig(settings map[string]any) (GuardrailConfig, error) {
	var s guardrailSettings
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &s,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(settings); err != nil {
		return nil, fmt.Errorf("failed to decode guardrail settings: %w", err)
	}

	threshold := DefaultThreshold
	if s.Threshold != nil {
		threshold = *s.Threshold
	}

	switch GuardrailType(strings.ToLower(s.Type)) {
	case TypePII:
		categories := make([]PIICategory, 0, len(s.Categories))
		for _, c := range s.Categories {
			cat, err := ParsePIICategory(c)
			if err != nil {
				return nil, err
			}
			categories = append(categories, cat)
		}
		return NewPII(threshold, categories...)
	case TypePromptInjection:
		return NewPromptInjection(threshold)
	case TypeCustom:
		return NewCustom(s.Name, s.Criteria, threshold)
	default:
		return nil, newValidationError("type", "unknown guardrail type %q", s.Type)
	}
}
