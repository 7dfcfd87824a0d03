package guardrails

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPolicies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guardrails.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
guardrails:
  policies:
    - type: pii
      threshold: 0.9
      categories: [email_address, us_ssn]
    - type: prompt_injection
    - type: custom
      name: tone
      criteria: is the reply rude
      threshold: 0.5
`), 0600))

	policies, err := LoadPolicies(path)
	require.NoError(t, err)
	assert.Equal(t, []GuardrailConfig{
		PII{Threshold: 0.9, Categories: []PIICategory{PIIEmailAddress, PIIUSSSN}},
		PromptInjection{Threshold: DefaultThreshold},
		Custom{Threshold: 0.5, Name: "tone", Criteria: "is the reply rude"},
	}, policies)
}

func TestLoadPolicies_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guardrails.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
guardrails:
  policies:
    - type: pii
      threshold: 3
`), 0600))

	_, err := LoadPolicies(path)
	assert.ErrorContains(t, err, "invalid policies")
}
