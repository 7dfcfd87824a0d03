package factory

import (
	"fmt"
	"strings"
	"sync"

	"github.com/coralogix/llm-tracekit-sub000/pkg/infra/providers"
	"github.com/coralogix/llm-tracekit-sub000/pkg/infra/providers/anthropic"
	"github.com/coralogix/llm-tracekit-sub000/pkg/infra/providers/azure"
	"github.com/coralogix/llm-tracekit-sub000/pkg/infra/providers/bedrock"
	"github.com/coralogix/llm-tracekit-sub000/pkg/infra/providers/gemini"
	"github.com/coralogix/llm-tracekit-sub000/pkg/infra/providers/openai"
)

const (
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
	ProviderAzure     = "azure"
)

//go:generate mockery --name=ProviderLocator --dir=. --output=./mocks --filename=provider_locator_mock.go --case=underscore --with-expecter

type ProviderLocator interface {
	Get(provider string) (providers.Client, error)
}

// providerLocator hands out one client per provider so SDK client pools are
// shared across callers.
type providerLocator struct {
	mu      sync.Mutex
	clients map[string]providers.Client
}

func NewProviderLocator() ProviderLocator {
	return &providerLocator{clients: make(map[string]providers.Client)}
}

func (f *providerLocator) Get(provider string) (providers.Client, error) {
	name := strings.ToLower(strings.TrimSpace(provider))
	if name == ProviderGoogle {
		name = ProviderGemini
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.clients[name]; ok {
		return c, nil
	}

	var c providers.Client
	switch name {
	case ProviderOpenAI:
		c = openai.NewOpenaiClient()
	case ProviderGemini:
		c = gemini.NewGeminiClient()
	case ProviderAnthropic:
		c = anthropic.NewAnthropicClient()
	case ProviderBedrock:
		c = bedrock.NewBedrockClient()
	case ProviderAzure:
		c = azure.NewAzureClient()
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
	f.clients[name] = c
	return c, nil
}
