package instrumentation

import (
	"context"

	"github.com/coralogix/llm-tracekit-sub000/pkg/guardrails"
	"github.com/coralogix/llm-tracekit-sub000/pkg/infra/providers"
)

// Guard is implemented by *guardrails.Client and *guardrails.Session.
type Guard interface {
	GuardPrompt(ctx context.Context, configs []guardrails.GuardrailConfig, prompt string) (*guardrails.Response, error)
	GuardResponse(ctx context.Context, configs []guardrails.GuardrailConfig, response, prompt string) (*guardrails.Response, error)
}

// GuardedClient checks the last user message before the completion and the
// completion text after it. Guard errors, including *guardrails.TriggeredError,
// are returned as they are.
type GuardedClient struct {
	next    providers.Client
	guard   Guard
	configs []guardrails.GuardrailConfig
}

func NewGuardedClient(next providers.Client, guard Guard, configs ...guardrails.GuardrailConfig) *GuardedClient {
	return &GuardedClient{next: next, guard: guard, configs: configs}
}

func (c *GuardedClient) Name() string {
	return c.next.Name()
}

func (c *GuardedClient) Complete(
	ctx context.Context,
	config *providers.Config,
	messages []providers.Message,
) (*providers.CompletionResponse, error) {
	prompt := providers.LastUserMessage(messages)
	if _, err := c.guard.GuardPrompt(ctx, c.configs, prompt); err != nil {
		return nil, err
	}

	resp, err := c.next.Complete(ctx, config, messages)
	if err != nil {
		return nil, err
	}

	if _, err := c.guard.GuardResponse(ctx, c.configs, resp.Response, prompt); err != nil {
		return nil, err
	}
	return resp, nil
}

var (
	_ providers.Client = (*GuardedClient)(nil)
	_ Guard            = (*guardrails.Client)(nil)
	_ Guard            = (*guardrails.Session)(nil)
)
