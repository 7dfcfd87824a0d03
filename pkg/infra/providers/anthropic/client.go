package anthropic

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/coralogix/llm-tracekit-sub000/pkg/infra/providers"
)

const (
	ProviderName = "anthropic"

	defaultModel     = "claude-3-5-haiku-latest"
	defaultMaxTokens = 1024
)

type client struct {
	pool providers.Pool[*anthropic.Client]
}

func NewAnthropicClient() providers.Client {
	return &client{}
}

func (c *client) Name() string {
	return ProviderName
}

func (c *client) Complete(
	ctx context.Context,
	config *providers.Config,
	messages []providers.Message,
) (*providers.CompletionResponse, error) {
	if config.Credentials.ApiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	conversation := providers.Conversation(messages)
	if len(conversation) == 0 {
		return nil, providers.ErrNoMessages
	}

	anthropicClient, err := c.getOrCreateClient(config.Credentials)
	if err != nil {
		return nil, err
	}

	model := anthropic.Model(defaultModel)
	if config.Model != "" {
		model = anthropic.Model(config.Model)
	}
	maxTokens := int64(defaultMaxTokens)
	if config.MaxTokens > 0 {
		maxTokens = int64(config.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     model,
		Messages:  toParams(conversation),
		MaxTokens: maxTokens,
	}
	if system := providers.SystemText(config, messages); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if config.Temperature > 0 {
		params.Temperature = anthropic.Float(config.Temperature)
	}

	message, err := anthropicClient.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}

	var responseText string
	for _, content := range message.Content {
		if content.Type == "text" {
			responseText = content.Text
			break
		}
	}
	if responseText == "" {
		return nil, errors.New("no text content returned")
	}

	return &providers.CompletionResponse{
		ID:           message.ID,
		Model:        string(message.Model),
		Response:     responseText,
		FinishReason: string(message.StopReason),
		Usage: providers.Usage{
			PromptTokens:     int(message.Usage.InputTokens),
			CompletionTokens: int(message.Usage.OutputTokens),
			TotalTokens:      int(message.Usage.InputTokens + message.Usage.OutputTokens),
		},
	}, nil
}

// toParams maps tool results to user turns; the text-only client does not
// send tool_use blocks.
func toParams(messages []providers.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == providers.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
			continue
		}
		out = append(out, anthropic.NewUserMessage(block))
	}
	return out
}

func (c *client) getOrCreateClient(creds providers.Credentials) (*anthropic.Client, error) {
	return c.pool.Get(creds.BaseURL+"|"+creds.ApiKey, func() (*anthropic.Client, error) {
		opts := []option.RequestOption{option.WithAPIKey(creds.ApiKey), option.WithMaxRetries(0)}
		if creds.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(creds.BaseURL))
		}
		cli := anthropic.NewClient(opts...)
		return &cli, nil
	})
}
