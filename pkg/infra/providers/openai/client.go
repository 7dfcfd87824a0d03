package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/coralogix/llm-tracekit-sub000/pkg/infra/providers"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

const ProviderName = "openai"

type client struct {
	pool providers.Pool[*openai.Client]
}

func NewOpenaiClient() providers.Client {
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
	if config.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if len(messages) == 0 {
		return nil, providers.ErrNoMessages
	}

	openaiClient, err := c.getOrCreateClient(config.Credentials)
	if err != nil {
		return nil, err
	}

	params := openai.ChatCompletionNewParams{
		Model:    config.Model,
		Messages: toParams(config, messages),
	}
	if config.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(config.MaxTokens))
	}
	if config.Temperature > 0 {
		params.Temperature = openai.Float(config.Temperature)
	}

	resp, err := openaiClient.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("OpenAI request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("no completions returned")
	}

	return &providers.CompletionResponse{
		ID:           resp.ID,
		Model:        resp.Model,
		Response:     resp.Choices[0].Message.Content,
		FinishReason: string(resp.Choices[0].FinishReason),
		Usage: providers.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

func toParams(config *providers.Config, messages []providers.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+2)
	if config.SystemPrompt != "" {
		out = append(out, openai.SystemMessage(config.SystemPrompt))
	}
	if len(config.Instructions) > 0 {
		out = append(out, openai.UserMessage(providers.FormatInstructions(config.Instructions)))
	}
	for _, m := range messages {
		switch m.Role {
		case providers.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case providers.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		case providers.RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func (c *client) getOrCreateClient(creds providers.Credentials) (*openai.Client, error) {
	return c.pool.Get(creds.BaseURL+"|"+creds.ApiKey, func() (*openai.Client, error) {
		opts := []option.RequestOption{option.WithAPIKey(creds.ApiKey), option.WithMaxRetries(0)}
		if creds.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(creds.BaseURL))
		}
		cli := openai.NewClient(opts...)
		return &cli, nil
	})
}
