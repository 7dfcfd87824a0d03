package gemini

import (
	"context"
	"errors"
	"fmt"

	"github.com/coralogix/llm-tracekit-sub000/pkg/infra/providers"
	"github.com/google/uuid"
	"google.golang.org/genai"
)

const (
	ProviderName = "gemini"

	defaultModel = "gemini-2.0-flash"
	roleModel    = "model"
)

type client struct {
	pool providers.Pool[*genai.Client]
}

func NewGeminiClient() providers.Client {
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

	genaiClient, err := c.getOrCreateClient(ctx, config.Credentials)
	if err != nil {
		return nil, err
	}

	model := config.Model
	if model == "" {
		model = defaultModel
	}

	genConfig := &genai.GenerateContentConfig{}
	if system := providers.SystemText(config, messages); system != "" {
		genConfig.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if config.Temperature > 0 {
		genConfig.Temperature = genai.Ptr(float32(config.Temperature))
	}
	if config.MaxTokens > 0 {
		genConfig.MaxOutputTokens = int32(config.MaxTokens)
	}

	result, err := genaiClient.Models.GenerateContent(ctx, model, toContents(conversation), genConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}

	responseText := result.Text()
	if responseText == "" {
		return nil, errors.New("no completions returned")
	}

	resp := &providers.CompletionResponse{
		ID:       "gemini-" + uuid.NewString(),
		Model:    model,
		Response: responseText,
	}
	if result.ModelVersion != "" {
		resp.Model = result.ModelVersion
	}
	if len(result.Candidates) > 0 {
		resp.FinishReason = string(result.Candidates[0].FinishReason)
	}
	if u := result.UsageMetadata; u != nil {
		resp.Usage = providers.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return resp, nil
}

func toContents(messages []providers.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		role := providers.RoleUser
		if m.Role == providers.RoleAssistant {
			role = roleModel
		}
		out = append(out, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}
	return out
}

func (c *client) getOrCreateClient(ctx context.Context, creds providers.Credentials) (*genai.Client, error) {
	return c.pool.Get(creds.BaseURL+"|"+creds.ApiKey, func() (*genai.Client, error) {
		cfg := &genai.ClientConfig{
			APIKey:  creds.ApiKey,
			Backend: genai.BackendGeminiAPI,
		}
		if creds.BaseURL != "" {
			cfg.HTTPOptions = genai.HTTPOptions{BaseURL: creds.BaseURL}
		}
		cli, err := genai.NewClient(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini client: %w", err)
		}
		return cli, nil
	})
}
