package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/coralogix/llm-tracekit-sub000/pkg/infra/httpx"
	"github.com/coralogix/llm-tracekit-sub000/pkg/infra/providers"
)

const (
	ProviderName = "az.ai.openai"

	defaultAPIVersion = "2024-02-15-preview"
	tokenScope        = "https://cognitiveservices.azure.com/.default"
	maxResponseBody   = 10 * 1024 * 1024
)

type client struct {
	httpClient httpx.Client

	mu         sync.Mutex
	credential azcore.TokenCredential
	token      azcore.AccessToken
}

func NewAzureClient() providers.Client {
	return NewAzureClientWithHTTP(httpx.NewFastHTTPClient())
}

// NewAzureClientWithHTTP uses httpClient for the REST calls. A nil client
// falls back to http.DefaultClient.
func NewAzureClientWithHTTP(httpClient httpx.Client) providers.Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &client{httpClient: httpClient}
}

func (c *client) Name() string {
	return ProviderName
}

type chatMessage struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

type chatRequest struct {
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage providers.Usage `json:"usage"`
}

// Complete calls the Azure OpenAI chat completions REST endpoint. It
// authenticates with config.Credentials.ApiKey, or with a Microsoft Entra
// token when Azure.UseIdentity is set.
func (c *client) Complete(
	ctx context.Context,
	config *providers.Config,
	messages []providers.Message,
) (*providers.CompletionResponse, error) {
	azureCfg := config.Credentials.Azure
	if azureCfg == nil {
		return nil, fmt.Errorf("azure configuration is required")
	}
	if azureCfg.Endpoint == "" {
		return nil, fmt.Errorf("azure endpoint is required")
	}
	if config.Model == "" {
		return nil, fmt.Errorf("model (deployment ID) is required")
	}
	if !azureCfg.UseIdentity && config.Credentials.ApiKey == "" {
		return nil, fmt.Errorf("API key is required when not using Azure identity")
	}
	if len(messages) == 0 {
		return nil, providers.ErrNoMessages
	}

	reqBody := chatRequest{
		Messages:    toMessages(config, messages),
		Temperature: config.Temperature,
		MaxTokens:   config.MaxTokens,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	apiVersion := defaultAPIVersion
	if azureCfg.ApiVersion != "" {
		apiVersion = azureCfg.ApiVersion
	}
	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		strings.TrimRight(azureCfg.Endpoint, "/"),
		config.Model,
		apiVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Encoding", httpx.AcceptEncoding)

	if azureCfg.UseIdentity {
		token, err := c.adToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get Azure AD token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	} else {
		req.Header.Set("api-key", config.Credentials.ApiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed request: %w", err)
	}
	respBody, err := httpx.ReadBody(resp, maxResponseBody)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("non-200 status: %d\n%s", resp.StatusCode, string(respBody))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, errors.New("no completions returned")
	}

	model := parsed.Model
	if model == "" {
		model = config.Model
	}
	return &providers.CompletionResponse{
		ID:           parsed.ID,
		Model:        model,
		Response:     parsed.Choices[0].Message.Content,
		FinishReason: parsed.Choices[0].FinishReason,
		Usage:        parsed.Usage,
	}, nil
}

func toMessages(config *providers.Config, messages []providers.Message) []chatMessage {
	out := make([]chatMessage, 0, len(messages)+1)
	if system := providers.SystemText(config, nil); system != "" {
		out = append(out, chatMessage{Role: providers.RoleSystem, Content: system})
	}
	for _, m := range messages {
		out = append(out, chatMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID})
	}
	return out
}

// adToken returns a cached Entra token, refreshing it a minute before it
// expires.
func (c *client) adToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token.Token != "" && time.Until(c.token.ExpiresOn) > time.Minute {
		return c.token.Token, nil
	}
	if c.credential == nil {
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return "", fmt.Errorf("failed to create credential: %w", err)
		}
		c.credential = cred
	}
	token, err := c.credential.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{tokenScope}})
	if err != nil {
		return "", fmt.Errorf("failed to get token: %w", err)
	}
	c.token = token
	return token.Token, nil
}
