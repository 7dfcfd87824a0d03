package providers

import (
	"context"
)

type Config struct {
	Credentials  Credentials `json:"credentials"`
	Model        string      `json:"model"`
	MaxTokens    int         `json:"max_tokens,omitempty"`
	Temperature  float64     `json:"temperature,omitempty"`
	SystemPrompt string      `json:"system_prompt,omitempty"`
	Instructions []string    `json:"instructions,omitempty"`
}

type Credentials struct {
	ApiKey string `json:"api_key,omitempty"`
	// BaseURL overrides the provider's default API endpoint, e.g. for a
	// proxy or a local test server.
	BaseURL    string      `json:"base_url,omitempty"`
	AwsBedrock *AwsBedrock `json:"aws_bedrock,omitempty"`
	Azure      *Azure      `json:"azure,omitempty"`
}

type AwsBedrock struct {
	AccessKey    string `json:"access_key"`
	SecretKey    string `json:"secret_key"`
	SessionToken string `json:"session_token,omitempty"`
	Region       string `json:"region"`
	UseRole      bool   `json:"use_role,omitempty"`
	RoleARN      string `json:"role_arn,omitempty"`
}

type Azure struct {
	Endpoint    string `json:"endpoint"`
	ApiVersion  string `json:"api_version,omitempty"`
	UseIdentity bool   `json:"use_identity,omitempty"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one chat turn. It satisfies the guardrails MessageLike
// interface, so conversations can be guarded as they are.
type Message struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

func (m Message) GetRole() string { return m.Role }
func (m Message) GetContent() any { return m.Content }

//go:generate mockery --name=Client --dir=. --output=./mocks --filename=client_mock.go --case=underscore --with-expecter

type Client interface {
	// Name is the gen_ai.system value of the provider.
	Name() string
	Complete(ctx context.Context, config *Config, messages []Message) (*CompletionResponse, error)
}

type CompletionResponse struct {
	ID           string `json:"id"`
	Model        string `json:"model"`
	Response     string `json:"response"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        Usage  `json:"usage"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
