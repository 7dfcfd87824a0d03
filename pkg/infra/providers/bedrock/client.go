package bedrock

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	stsTypes "github.com/aws/aws-sdk-go-v2/service/sts/types"
	"github.com/coralogix/llm-tracekit-sub000/pkg/infra/providers"
	"github.com/google/uuid"
)

const (
	ProviderName = "aws.bedrock"

	defaultRegion      = "us-east-1"
	defaultSessionName = "GuardrailsClientSession"
)

type client struct {
	pool providers.Pool[*bedrockruntime.Client]
}

func NewBedrockClient() providers.Client {
	return &client{}
}

func (c *client) Name() string {
	return ProviderName
}

// Complete uses the Converse API, so one request shape serves every
// Bedrock model family.
func (c *client) Complete(
	ctx context.Context,
	cfg *providers.Config,
	messages []providers.Message,
) (*providers.CompletionResponse, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.Credentials.AwsBedrock == nil && cfg.Credentials.ApiKey == "" {
		return nil, fmt.Errorf("aws credentials are required")
	}
	conversation := providers.Conversation(messages)
	if len(conversation) == 0 {
		return nil, providers.ErrNoMessages
	}

	runtimeClient, err := c.getOrCreateClient(ctx, cfg.Credentials)
	if err != nil {
		return nil, err
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(cfg.Model),
		Messages: toMessages(conversation),
	}
	if system := providers.SystemText(cfg, messages); system != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: system}}
	}
	if cfg.MaxTokens > 0 || cfg.Temperature > 0 {
		input.InferenceConfig = &types.InferenceConfiguration{}
		if cfg.MaxTokens > 0 {
			input.InferenceConfig.MaxTokens = aws.Int32(int32(cfg.MaxTokens))
		}
		if cfg.Temperature > 0 {
			input.InferenceConfig.Temperature = aws.Float32(float32(cfg.Temperature))
		}
	}

	output, err := runtimeClient.Converse(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("bedrock converse failed: %w", err)
	}

	msg, ok := output.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return nil, errors.New("bedrock returned no message")
	}
	var text string
	for _, block := range msg.Value.Content {
		if t, ok := block.(*types.ContentBlockMemberText); ok {
			text += t.Value
		}
	}
	if text == "" {
		return nil, errors.New("no text content returned")
	}

	resp := &providers.CompletionResponse{
		ID:           "bedrock-" + uuid.NewString(),
		Model:        cfg.Model,
		Response:     text,
		FinishReason: string(output.StopReason),
	}
	if u := output.Usage; u != nil {
		resp.Usage = providers.Usage{
			PromptTokens:     int(aws.ToInt32(u.InputTokens)),
			CompletionTokens: int(aws.ToInt32(u.OutputTokens)),
			TotalTokens:      int(aws.ToInt32(u.TotalTokens)),
		}
	}
	return resp, nil
}

func toMessages(messages []providers.Message) []types.Message {
	out := make([]types.Message, 0, len(messages))
	for _, m := range messages {
		role := types.ConversationRoleUser
		if m.Role == providers.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		out = append(out, types.Message{
			Role:    role,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
		})
	}
	return out
}

func (c *client) getOrCreateClient(ctx context.Context, credentials providers.Credentials) (*bedrockruntime.Client, error) {
	return c.pool.Get(buildClientKey(credentials), func() (*bedrockruntime.Client, error) {
		cfg, err := buildAwsConfig(ctx, credentials)
		if err != nil {
			return nil, err
		}
		return bedrockruntime.NewFromConfig(cfg, func(o *bedrockruntime.Options) {
			if credentials.BaseURL != "" {
				o.BaseEndpoint = aws.String(credentials.BaseURL)
			}
		}), nil
	})
}

func buildClientKey(credentials providers.Credentials) string {
	if credentials.AwsBedrock == nil {
		return credentials.BaseURL + "|" + credentials.ApiKey
	}
	return fmt.Sprintf("%s|%s:%s:%s:%v:%s",
		credentials.BaseURL,
		credentials.ApiKey,
		credentials.AwsBedrock.AccessKey,
		credentials.AwsBedrock.Region,
		credentials.AwsBedrock.UseRole,
		credentials.AwsBedrock.RoleARN,
	)
}

func buildAwsConfig(ctx context.Context, credentials providers.Credentials) (aws.Config, error) {
	if credentials.AwsBedrock == nil {
		return loadAWSConfig(ctx, credentials.ApiKey, credentials.ApiKey, "", defaultRegion)
	}

	region := credentials.AwsBedrock.Region
	if region == "" {
		region = defaultRegion
	}

	accessKey := credentials.AwsBedrock.AccessKey
	secretKey := credentials.AwsBedrock.SecretKey

	if credentials.AwsBedrock.UseRole && credentials.AwsBedrock.RoleARN != "" {
		creds, err := assumeRole(ctx, accessKey, secretKey, credentials.AwsBedrock.RoleARN, region)
		if err != nil {
			return aws.Config{}, err
		}
		return loadAWSConfig(ctx, *creds.AccessKeyId, *creds.SecretAccessKey, *creds.SessionToken, region)
	}

	return loadAWSConfig(ctx, accessKey, secretKey, credentials.AwsBedrock.SessionToken, region)
}

func loadAWSConfig(ctx context.Context, accessKey, secretKey, sessionToken, region string) (aws.Config, error) {
	return config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(aws.CredentialsProviderFunc(
			func(ctx context.Context) (aws.Credentials, error) {
				return aws.Credentials{
					AccessKeyID:     accessKey,
					SecretAccessKey: secretKey,
					SessionToken:    sessionToken,
				}, nil
			},
		)),
		config.WithRegion(region),
	)
}

func assumeRole(ctx context.Context, accessKey, secretKey, roleARN, region string) (*stsTypes.Credentials, error) {
	baseCfg, err := loadAWSConfig(ctx, accessKey, secretKey, "", region)
	if err != nil {
		return nil, fmt.Errorf("unable to load base AWS config: %w", err)
	}
	output, err := sts.NewFromConfig(baseCfg).AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(roleARN),
		RoleSessionName: aws.String(defaultSessionName),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to assume role: %w", err)
	}
	return output.Credentials, nil
}
