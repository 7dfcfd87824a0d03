package instrumentation

import (
	"strconv"

	"github.com/coralogix/llm-tracekit-sub000/pkg/infra/providers"
	"go.opentelemetry.io/otel/attribute"
)

const (
	AttrOperationName      = "gen_ai.operation.name"
	AttrSystem             = "gen_ai.system"
	AttrRequestModel       = "gen_ai.request.model"
	AttrRequestTemperature = "gen_ai.request.temperature"
	AttrRequestMaxTokens   = "gen_ai.request.max_tokens"
	AttrResponseID         = "gen_ai.response.id"
	AttrResponseModel      = "gen_ai.response.model"
	AttrResponseFinish     = "gen_ai.response.finish_reasons"
	AttrUsageInputTokens   = "gen_ai.usage.input_tokens"
	AttrUsageOutputTokens  = "gen_ai.usage.output_tokens"
	attrPromptPrefix       = "gen_ai.prompt."
	attrCompletionPrefix   = "gen_ai.completion."
	operationChat          = "chat"
)

// attrs drops zero values so unset request parameters never reach the span.
type attrs []attribute.KeyValue

func (a *attrs) str(key, value string) {
	if value != "" {
		*a = append(*a, attribute.String(key, value))
	}
}

func (a *attrs) float(key string, value float64) {
	if value != 0 {
		*a = append(*a, attribute.Float64(key, value))
	}
}

func (a *attrs) int(key string, value int) {
	if value != 0 {
		*a = append(*a, attribute.Int(key, value))
	}
}

func requestAttributes(system string, config *providers.Config) []attribute.KeyValue {
	a := attrs{attribute.String(AttrOperationName, operationChat)}
	a.str(AttrSystem, system)
	a.str(AttrRequestModel, config.Model)
	a.float(AttrRequestTemperature, config.Temperature)
	a.int(AttrRequestMaxTokens, config.MaxTokens)
	return a
}

// promptAttributes numbers the configured system prompt first, then the
// messages in order.
func promptAttributes(config *providers.Config, messages []providers.Message) []attribute.KeyValue {
	var a attrs
	i := 0
	if config.SystemPrompt != "" {
		prefix := attrPromptPrefix + strconv.Itoa(i)
		a.str(prefix+".role", providers.RoleSystem)
		a.str(prefix+".content", config.SystemPrompt)
		i++
	}
	for _, m := range messages {
		prefix := attrPromptPrefix + strconv.Itoa(i)
		a.str(prefix+".role", m.Role)
		a.str(prefix+".content", m.Content)
		a.str(prefix+".tool_call_id", m.ToolCallID)
		i++
	}
	return a
}

func responseAttributes(resp *providers.CompletionResponse, captureContent bool) []attribute.KeyValue {
	var a attrs
	a.str(AttrResponseID, resp.ID)
	a.str(AttrResponseModel, resp.Model)
	if resp.FinishReason != "" {
		a = append(a, attribute.StringSlice(AttrResponseFinish, []string{resp.FinishReason}))
	}
	a.int(AttrUsageInputTokens, resp.Usage.PromptTokens)
	a.int(AttrUsageOutputTokens, resp.Usage.CompletionTokens)

	prefix := attrCompletionPrefix + "0"
	a.str(prefix+".finish_reason", resp.FinishReason)
	if captureContent {
		a.str(prefix+".role", providers.RoleAssistant)
		a.str(prefix+".content", resp.Response)
	}
	return a
}
