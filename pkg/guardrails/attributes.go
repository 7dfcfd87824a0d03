package guardrails

import (
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
)

const (
	AttrApplicationName = "application_name"
	AttrSubsystemName   = "subsystem_name"
	AttrGuardID         = "guardrails.id"
	AttrTarget          = "guardrails.target"
	AttrTriggered       = "guardrails.triggered"

	promptPrefix     = "gen_ai.prompt"
	completionPrefix = "gen_ai.completion"

	EventTriggered = "guardrail.triggered"
)

// attrs drops empty values so that undefined fields are never emitted.
type attrs []attribute.KeyValue

func (a *attrs) str(key, value string) {
	if value != "" {
		*a = append(*a, attribute.String(key, value))
	}
}

func (a *attrs) float(key string, value float64) {
	*a = append(*a, attribute.Float64(key, value))
}

func (a *attrs) boolean(key string, value bool) {
	*a = append(*a, attribute.Bool(key, value))
}

func (a *attrs) strings(key string, values []string) {
	if len(values) > 0 {
		*a = append(*a, attribute.StringSlice(key, values))
	}
}

func (a *attrs) content(key string, value any) {
	switch v := value.(type) {
	case nil:
	case string:
		a.str(key, v)
	case fmt.Stringer:
		a.str(key, v.String())
	default:
		b, err := json.Marshal(v)
		if err != nil {
			a.str(key, fmt.Sprint(v))
			return
		}
		if s := string(b); s != "null" {
			a.str(key, s)
		}
	}
}

// RequestAttributes maps the identity and messages of a guard call to span
// attributes.
func RequestAttributes(application, subsystem string, prompts, responses []Message) []attribute.KeyValue {
	var a attrs
	a.str(AttrApplicationName, application)
	a.str(AttrSubsystemName, subsystem)
	messageAttributes(&a, promptPrefix, prompts)
	messageAttributes(&a, completionPrefix, responses)
	return a
}

func messageAttributes(a *attrs, prefix string, messages []Message) {
	for i, m := range messages {
		a.str(fmt.Sprintf("%s.%d.role", prefix, i), string(m.Role))
		a.content(fmt.Sprintf("%s.%d.content", prefix, i), m.Content)
		a.str(fmt.Sprintf("%s.%d.tool_call_id", prefix, i), m.ToolCallID)
	}
}

// ResponseAttributes maps results to "{target}.{type}.{field}" attributes.
// Custom results are keyed by name as "{target}.custom.{name}.{field}". A
// repeated prefix gets its occurrence index, "{prefix}.1.{field}" for the
// second one, so no result overwrites another.
func ResponseAttributes(resp *Response, target Target) []attribute.KeyValue {
	if resp == nil {
		return nil
	}
	var a attrs
	seen := make(map[string]int, len(resp.Results))
	for _, res := range resp.Results {
		prefix := fmt.Sprintf("%s.%s", target, res.Type())
		if r, ok := res.(CustomResult); ok && r.Name != "" {
			prefix = fmt.Sprintf("%s.%s", prefix, r.Name)
		}
		if n := seen[prefix]; n > 0 {
			seen[prefix] = n + 1
			prefix = fmt.Sprintf("%s.%d", prefix, n)
		} else {
			seen[prefix] = 1
		}

		switch r := res.(type) {
		case PIIResult:
			a.strings(prefix+".detected_categories", r.DetectedCategories)
		case CustomResult:
			a.str(prefix+".name", r.Name)
		}
		a.boolean(prefix+".detected", res.IsDetected())
		a.float(prefix+".score", res.GetScore())
		a.float(prefix+".threshold", res.GetThreshold())
	}
	return a
}

func violationAttributes(v Violation) []attribute.KeyValue {
	var a attrs
	a.str("guardrail.type", string(v.Type))
	a.str("guardrail.name", v.Name)
	a.float("guardrail.score", v.Score)
	a.float("guardrail.threshold", v.Threshold)
	a.strings("guardrail.detected_categories", v.DetectedCategories)
	return a
}
