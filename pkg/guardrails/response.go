package guardrails

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/valyala/fastjson"
)

// Result is one of PIIResult, PromptInjectionResult or CustomResult.
type Result interface {
	Type() GuardrailType
	IsDetected() bool
	GetScore() float64
	GetThreshold() float64
	guardrailResult()
}

type PIIResult struct {
	Detected           bool
	Score              float64
	Threshold          float64
	DetectedCategories []string
}

type PromptInjectionResult struct {
	Detected  bool
	Score     float64
	Threshold float64
}

type CustomResult struct {
	Name      string
	Detected  bool
	Score     float64
	Threshold float64
}

func (PIIResult) Type() GuardrailType             { return TypePII }
func (PromptInjectionResult) Type() GuardrailType { return TypePromptInjection }
func (CustomResult) Type() GuardrailType          { return TypeCustom }

func (r PIIResult) IsDetected() bool             { return r.Detected }
func (r PromptInjectionResult) IsDetected() bool { return r.Detected }
func (r CustomResult) IsDetected() bool          { return r.Detected }

func (r PIIResult) GetScore() float64             { return r.Score }
func (r PromptInjectionResult) GetScore() float64 { return r.Score }
func (r CustomResult) GetScore() float64          { return r.Score }

func (r PIIResult) GetThreshold() float64             { return r.Threshold }
func (r PromptInjectionResult) GetThreshold() float64 { return r.Threshold }
func (r CustomResult) GetThreshold() float64          { return r.Threshold }

func (PIIResult) guardrailResult()             {}
func (PromptInjectionResult) guardrailResult() {}
func (CustomResult) guardrailResult()          {}

// Response holds the per-guardrail results. Their order is not guaranteed to
// follow the request order.
type Response struct {
	Results []Result
}

func (r *Response) Detections() []Result {
	if r == nil {
		return nil
	}
	var out []Result
	for _, res := range r.Results {
		if res.IsDetected() {
			out = append(out, res)
		}
	}
	return out
}

// MarshalJSON writes the wire form, so ParseResponse(json.Marshal(r))
// yields r again.
func (r *Response) MarshalJSON() ([]byte, error) {
	results := r.Results
	if results == nil {
		results = []Result{}
	}
	return json.Marshal(struct {
		Results []Result `json:"results"`
	}{results})
}

func (r PIIResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type               GuardrailType `json:"type"`
		Detected           bool          `json:"detected"`
		Score              float64       `json:"score"`
		Threshold          float64       `json:"threshold"`
		DetectedCategories []string      `json:"detected_categories,omitempty"`
	}{TypePII, r.Detected, r.Score, r.Threshold, r.DetectedCategories})
}

func (r PromptInjectionResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      GuardrailType `json:"type"`
		Detected  bool          `json:"detected"`
		Score     float64       `json:"score"`
		Threshold float64       `json:"threshold"`
	}{TypePromptInjection, r.Detected, r.Score, r.Threshold})
}

func (r CustomResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      GuardrailType `json:"type"`
		Name      string        `json:"name,omitempty"`
		Detected  bool          `json:"detected"`
		Score     float64       `json:"score"`
		Threshold float64       `json:"threshold"`
	}{TypeCustom, r.Name, r.Detected, r.Score, r.Threshold})
}

// ParseResponse validates body against the response schema. An empty or
// whitespace-only body is a valid response without results.
func ParseResponse(body []byte) (*Response, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return &Response{}, nil
	}

	var p fastjson.Parser
	root, err := p.ParseBytes(body)
	if err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	if root.Type() != fastjson.TypeObject {
		return nil, fmt.Errorf("expected object, got %s", root.Type())
	}

	items, err := field(root, "results")
	if err != nil {
		return nil, err
	}
	arr, err := items.Array()
	if err != nil {
		return nil, fmt.Errorf("results: %w", err)
	}

	resp := &Response{Results: make([]Result, 0, len(arr))}
	for i, item := range arr {
		res, err := parseResult(item)
		if err != nil {
			return nil, fmt.Errorf("results[%d]: %w", i, err)
		}
		resp.Results = append(resp.Results, res)
	}
	return resp, nil
}

func parseResult(v *fastjson.Value) (Result, error) {
	if v.Type() != fastjson.TypeObject {
		return nil, fmt.Errorf("expected object, got %s", v.Type())
	}

	typ, err := stringField(v, "type")
	if err != nil {
		return nil, err
	}
	detectedValue, err := field(v, "detected")
	if err != nil {
		return nil, err
	}
	detected, err := detectedValue.Bool()
	if err != nil {
		return nil, fmt.Errorf("detected: %w", err)
	}
	score, err := unitField(v, "score")
	if err != nil {
		return nil, err
	}
	threshold, err := unitField(v, "threshold")
	if err != nil {
		return nil, err
	}

	switch GuardrailType(typ) {
	case TypePII:
		return PIIResult{
			Detected:           detected,
			Score:              score,
			Threshold:          threshold,
			DetectedCategories: categoriesField(v),
		}, nil
	case TypePromptInjection:
		return PromptInjectionResult{Detected: detected, Score: score, Threshold: threshold}, nil
	case TypeCustom:
		name := ""
		if nv := v.Get("name"); nv != nil && nv.Type() == fastjson.TypeString {
			name = string(nv.GetStringBytes())
		}
		return CustomResult{Name: name, Detected: detected, Score: score, Threshold: threshold}, nil
	default:
		return nil, fmt.Errorf("type: unknown guardrail type %q", typ)
	}
}

func field(v *fastjson.Value, key string) (*fastjson.Value, error) {
	f := v.Get(key)
	if f == nil || f.Type() == fastjson.TypeNull {
		return nil, fmt.Errorf("%s: missing", key)
	}
	return f, nil
}

func stringField(v *fastjson.Value, key string) (string, error) {
	f, err := field(v, key)
	if err != nil {
		return "", err
	}
	b, err := f.StringBytes()
	if err != nil {
		return "", fmt.Errorf("%s: %w", key, err)
	}
	return string(b), nil
}

func unitField(v *fastjson.Value, key string) (float64, error) {
	f, err := field(v, key)
	if err != nil {
		return 0, err
	}
	n, err := f.Float64()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if err := validateUnit(key, n); err != nil {
		return 0, err
	}
	return n, nil
}

// categoriesField accepts either a list or a single value; non-string entries
// keep their JSON form.
func categoriesField(v *fastjson.Value) []string {
	f := v.Get("detected_categories")
	if f == nil || f.Type() == fastjson.TypeNull {
		return nil
	}
	if f.Type() != fastjson.TypeArray {
		return []string{valueString(f)}
	}
	arr := f.GetArray()
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		out = append(out, valueString(item))
	}
	return out
}

func valueString(v *fastjson.Value) string {
	if v.Type() == fastjson.TypeString {
		return string(v.GetStringBytes())
	}
	return v.String()
}
