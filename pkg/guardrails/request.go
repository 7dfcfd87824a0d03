package guardrails

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Target string

const (
	TargetPrompt   Target = "prompt"
	TargetResponse Target = "response"
)

func ParseTarget(s string) (Target, error) {
	switch Target(strings.ToLower(strings.TrimSpace(s))) {
	case TargetPrompt:
		return TargetPrompt, nil
	case TargetResponse:
		return TargetResponse, nil
	default:
		return "", newValidationError("target", "invalid target %q, expected prompt or response", s)
	}
}

// Request is the wire body of a guard call.
type Request struct {
	Application string            `json:"application,omitempty"`
	Subsystem   string            `json:"subsystem,omitempty"`
	Messages    []Message         `json:"messages"`
	Guardrails  []GuardrailConfig `json:"guardrails"`
	Target      Target            `json:"target"`
	Timeout     time.Duration     `json:"-"`
}

func (r *Request) Validate() error {
	if len(r.Messages) == 0 {
		return newValidationError("messages", "at least one message is required")
	}
	if len(r.Guardrails) == 0 {
		return newValidationError("guardrails", "at least one guardrail is required")
	}
	if r.Target != TargetPrompt && r.Target != TargetResponse {
		return newValidationError("target", "invalid target %q", r.Target)
	}
	for i, m := range r.Messages {
		if _, err := ParseRole(string(m.Role)); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
	}
	for i, g := range r.Guardrails {
		if g == nil {
			return newValidationError("guardrails", "guardrail %d is nil", i)
		}
		if err := g.Validate(); err != nil {
			return fmt.Errorf("guardrail %d (%s): %w", i, g.Type(), err)
		}
	}
	if r.Target == TargetResponse {
		last := r.Messages[len(r.Messages)-1]
		if last.Role != RoleAssistant {
			return newValidationError("messages",
				"last message must have role %q when target is %q, got %q", RoleAssistant, TargetResponse, last.Role)
		}
	}
	return nil
}

func (r *Request) MarshalJSON() ([]byte, error) {
	type wire Request
	var timeout int64
	if r.Timeout > 0 {
		timeout = int64(r.Timeout.Round(time.Second) / time.Second)
		if timeout == 0 {
			timeout = 1
		}
	}
	return json.Marshal(struct {
		*wire
		Timeout int64 `json:"timeout,omitempty"`
	}{(*wire)(r), timeout})
}

// split returns the prompt-side and response-side messages of the request.
func (r *Request) split() (prompts, responses []Message) {
	if r.Target == TargetResponse && len(r.Messages) > 0 {
		return r.Messages[:len(r.Messages)-1], r.Messages[len(r.Messages)-1:]
	}
	return r.Messages, nil
}
