package guardrails

import (
	"context"
	"sync"

	"github.com/coralogix/llm-tracekit-sub000/pkg/infra/httpx"
	"go.opentelemetry.io/otel/trace"
)

// Session shares one HTTP pool and one parent span across guard calls. It is
// safe for concurrent use.
type Session struct {
	client *Client
	http   httpx.Client
	owned  bool
	span   trace.Span

	mu     sync.RWMutex
	closed bool
}

// Close waits for in-flight guard calls, ends the session span and releases
// idle connections. Calling it again is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if closer, ok := s.http.(httpx.IdleCloser); ok && s.owned {
		closer.CloseIdleConnections()
	}
	s.span.End()
	return nil
}

// Guard checks messages against configs. Empty messages or configs are a
// no-op that returns (nil, nil) without a network call.
func (s *Session) Guard(ctx context.Context, messages []Message, configs []GuardrailConfig, target Target) (*Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	if len(messages) == 0 || len(configs) == 0 {
		return nil, nil
	}

	normalized := make([]Message, 0, len(messages))
	for _, m := range messages {
		n, err := normalizeRole(m)
		if err != nil {
			return nil, err
		}
		normalized = append(normalized, n)
	}

	cfg := s.client.cfg
	req := &Request{
		Application: cfg.ApplicationName,
		Subsystem:   cfg.SubsystemName,
		Messages:    normalized,
		Guardrails:  configs,
		Target:      target,
		Timeout:     cfg.Timeout,
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if !trace.SpanContextFromContext(ctx).IsValid() {
		ctx = trace.ContextWithSpan(ctx, s.span)
	}
	return s.client.sender.send(ctx, s.http, req)
}

// GuardPrompt guards a single user message.
func (s *Session) GuardPrompt(ctx context.Context, configs []GuardrailConfig, prompt string) (*Response, error) {
	if prompt == "" {
		return s.closedOrNil()
	}
	return s.Guard(ctx, []Message{UserMessage(prompt)}, configs, TargetPrompt)
}

// GuardResponse guards an assistant response, preceded by the prompt that
// produced it when prompt is not empty.
func (s *Session) GuardResponse(ctx context.Context, configs []GuardrailConfig, response, prompt string) (*Response, error) {
	if response == "" {
		return s.closedOrNil()
	}
	return s.Guard(ctx, responseMessages(response, prompt), configs, TargetResponse)
}

func (s *Session) closedOrNil() (*Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	return nil, nil
}

func responseMessages(response, prompt string) []Message {
	messages := make([]Message, 0, 2)
	if prompt != "" {
		messages = append(messages, UserMessage(prompt))
	}
	return append(messages, AssistantMessage(response))
}
