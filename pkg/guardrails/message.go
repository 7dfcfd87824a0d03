package guardrails

import (
	"fmt"
	"strings"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

var roles = []Role{RoleSystem, RoleUser, RoleAssistant, RoleTool}

func ParseRole(s string) (Role, error) {
	normalized := Role(strings.ToLower(strings.TrimSpace(s)))
	for _, r := range roles {
		if r == normalized {
			return r, nil
		}
	}
	return "", newValidationError("role", "invalid role %q, expected one of %v", s, roles)
}

// Message is one conversation turn. Content is usually a string but may be
// any JSON-encodable value.
type Message struct {
	Role       Role   `json:"role"`
	Content    any    `json:"content,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// MessageLike lets provider-specific message types be guarded without
// converting them by hand.
type MessageLike interface {
	GetRole() string
	GetContent() any
}

func NewMessage(role string, content any) (Message, error) {
	r, err := ParseRole(role)
	if err != nil {
		return Message{}, err
	}
	return Message{Role: r, Content: content}, nil
}

func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

func ToolMessage(content, toolCallID string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: toolCallID}
}

// NormalizeMessage converts a Message, a role/content map or a MessageLike
// into a canonical Message.
func NormalizeMessage(v any) (Message, error) {
	switch m := v.(type) {
	case Message:
		return normalizeRole(m)
	case *Message:
		if m == nil {
			return Message{}, newValidationError("message", "nil message")
		}
		return normalizeRole(*m)
	case map[string]any:
		role, ok := m["role"].(string)
		if !ok {
			return Message{}, newValidationError("role", "missing or non-string role in %v", m)
		}
		msg, err := NewMessage(role, m["content"])
		if err != nil {
			return Message{}, err
		}
		if id, ok := m["tool_call_id"].(string); ok {
			msg.ToolCallID = id
		}
		return msg, nil
	case map[string]string:
		msg, err := NewMessage(m["role"], m["content"])
		if err != nil {
			return Message{}, err
		}
		msg.ToolCallID = m["tool_call_id"]
		return msg, nil
	case MessageLike:
		return NewMessage(m.GetRole(), m.GetContent())
	default:
		return Message{}, newValidationError("message", "unsupported message type %T", v)
	}
}

func NormalizeMessages(items []any) ([]Message, error) {
	out := make([]Message, 0, len(items))
	for i, item := range items {
		msg, err := NormalizeMessage(item)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		out = append(out, msg)
	}
	return out, nil
}

func normalizeRole(m Message) (Message, error) {
	r, err := ParseRole(string(m.Role))
	if err != nil {
		return Message{}, err
	}
	m.Role = r
	return m, nil
}
