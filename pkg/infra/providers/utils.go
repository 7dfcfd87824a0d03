package providers

import (
	"errors"
	"strings"
)

var ErrNoMessages = errors.New("at least one message is required")

func FormatInstructions(instr []string) string {
	if len(instr) == 0 {
		return "[Instructions]\n"
	}

	var b strings.Builder
	b.WriteString("[Instructions]\n")
	for _, rule := range instr {
		if strings.TrimSpace(rule) == "" {
			continue
		}
		b.WriteString("- ")
		b.WriteString(rule)
		b.WriteByte('\n')
	}
	return b.String()
}

// SystemText joins the system prompt, the formatted instructions and any
// system messages. Providers with a dedicated system field send this text
// there and drop system messages from the conversation.
func SystemText(config *Config, messages []Message) string {
	var parts []string
	if config.SystemPrompt != "" {
		parts = append(parts, config.SystemPrompt)
	}
	if len(config.Instructions) > 0 {
		parts = append(parts, strings.TrimRight(FormatInstructions(config.Instructions), "\n"))
	}
	for _, m := range messages {
		if m.Role == RoleSystem && m.Content != "" {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Conversation returns the non-system messages.
func Conversation(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role != RoleSystem {
			out = append(out, m)
		}
	}
	return out
}

// LastUserMessage returns the content of the last user turn, or "".
func LastUserMessage(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content
		}
	}
	return ""
}
