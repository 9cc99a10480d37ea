package context

import "strings"

// StandardAssembler emits the system prompt followed by one entry per turn.
type StandardAssembler struct{}

// Assemble builds the final message list: system + history.
func (a *StandardAssembler) Assemble(botName, persona string, history []Message) []Message {
	messages := make([]Message, 0, 1+len(history))
	messages = append(messages, Message{Role: RoleSystem, Content: systemPrompt(botName, persona)})
	for _, m := range history {
		role := m.Role
		if role != RoleAssistant {
			role = RoleUser
		}
		messages = append(messages, Message{Role: role, Content: line(m)})
	}
	return messages
}

// CollapsedAssembler folds the whole history into a single user entry of
// "sender: content" lines.
type CollapsedAssembler struct{}

// Assemble builds the final message list: system + one transcript entry.
func (a *CollapsedAssembler) Assemble(botName, persona string, history []Message) []Message {
	messages := []Message{{Role: RoleSystem, Content: systemPrompt(botName, persona)}}
	if len(history) == 0 {
		return messages
	}
	lines := make([]string, 0, len(history))
	for _, m := range history {
		lines = append(lines, line(m))
	}
	return append(messages, Message{Role: RoleUser, Content: strings.Join(lines, "\n")})
}
