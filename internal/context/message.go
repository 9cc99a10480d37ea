package context

import "unicode/utf8"

// Roles used in assembled prompts.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a model-agnostic chat message used across the context pipeline.
// Sender is empty for entries produced by an Assembler.
type Message struct {
	Role    string
	Sender  string
	Content string
}

// UserMessage returns a message authored by a chat participant.
func UserMessage(sender, content string) Message {
	return Message{Role: RoleUser, Sender: sender, Content: content}
}

// BotMessage returns a message authored by the bot under the given name.
func BotMessage(name, content string) Message {
	return Message{Role: RoleAssistant, Sender: name, Content: content}
}

// Symbols is the length of the content in characters.
func (m Message) Symbols() int {
	return utf8.RuneCountInString(m.Content)
}
