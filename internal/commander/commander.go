// Package commander defines the chat transport used by the worker.
package commander

import (
	"context"
	"errors"
)

// ErrClosed is returned by GetUpdates once the transport has no more input.
var ErrClosed = errors.New("commander closed")

// Commander is the message source and sink used by worker.
type Commander interface {
	GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error)
	SendMessage(ctx context.Context, chatID int64, text string, replyTo int64) error
}

// Identifier is implemented by transports that know the bot's own account.
type Identifier interface {
	Me(ctx context.Context) (User, error)
}

// Update represents an incoming update.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message represents a chat message.
type Message struct {
	MessageID      int64    `json:"message_id"`
	From           *User    `json:"from,omitempty"`
	Chat           Chat     `json:"chat"`
	Text           *string  `json:"text,omitempty"`
	Date           int64    `json:"date"`
	ReplyToMessage *Message `json:"reply_to_message,omitempty"`
}

// SenderName returns the display name used in the context buffer.
func (m *Message) SenderName() string {
	if m == nil || m.From == nil {
		return ""
	}
	if m.From.Username != "" {
		return m.From.Username
	}
	return m.From.FirstName
}

// Chat identifies a conversation.
type Chat struct {
	ID int64 `json:"id"`
}

// User is a message author.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
}
