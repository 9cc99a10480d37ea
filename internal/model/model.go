package model

import (
	"context"

	ctxpkg "github.com/stupiduntilnot/slavik/internal/context"
)

// CompletionResponse is the common response model for model providers.
// An empty Content means the provider produced no usable text.
type CompletionResponse struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

// Provider is the completion client abstraction used by the bot.
type Provider interface {
	ChatCompletion(ctx context.Context, messages []ctxpkg.Message) (CompletionResponse, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, messages []ctxpkg.Message) (CompletionResponse, error)

// ChatCompletion calls f.
func (f ProviderFunc) ChatCompletion(ctx context.Context, messages []ctxpkg.Message) (CompletionResponse, error) {
	return f(ctx, messages)
}
