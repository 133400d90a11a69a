// Package llm talks to the language model that interprets chat input.
package llm

import (
	"context"
	"fmt"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of the conversation sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client produces a single free-text completion for a conversation.
// Implementations make one attempt per call and never retry.
type Client interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// Options tune a completion request.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// StatusError is returned when the endpoint answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}
