package llm

import (
	"context"
	"errors"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrEmptyResponse is returned when the provider answers without any choice.
var ErrEmptyResponse = errors.New("llm returned empty response")

type Message struct {
	Role    string
	Content string
}

// Request is a single completion call. Zero MaxTokens and Temperature leave
// the provider defaults in place.
type Request struct {
	Messages    []Message
	MaxTokens   int
	Temperature float32
}

type Response struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type Client interface {
	Generate(ctx context.Context, req Request) (Response, error)
}
