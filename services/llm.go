package services

import (
	"context"
	"encoding/json"
)

// LLMProvider abstracts a hosted chat-completion API behind one synchronous call.
type LLMProvider interface {
	// Complete sends a single system+user exchange and returns the reply.
	// Implementations must respect context cancellation and deadlines.
	Complete(ctx context.Context, req LLMRequest) (*LLMResponse, error)
	// Model returns the default model used when the request does not name one.
	Model() string
}

type LLMRequest struct {
	SystemPrompt string
	Prompt       string
	Model        string
	MaxTokens    int

	// Tool, when set, asks providers that support tool use to return the
	// reply as structured tool input matching Tool.Schema.
	Tool *ToolSpec
}

type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

type LLMResponse struct {
	// Content is the concatenated free text of the reply.
	Content string
	// Structured holds forced tool input, if the provider returned any.
	Structured json.RawMessage
	Model      string
	Usage      TokenUsage
}

type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

func (u TokenUsage) Total() int {
	return u.InputTokens + u.OutputTokens
}
