package domain

import "context"

// Provider is a chat-completion backend with tool calling.
type Provider interface {
	Name() string
	DefaultModel() string

	// Chat sends the transcript plus tool definitions and returns the
	// model's reply. Retry policy for transient failures lives inside the
	// provider; callers treat any returned error as final.
	Chat(ctx context.Context, messages []Message, tools []ToolDefinition) (*ChatResponse, error)
}

type ChatResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        Usage
}

// HasToolCalls reports whether the model asked for tool execution.
func (r *ChatResponse) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
