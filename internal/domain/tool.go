package domain

import "context"

// Tool is the interface for agent capabilities (shell, file ops, browser, etc).
// Execute receives the model's arguments as one string-keyed map and returns
// free text; errors are reported to the model as text, never raised past the
// registry boundary.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// ContextAware is an optional tool capability. Tools that need to know which
// conversation they are acting for (message, spawn) implement it and receive
// the current channel and chat id before each message is processed.
type ContextAware interface {
	SetContext(channel, chatID string)
}

// ToolDefinition is the schema surface exposed to the model each turn.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}
