package domain

import "time"

// SystemChannel is the reserved channel name used by subagents to report
// results back through the bus. Content is "origin_channel:origin_chat_id:result".
const SystemChannel = "system"

type InboundMessage struct {
	Channel   string
	SenderID  string
	ChatID    string
	Content   string
	Media     []string
	Metadata  map[string]string // free-form, channel-specific
	Timestamp time.Time
}

// SessionKey identifies the conversation this message belongs to.
func (m InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
	Media   []string // local file paths produced by tools (screenshots etc)
}

// Message is one entry in the working transcript sent to the model.
// Role is "system", "user", "assistant" or "tool".
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // set on role "tool" entries
}

// ToolCall is a structured tool invocation issued by the model.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}
