package tool

import (
	"context"
	"fmt"
	"sync"

	"nanobot/internal/domain"
)

// outboundPublisher is the slice of the bus the message tool needs.
type outboundPublisher interface {
	PublishOutbound(msg domain.OutboundMessage) error
}

// MessageTool lets the agent send a message to the current chat before its
// final answer, e.g. to acknowledge a long-running task.
type MessageTool struct {
	publisher outboundPublisher

	mu      sync.Mutex
	channel string
	chatID  string
}

func NewMessageTool(publisher outboundPublisher) *MessageTool {
	return &MessageTool{publisher: publisher}
}

func (t *MessageTool) Name() string { return "message" }
func (t *MessageTool) Description() string {
	return "Send a message to the user immediately, without ending the current task. Useful for progress updates."
}
func (t *MessageTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"content": {Type: "string", Description: "Message text to send to the user"},
		},
		[]string{"content"},
	)
}

// SetContext points the tool at the chat being processed.
func (t *MessageTool) SetContext(channel, chatID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.channel = channel
	t.chatID = chatID
}

func (t *MessageTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	content := ArgsString(args, "content")
	if content == "" {
		return "", fmt.Errorf("missing argument: content")
	}

	t.mu.Lock()
	channel, chatID := t.channel, t.chatID
	t.mu.Unlock()
	if channel == "" || chatID == "" {
		return "", fmt.Errorf("no chat context set")
	}

	if err := t.publisher.PublishOutbound(domain.OutboundMessage{
		Channel: channel,
		ChatID:  chatID,
		Content: content,
	}); err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return fmt.Sprintf("Message sent to %s:%s", channel, chatID), nil
}

var (
	_ domain.Tool         = (*MessageTool)(nil)
	_ domain.ContextAware = (*MessageTool)(nil)
)
