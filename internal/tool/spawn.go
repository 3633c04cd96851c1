package tool

import (
	"context"
	"fmt"
	"sync"

	"nanobot/internal/domain"
)

// subagentSpawner starts a background task on behalf of a chat.
// Satisfied by *agent.SubagentManager.
type subagentSpawner interface {
	Spawn(ctx context.Context, task, originChannel, originChatID string) (string, error)
}

// SpawnTool hands a task to a background subagent. The subagent reports its
// result through the bus when it finishes.
type SpawnTool struct {
	manager subagentSpawner

	mu      sync.Mutex
	channel string
	chatID  string
}

func NewSpawnTool(manager subagentSpawner) *SpawnTool {
	return &SpawnTool{manager: manager}
}

func (t *SpawnTool) Name() string { return "spawn" }
func (t *SpawnTool) Description() string {
	return "Spawn a background subagent to work on a task. Returns immediately; the result is reported back to this chat when the task completes."
}
func (t *SpawnTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"task": {Type: "string", Description: "Task description for the subagent"},
		},
		[]string{"task"},
	)
}

// SetContext records where the spawned task should report back to.
func (t *SpawnTool) SetContext(channel, chatID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.channel = channel
	t.chatID = chatID
}

func (t *SpawnTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	task := ArgsString(args, "task")
	if task == "" {
		return "", fmt.Errorf("missing argument: task")
	}

	t.mu.Lock()
	channel, chatID := t.channel, t.chatID
	t.mu.Unlock()

	id, err := t.manager.Spawn(ctx, task, channel, chatID)
	if err != nil {
		return "", fmt.Errorf("spawn subagent: %w", err)
	}
	return fmt.Sprintf("Spawned subagent %s. It will report back here when done.", id), nil
}

var (
	_ domain.Tool         = (*SpawnTool)(nil)
	_ domain.ContextAware = (*SpawnTool)(nil)
)
