package tool

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type stubSpawner struct {
	task    string
	channel string
	chatID  string
	id      string
	err     error
}

func (s *stubSpawner) Spawn(ctx context.Context, task, originChannel, originChatID string) (string, error) {
	s.task = task
	s.channel = originChannel
	s.chatID = originChatID
	if s.err != nil {
		return "", s.err
	}
	return s.id, nil
}

func TestSpawnTool_PassesOrigin(t *testing.T) {
	mgr := &stubSpawner{id: "task-1"}
	sp := NewSpawnTool(mgr)
	sp.SetContext("slack", "C123")

	out, err := sp.Execute(context.Background(), map[string]any{"task": "summarize the report"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "task-1") {
		t.Errorf("result should name the task id, got %q", out)
	}
	if mgr.task != "summarize the report" {
		t.Errorf("task: got %q", mgr.task)
	}
	if mgr.channel != "slack" || mgr.chatID != "C123" {
		t.Errorf("origin: got %s:%s", mgr.channel, mgr.chatID)
	}
}

func TestSpawnTool_RequiresTask(t *testing.T) {
	sp := NewSpawnTool(&stubSpawner{})
	if _, err := sp.Execute(context.Background(), map[string]any{}); err == nil {
		t.Fatal("expected error for missing task")
	}
}

func TestSpawnTool_ManagerErrorSurfaces(t *testing.T) {
	sp := NewSpawnTool(&stubSpawner{err: errors.New("too many subagents")})
	sp.SetContext("cli", "local")

	_, err := sp.Execute(context.Background(), map[string]any{"task": "x"})
	if err == nil || !strings.Contains(err.Error(), "too many subagents") {
		t.Errorf("got %v", err)
	}
}
