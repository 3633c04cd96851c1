package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"nanobot/internal/domain"
	"nanobot/internal/metrics"
	"nanobot/internal/tool"
)

const (
	defaultMaxSubagents     = 3
	defaultSubagentTurns    = 10
	defaultSubagentDeadline = 10 * time.Minute
)

// SubagentManager runs background tasks with their own bounded tool loop.
// A finished task is announced on the system channel; the main loop routes
// the announcement back to the chat that spawned it.
type SubagentManager struct {
	provider domain.Provider
	bus      domain.MessageBus
	builder  *ContextBuilder
	tools    *tool.Registry
	logger   *slog.Logger
	maxTurns int
	limit    int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	active atomic.Int32
}

// SubagentConfig wires the manager's collaborators and tool settings.
// Subagents get the file, shell and web tools but never message, spawn or
// browser control, so a task cannot fan out or talk to the user directly.
type SubagentConfig struct {
	Provider      domain.Provider
	Bus           domain.MessageBus
	Workspace     string
	Shell         tool.ShellConfig
	SearchAPIKey  string
	FetchMaxBytes int64
	MaxConcurrent int
	MaxTurns      int
	Logger        *slog.Logger
}

func NewSubagentManager(cfg SubagentConfig) *SubagentManager {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxSubagents
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = defaultSubagentTurns
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Shell.Workspace == "" {
		cfg.Shell.Workspace = cfg.Workspace
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &SubagentManager{
		provider: cfg.Provider,
		bus:      cfg.Bus,
		builder:  NewContextBuilder(cfg.Workspace, cfg.Logger),
		tools:    buildSubagentRegistry(cfg),
		logger:   cfg.Logger,
		maxTurns: cfg.MaxTurns,
		limit:    cfg.MaxConcurrent,
		ctx:      ctx,
		cancel:   cancel,
	}
	return m
}

func buildSubagentRegistry(cfg SubagentConfig) *tool.Registry {
	reg := tool.NewRegistry(cfg.Logger)
	for _, t := range []domain.Tool{
		tool.NewReadFileTool(cfg.Workspace),
		tool.NewWriteFileTool(cfg.Workspace),
		tool.NewEditFileTool(cfg.Workspace),
		tool.NewListDirTool(cfg.Workspace),
		tool.NewShellTool(cfg.Shell),
		tool.NewWebSearchTool(cfg.SearchAPIKey),
		tool.NewWebFetchTool(cfg.FetchMaxBytes),
	} {
		if err := reg.Register(t); err != nil {
			cfg.Logger.Warn("cannot register subagent tool", "tool", t.Name(), "err", err)
		}
	}
	return reg
}

// Spawn starts a background task and returns its short id. It fails when
// the concurrency limit is reached.
func (m *SubagentManager) Spawn(ctx context.Context, task, originChannel, originChatID string) (string, error) {
	if strings.TrimSpace(task) == "" {
		return "", fmt.Errorf("empty task")
	}
	if int(m.active.Load()) >= m.limit {
		return "", fmt.Errorf("subagent limit reached (%d running)", m.limit)
	}

	id := uuid.NewString()[:8]
	m.active.Add(1)
	metrics.SubagentsActive.Set(int64(m.active.Load()))
	m.wg.Add(1)

	m.logger.Info("spawning subagent", "id", id, "origin", originChannel+":"+originChatID)
	go m.runTask(id, task, originChannel, originChatID)
	return id, nil
}

// Active reports the number of running subagent tasks.
func (m *SubagentManager) Active() int {
	return int(m.active.Load())
}

// Shutdown cancels running tasks and waits for them to finish.
func (m *SubagentManager) Shutdown() {
	m.cancel()
	m.wg.Wait()
}

func (m *SubagentManager) runTask(id, task, originChannel, originChatID string) {
	defer m.wg.Done()
	defer func() {
		m.active.Add(-1)
		metrics.SubagentsActive.Set(int64(m.active.Load()))
		if r := recover(); r != nil {
			m.logger.Error("subagent panicked", "id", id, "panic", r)
			m.announce(id, originChannel, originChatID, fmt.Sprintf("Subagent failed: %v", r))
		}
	}()

	ctx, cancel := context.WithTimeout(m.ctx, defaultSubagentDeadline)
	defer cancel()

	result := m.execute(ctx, id, task)
	m.announce(id, originChannel, originChatID, result)
}

// execute runs the bounded tool loop for one task and returns its result text.
func (m *SubagentManager) execute(ctx context.Context, id, task string) string {
	messages := []domain.Message{
		{Role: "system", Content: m.subagentPrompt(id)},
		{Role: "user", Content: task},
	}
	defs := m.tools.GetDefinitions()

	var lastContent string
	for turn := 0; turn < m.maxTurns; turn++ {
		resp, err := m.provider.Chat(ctx, messages, defs)
		if err != nil {
			m.logger.Error("subagent LLM call failed", "id", id, "error", err)
			return fmt.Sprintf("Error calling LLM: %v", err)
		}

		if resp.Content != "" {
			lastContent = resp.Content
		}
		messages = append(messages, domain.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})

		if !resp.HasToolCalls() {
			return resp.Content
		}

		for _, tc := range resp.ToolCalls {
			m.logger.Debug("subagent tool", "id", id, "tool", tc.Name)
			result, toolErr := m.tools.Execute(ctx, tc.Name, tc.Arguments)
			if toolErr != nil {
				result = fmt.Sprintf("Error: %v", toolErr)
			}
			messages = append(messages, domain.Message{Role: "tool", Content: result, ToolCallID: tc.ID})
		}
	}

	if lastContent != "" {
		return lastContent
	}
	return "Task ended without a result."
}

func (m *SubagentManager) subagentPrompt(id string) string {
	return fmt.Sprintf(`You are subagent %s of nanobot, working on one background task.
Complete the task with the tools available, then reply with a concise result
summary as plain text. You cannot message the user directly; your final reply
is delivered for you.

Workspace: %s`, id, m.builder.workspace)
}

// announce publishes the task result on the system channel. The content
// carries the origin routing in its first two colon-delimited fields.
func (m *SubagentManager) announce(id, originChannel, originChatID, result string) {
	msg := domain.InboundMessage{
		Channel:   domain.SystemChannel,
		SenderID:  "subagent:" + id,
		ChatID:    id,
		Content:   fmt.Sprintf("%s:%s:%s", originChannel, originChatID, result),
		Timestamp: time.Now(),
	}
	if err := m.bus.PublishInbound(msg); err != nil {
		m.logger.Error("cannot announce subagent result", "id", id, "error", err)
		return
	}
	m.logger.Info("subagent finished", "id", id)
}
