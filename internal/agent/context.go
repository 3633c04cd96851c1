package agent

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"nanobot/internal/domain"
	"nanobot/internal/skill"
)

// Workspace files folded into the system prompt when present.
var bootstrapFiles = []string{"AGENTS.md", "SOUL.md", "USER.md"}

const memoryFile = "memory/MEMORY.md"

// ContextBuilder assembles the transcript sent to the model: identity and
// environment, workspace bootstrap files, skills, prior history, and the
// current message.
type ContextBuilder struct {
	workspace string
	skills    *skill.Loader
	logger    *slog.Logger
}

func NewContextBuilder(workspace string, logger *slog.Logger) *ContextBuilder {
	return &ContextBuilder{
		workspace: workspace,
		skills:    skill.NewLoader(filepath.Join(workspace, "skills"), logger),
		logger:    logger,
	}
}

// BuildSystemPrompt renders the system prompt from the workspace state.
// It is rebuilt per message so edits to workspace files take effect
// immediately.
func (b *ContextBuilder) BuildSystemPrompt() string {
	workspacePath, err := filepath.Abs(b.workspace)
	if err != nil {
		workspacePath = b.workspace
	}

	var sb strings.Builder
	sb.WriteString(`# nanobot

You are nanobot, a helpful AI assistant with access to tools. You can read,
write and edit files in your workspace, run shell commands, search and fetch
the web, control the user's browser, send messages, and spawn background
subagents for long tasks.

## Rules
1. When the user asks you to DO something, use the appropriate tool instead of describing what you would do.
2. Use the message tool for progress updates during long tasks; your final answer is delivered automatically.
3. Present tool results clearly and never show raw JSON to the user.
4. Respond in the same language the user writes in.`)

	fmt.Fprintf(&sb, "\n\n## Current Time\n%s\n", time.Now().Format("2006-01-02 15:04 (Monday)"))
	fmt.Fprintf(&sb, "\n## Runtime\n%s %s, Go %s\n", runtime.GOOS, runtime.GOARCH, runtime.Version())
	fmt.Fprintf(&sb, "\n## Workspace\n%s\n", workspacePath)

	for _, name := range bootstrapFiles {
		if content := b.readWorkspaceFile(name); content != "" {
			fmt.Fprintf(&sb, "\n## %s\n%s\n", name, content)
		}
	}
	if content := b.readWorkspaceFile(memoryFile); content != "" {
		fmt.Fprintf(&sb, "\n## Long-term Memory\n%s\n", content)
	}

	b.writeSkills(&sb)
	return sb.String()
}

// writeSkills appends always-on skill bodies and a catalog of the rest.
func (b *ContextBuilder) writeSkills(sb *strings.Builder) {
	skills := b.skills.LoadAll()
	if len(skills) == 0 {
		return
	}

	var available []skill.Skill
	for _, s := range skills {
		if s.Always {
			fmt.Fprintf(sb, "\n## Skill: %s\n%s\n", s.Name, s.Content)
		} else {
			available = append(available, s)
		}
	}
	if len(available) == 0 {
		return
	}

	sb.WriteString("\n## Available Skills\nRead a skill file with read_file when its topic comes up:\n")
	for _, s := range available {
		desc := s.Description
		if desc == "" {
			desc = "no description"
		}
		fmt.Fprintf(sb, "- %s (%s): %s\n", s.Name, s.Path, desc)
	}
}

// BuildMessages constructs [system + history + current user message] for a
// model call. Media attachments are referenced inline by path so the model
// can open them with its file tools.
func (b *ContextBuilder) BuildMessages(history []domain.Turn, content string, media []string) []domain.Message {
	messages := []domain.Message{
		{Role: "system", Content: b.BuildSystemPrompt()},
	}
	for _, turn := range history {
		messages = append(messages, domain.Message{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, domain.Message{Role: "user", Content: renderUserContent(content, media)})
	return messages
}

func renderUserContent(content string, media []string) string {
	if len(media) == 0 {
		return content
	}
	var sb strings.Builder
	for _, m := range media {
		fmt.Fprintf(&sb, "[media: %s]\n", m)
	}
	sb.WriteString(content)
	return sb.String()
}

func (b *ContextBuilder) readWorkspaceFile(name string) string {
	data, err := os.ReadFile(filepath.Join(b.workspace, name))
	if err != nil {
		if !os.IsNotExist(err) {
			b.logger.Warn("cannot read workspace file", "file", name, "err", err)
		}
		return ""
	}
	return strings.TrimSpace(string(data))
}
