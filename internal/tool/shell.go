package tool

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"nanobot/internal/domain"
)

const (
	defaultShellTimeout   = 60
	defaultMaxOutputBytes = 65536
)

// ShellTool runs a command through the system shell in the agent workspace.
type ShellTool struct {
	workspace           string
	timeoutSeconds      int
	maxOutputBytes      int
	restrictToWorkspace bool
}

type ShellConfig struct {
	Workspace           string
	TimeoutSeconds      int
	MaxOutputBytes      int
	RestrictToWorkspace bool
}

func NewShellTool(cfg ShellConfig) *ShellTool {
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = defaultShellTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultMaxOutputBytes
	}
	return &ShellTool{
		workspace:           cfg.Workspace,
		timeoutSeconds:      cfg.TimeoutSeconds,
		maxOutputBytes:      cfg.MaxOutputBytes,
		restrictToWorkspace: cfg.RestrictToWorkspace,
	}
}

func (s *ShellTool) Name() string { return "exec" }

func (s *ShellTool) Description() string {
	return "Execute a shell command. Use for running terminal commands, scripts, or any CLI tool. Returns stdout and stderr."
}

func (s *ShellTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"command":     {Type: "string", Description: "The shell command to execute (e.g. 'ls -la', 'git status')"},
			"working_dir": {Type: "string", Description: "Directory to run the command in (defaults to the workspace)"},
		},
		[]string{"command"},
	)
}

func (s *ShellTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	command := strings.TrimSpace(ArgsString(args, "command"))
	if command == "" {
		return "", fmt.Errorf("missing argument: command")
	}

	dir, err := s.resolveDir(ArgsString(args, "working_dir"))
	if err != nil {
		return "", err
	}

	timeout := time.Duration(s.timeoutSeconds) * time.Second
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Always use sh -c for reliable handling of pipes, redirects, quotes, etc.
	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = dir

	output, err := cmd.CombinedOutput()
	result := s.truncateOutput(string(output))
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("command timed out after %ds", s.timeoutSeconds)
		}
		if result == "" {
			return "", fmt.Errorf("exec: %w", err)
		}
		return result, fmt.Errorf("exec: %w", err)
	}
	return result, nil
}

// resolveDir picks the command's working directory, enforcing the workspace
// boundary when configured.
func (s *ShellTool) resolveDir(requested string) (string, error) {
	dir := s.workspace
	if dir == "" {
		dir = "."
	}
	if requested != "" {
		if filepath.IsAbs(requested) {
			dir = requested
		} else {
			dir = filepath.Join(dir, requested)
		}
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve working dir: %w", err)
	}
	if s.restrictToWorkspace && s.workspace != "" {
		wsAbs, err := filepath.Abs(s.workspace)
		if err != nil {
			return "", fmt.Errorf("resolve workspace: %w", err)
		}
		if abs != wsAbs && !strings.HasPrefix(abs, wsAbs+string(filepath.Separator)) {
			return "", fmt.Errorf("working dir %q is outside workspace %q", abs, wsAbs)
		}
	}
	return abs, nil
}

func (s *ShellTool) truncateOutput(out string) string {
	if s.maxOutputBytes > 0 && len(out) > s.maxOutputBytes {
		return out[:s.maxOutputBytes] + "\n... (output truncated)"
	}
	return out
}

var _ domain.Tool = (*ShellTool)(nil)
