package tool

import (
	"context"
	"strings"
	"testing"
)

func TestNewShellTool_Defaults(t *testing.T) {
	s := NewShellTool(ShellConfig{})
	if s == nil {
		t.Fatal("NewShellTool returned nil")
	}
	if s.Name() != "exec" {
		t.Errorf("Name: got %q", s.Name())
	}
	if s.Description() == "" {
		t.Error("Description should not be empty")
	}
	if s.Parameters() == nil {
		t.Fatal("Parameters returned nil")
	}
}

func TestShellTool_Execute_EmptyCommand_Error(t *testing.T) {
	s := NewShellTool(ShellConfig{TimeoutSeconds: 5, MaxOutputBytes: 4096})
	ctx := context.Background()
	out, err := s.Execute(ctx, map[string]any{})
	if err == nil {
		t.Fatal("expected error for missing command")
	}
	if out != "" {
		t.Errorf("expected empty output, got %q", out)
	}

	out, err = s.Execute(ctx, map[string]any{"command": "   "})
	if err == nil {
		t.Fatal("expected error for whitespace-only command")
	}
	if out != "" {
		t.Errorf("expected empty output, got %q", out)
	}
}

func TestShellTool_Execute_Echo_Success(t *testing.T) {
	s := NewShellTool(ShellConfig{Workspace: t.TempDir(), TimeoutSeconds: 5, MaxOutputBytes: 4096})
	ctx := context.Background()
	out, err := s.Execute(ctx, map[string]any{"command": "echo hello"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "hello") {
		t.Errorf("output should contain 'hello', got %q", out)
	}
}

func TestShellTool_Execute_ExitNonZero_ReturnsError(t *testing.T) {
	s := NewShellTool(ShellConfig{Workspace: t.TempDir(), TimeoutSeconds: 5, MaxOutputBytes: 4096})
	ctx := context.Background()
	_, err := s.Execute(ctx, map[string]any{"command": "exit 1"})
	if err == nil {
		t.Fatal("expected error for exit 1")
	}
}

func TestShellTool_Execute_TruncatesLongOutput(t *testing.T) {
	s := NewShellTool(ShellConfig{Workspace: t.TempDir(), TimeoutSeconds: 5, MaxOutputBytes: 32})
	ctx := context.Background()
	out, err := s.Execute(ctx, map[string]any{"command": "printf '%0.s.' $(seq 1 200)"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.HasSuffix(out, "... (output truncated)") {
		t.Errorf("long output should be truncated, got %q", out)
	}
	if len(out) > 32+len("\n... (output truncated)") {
		t.Errorf("truncated output too long: %d bytes", len(out))
	}
}

func TestShellTool_Execute_RunsInWorkspace(t *testing.T) {
	ws := t.TempDir()
	s := NewShellTool(ShellConfig{Workspace: ws, TimeoutSeconds: 5})
	ctx := context.Background()
	out, err := s.Execute(ctx, map[string]any{"command": "pwd"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, ws) {
		t.Errorf("pwd should report the workspace, got %q", out)
	}
}

func TestShellTool_Execute_RestrictsWorkingDir(t *testing.T) {
	s := NewShellTool(ShellConfig{Workspace: t.TempDir(), TimeoutSeconds: 5, RestrictToWorkspace: true})
	ctx := context.Background()
	_, err := s.Execute(ctx, map[string]any{"command": "pwd", "working_dir": "/"})
	if err == nil {
		t.Fatal("expected error for working_dir outside workspace")
	}
	if !strings.Contains(err.Error(), "outside workspace") {
		t.Errorf("got %v", err)
	}
}
