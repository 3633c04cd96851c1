package skill

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeSkill(t *testing.T, dir, name, content string) {
	t.Helper()
	skillDir := filepath.Join(dir, name)
	if err := os.MkdirAll(skillDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(skillDir, "SKILL.md"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadAllParsesFrontmatter(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "github", `---
name: github
description: Work with GitHub through the gh CLI.
---

Use the gh CLI for all GitHub operations.
`)

	skills := NewLoader(dir, testLogger()).LoadAll()
	if len(skills) != 1 {
		t.Fatalf("got %d skills, want 1", len(skills))
	}
	s := skills[0]
	if s.Name != "github" {
		t.Errorf("name: got %q", s.Name)
	}
	if s.Description != "Work with GitHub through the gh CLI." {
		t.Errorf("description: got %q", s.Description)
	}
	if s.Content != "Use the gh CLI for all GitHub operations." {
		t.Errorf("content: got %q", s.Content)
	}
	if s.Always {
		t.Error("skill should not be always-on by default")
	}
}

func TestLoadAllFallbackName(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "notes", "Just instructions, no frontmatter.\n")

	skills := NewLoader(dir, testLogger()).LoadAll()
	if len(skills) != 1 {
		t.Fatalf("got %d skills, want 1", len(skills))
	}
	if skills[0].Name != "notes" {
		t.Errorf("name should fall back to directory name, got %q", skills[0].Name)
	}
	if skills[0].Content != "Just instructions, no frontmatter." {
		t.Errorf("content: got %q", skills[0].Content)
	}
}

func TestLoadAllMetadataAlways(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "memory", `---
name: memory
description: Long term memory conventions.
metadata: {"nanobot": {"always": true}}
---
Remember things in memory/.
`)

	loader := NewLoader(dir, testLogger())
	skills := loader.LoadAll()
	if len(skills) != 1 || !skills[0].Always {
		t.Fatalf("metadata always flag not honored: %+v", skills)
	}

	always := loader.AlwaysOn()
	if len(always) != 1 || always[0].Name != "memory" {
		t.Errorf("AlwaysOn: got %+v", always)
	}
}

func TestLoadAllSkipsMalformed(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "broken", "---\nname: [unclosed\n")
	writeSkill(t, dir, "good", `---
name: good
description: Fine.
---
Body.
`)

	skills := NewLoader(dir, testLogger()).LoadAll()
	if len(skills) != 1 {
		t.Fatalf("got %d skills, want only the well-formed one", len(skills))
	}
	if skills[0].Name != "good" {
		t.Errorf("got %q", skills[0].Name)
	}
}

func TestLoadAllMissingDir(t *testing.T) {
	skills := NewLoader(filepath.Join(t.TempDir(), "absent"), testLogger()).LoadAll()
	if skills != nil {
		t.Errorf("got %v, want nil", skills)
	}
}
