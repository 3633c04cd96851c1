package skill

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

const weatherSkill = `---
name: weather
description: Fetch forecasts from wttr.in.
---

Use curl against wttr.in for weather questions.
`

func TestInstallFetchesSkillFile(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(weatherSkill))
	}))
	defer srv.Close()

	dir := t.TempDir()
	inst := NewInstaller(dir, testLogger())

	s, err := inst.Install(context.Background(), srv.URL+"/skills/weather")
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if gotPath != "/skills/weather/SKILL.md" {
		t.Errorf("requested %q, want /skills/weather/SKILL.md", gotPath)
	}
	if s.Name != "weather" {
		t.Errorf("name: got %q", s.Name)
	}
	if s.Content != "Use curl against wttr.in for weather questions." {
		t.Errorf("content: got %q", s.Content)
	}

	data, err := os.ReadFile(filepath.Join(dir, "weather", "SKILL.md"))
	if err != nil {
		t.Fatalf("installed file missing: %v", err)
	}
	if string(data) != weatherSkill {
		t.Error("installed file differs from served content")
	}
}

func TestInstallNameFromURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("No frontmatter, just instructions.\n"))
	}))
	defer srv.Close()

	inst := NewInstaller(t.TempDir(), testLogger())
	s, err := inst.Install(context.Background(), srv.URL+"/repo/deploy/SKILL.md")
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if s.Name != "deploy" {
		t.Errorf("name should come from URL directory, got %q", s.Name)
	}
}

func TestInstallNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	inst := NewInstaller(t.TempDir(), testLogger())
	if _, err := inst.Install(context.Background(), srv.URL+"/missing"); err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestInstallRejectsTraversalName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("---\nname: ../../etc\n---\nBad.\n"))
	}))
	defer srv.Close()

	inst := NewInstaller(t.TempDir(), testLogger())
	if _, err := inst.Install(context.Background(), srv.URL+"/x/SKILL.md"); err == nil {
		t.Fatal("expected error for traversal name")
	}
}

func TestInstalledSkillVisibleToLoader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(weatherSkill))
	}))
	defer srv.Close()

	dir := t.TempDir()
	if _, err := NewInstaller(dir, testLogger()).Install(context.Background(), srv.URL+"/skills/weather"); err != nil {
		t.Fatal(err)
	}

	skills := NewLoader(dir, testLogger()).LoadAll()
	if len(skills) != 1 || skills[0].Name != "weather" {
		t.Fatalf("loader does not see installed skill: %+v", skills)
	}
}

func TestUninstall(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "weather", weatherSkill)

	inst := NewInstaller(dir, testLogger())
	if err := inst.Uninstall("weather"); err != nil {
		t.Fatalf("uninstall: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "weather")); !os.IsNotExist(err) {
		t.Error("skill directory still present")
	}

	if err := inst.Uninstall("weather"); err == nil {
		t.Error("expected error for missing skill")
	}
	if err := inst.Uninstall("../weather"); err == nil {
		t.Error("expected error for traversal name")
	}
}
