package cron

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"nanobot/internal/bus"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestService(t *testing.T, storePath string) (*Service, *bus.InMemoryBus) {
	t.Helper()
	logger := testLogger()
	b := bus.New(16, logger)
	t.Cleanup(b.Close)
	s := NewService(Config{StorePath: storePath, Bus: b, Logger: logger})
	return s, b
}

func TestAddValidatesSchedule(t *testing.T) {
	s, _ := newTestService(t, "")

	_, err := s.Add(Job{Schedule: "not a schedule", Message: "hi", Channel: "cli", ChatID: "1", Enabled: true})
	if err == nil || !strings.Contains(err.Error(), "invalid schedule") {
		t.Fatalf("err = %v, want invalid schedule", err)
	}
}

func TestAddRequiresMessageAndTarget(t *testing.T) {
	s, _ := newTestService(t, "")

	if _, err := s.Add(Job{Schedule: "@hourly", Channel: "cli", ChatID: "1"}); err == nil {
		t.Error("expected error for missing message")
	}
	if _, err := s.Add(Job{Schedule: "@hourly", Message: "hi"}); err == nil {
		t.Error("expected error for missing target")
	}
}

func TestAddGeneratesIDAndReplaces(t *testing.T) {
	s, _ := newTestService(t, "")

	job, err := s.Add(Job{Schedule: "@hourly", Message: "check mail", Channel: "cli", ChatID: "1", Enabled: true})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if len(job.ID) != 8 {
		t.Errorf("ID = %q, want generated 8-char id", job.ID)
	}

	// Re-adding the same id updates in place instead of duplicating.
	job.Message = "check mail twice"
	if _, err := s.Add(job); err != nil {
		t.Fatalf("re-Add failed: %v", err)
	}
	jobs := s.List()
	if len(jobs) != 1 {
		t.Fatalf("List returned %d jobs, want 1", len(jobs))
	}
	if jobs[0].Message != "check mail twice" {
		t.Errorf("Message = %q, want updated text", jobs[0].Message)
	}
}

func TestRemoveUnknownJob(t *testing.T) {
	s, _ := newTestService(t, "")

	if err := s.Remove("nope"); err == nil {
		t.Fatal("expected error for unknown id")
	}
}

func TestListOrderedByCreation(t *testing.T) {
	s, _ := newTestService(t, "")

	base := time.Now()
	for i, name := range []string{"first", "second", "third"} {
		_, err := s.Add(Job{
			ID:        name,
			Name:      name,
			Schedule:  "@daily",
			Message:   "m",
			Channel:   "cli",
			ChatID:    "1",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("Add %s failed: %v", name, err)
		}
	}

	var got []string
	for _, j := range s.List() {
		got = append(got, j.Name)
	}
	if strings.Join(got, ",") != "first,second,third" {
		t.Errorf("List order = %v", got)
	}
}

func TestDisabledJobNotScheduled(t *testing.T) {
	s, _ := newTestService(t, "")

	if _, err := s.Add(Job{ID: "idle", Schedule: "@every 1s", Message: "m", Channel: "cli", ChatID: "1", Enabled: false}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if len(s.entries) != 0 {
		t.Errorf("disabled job has %d runner entries, want 0", len(s.entries))
	}
}

func TestJobFiresIntoBus(t *testing.T) {
	s, b := newTestService(t, "")

	_, err := s.Add(Job{ID: "tick", Schedule: "@every 100ms", Message: "time to stretch", Channel: "telegram", ChatID: "42", Enabled: true})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	s.Start()
	defer s.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	msg, err := b.ConsumeInbound(ctx)
	if err != nil {
		t.Fatalf("job never fired: %v", err)
	}
	if msg.Channel != "telegram" || msg.ChatID != "42" {
		t.Errorf("fired to %s:%s, want telegram:42", msg.Channel, msg.ChatID)
	}
	if msg.SenderID != "cron:tick" {
		t.Errorf("SenderID = %q, want cron:tick", msg.SenderID)
	}
	if msg.Content != "time to stretch" {
		t.Errorf("Content = %q", msg.Content)
	}

	if job := s.List()[0]; job.LastRun == nil {
		t.Error("LastRun not recorded after fire")
	}
}

func TestRemovedJobStopsFiring(t *testing.T) {
	s, b := newTestService(t, "")

	if _, err := s.Add(Job{ID: "gone", Schedule: "@every 50ms", Message: "m", Channel: "cli", ChatID: "1", Enabled: true}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	s.Start()
	defer s.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := b.ConsumeInbound(ctx); err != nil {
		t.Fatalf("job never fired: %v", err)
	}
	if err := s.Remove("gone"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	// Drain anything already in flight, then expect silence.
	drain, cancelDrain := context.WithTimeout(context.Background(), 150*time.Millisecond)
	for {
		if _, err := b.ConsumeInbound(drain); err != nil {
			break
		}
	}
	cancelDrain()
	quiet, cancelQuiet := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancelQuiet()
	if msg, err := b.ConsumeInbound(quiet); err == nil {
		t.Fatalf("removed job still fired: %+v", msg)
	}
}

func TestJobsPersistAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cron", "jobs.json")
	s, _ := newTestService(t, path)

	if _, err := s.Add(Job{ID: "daily", Schedule: "0 9 * * *", Message: "standup", Channel: "slack", ChatID: "C1", Enabled: true}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if _, err := s.Add(Job{ID: "weekly", Schedule: "@weekly", Message: "report", Channel: "slack", ChatID: "C1", Enabled: false}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	reloaded, _ := newTestService(t, path)
	jobs := reloaded.List()
	if len(jobs) != 2 {
		t.Fatalf("reloaded %d jobs, want 2", len(jobs))
	}
	byID := map[string]Job{}
	for _, j := range jobs {
		byID[j.ID] = j
	}
	if byID["daily"].Message != "standup" || !byID["daily"].Enabled {
		t.Errorf("daily job = %+v", byID["daily"])
	}
	if byID["weekly"].Enabled {
		t.Error("weekly job must stay disabled after reload")
	}
	if len(reloaded.entries) != 1 {
		t.Errorf("reloaded runner has %d entries, want 1", len(reloaded.entries))
	}
}

func TestCorruptStoreIsIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	s, _ := newTestService(t, path)
	if got := len(s.List()); got != 0 {
		t.Errorf("List returned %d jobs from corrupt store, want 0", got)
	}
}
