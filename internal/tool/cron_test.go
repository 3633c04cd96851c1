package tool

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"nanobot/internal/cron"
)

// fakeScheduler records cron operations without a running service.
type fakeScheduler struct {
	jobs      []cron.Job
	addErr    error
	removeErr error
	removed   []string
}

func (f *fakeScheduler) Add(job cron.Job) (cron.Job, error) {
	if f.addErr != nil {
		return cron.Job{}, f.addErr
	}
	if job.ID == "" {
		job.ID = fmt.Sprintf("job-%d", len(f.jobs)+1)
	}
	f.jobs = append(f.jobs, job)
	return job, nil
}

func (f *fakeScheduler) Remove(id string) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeScheduler) List() []cron.Job {
	return append([]cron.Job(nil), f.jobs...)
}

func TestCronToolListEmpty(t *testing.T) {
	ct := NewCronTool(&fakeScheduler{})
	out, err := ct.Execute(context.Background(), map[string]any{"action": "list"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "No scheduled jobs." {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestCronToolAddDefaultsToCurrentChat(t *testing.T) {
	sched := &fakeScheduler{}
	ct := NewCronTool(sched)
	ct.SetContext("telegram", "42")

	out, err := ct.Execute(context.Background(), map[string]any{
		"action":   "add",
		"schedule": "@every 1h",
		"message":  "check the logs",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sched.jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(sched.jobs))
	}
	job := sched.jobs[0]
	if job.Channel != "telegram" || job.ChatID != "42" {
		t.Fatalf("job should target the current chat, got %s:%s", job.Channel, job.ChatID)
	}
	if !job.Enabled {
		t.Fatal("added jobs should be enabled")
	}
	if !strings.Contains(out, job.ID) {
		t.Fatalf("output should mention the job id: %q", out)
	}
}

func TestCronToolAddExplicitTarget(t *testing.T) {
	sched := &fakeScheduler{}
	ct := NewCronTool(sched)
	ct.SetContext("cli", "direct")

	_, err := ct.Execute(context.Background(), map[string]any{
		"action":   "add",
		"schedule": "0 9 * * *",
		"message":  "daily standup",
		"channel":  "slack",
		"chat_id":  "C123",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	job := sched.jobs[0]
	if job.Channel != "slack" || job.ChatID != "C123" {
		t.Fatalf("explicit target ignored: %s:%s", job.Channel, job.ChatID)
	}
}

func TestCronToolAddRequiresScheduleAndMessage(t *testing.T) {
	ct := NewCronTool(&fakeScheduler{})
	ct.SetContext("cli", "direct")

	if _, err := ct.Execute(context.Background(), map[string]any{"action": "add", "message": "x"}); err == nil {
		t.Fatal("expected error without schedule")
	}
	if _, err := ct.Execute(context.Background(), map[string]any{"action": "add", "schedule": "@hourly"}); err == nil {
		t.Fatal("expected error without message")
	}
}

func TestCronToolAddRequiresTarget(t *testing.T) {
	ct := NewCronTool(&fakeScheduler{})
	_, err := ct.Execute(context.Background(), map[string]any{
		"action":   "add",
		"schedule": "@hourly",
		"message":  "x",
	})
	if err == nil {
		t.Fatal("expected error without chat context or explicit target")
	}
}

func TestCronToolRemove(t *testing.T) {
	sched := &fakeScheduler{}
	ct := NewCronTool(sched)

	out, err := ct.Execute(context.Background(), map[string]any{"action": "remove", "id": "job-7"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sched.removed) != 1 || sched.removed[0] != "job-7" {
		t.Fatalf("remove not forwarded: %v", sched.removed)
	}
	if !strings.Contains(out, "job-7") {
		t.Fatalf("unexpected output: %q", out)
	}

	if _, err := ct.Execute(context.Background(), map[string]any{"action": "remove"}); err == nil {
		t.Fatal("expected error without id")
	}
}

func TestCronToolListFormatsJobs(t *testing.T) {
	sched := &fakeScheduler{}
	sched.Add(cron.Job{ID: "aa11", Name: "standup", Schedule: "@daily", Message: "post standup", Channel: "slack", ChatID: "C1", Enabled: true})
	ct := NewCronTool(sched)

	out, err := ct.Execute(context.Background(), map[string]any{"action": "list"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"aa11", "standup", "@daily", "slack:C1", "never"} {
		if !strings.Contains(out, want) {
			t.Fatalf("listing missing %q: %q", want, out)
		}
	}
}

func TestCronToolUnknownAction(t *testing.T) {
	ct := NewCronTool(&fakeScheduler{})
	if _, err := ct.Execute(context.Background(), map[string]any{"action": "pause"}); err == nil {
		t.Fatal("expected error for unknown action")
	}
}
