package tool

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"nanobot/internal/cron"
	"nanobot/internal/domain"
)

// jobScheduler is the slice of the cron service the tool needs.
type jobScheduler interface {
	Add(job cron.Job) (cron.Job, error)
	Remove(id string) error
	List() []cron.Job
}

// CronTool lets the agent manage its own schedule: recurring reminders,
// check-ins, or any prompt that should fire later. Jobs added without a
// target default to the conversation the request came from.
type CronTool struct {
	scheduler jobScheduler

	mu      sync.Mutex
	channel string
	chatID  string
}

func NewCronTool(scheduler jobScheduler) *CronTool {
	return &CronTool{scheduler: scheduler}
}

func (t *CronTool) Name() string { return "cron" }

func (t *CronTool) Description() string {
	return "Manage scheduled jobs. Actions: 'list' shows all jobs, 'add' creates one (schedule is standard cron syntax or @every 10m / @hourly; message is the prompt injected when it fires), 'remove' deletes one by id."
}

func (t *CronTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"action":   {Type: "string", Description: "One of: list, add, remove", Enum: []string{"list", "add", "remove"}},
			"schedule": {Type: "string", Description: "Cron expression or descriptor, e.g. '0 9 * * *' or '@every 1h' (for add)"},
			"message":  {Type: "string", Description: "Prompt to run when the job fires (for add)"},
			"name":     {Type: "string", Description: "Optional human-readable job name (for add)"},
			"id":       {Type: "string", Description: "Job ID (for remove)"},
			"channel":  {Type: "string", Description: "Target channel (for add; defaults to the current chat)"},
			"chat_id":  {Type: "string", Description: "Target chat ID (for add; defaults to the current chat)"},
		},
		[]string{"action"},
	)
}

// SetContext records the conversation new jobs default to.
func (t *CronTool) SetContext(channel, chatID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.channel = channel
	t.chatID = chatID
}

func (t *CronTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	switch action := ArgsString(args, "action"); action {
	case "list":
		return t.list(), nil
	case "add":
		return t.add(args)
	case "remove":
		id := ArgsString(args, "id")
		if id == "" {
			return "", fmt.Errorf("missing argument: id")
		}
		if err := t.scheduler.Remove(id); err != nil {
			return "", err
		}
		return fmt.Sprintf("Job removed: %s", id), nil
	default:
		return "", fmt.Errorf("unknown action %q (use list, add or remove)", action)
	}
}

func (t *CronTool) list() string {
	jobs := t.scheduler.List()
	if len(jobs) == 0 {
		return "No scheduled jobs."
	}
	var lines []string
	for _, job := range jobs {
		status := "enabled"
		if !job.Enabled {
			status = "disabled"
		}
		last := "never"
		if job.LastRun != nil {
			last = job.LastRun.Format(time.RFC3339)
		}
		name := job.Name
		if name == "" {
			name = "(unnamed)"
		}
		lines = append(lines, fmt.Sprintf("- [%s] %s: %q on %q → %s:%s (%s, last run %s)",
			job.ID, name, job.Message, job.Schedule, job.Channel, job.ChatID, status, last))
	}
	return strings.Join(lines, "\n")
}

func (t *CronTool) add(args map[string]any) (string, error) {
	schedule := ArgsString(args, "schedule")
	message := ArgsString(args, "message")
	if schedule == "" || message == "" {
		return "", fmt.Errorf("missing arguments: schedule and message are required")
	}

	channel := ArgsString(args, "channel")
	chatID := ArgsString(args, "chat_id")
	if channel == "" || chatID == "" {
		t.mu.Lock()
		if channel == "" {
			channel = t.channel
		}
		if chatID == "" {
			chatID = t.chatID
		}
		t.mu.Unlock()
	}
	if channel == "" || chatID == "" {
		return "", fmt.Errorf("no target chat: pass channel and chat_id")
	}

	job, err := t.scheduler.Add(cron.Job{
		Name:     ArgsString(args, "name"),
		Schedule: schedule,
		Message:  message,
		Channel:  channel,
		ChatID:   chatID,
		Enabled:  true,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Job created: %s (%q on %q → %s:%s)", job.ID, job.Message, job.Schedule, job.Channel, job.ChatID), nil
}

var (
	_ domain.Tool         = (*CronTool)(nil)
	_ domain.ContextAware = (*CronTool)(nil)
)
