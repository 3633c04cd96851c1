package agent

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"nanobot/internal/domain"
)

const heartbeatFile = "HEARTBEAT.md"

// HeartbeatConfig configures the proactive heartbeat.
type HeartbeatConfig struct {
	Enabled         bool
	IntervalMinutes int
	Channel         string // channel the agent's heartbeat replies go to
	ChatID          string
	Workspace       string
	Logger          *slog.Logger
}

// Heartbeat periodically wakes the agent with the checklist from the
// workspace HEARTBEAT.md file. The prompt goes through the normal inbound
// path, so the agent can use tools and decide whether anything needs doing.
type Heartbeat struct {
	enabled   bool
	interval  time.Duration
	channel   string
	chatID    string
	workspace string
	bus       domain.MessageBus
	logger    *slog.Logger
}

func NewHeartbeat(cfg HeartbeatConfig, bus domain.MessageBus) *Heartbeat {
	interval := time.Duration(cfg.IntervalMinutes) * time.Minute
	if interval < time.Minute {
		interval = 30 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Heartbeat{
		enabled:   cfg.Enabled,
		interval:  interval,
		channel:   cfg.Channel,
		chatID:    cfg.ChatID,
		workspace: cfg.Workspace,
		bus:       bus,
		logger:    cfg.Logger,
	}
}

// Start runs the heartbeat loop. Blocks until ctx is cancelled.
func (h *Heartbeat) Start(ctx context.Context) {
	if !h.enabled {
		return
	}
	h.logger.Info("heartbeat started", "interval", h.interval, "channel", h.channel)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("heartbeat stopped")
			return
		case <-ticker.C:
			h.tick()
		}
	}
}

func (h *Heartbeat) tick() {
	checklist := h.readChecklist()
	if checklist == "" {
		h.logger.Debug("no heartbeat checklist, skipping tick")
		return
	}

	msg := domain.InboundMessage{
		Channel:   h.channel,
		SenderID:  "heartbeat",
		ChatID:    h.chatID,
		Content: "System heartbeat. Work through the checklist below. If nothing " +
			"needs attention, reply with just HEARTBEAT_OK.\n\n" + checklist,
		Timestamp: time.Now(),
	}
	if err := h.bus.PublishInbound(msg); err != nil {
		h.logger.Error("cannot publish heartbeat", "error", err)
		return
	}
	h.logger.Debug("heartbeat sent", "channel", h.channel)
}

func (h *Heartbeat) readChecklist() string {
	data, err := os.ReadFile(filepath.Join(h.workspace, heartbeatFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
