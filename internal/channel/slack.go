package channel

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"nanobot/internal/domain"
)

const slackMaxMsgLen = 4000

// Slack implements domain.Channel over Socket Mode, so no public HTTP
// endpoint is needed.
type Slack struct {
	botToken string
	appToken string
	client   *slack.Client
	logger   *slog.Logger
	botUID   string // the bot's own user ID, to avoid replying to itself
}

type SlackConfig struct {
	BotToken string
	AppToken string // app-level token, required for Socket Mode
	Logger   *slog.Logger
}

func NewSlack(cfg SlackConfig) *Slack {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Slack{
		botToken: cfg.BotToken,
		appToken: cfg.AppToken,
		logger:   cfg.Logger,
	}
}

func (s *Slack) Name() string { return "slack" }

// Start connects via Socket Mode and listens for events until ctx is
// cancelled.
func (s *Slack) Start(ctx context.Context, bus domain.MessageBus) error {
	api := slack.New(
		s.botToken,
		slack.OptionAppLevelToken(s.appToken),
	)
	s.client = api

	authResp, err := api.AuthTest()
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.botUID = authResp.UserID
	s.logger.Info("slack bot connected", "user", authResp.User, "user_id", authResp.UserID)

	socketClient := socketmode.New(api)

	go func() {
		for evt := range socketClient.Events {
			switch evt.Type {
			case socketmode.EventTypeEventsAPI:
				apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				socketClient.Ack(*evt.Request)
				s.handleEventsAPI(bus, apiEvent)

			case socketmode.EventTypeSlashCommand:
				cmd, ok := evt.Data.(slack.SlashCommand)
				if !ok {
					continue
				}
				socketClient.Ack(*evt.Request)
				s.publish(bus, cmd.UserID, cmd.ChannelID, strings.TrimSpace(cmd.Text))

			default:
				// Unacknowledged events get Socket Mode disconnected.
				if evt.Request != nil {
					socketClient.Ack(*evt.Request)
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- socketClient.RunContext(ctx)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("slack bot disconnecting")
		return nil
	case err := <-errCh:
		return fmt.Errorf("slack socket mode: %w", err)
	}
}

// Stop is a no-op; the Socket Mode client exits with Start's context.
func (s *Slack) Stop() error { return nil }

func (s *Slack) handleEventsAPI(bus domain.MessageBus, event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		// Skip our own messages and edits/thread broadcasts.
		if ev.User == s.botUID || ev.User == "" || ev.SubType != "" {
			return
		}
		s.logger.Info("slack message received",
			"user", ev.User,
			"channel", ev.Channel,
			"content_len", len(ev.Text),
		)
		s.publish(bus, ev.User, ev.Channel, ev.Text)

	case *slackevents.AppMentionEvent:
		// Strip the <@UXXXX> mention prefix.
		content := ev.Text
		if idx := strings.Index(content, ">"); idx >= 0 {
			content = strings.TrimSpace(content[idx+1:])
		}
		s.logger.Info("slack mention received", "user", ev.User, "channel", ev.Channel)
		s.publish(bus, ev.User, ev.Channel, content)
	}
}

func (s *Slack) publish(bus domain.MessageBus, userID, channelID, content string) {
	if content == "" {
		return
	}
	if err := bus.PublishInbound(domain.InboundMessage{
		Channel:   "slack",
		SenderID:  userID,
		ChatID:    channelID,
		Content:   content,
		Timestamp: time.Now(),
	}); err != nil {
		s.logger.Error("slack inbound publish failed", "err", err)
	}
}

func (s *Slack) Send(ctx context.Context, msg domain.OutboundMessage) error {
	if s.client == nil {
		return fmt.Errorf("slack not connected")
	}

	for _, path := range msg.Media {
		s.uploadFile(ctx, msg.ChatID, path)
	}

	for _, chunk := range splitMessage(msg.Content, slackMaxMsgLen) {
		if chunk == "" {
			continue
		}
		_, _, err := s.client.PostMessage(
			msg.ChatID,
			slack.MsgOptionText(chunk, false),
		)
		if err != nil {
			return fmt.Errorf("slack send: %w", err)
		}
	}
	return nil
}

func (s *Slack) uploadFile(ctx context.Context, channelID, path string) {
	info, err := os.Stat(path)
	if err != nil {
		s.logger.Error("slack media stat failed", "path", path, "err", err)
		return
	}
	_, err = s.client.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
		Channel:  channelID,
		File:     path,
		Filename: filepath.Base(path),
		FileSize: int(info.Size()),
	})
	if err != nil {
		s.logger.Error("slack media upload failed", "path", path, "err", err)
	}
}

var _ domain.Channel = (*Slack)(nil)
