package channel

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bwmarrin/discordgo"

	"nanobot/internal/domain"
)

const discordMaxMsgLen = 2000

// Discord implements domain.Channel over a Discord gateway session.
type Discord struct {
	token   string
	guildID string
	session *discordgo.Session
	logger  *slog.Logger
}

type DiscordConfig struct {
	Token   string
	GuildID string // optional: restrict to one guild
	Logger  *slog.Logger
}

func NewDiscord(cfg DiscordConfig) *Discord {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Discord{
		token:   cfg.Token,
		guildID: cfg.GuildID,
		logger:  cfg.Logger,
	}
}

func (d *Discord) Name() string { return "discord" }

// Start connects the gateway session and listens until ctx is cancelled.
func (d *Discord) Start(ctx context.Context, bus domain.MessageBus) error {
	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	d.session = session

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author.ID == s.State.User.ID {
			return
		}
		if d.guildID != "" && m.GuildID != d.guildID {
			return
		}
		if m.Content == "" {
			return
		}

		d.logger.Info("discord message received",
			"author", m.Author.Username,
			"channel_id", m.ChannelID,
			"content_len", len(m.Content),
		)

		if err := bus.PublishInbound(domain.InboundMessage{
			Channel:   "discord",
			SenderID:  m.Author.ID,
			ChatID:    m.ChannelID,
			Content:   m.Content,
			Timestamp: time.Now(),
		}); err != nil {
			d.logger.Error("discord inbound publish failed", "err", err)
		}
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	d.logger.Info("discord bot connected", "user", session.State.User.Username)

	<-ctx.Done()
	d.logger.Info("discord bot disconnecting")
	return session.Close()
}

// Stop is a no-op; Start closes the session when its context is cancelled.
func (d *Discord) Stop() error { return nil }

func (d *Discord) Send(ctx context.Context, msg domain.OutboundMessage) error {
	if d.session == nil {
		return fmt.Errorf("discord not connected")
	}

	for _, path := range msg.Media {
		d.sendFile(msg.ChatID, path)
	}

	for _, chunk := range splitMessage(msg.Content, discordMaxMsgLen) {
		if chunk == "" {
			continue
		}
		if _, err := d.session.ChannelMessageSend(msg.ChatID, chunk); err != nil {
			return fmt.Errorf("discord send: %w", err)
		}
	}
	return nil
}

func (d *Discord) sendFile(channelID, path string) {
	f, err := os.Open(path)
	if err != nil {
		d.logger.Error("discord media open failed", "path", path, "err", err)
		return
	}
	defer f.Close()

	if _, err := d.session.ChannelFileSend(channelID, filepath.Base(path), f); err != nil {
		d.logger.Error("discord media send failed", "path", path, "err", err)
	}
}

var _ domain.Channel = (*Discord)(nil)
