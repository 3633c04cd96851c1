package channel

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"nanobot/internal/domain"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// Telegram implements domain.Channel over the Bot API with long polling.
type Telegram struct {
	token     string
	allowFrom []int64 // allowed sender IDs (empty = allow all)
	parseMode string

	bot    *tgbotapi.BotAPI
	logger *slog.Logger
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string
	ParseMode string
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.ParseMode == "" {
		cfg.ParseMode = "Markdown"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		parseMode: cfg.ParseMode,
		logger:    cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and polls for updates until ctx is cancelled.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(bus, update)
		}
	}
}

// Stop is a no-op; the poller stops when Start's context is cancelled.
// StopReceivingUpdates panics when called twice, so it lives in Start only.
func (t *Telegram) Stop() error { return nil }

func (t *Telegram) handleUpdate(bus domain.MessageBus, update tgbotapi.Update) {
	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}

	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", userID,
			"username", update.Message.From.UserName,
		)
		return
	}

	text := strings.TrimSpace(update.Message.Text)
	if text == "" {
		// Photos and documents arrive with the text in the caption.
		text = strings.TrimSpace(update.Message.Caption)
	}
	if text == "" {
		return
	}

	t.logger.Info("telegram message received",
		"user_id", userID,
		"chat_id", chatID,
		"text_len", len(text),
	)

	// Show a typing indicator while the agent works on the reply.
	typing := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	_, _ = t.bot.Send(typing)

	if err := bus.PublishInbound(domain.InboundMessage{
		Channel:   "telegram",
		SenderID:  strconv.FormatInt(userID, 10),
		ChatID:    strconv.FormatInt(chatID, 10),
		Content:   text,
		Timestamp: time.Unix(int64(update.Message.Date), 0),
	}); err != nil {
		t.logger.Error("telegram inbound publish failed", "err", err)
	}
}

// Send delivers one outbound message: media first, then the text in chunks.
func (t *Telegram) Send(ctx context.Context, msg domain.OutboundMessage) error {
	if t.bot == nil {
		return fmt.Errorf("telegram not connected")
	}
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat ID %q: %w", msg.ChatID, err)
	}

	for _, path := range msg.Media {
		t.sendMedia(chatID, path)
	}
	if msg.Content != "" {
		t.sendMessage(chatID, msg.Content)
	}
	return nil
}

func (t *Telegram) sendMedia(chatID int64, path string) {
	var msg tgbotapi.Chattable
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		msg = tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(path))
	default:
		msg = tgbotapi.NewDocument(chatID, tgbotapi.FilePath(path))
	}
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Error("telegram media send failed", "path", path, "err", err)
	}
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

func (t *Telegram) sendMessage(chatID int64, text string) {
	for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
		t.sendChunk(chatID, chunk)
	}
}

// sendChunk sends a single chunk with retry and rate limit handling.
// Markdown first; on a parse error fall back to plain text.
func (t *Telegram) sendChunk(chatID int64, text string) {
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if attempt == 0 && t.parseMode != "" {
			msg.ParseMode = t.parseMode
		}

		_, err := t.bot.Send(msg)
		if err == nil {
			return
		}

		errStr := err.Error()

		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1,
			)
			time.Sleep(retryAfter)
			continue
		}

		// Model output is not always valid Markdown; retry plain.
		if attempt == 0 && msg.ParseMode != "" && strings.Contains(errStr, "can't parse entities") {
			t.logger.Warn("telegram markdown parse error, retrying as plain text", "err", err)
			plain := tgbotapi.NewMessage(chatID, text)
			if _, err2 := t.bot.Send(plain); err2 == nil {
				return
			}
		}

		if attempt < telegramMaxSendRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}

		t.logger.Error("telegram send failed after retries", "err", err, "attempts", telegramMaxSendRetries+1)
	}
}

var _ domain.Channel = (*Telegram)(nil)
