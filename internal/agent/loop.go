// Package agent contains the message processing core: the loop that drives
// the model, the context builder, and the subagent manager.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"nanobot/internal/domain"
	"nanobot/internal/metrics"
	"nanobot/internal/tool"
)

const (
	defaultMaxTurns     = 10
	defaultHistoryLimit = 50

	// screenshotMarker flags a tool result that produced an image file; the
	// path after the marker is attached to the outbound message.
	screenshotMarker = "Screenshot saved to "

	fallbackText = "I'm not sure how to respond to that."
)

// Loop is the core engine: receive message, call the model, execute tools,
// respond. Messages are processed strictly one at a time.
type Loop struct {
	provider     domain.Provider
	bus          domain.MessageBus
	store        domain.SessionStore
	tools        *tool.Registry
	builder      *ContextBuilder
	logger       *slog.Logger
	maxTurns     int
	historyLimit int
}

// LoopConfig holds the loop's collaborators and tuning parameters.
type LoopConfig struct {
	Provider     domain.Provider
	Bus          domain.MessageBus
	Store        domain.SessionStore
	Tools        *tool.Registry
	Builder      *ContextBuilder
	Logger       *slog.Logger
	MaxTurns     int
	HistoryLimit int
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = defaultMaxTurns
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loop{
		provider:     cfg.Provider,
		bus:          cfg.Bus,
		store:        cfg.Store,
		tools:        cfg.Tools,
		builder:      cfg.Builder,
		logger:       cfg.Logger,
		maxTurns:     cfg.MaxTurns,
		historyLimit: cfg.HistoryLimit,
	}
}

// Run consumes inbound messages until ctx is cancelled or the bus closes.
// One message is processed to completion before the next is dequeued, so a
// conversation never interleaves with itself.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("agent loop started", "max_turns", l.maxTurns)
	for {
		msg, err := l.bus.ConsumeInbound(ctx)
		if err != nil {
			l.logger.Info("agent loop stopping", "reason", err)
			return
		}
		l.processMessage(ctx, msg)
	}
}

// processMessage handles one inbound message and publishes its response.
// Every failure mode ends as a user-visible message, never a crash.
func (l *Loop) processMessage(ctx context.Context, msg domain.InboundMessage) {
	metrics.MessagesTotal.Inc()

	out, err := l.handleMessage(ctx, msg)
	if err != nil {
		l.logger.Error("message processing failed", "channel", msg.Channel, "error", err)
		out = &domain.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: fmt.Sprintf("Sorry, I encountered an error: %s", err),
		}
	}
	if out == nil {
		return
	}
	if err := l.bus.PublishOutbound(*out); err != nil {
		l.logger.Error("cannot publish response", "channel", out.Channel, "error", err)
	}
}

// handleMessage runs the bounded model/tool loop for one message and returns
// the response to publish, or nil when the message produces none.
func (l *Loop) handleMessage(ctx context.Context, msg domain.InboundMessage) (out *domain.OutboundMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	// Subagent results arrive as system announcements and are routed back
	// to their origin chat without a model call.
	if msg.Channel == domain.SystemChannel {
		return l.handleSystemMessage(msg), nil
	}

	l.logger.Info("processing message", "channel", msg.Channel, "sender", msg.SenderID)

	key := msg.SessionKey()
	if _, err := l.store.GetOrCreate(ctx, key); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	history, err := l.store.History(ctx, key, l.historyLimit)
	if err != nil {
		l.logger.Warn("failed to load history, continuing without it", "error", err)
		history = nil
	}

	// Point context-aware tools (message, spawn) at this chat.
	l.tools.SetContext(msg.Channel, msg.ChatID)

	messages := l.builder.BuildMessages(history, msg.Content, msg.Media)
	defs := l.tools.GetDefinitions()

	var (
		finalContent string
		lastContent  string
		sawToolCalls bool
		media        []string
		done         bool
	)

	for turn := 0; turn < l.maxTurns; turn++ {
		start := time.Now()
		resp, chatErr := l.provider.Chat(ctx, messages, defs)
		metrics.LLMRequestsTotal.Inc()
		metrics.LLMLatency.Observe(time.Since(start).Seconds())
		if chatErr != nil {
			l.logger.Error("LLM call failed", "error", chatErr)
			finalContent = fmt.Sprintf("Error calling LLM: %v", chatErr)
			done = true
			break
		}

		if resp.Content != "" {
			lastContent = resp.Content
		}
		messages = append(messages, domain.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		// No tool calls means the model is done with this message.
		if !resp.HasToolCalls() {
			finalContent = resp.Content
			done = true
			break
		}

		sawToolCalls = true
		for _, tc := range resp.ToolCalls {
			l.logger.Info("executing tool", "tool", tc.Name)
			result, toolErr := l.tools.Execute(ctx, tc.Name, tc.Arguments)
			if toolErr != nil {
				l.logger.Error("tool execution failed", "tool", tc.Name, "error", toolErr)
				result = fmt.Sprintf("Error: %v", toolErr)
			}
			if path, ok := strings.CutPrefix(result, screenshotMarker); ok {
				media = append(media, strings.TrimSpace(path))
			}
			messages = append(messages, domain.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: tc.ID,
			})
		}
	}

	// Turn budget exhausted mid-task: answer with the last thing the model
	// said rather than going silent.
	if !done {
		l.logger.Warn("turn budget exhausted", "channel", msg.Channel, "max_turns", l.maxTurns)
		finalContent = lastContent
	}

	// Persist the summary pair. Tool traffic stays in the working
	// transcript and is not retained across messages.
	if err := l.store.Append(ctx, key, "user", msg.Content, msg.Media); err != nil {
		l.logger.Warn("failed to save user turn", "error", err)
	}
	if finalContent != "" {
		if err := l.store.Append(ctx, key, "assistant", finalContent, nil); err != nil {
			l.logger.Warn("failed to save assistant turn", "error", err)
		}
	}

	// The canned fallback is emitted but never persisted. A completed turn
	// that called tools may legitimately end with empty text, e.g. when the
	// only output is an attached screenshot.
	if finalContent == "" && (!done || !sawToolCalls) {
		finalContent = fallbackText
	}

	return &domain.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: finalContent,
		Media:   media,
	}, nil
}

// handleSystemMessage routes a subagent announcement back to its origin
// chat. The content is "<origin channel>:<origin chat id>:<result>"; the
// result itself may contain colons.
func (l *Loop) handleSystemMessage(msg domain.InboundMessage) *domain.OutboundMessage {
	parts := strings.SplitN(msg.Content, ":", 3)
	if len(parts) < 3 {
		l.logger.Warn("malformed system announcement", "content", msg.Content)
		return nil
	}
	return &domain.OutboundMessage{
		Channel: parts[0],
		ChatID:  parts[1],
		Content: fmt.Sprintf("Subagent task completed:\n%s", parts[2]),
	}
}
