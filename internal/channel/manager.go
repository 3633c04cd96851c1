// Package channel contains the chat transport adapters and the manager that
// runs them. Adapters turn platform events into bus messages; the manager
// owns the reverse direction, draining the outbound queue and routing each
// reply to the adapter it belongs to.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"nanobot/internal/domain"
	"nanobot/internal/metrics"
)

const stopTimeout = 5 * time.Second

// Manager starts the enabled channels and dispatches outbound messages from
// the bus to them. Dispatch is sequential so replies leave in the order the
// agent produced them.
type Manager struct {
	bus      domain.MessageBus
	logger   *slog.Logger
	channels map[string]domain.Channel
	order    []string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(bus domain.MessageBus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		bus:      bus,
		logger:   logger,
		channels: make(map[string]domain.Channel),
	}
}

// Register adds a channel. Must be called before Start.
func (m *Manager) Register(ch domain.Channel) {
	name := ch.Name()
	if _, dup := m.channels[name]; dup {
		m.logger.Warn("duplicate channel registration ignored", "channel", name)
		return
	}
	m.channels[name] = ch
	m.order = append(m.order, name)
}

// Names returns the registered channel names in registration order.
func (m *Manager) Names() []string {
	return append([]string(nil), m.order...)
}

// Start launches every registered channel plus the outbound dispatch loop.
// It does not block; Stop shuts everything down.
func (m *Manager) Start(ctx context.Context) error {
	if len(m.channels) == 0 {
		return errors.New("no channels registered")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	for _, name := range m.order {
		ch := m.channels[name]
		m.wg.Add(1)
		go func(ch domain.Channel) {
			defer m.wg.Done()
			if err := ch.Start(runCtx, m.bus); err != nil && runCtx.Err() == nil {
				m.logger.Error("channel exited", "channel", ch.Name(), "err", err)
			}
		}(ch)
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.dispatch(runCtx)
	}()

	m.logger.Info("channels started", "channels", strings.Join(m.order, ","))
	return nil
}

// dispatch drains the outbound queue and hands each message to its channel.
func (m *Manager) dispatch(ctx context.Context) {
	for {
		msg, err := m.bus.ConsumeOutbound(ctx)
		if err != nil {
			return
		}

		ch, ok := m.channels[msg.Channel]
		if !ok {
			m.logger.Warn("outbound message for unknown channel dropped",
				"channel", msg.Channel, "chat_id", msg.ChatID)
			continue
		}

		if err := ch.Send(ctx, msg); err != nil {
			m.logger.Error("outbound send failed",
				"channel", msg.Channel, "chat_id", msg.ChatID, "err", err)
			continue
		}
		metrics.OutboundTotal.Inc()
	}
}

// Stop cancels the run context, calls Stop on every channel and waits for
// the workers to exit.
func (m *Manager) Stop() error {
	if m.cancel != nil {
		m.cancel()
	}

	var errs []error
	for _, name := range m.order {
		if err := m.channels[name].Stop(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		m.logger.Warn("channel shutdown timed out")
	}

	return errors.Join(errs...)
}

// splitMessage splits text into chunks of at most maxLen bytes, preferring
// newline boundaries in the second half of the window.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}
		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}
		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}
