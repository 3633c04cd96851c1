package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"nanobot/internal/domain"
)

const publishTimeout = 10 * time.Second

var ErrClosed = errors.New("bus closed")

// InMemoryBus is a Go-channel based message bus: two bounded FIFO queues,
// one carrying inbound messages from channels to the agent loop and one
// carrying outbound replies back. Publish methods are safe to call from any
// goroutine; this is the hand-off point for channel adapters that run
// blocking listeners outside the core.
type InMemoryBus struct {
	inbound  chan domain.InboundMessage
	outbound chan domain.OutboundMessage
	mu       sync.RWMutex
	closed   bool
	logger   *slog.Logger
}

// New creates a new InMemoryBus with the given queue capacity per direction.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &InMemoryBus{
		inbound:  make(chan domain.InboundMessage, bufferSize),
		outbound: make(chan domain.OutboundMessage, bufferSize),
		logger:   logger,
	}
}

// PublishInbound enqueues a message for the agent loop. Blocks up to 10
// seconds if the queue is full instead of dropping.
func (b *InMemoryBus) PublishInbound(msg domain.InboundMessage) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}

	select {
	case b.inbound <- msg:
		return nil
	default:
	}

	// Queue full — wait with timeout instead of dropping.
	b.logger.Warn("inbound queue full, waiting", "channel", msg.Channel, "sender", msg.SenderID)
	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()
	select {
	case b.inbound <- msg:
		return nil
	case <-timer.C:
		b.logger.Error("inbound message dropped: queue full", "channel", msg.Channel, "sender", msg.SenderID)
		return errors.New("inbound queue full")
	}
}

// ConsumeInbound returns the next inbound message in FIFO order, blocking
// until one is available, the bus is closed, or ctx is done.
func (b *InMemoryBus) ConsumeInbound(ctx context.Context) (domain.InboundMessage, error) {
	select {
	case msg, ok := <-b.inbound:
		if !ok {
			return domain.InboundMessage{}, ErrClosed
		}
		return msg, nil
	case <-ctx.Done():
		return domain.InboundMessage{}, ctx.Err()
	}
}

// PublishOutbound enqueues a reply for delivery back to its channel.
func (b *InMemoryBus) PublishOutbound(msg domain.OutboundMessage) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}

	select {
	case b.outbound <- msg:
		return nil
	default:
	}

	b.logger.Warn("outbound queue full, waiting", "channel", msg.Channel, "chat", msg.ChatID)
	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()
	select {
	case b.outbound <- msg:
		return nil
	case <-timer.C:
		b.logger.Error("outbound message dropped: queue full", "channel", msg.Channel, "chat", msg.ChatID)
		return errors.New("outbound queue full")
	}
}

// ConsumeOutbound returns the next outbound message in FIFO order, blocking
// until one is available, the bus is closed, or ctx is done.
func (b *InMemoryBus) ConsumeOutbound(ctx context.Context) (domain.OutboundMessage, error) {
	select {
	case msg, ok := <-b.outbound:
		if !ok {
			return domain.OutboundMessage{}, ErrClosed
		}
		return msg, nil
	case <-ctx.Done():
		return domain.OutboundMessage{}, ctx.Err()
	}
}

// Close shuts the bus down. Publishing after Close returns ErrClosed;
// pending consumers drain buffered messages and then observe ErrClosed.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
		close(b.outbound)
	}
}

var _ domain.MessageBus = (*InMemoryBus)(nil)
