package domain

import "context"

// MessageBus carries messages between channels and the agent loop.
// Publish methods are safe to call from any goroutine; channel adapters that
// run blocking listeners hand messages off to the core through them.
// Consume methods block until a message is available or ctx is done.
// Delivery is strict FIFO in both directions.
type MessageBus interface {
	PublishInbound(msg InboundMessage) error
	ConsumeInbound(ctx context.Context) (InboundMessage, error)
	PublishOutbound(msg OutboundMessage) error
	ConsumeOutbound(ctx context.Context) (OutboundMessage, error)
	Close()
}
