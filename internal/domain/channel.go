package domain

import "context"

// Channel is a chat transport adapter (telegram, discord, webhook, ...).
type Channel interface {
	Name() string

	// Start runs the channel until ctx is cancelled. Inbound messages are
	// handed to the bus via PublishInbound.
	Start(ctx context.Context, bus MessageBus) error

	Stop() error

	// Send delivers one outbound message to the underlying transport.
	Send(ctx context.Context, msg OutboundMessage) error
}
