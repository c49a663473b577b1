package channel

import (
	"context"

	"boorubot/pkg/bus"
)

// Handler processes one inbound channel message. Replies go through a Sender;
// a returned error means the message failed past every local recovery.
type Handler func(context.Context, bus.InboundMessage) error

// Sender delivers one outbound message to the transport.
type Sender interface {
	Send(context.Context, bus.OutboundMessage) error
}

// Adapter bridges one external transport (for example Telegram) into the relay.
type Adapter interface {
	Sender
	Name() string
	Run(context.Context, Handler) error
}
