package chat

import (
	"context"

	"wamq/pkg/bus"
)

// Receiver is called by a transport for each message that arrives from the chat network.
type Receiver func(context.Context, bus.InboundMessage)

// Transport is one chat network client.
//
// Start returns once the transport is receiving; inbound traffic is passed to the receiver
// until Stop. Err returns the failure that made a started transport unusable, if any.
type Transport interface {
	Name() string
	Start(context.Context, Receiver) error
	Send(ctx context.Context, to string, text string) error
	MarkRead(context.Context, bus.InboundMessage) error
	Err() error
	Stop(context.Context) error
}
