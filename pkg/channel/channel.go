package channel

import (
	"context"

	"wamq/pkg/bus"
)

// Service is the lifecycle contract both bridge transports implement.
//
// Start must release anything it acquired before returning an error. Stop must be safe to
// call repeatedly and before Start. CheckAlive returns nil while the transport is usable.
type Service interface {
	Name() string
	Start(context.Context) error
	Stop(context.Context) error
	CheckAlive(context.Context) error
}

// ChatDeliverer accepts messages that should be sent on the chat network.
type ChatDeliverer interface {
	DeliverToChat(context.Context, bus.OutboundMessage) error
}

// QueueDeliverer accepts messages that should be published to the message queue.
type QueueDeliverer interface {
	DeliverToQueue(context.Context, bus.InboundMessage) error
}
