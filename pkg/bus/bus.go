package bus

import (
	"context"
	"sync"
)

const defaultBufferSize = 100

// MessageBus buffers messages handed between the two bridge services and fans out events.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage

	eventSubscribers      map[uint64]chan Event
	nextEventSubscriberID uint64

	done      chan struct{}
	closeOnce sync.Once

	mu sync.RWMutex
}

func NewMessageBus(buffer int) *MessageBus {
	if buffer <= 0 {
		buffer = defaultBufferSize
	}

	return &MessageBus{
		inbound:          make(chan InboundMessage, buffer),
		outbound:         make(chan OutboundMessage, buffer),
		eventSubscribers: make(map[uint64]chan Event),
		done:             make(chan struct{}),
	}
}

// PublishInbound queues a chat message for the queue side.
func (mb *MessageBus) PublishInbound(ctx context.Context, msg InboundMessage) bool {
	return publish(ctx, mb.done, mb.inbound, msg)
}

// ConsumeInbound blocks until a chat message is queued, the context ends or the bus closes.
func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	return consume(ctx, mb.done, mb.inbound)
}

// PublishOutbound queues a queue frame for the chat side.
func (mb *MessageBus) PublishOutbound(ctx context.Context, msg OutboundMessage) bool {
	return publish(ctx, mb.done, mb.outbound, msg)
}

// ConsumeOutbound blocks until a queue frame is queued, the context ends or the bus closes.
func (mb *MessageBus) ConsumeOutbound(ctx context.Context) (OutboundMessage, bool) {
	return consume(ctx, mb.done, mb.outbound)
}

func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() {
		close(mb.done)

		mb.mu.Lock()
		for id, ch := range mb.eventSubscribers {
			close(ch)
			delete(mb.eventSubscribers, id)
		}
		mb.mu.Unlock()
	})
}

func publish[T any](ctx context.Context, done <-chan struct{}, ch chan<- T, msg T) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		return false
	case <-done:
		return false
	default:
	}

	select {
	case <-ctx.Done():
		return false
	case <-done:
		return false
	case ch <- msg:
		return true
	}
}

func consume[T any](ctx context.Context, done <-chan struct{}, ch <-chan T) (T, bool) {
	if ctx == nil {
		ctx = context.Background()
	}

	var zero T
	select {
	case <-ctx.Done():
		return zero, false
	case <-done:
		return zero, false
	case msg := <-ch:
		return msg, true
	}
}
